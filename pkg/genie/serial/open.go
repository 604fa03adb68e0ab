package serial

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
)

// Reset lines.
const (
	ResetNone = "none"
	ResetDTR  = "dtr"
	ResetRTS  = "rts"
)

// Config defines how to open the serial port to the display.
type Config struct {
	Device      string        `toml:"device"`
	Baud        int           `toml:"baud"`
	ReadTimeout time.Duration `toml:"read_timeout"`
	// ResetLine is the modem line wired to the display reset pin.
	ResetLine string `toml:"reset_line"`
	// ResetPulse is how long reset is held.
	ResetPulse time.Duration `toml:"reset_pulse"`
	// BootDelay is waited after reset for the display to start.
	BootDelay time.Duration `toml:"boot_delay"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Device:      "/dev/ttyUSB0",
		Baud:        9600,
		ReadTimeout: 100 * time.Millisecond,
		ResetLine:   ResetDTR,
		ResetPulse:  500 * time.Millisecond,
		BootDelay:   3 * time.Second,
	}
}

// ModemLines controls the modem output lines of a port.
type ModemLines interface {
	SetDTR(bool) error
	SetRTS(bool) error
}

// Open opens the serial port and resets the display.
func Open(conf Config) (serial.Port, error) {
	if conf.Device == "" {
		return nil, fmt.Errorf("no serial device specified")
	}
	mode := &serial.Mode{
		BaudRate: conf.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(conf.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", conf.Device, err)
	}
	if conf.ReadTimeout > 0 {
		if err := port.SetReadTimeout(conf.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	glog.Infof("opened %s at %d baud", conf.Device, conf.Baud)
	if err := Reset(port, conf.ResetLine, conf.ResetPulse, time.Sleep); err != nil {
		port.Close()
		return nil, err
	}
	if conf.BootDelay > 0 && conf.ResetLine != "" && conf.ResetLine != ResetNone {
		time.Sleep(conf.BootDelay)
	}
	if err := port.ResetInputBuffer(); err != nil {
		glog.Warningf("reset input buffer: %v", err)
	}
	return port, nil
}

// Reset pulses the reset line of the display: asserted (pin low)
// for pulse, then released.
func Reset(lines ModemLines, line string, pulse time.Duration, sleep func(time.Duration)) error {
	var set func(bool) error
	switch strings.ToLower(line) {
	case "", ResetNone:
		return nil
	case ResetDTR:
		set = lines.SetDTR
	case ResetRTS:
		set = lines.SetRTS
	default:
		return fmt.Errorf("unknown reset line %q", line)
	}
	glog.V(1).Infof("reset display via %s", line)
	if err := set(true); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	sleep(pulse)
	if err := set(false); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	return nil
}

// Ports lists the serial ports available.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
