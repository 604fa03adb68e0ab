package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang/glog"

	"github.com/robotalks/genie.go/pkg/bridge/mqtt"
	"github.com/robotalks/genie.go/pkg/genie/client"
	"github.com/robotalks/genie.go/pkg/genie/link"
	"github.com/robotalks/genie.go/pkg/genie/serial"
)

// Config provides all options to run a display link.
type Config struct {
	Serial serial.Config `toml:"serial"`
	Link   LinkConfig    `toml:"link"`
	MQTT   MQTTConfig    `toml:"mqtt"`
}

// LinkConfig tunes the link driver.
type LinkConfig struct {
	Timeout      time.Duration `toml:"timeout"`
	ResyncPeriod time.Duration `toml:"resync_period"`
	PollInterval time.Duration `toml:"poll_interval"`
	MaxFatals    int           `toml:"max_fatals"`
	ResyncOnNak  bool          `toml:"resync_on_nak"`
	EventBuffer  int           `toml:"event_buffer"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	// URL specifies the broker, e.g. mqtt://host:port/topic-prefix/
	URL      string `toml:"url"`
	ClientID string `toml:"client_id"`
}

var (
	defaultConfig = Config{
		Serial: serial.DefaultConfig(),
		Link: LinkConfig{
			Timeout:      link.DefaultTimeout,
			ResyncPeriod: link.DefaultResyncPeriod,
			PollInterval: client.DefaultPollInterval,
			MaxFatals:    link.DefaultMaxFatals,
			EventBuffer:  client.DefaultEventBuffer,
		},
		MQTT: MQTTConfig{
			URL: "mqtt://localhost:1883/genie/",
		},
	}

	configFile = os.Getenv("GENIE_CONFIG")
)

func init() {
	if err := applyEnv(&defaultConfig, os.Getenv); err != nil {
		glog.Warningf("ignore environment: %v", err)
	}
}

func applyEnv(c *Config, getenv func(string) string) error {
	if val := getenv("GENIE_PORT"); val != "" {
		c.Serial.Device = val
	}
	if val := getenv("GENIE_BAUD"); val != "" {
		baud, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid GENIE_BAUD %q", val)
		}
		c.Serial.Baud = baud
	}
	if val := getenv("GENIE_MQTT_URL"); val != "" {
		c.MQTT.URL = val
	}
	return nil
}

func bindFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Serial.Device, "port", c.Serial.Device, "Serial port of the display.")
	fs.IntVar(&c.Serial.Baud, "baud", c.Serial.Baud, "Baud rate.")
	fs.StringVar(&c.Serial.ResetLine, "reset", c.Serial.ResetLine, "Modem line wired to display reset: none, dtr, rts.")
	fs.DurationVar(&c.Serial.BootDelay, "boot-delay", c.Serial.BootDelay, "Wait after reset for the display to start.")
	fs.DurationVar(&c.Link.Timeout, "timeout", c.Link.Timeout, "Reply timeout.")
	fs.IntVar(&c.Link.MaxFatals, "max-fatals", c.Link.MaxFatals, "Consecutive timeouts before giving up the display, 0 never.")
	fs.BoolVar(&c.Link.ResyncOnNak, "resync-on-nak", c.Link.ResyncOnNak, "Resync the link when a command is rejected.")
	fs.StringVar(&c.MQTT.URL, "mqtt", c.MQTT.URL, "MQTT broker URL.")
	fs.StringVar(&c.MQTT.ClientID, "mqtt-client-id", c.MQTT.ClientID, "MQTT client id, generated from machine id if empty.")
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "Config file in TOML.")
	bindFlags(flag.CommandLine, &defaultConfig)
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Load creates a Config from defaults, the config file if specified
// and command line flags. Flags explicitly set override the file.
func Load() (*Config, error) {
	conf := NewConfig()
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			return nil, err
		}
		if err := conf.ApplyFlags(flag.CommandLine); err != nil {
			return nil, err
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// MustLoad loads the Config and exits on error.
func MustLoad() *Config {
	conf, err := Load()
	if err != nil {
		glog.Exit(err)
	}
	return conf
}

// LoadFile overlays the values defined in a TOML file.
func (c *Config) LoadFile(fn string) error {
	meta, err := toml.DecodeFile(fn, c)
	if err != nil {
		return fmt.Errorf("load config %s: %w", fn, err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for n, key := range keys {
			names[n] = key.String()
		}
		return fmt.Errorf("load config %s: unknown keys %s", fn, strings.Join(names, ", "))
	}
	return nil
}

// ApplyFlags copies the flags explicitly set in fs into the Config.
func (c *Config) ApplyFlags(fs *flag.FlagSet) error {
	target := flag.NewFlagSet("config", flag.ContinueOnError)
	target.SetOutput(io.Discard)
	bindFlags(target, c)
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err == nil && target.Lookup(f.Name) != nil {
			err = target.Set(f.Name, f.Value.String())
		}
	})
	return err
}

// Validate checks the values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Serial.ResetLine) {
	case "", serial.ResetNone, serial.ResetDTR, serial.ResetRTS:
	default:
		return fmt.Errorf("invalid reset line %q", c.Serial.ResetLine)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Serial.Baud)
	}
	if c.Link.Timeout <= 0 {
		return fmt.Errorf("invalid link timeout %s", c.Link.Timeout)
	}
	if c.Link.MaxFatals < 0 {
		return fmt.Errorf("invalid max fatals %d", c.Link.MaxFatals)
	}
	return nil
}

// NewDriver creates a link driver on the transport.
func (c *Config) NewDriver(t link.Transport) *link.Driver {
	d := link.NewDriver(t)
	d.Timeout = c.Link.Timeout
	d.ResyncPeriod = c.Link.ResyncPeriod
	d.PollInterval = c.Link.PollInterval
	d.MaxFatals = c.Link.MaxFatals
	d.ResyncOnNak = c.Link.ResyncOnNak
	return d
}

// NewClient creates a client with a new driver on the transport.
func (c *Config) NewClient(t link.Transport) *client.Client {
	size := c.Link.EventBuffer
	if size <= 0 {
		size = client.DefaultEventBuffer
	}
	cl := client.NewWithBuffer(c.NewDriver(t), size)
	if c.Link.PollInterval > 0 {
		cl.PollInterval = c.Link.PollInterval
	}
	return cl
}

// OpenPort opens the serial port and resets the display.
// The returned closer closes the serial port.
func (c *Config) OpenPort() (*serial.Port, io.Closer, error) {
	p, err := serial.Open(c.Serial)
	if err != nil {
		return nil, nil, err
	}
	return serial.NewPort(p), p, nil
}

// NewBridge creates the MQTT bridge for the display.
func (c *Config) NewBridge(display mqtt.Display) (*mqtt.Bridge, error) {
	return mqtt.NewBridge(c.MQTT.URL, c.MQTT.ClientID, display)
}
