package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/genie.go/pkg/genie/client"
	"github.com/robotalks/genie.go/pkg/genie/link"
)

const testConfig = `
[serial]
device = "/dev/ttyACM1"
baud = 115200
reset_line = "rts"
boot_delay = "1s"

[link]
timeout = "250ms"
max_fatals = 3
resync_on_nak = true
event_buffer = 8

[mqtt]
url = "mqtt://broker:1883/panel/"
`

func writeConfig(t *testing.T, content string) string {
	fn := filepath.Join(t.TempDir(), "genie.toml")
	require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
	return fn
}

func TestDefaults(t *testing.T) {
	conf := NewConfig()
	require.Equal(t, link.DefaultTimeout, conf.Link.Timeout)
	require.Equal(t, client.DefaultEventBuffer, conf.Link.EventBuffer)
	require.NoError(t, conf.Validate())
}

func TestLoadFile(t *testing.T) {
	conf := NewConfig()
	require.NoError(t, conf.LoadFile(writeConfig(t, testConfig)))
	require.Equal(t, "/dev/ttyACM1", conf.Serial.Device)
	require.Equal(t, 115200, conf.Serial.Baud)
	require.Equal(t, "rts", conf.Serial.ResetLine)
	require.Equal(t, time.Second, conf.Serial.BootDelay)
	require.Equal(t, defaultConfig.Serial.ResetPulse, conf.Serial.ResetPulse)
	require.Equal(t, 250*time.Millisecond, conf.Link.Timeout)
	require.Equal(t, 3, conf.Link.MaxFatals)
	require.True(t, conf.Link.ResyncOnNak)
	require.Equal(t, "mqtt://broker:1883/panel/", conf.MQTT.URL)
	require.NoError(t, conf.Validate())

	d := conf.NewDriver(nil)
	require.Equal(t, 250*time.Millisecond, d.Timeout)
	require.Equal(t, 3, d.MaxFatals)
	require.True(t, d.ResyncOnNak)
	require.Equal(t, defaultConfig.Link.PollInterval, d.PollInterval)
}

func TestLoadFileErrors(t *testing.T) {
	conf := NewConfig()
	require.Error(t, conf.LoadFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, conf.LoadFile(writeConfig(t, "[serial\n")))
	err := conf.LoadFile(writeConfig(t, "[serial]\nparity = \"even\"\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "serial.parity")
}

func TestFlagsOverrideFile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flagConf := NewConfig()
	bindFlags(fs, flagConf)
	require.NoError(t, fs.Parse([]string{"-baud", "57600", "-timeout", "1s", "-resync-on-nak=false"}))

	conf := NewConfig()
	require.NoError(t, conf.LoadFile(writeConfig(t, testConfig)))
	require.NoError(t, conf.ApplyFlags(fs))
	require.Equal(t, 57600, conf.Serial.Baud)
	require.Equal(t, time.Second, conf.Link.Timeout)
	require.False(t, conf.Link.ResyncOnNak)
	// not set on command line
	require.Equal(t, "/dev/ttyACM1", conf.Serial.Device)
	require.Equal(t, 3, conf.Link.MaxFatals)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GENIE_PORT":     "/dev/ttyS1",
		"GENIE_BAUD":     "19200",
		"GENIE_MQTT_URL": "mqtt://other/",
	}
	conf := NewConfig()
	require.NoError(t, applyEnv(conf, func(key string) string { return env[key] }))
	require.Equal(t, "/dev/ttyS1", conf.Serial.Device)
	require.Equal(t, 19200, conf.Serial.Baud)
	require.Equal(t, "mqtt://other/", conf.MQTT.URL)

	env["GENIE_BAUD"] = "fast"
	require.Error(t, applyEnv(conf, func(key string) string { return env[key] }))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"reset line", func(c *Config) { c.Serial.ResetLine = "cts" }},
		{"baud", func(c *Config) { c.Serial.Baud = 0 }},
		{"timeout", func(c *Config) { c.Link.Timeout = 0 }},
		{"max fatals", func(c *Config) { c.Link.MaxFatals = -1 }},
	}
	for _, test := range tests {
		conf := NewConfig()
		test.modify(conf)
		require.Error(t, conf.Validate(), test.name)
	}
}

func TestNewClient(t *testing.T) {
	conf := NewConfig()
	conf.Link.EventBuffer = 0
	conf.Link.PollInterval = 5 * time.Millisecond
	c := conf.NewClient(nil)
	require.Equal(t, 5*time.Millisecond, c.PollInterval)
	require.Equal(t, 5*time.Millisecond, c.Driver.PollInterval)
	require.Equal(t, client.DefaultEventBuffer, cap(c.EventChan()))
}
