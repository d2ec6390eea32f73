package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.EventBuffer)
	assert.Equal(t, "ride-sensors.log", cfg.LogFile)
	assert.True(t, cfg.BLE)
	assert.True(t, cfg.ANT)
	assert.False(t, cfg.Simulate)
	assert.False(t, cfg.Debug)
	assert.Equal(t, uint16(0x0FCF), cfg.ANTVendorID)
	assert.Equal(t, []uint16{0x1008, 0x1009}, cfg.ANTProductIDs)
	assert.Equal(t, 8, cfg.ANTChannels)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.NotEmpty(t, cfg.PrefsFile)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--event-buffer=16",
		"--debug",
		"--ble=false",
		"--ant-product-ids=0x1009",
		"--scan-timeout=0s",
		"--simulate",
	})
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.EventBuffer)
	assert.True(t, cfg.Debug)
	assert.False(t, cfg.BLE)
	assert.Equal(t, []uint16{0x1009}, cfg.ANTProductIDs)
	assert.Equal(t, time.Duration(0), cfg.ScanTimeout)
	assert.True(t, cfg.Simulate)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SENSORS_EVENT_BUFFER", "250")
	t.Setenv("SENSORS_ANT_PRODUCT_IDS", "0x1008,0x100a")
	t.Setenv("SENSORS_SIMULATE", "true")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.EventBuffer)
	assert.Equal(t, []uint16{0x1008, 0x100A}, cfg.ANTProductIDs)
	assert.True(t, cfg.Simulate)

	// an explicit flag beats the environment
	cfg, err = Load([]string{"--event-buffer=7"})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.EventBuffer)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("event_buffer: 42\nant_channels: 4\nlog_file: /tmp/x.log\n"), 0o644))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.EventBuffer)
	assert.Equal(t, 4, cfg.ANTChannels)
	assert.Equal(t, "/tmp/x.log", cfg.LogFile)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero buffer", []string{"--event-buffer=0"}},
		{"negative buffer", []string{"--event-buffer=-3"}},
		{"zero channels", []string{"--ant-channels=0"}},
		{"too many channels", []string{"--ant-channels=300"}},
		{"bad vendor id", []string{"--ant-vendor-id=stick"}},
		{"bad product id", []string{"--ant-product-ids=0x1008,zz"}},
		{"negative scan timeout", []string{"--scan-timeout=-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestValidateAllowsEmptyProductIDsWithoutANT(t *testing.T) {
	cfg := &Config{EventBuffer: 1, ANTChannels: 8, LogFile: "x.log"}
	assert.NoError(t, cfg.Validate())

	cfg.ANT = true
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
