// Package config loads sensor-monitor settings. Explicit flags win over
// SENSORS_* environment variables, which win over the optional config file,
// which wins over the flag defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ProvidenceIT/ride-sensors/internal/events"
)

const EnvPrefix = "SENSORS"

var ErrInvalidConfig = errors.New("invalid config")

// Keys
const (
	KeyConfigFile    = "config"
	KeyEventBuffer   = "event_buffer"
	KeyLogFile       = "log_file"
	KeyLogMaxSizeMB  = "log_max_size_mb"
	KeyLogMaxBackups = "log_max_backups"
	KeyLogMaxAgeDays = "log_max_age_days"
	KeyDebug         = "debug"
	KeyBLE           = "ble"
	KeyANT           = "ant"
	KeyANTVendorID   = "ant_vendor_id"
	KeyANTProductIDs = "ant_product_ids"
	KeyANTChannels   = "ant_channels"
	KeyScanTimeout   = "scan_timeout"
	KeySimulate      = "simulate"
	KeyPrefsFile     = "prefs_file"
)

type Config struct {
	EventBuffer   int
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	Debug         bool
	BLE           bool
	ANT           bool
	ANTVendorID   uint16
	ANTProductIDs []uint16
	ANTChannels   int
	ScanTimeout   time.Duration
	Simulate      bool
	PrefsFile     string
}

func defaultPrefsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ride-sensors", "preferences.json")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sensor-monitor", pflag.ContinueOnError)
	fs.String(flagName(KeyConfigFile), "", "config file (yaml, toml or json)")
	fs.Int(flagName(KeyEventBuffer), events.DefaultSubscriptionCapacity, "events buffered per subscriber before the oldest is dropped")
	fs.String(flagName(KeyLogFile), "ride-sensors.log", "log file")
	fs.Int(flagName(KeyLogMaxSizeMB), 10, "log file size before rotation (MB)")
	fs.Int(flagName(KeyLogMaxBackups), 3, "rotated log files kept")
	fs.Int(flagName(KeyLogMaxAgeDays), 28, "days rotated log files are kept")
	fs.Bool(flagName(KeyDebug), false, "log dropped frames")
	fs.Bool(flagName(KeyBLE), true, "scan for Bluetooth LE sensors")
	fs.Bool(flagName(KeyANT), true, "use ANT USB sticks")
	fs.String(flagName(KeyANTVendorID), "0x0fcf", "ANT stick USB vendor ID")
	fs.StringSlice(flagName(KeyANTProductIDs), []string{"0x1008", "0x1009"}, "ANT stick USB product IDs")
	fs.Int(flagName(KeyANTChannels), 8, "radio channels per ANT stick")
	fs.Duration(flagName(KeyScanTimeout), 10*time.Second, "BLE scan duration, 0 scans until exit")
	fs.Bool(flagName(KeySimulate), false, "generate synthetic sensor data")
	fs.String(flagName(KeyPrefsFile), defaultPrefsFile(), "preferred device file")
	return fs
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Load parses args (without the program name) and resolves every key
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	fs.VisitAll(func(f *pflag.Flag) {
		// BindPFlag only fails on a nil flag
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	vendorID, err := parseUSBID(v.GetString(KeyANTVendorID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyANTVendorID, err)
	}
	var productIDs []uint16
	for _, item := range v.GetStringSlice(KeyANTProductIDs) {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			id, err := parseUSBID(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", KeyANTProductIDs, err)
			}
			productIDs = append(productIDs, id)
		}
	}

	cfg := &Config{
		EventBuffer:   v.GetInt(KeyEventBuffer),
		LogFile:       v.GetString(KeyLogFile),
		LogMaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups: v.GetInt(KeyLogMaxBackups),
		LogMaxAgeDays: v.GetInt(KeyLogMaxAgeDays),
		Debug:         v.GetBool(KeyDebug),
		BLE:           v.GetBool(KeyBLE),
		ANT:           v.GetBool(KeyANT),
		ANTVendorID:   vendorID,
		ANTProductIDs: productIDs,
		ANTChannels:   v.GetInt(KeyANTChannels),
		ScanTimeout:   v.GetDuration(KeyScanTimeout),
		Simulate:      v.GetBool(KeySimulate),
		PrefsFile:     v.GetString(KeyPrefsFile),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseUSBID(s string) (uint16, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("USB id %q: %w", s, ErrInvalidConfig)
	}
	return uint16(id), nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	switch {
	case c.EventBuffer <= 0:
		return fmt.Errorf("%s must be positive, got %d: %w", KeyEventBuffer, c.EventBuffer, ErrInvalidConfig)
	case c.ANTChannels <= 0 || c.ANTChannels > 255:
		return fmt.Errorf("%s must be 1..255, got %d: %w", KeyANTChannels, c.ANTChannels, ErrInvalidConfig)
	case c.ANT && len(c.ANTProductIDs) == 0:
		return fmt.Errorf("%s is empty: %w", KeyANTProductIDs, ErrInvalidConfig)
	case c.ScanTimeout < 0:
		return fmt.Errorf("%s must not be negative: %w", KeyScanTimeout, ErrInvalidConfig)
	case c.LogFile == "":
		return fmt.Errorf("%s is empty: %w", KeyLogFile, ErrInvalidConfig)
	}
	return nil
}
