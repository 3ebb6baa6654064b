package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	minIntervalMS = 100
	maxIntervalMS = 3600 * 1000
)

// DefaultPath is where the daemon looks for its config when -config is not given.
const DefaultPath = "/etc/power-state/config.toml"

// Sources lists the accepted monitor.source values.
var Sources = []string{"auto", "sysfs", "upower", "battery", "kernel32"}

type Config struct {
	Monitor MonitorConfig `toml:"monitor" json:"monitor"`
	DBus    DBusConfig    `toml:"dbus" json:"dbus"`
}

type MonitorConfig struct {
	IntervalMS int    `toml:"interval_ms" json:"interval_ms"`
	Source     string `toml:"source" json:"source"`
}

type DBusConfig struct {
	Export        bool `toml:"export" json:"export"`
	RefreshOnWake bool `toml:"refresh_on_wake" json:"refresh_on_wake"`
}

func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			IntervalMS: 5000,
			Source:     "auto",
		},
		DBus: DBusConfig{
			Export:        true,
			RefreshOnWake: true,
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// LoadOrDefault behaves like Load but returns the defaults when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	if err := validateRange("monitor.interval_ms", sanitized.Monitor.IntervalMS, minIntervalMS, maxIntervalMS); err != nil {
		return nil, err
	}

	sanitized.Monitor.Source = strings.ToLower(strings.TrimSpace(sanitized.Monitor.Source))
	if sanitized.Monitor.Source == "" {
		sanitized.Monitor.Source = "auto"
	}
	if !slices.Contains(Sources, sanitized.Monitor.Source) {
		return nil, fmt.Errorf("monitor.source must be one of %s, got %q", strings.Join(Sources, ", "), cfg.Monitor.Source)
	}

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
