// Package config provides the YAML configuration of the scale connection manager
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend denotes the radio implementation to use
type Backend string

const (

	// BackendGATT uses raw HCI sockets (Linux only)
	BackendGATT Backend = "gatt"

	// BackendBlueZ uses the host Bluetooth stack
	BackendBlueZ Backend = "bluez"

	// BackendMock uses simulated scales
	BackendMock Backend = "mock"
)

const defaultSerialBaud = 115200

// ErrInvalid is returned for configurations failing validation
var ErrInvalid = errors.New("invalid configuration")

// Config denotes the complete configuration
type Config struct {
	Backend        Backend       `yaml:"backend"`
	Tick           time.Duration `yaml:"tick"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
	ReportInterval time.Duration `yaml:"report_interval"`
	DiscoveryTTL   time.Duration `yaml:"discovery_ttl"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	TickBudget     time.Duration `yaml:"tick_budget"`

	Log  LogConfig  `yaml:"log"`
	API  APIConfig  `yaml:"api"`
	Mock MockConfig `yaml:"mock"`
}

// LogConfig denotes logging settings
type LogConfig struct {
	Debug  bool         `yaml:"debug"`
	Serial SerialConfig `yaml:"serial"`
}

// SerialConfig denotes an optional serial console receiving all log lines
type SerialConfig struct {
	Port string `yaml:"port"` // empty = disabled
	Baud int    `yaml:"baud"`
}

// APIConfig denotes the optional status REST API
type APIConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
	MDNS   bool   `yaml:"mdns"`
}

// MockConfig denotes the simulated devices of the mock backend
type MockConfig struct {
	Devices []string `yaml:"devices"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Backend:        BackendGATT,
		Tick:           100 * time.Millisecond,
		RescanInterval: 10 * time.Second,
		ReportInterval: 5 * time.Second,
		DiscoveryTTL:   10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		TickBudget:     time.Second,
		Log: LogConfig{
			Serial: SerialConfig{
				Baud: defaultSerialBaud,
			},
		},
		Mock: MockConfig{
			Devices: []string{"ACAIA LUNAR (mock)"},
		},
	}
}

// Load reads a configuration file, using defaults for all settings it omits. An empty
// path yields the default configuration
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file `%s`: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes a YAML document on top of the default configuration and validates it
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	switch c.Backend {
	case BackendGATT, BackendBlueZ, BackendMock:
	default:
		return fmt.Errorf("%w: unknown backend `%s`", ErrInvalid, c.Backend)
	}

	for name, d := range map[string]time.Duration{
		"tick":            c.Tick,
		"rescan_interval": c.RescanInterval,
		"report_interval": c.ReportInterval,
		"discovery_ttl":   c.DiscoveryTTL,
		"connect_timeout": c.ConnectTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive (got %v)", ErrInvalid, name, d)
		}
	}
	if c.TickBudget < 0 {
		return fmt.Errorf("%w: tick_budget must not be negative", ErrInvalid)
	}

	if c.Log.Serial.Port != "" && c.Log.Serial.Baud <= 0 {
		return fmt.Errorf("%w: invalid serial baud rate %d", ErrInvalid, c.Log.Serial.Baud)
	}
	if c.API.MDNS && c.API.Listen == "" {
		return fmt.Errorf("%w: mDNS announcement requires api.listen", ErrInvalid)
	}
	if c.Backend == BackendMock && len(c.Mock.Devices) == 0 {
		return fmt.Errorf("%w: mock backend requires at least one device", ErrInvalid)
	}

	return nil
}
