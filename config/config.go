// Package config loads process configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/relaykit/relaykit/broker"
	"github.com/relaykit/relaykit/heartbeat"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the full process configuration.
type Config struct {
	Agent     AgentConfig     `toml:"agent"`
	Broker    BrokerConfig    `toml:"broker"`
	Store     StoreConfig     `toml:"store"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Logging   LoggingConfig   `toml:"logging"`
}

// AgentConfig identifies the process.
type AgentConfig struct {
	// ID is the identity used for agent state and activity entries.
	ID string `toml:"id"`
}

// BrokerConfig is the [broker] section.
type BrokerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	VirtualHost    string   `toml:"virtual_host"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	Heartbeat      Duration `toml:"heartbeat"`
	RetryDelay     Duration `toml:"retry_delay"`
	MaxRetries     int      `toml:"max_retries"`
}

// StoreConfig is the [store] section.
type StoreConfig struct {
	// Driver selects the store backend: "memory" or "sqlite".
	Driver string `toml:"driver"`

	// Path is the database file for the sqlite driver.
	Path string `toml:"path"`
}

// HeartbeatConfig is the [heartbeat] section.
type HeartbeatConfig struct {
	Interval      Duration `toml:"interval"`
	Timeout       Duration `toml:"timeout"`
	CheckInterval Duration `toml:"check_interval"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	bc := broker.DefaultConfig()
	hw := heartbeat.DefaultWriterConfig()
	hm := heartbeat.DefaultMonitorConfig()
	return &Config{
		Broker: BrokerConfig{
			Host:           bc.Host,
			Port:           bc.Port,
			Username:       bc.Username,
			Password:       bc.Password,
			VirtualHost:    bc.VirtualHost,
			ConnectTimeout: Duration{bc.ConnectTimeout},
			Heartbeat:      Duration{bc.Heartbeat},
			RetryDelay:     Duration{bc.RetryDelay},
			MaxRetries:     bc.MaxRetries,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Heartbeat: HeartbeatConfig{
			Interval:      Duration{hw.Interval},
			Timeout:       Duration{hm.Timeout},
			CheckInterval: Duration{hm.CheckInterval},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
// Absent keys keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	bc := c.BrokerConfig()
	if err := bc.Validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: sqlite driver requires store.path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Heartbeat.Interval.Duration < 0 || c.Heartbeat.Timeout.Duration < 0 || c.Heartbeat.CheckInterval.Duration < 0 {
		return fmt.Errorf("%w: heartbeat durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// BrokerConfig converts the [broker] section to a broker.Config.
func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		Host:           c.Broker.Host,
		Port:           c.Broker.Port,
		Username:       c.Broker.Username,
		Password:       c.Broker.Password,
		VirtualHost:    c.Broker.VirtualHost,
		ConnectTimeout: c.Broker.ConnectTimeout.Duration,
		Heartbeat:      c.Broker.Heartbeat.Duration,
		RetryDelay:     c.Broker.RetryDelay.Duration,
		MaxRetries:     c.Broker.MaxRetries,
	}
}

// WriterConfig converts the [heartbeat] section to a writer config for
// the process identity.
func (c *Config) WriterConfig() heartbeat.WriterConfig {
	return heartbeat.WriterConfig{
		AgentID:  c.Agent.ID,
		Interval: c.Heartbeat.Interval.Duration,
	}
}

// MonitorConfig converts the [heartbeat] section to a monitor config.
func (c *Config) MonitorConfig() heartbeat.MonitorConfig {
	return heartbeat.MonitorConfig{
		Timeout:       c.Heartbeat.Timeout.Duration,
		CheckInterval: c.Heartbeat.CheckInterval.Duration,
	}
}
