package heartbeat

import (
	"errors"
	"time"
)

// Common errors.
var (
	// ErrAlreadyStarted indicates Start was called on a running component.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted indicates Stop was called before Start.
	ErrNotStarted = errors.New("not started")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// WriterConfig configures a heartbeat writer.
type WriterConfig struct {
	// AgentID is the identity whose heartbeat is refreshed.
	AgentID string

	// Interval between heartbeat writes.
	Interval time.Duration
}

// DefaultWriterConfig returns the default writer configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Interval: 30 * time.Second,
	}
}

// Validate checks the writer configuration.
func (c *WriterConfig) Validate() error {
	if c.AgentID == "" {
		return errors.Join(ErrInvalidConfig, errors.New("agent id is required"))
	}
	if c.Interval < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("interval must not be negative"))
	}
	return nil
}

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Timeout after which an agent with no heartbeat is presumed dead.
	Timeout time.Duration

	// CheckInterval between staleness sweeps.
	CheckInterval time.Duration
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       90 * time.Second,
		CheckInterval: 15 * time.Second,
	}
}

// Validate checks the monitor configuration.
func (c *MonitorConfig) Validate() error {
	if c.Timeout < 0 || c.CheckInterval < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("durations must not be negative"))
	}
	return nil
}
