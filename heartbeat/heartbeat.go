package heartbeat

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// BeatFunc emits one keep-alive signal.
type BeatFunc func(ctx context.Context) error

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Interval between beats.
	// Default: 30 seconds
	Interval time.Duration

	// Beat is called once per interval. Required.
	Beat BeatFunc

	// OnError receives beat failures. Optional.
	OnError func(error)
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Beat == nil {
		return ErrInvalidConfig
	}
	if c.Interval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns the default interval.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: 30 * time.Second,
	}
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Timeout after which a silent peer is presumed dead.
	// Default: 90 seconds
	Timeout time.Duration

	// CheckInterval for the dead-peer sweep.
	// Default: Timeout/4, at least 10ms
	CheckInterval time.Duration

	// Now replaces the wall clock, for tests.
	Now func() time.Time
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Timeout < 0 || c.CheckInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns the default timeout.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout: 90 * time.Second,
	}
}
