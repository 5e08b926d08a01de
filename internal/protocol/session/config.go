package session

import (
	"time"

	"github.com/danmuck/nsqwire/internal/protocol/frame"
)

// BackoffConfig defines reconnect backoff. The delay is constant between
// attempts.
type BackoffConfig struct {
	Delay time.Duration
}

// Config defines transport/session reliability defaults.
type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Backoff      BackoffConfig
	Limits       frame.Limits

	// IDENTIFY metadata. Empty values are filled from the host.
	ClientID  string
	Hostname  string
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Backoff: BackoffConfig{
			Delay: time.Second,
		},
		Limits:    frame.DefaultLimits(),
		UserAgent: DefaultUserAgent,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.Delay <= 0 {
		c.Backoff.Delay = def.Backoff.Delay
	}
	if c.Limits.MaxFrameBytes == 0 {
		c.Limits = def.Limits
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	return c
}
