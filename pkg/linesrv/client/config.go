package client

import (
	"fmt"
	"net"
	"time"
)

const (
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 10 * time.Second
	DefaultRetryInitial  = 200 * time.Millisecond
	DefaultRetryMax      = 5 * time.Second
	DefaultMaxLineLength = 4096
)

// Config holds client configuration.
type Config struct {
	ServerAddr    string        // host:port of the line server
	DialTimeout   time.Duration // Per attempt
	ReadTimeout   time.Duration // Deadline for one reply or write
	MaxRetries    uint64        // Extra dial attempts, 0 retries until the context ends
	RetryInitial  time.Duration // First retry delay
	RetryMax      time.Duration // Retry delay cap
	MaxLineLength int           // Longest reply accepted by ReadLine
}

// DefaultConfig returns a Config for addr with default timeouts.
func DefaultConfig(addr string) *Config {
	return &Config{
		ServerAddr:    addr,
		DialTimeout:   DefaultDialTimeout,
		ReadTimeout:   DefaultReadTimeout,
		RetryInitial:  DefaultRetryInitial,
		RetryMax:      DefaultRetryMax,
		MaxLineLength: DefaultMaxLineLength,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if _, _, err := net.SplitHostPort(c.ServerAddr); err != nil {
		return fmt.Errorf("invalid server address %q: %w", c.ServerAddr, err)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.RetryInitial <= 0 || c.RetryMax < c.RetryInitial {
		return fmt.Errorf("retry delays must be positive with max >= initial")
	}
	if c.MaxLineLength < 1 {
		return fmt.Errorf("max line length must be at least 1")
	}
	return nil
}
