package link

import (
	"fmt"
	"time"
)

// Config holds the tuning parameters of a Link.
type Config struct {
	// RetryTimeout is how long an unacknowledged message waits before
	// it is sent again. It doubles under sustained loss, up to
	// MaxRetryTimeout.
	RetryTimeout    time.Duration
	MaxRetryTimeout time.Duration

	// RetryInterval is the period of the sweep over unacknowledged
	// messages.
	RetryInterval time.Duration

	// MaxInFlight bounds the number of unacknowledged messages. New
	// messages wait in the send queue while it is reached.
	MaxInFlight int

	// ReadTimeout bounds each socket read, so the receiver notices
	// cancellation.
	ReadTimeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		RetryTimeout:    8 * time.Millisecond,
		MaxRetryTimeout: 2 * time.Second,
		RetryInterval:   8 * time.Millisecond,
		MaxInFlight:     1024,
		ReadTimeout:     100 * time.Millisecond,
	}
}

// Validate performs basic validation of the config.
func (cfg Config) Validate() error {
	if cfg.RetryTimeout <= 0 {
		return fmt.Errorf("retry timeout %s must be positive", cfg.RetryTimeout)
	}
	if cfg.MaxRetryTimeout < cfg.RetryTimeout {
		return fmt.Errorf("max retry timeout %s below retry timeout %s", cfg.MaxRetryTimeout, cfg.RetryTimeout)
	}
	if cfg.RetryInterval <= 0 {
		return fmt.Errorf("retry interval %s must be positive", cfg.RetryInterval)
	}
	if cfg.MaxInFlight < 1 {
		return fmt.Errorf("max in-flight %d must be at least 1", cfg.MaxInFlight)
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout %s must be positive", cfg.ReadTimeout)
	}
	return nil
}
