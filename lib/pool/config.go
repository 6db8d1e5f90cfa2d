package pool

import (
	"fmt"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/resilience"
)

// Default configuration values
const (
	DefaultMaxSize            = 10
	DefaultIdleTimeout        = 10 * time.Minute
	DefaultValidationInterval = 30 * time.Second
	DefaultCheckoutTimeout    = 30 * time.Second
	DefaultCheckoutRetries    = 3
)

// Config configures a resource pool.
type Config struct {
	// MinSize is the number of resources kept warm. The pool replenishes
	// toward MinSize opportunistically after destroys and on reap ticks.
	// Default: 0
	MinSize int
	// MaxSize is the hard cap on resources, free plus taken.
	// Default: 10
	MaxSize int
	// IdleTimeout is how long an unused free resource may sit in the pool
	// before the reaper may evict it. Set negative to never evict.
	// Default: 10 minutes
	IdleTimeout time.Duration
	// ValidationInterval is the minimum time between re-validating the
	// same resource. Set negative to validate on every checkout.
	// Default: 30 seconds
	ValidationInterval time.Duration
	// CheckoutTimeout is the maximum wait for a free slot when the pool
	// is saturated, and bounds resource creation.
	// Default: 30 seconds
	CheckoutTimeout time.Duration
	// CheckoutRetries is how many additional resources a single checkout
	// may try after a validation or activation failure. Set negative for
	// a single attempt.
	// Default: 3
	CheckoutRetries int
	// ReapInterval is how often the reaper scans for idle resources.
	// Zero derives IdleTimeout/2.
	ReapInterval time.Duration
	// CreateBackoff paces background replenishment after creation
	// failures. Zero fields use resilience defaults.
	CreateBackoff resilience.BackoffConfig
	// CreateRate caps resource creation at this many per second to keep
	// a cold or recovering pool from stampeding the backend. Zero means
	// unlimited.
	CreateRate float64
	// CreateBurst is the creation burst size when CreateRate is set.
	// Values below 1 are raised to 1.
	CreateBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSize:            0,
		MaxSize:            DefaultMaxSize,
		IdleTimeout:        DefaultIdleTimeout,
		ValidationInterval: DefaultValidationInterval,
		CheckoutTimeout:    DefaultCheckoutTimeout,
		CheckoutRetries:    DefaultCheckoutRetries,
	}
}

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ValidationInterval == 0 {
		c.ValidationInterval = DefaultValidationInterval
	}
	if c.CheckoutTimeout == 0 {
		c.CheckoutTimeout = DefaultCheckoutTimeout
	}
	if c.CheckoutRetries == 0 {
		c.CheckoutRetries = DefaultCheckoutRetries
	}
	return c
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("max size must be at least 1: %w", apperrors.ErrConfiguration)
	}
	if c.MinSize < 0 {
		return fmt.Errorf("min size must not be negative: %w", apperrors.ErrConfiguration)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("min size %d exceeds max size %d: %w", c.MinSize, c.MaxSize, apperrors.ErrConfiguration)
	}
	return nil
}

// reapInterval derives the reaper period.
func (c Config) reapInterval() time.Duration {
	if c.ReapInterval > 0 {
		return c.ReapInterval
	}
	if c.IdleTimeout > 0 {
		return c.IdleTimeout / 2
	}
	return 30 * time.Second
}

// retryBudget is the total attempts one checkout may make.
func (c Config) retryBudget() int {
	if c.CheckoutRetries < 0 {
		return 1
	}
	return c.CheckoutRetries + 1
}
