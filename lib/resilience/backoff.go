// Package resilience provides resilience patterns for the respool pool.
// This file implements exponential backoff with jitter, used to pace
// resource creation retries so a broken backend is not hammered in a loop.
package resilience

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig configures an exponential backoff.
type BackoffConfig struct {
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay growth.
	MaxDelay time.Duration
	// Multiplier is the growth factor per failure (typically 2.0).
	Multiplier float64
	// JitterFraction randomizes each delay by ±fraction (0.0-1.0).
	JitterFraction float64
}

// DefaultBackoffConfig returns sensible defaults for resource creation.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:   time.Second,
		MaxDelay:       2 * time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// Backoff tracks consecutive failures and gates retry attempts.
// The zero value is not usable; construct with NewBackoff.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	failures int
	notUntil time.Time
}

// NewBackoff creates a backoff with the given configuration.
// Zero config fields are replaced with defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		cfg.JitterFraction = def.JitterFraction
	}
	return &Backoff{cfg: cfg}
}

// Ready reports whether enough time has passed since the last failure to
// attempt again. A backoff with no recorded failures is always ready.
func (b *Backoff) Ready(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.notUntil)
}

// Failure records a failed attempt and returns the delay before the next
// attempt is allowed.
func (b *Backoff) Failure(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.delayLocked()
	b.failures++
	b.notUntil = now.Add(d)
	log.WithField("failures", b.failures).WithField("delay", d.String()).Debug("backoff armed")
	return d
}

// Reset clears the failure count after a successful attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.notUntil = time.Time{}
	b.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// delayLocked computes the delay for the current failure count with jitter.
func (b *Backoff) delayLocked() time.Duration {
	d := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.Multiplier, float64(b.failures))
	if d > float64(b.cfg.MaxDelay) {
		d = float64(b.cfg.MaxDelay)
	}
	if b.cfg.JitterFraction > 0 {
		jitter := d * b.cfg.JitterFraction
		d = d - jitter + rand.Float64()*2*jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
