package resilience

import (
	"sync"
	"time"
)

// Limiter is a token bucket used to bound how fast resources are
// created against a backend. A burst of failures or a cold start will
// otherwise stampede the backend with simultaneous dials.
type Limiter struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64 // max tokens
	tokens   float64 // current tokens
	lastTime time.Time

	now func() time.Time
}

// NewLimiter creates a limiter refilling at rate tokens per second with
// the given burst capacity.
func NewLimiter(rate float64, capacity int) *Limiter {
	l := &Limiter{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		now:      time.Now,
	}
	l.lastTime = l.now()
	return l
}

// Allow consumes one token, reporting false when the bucket is empty.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN consumes n tokens at once.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	needed := float64(n)
	if l.tokens >= needed {
		l.tokens -= needed
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastTime).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastTime = now
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}
