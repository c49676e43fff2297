package reviewer

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter the poller uses to stay under the
// reviewer service's per-tier outbound call budget, ported from the
// original implementation's async token-bucket limiter into Go's blocking
// idiom: Acquire suspends the calling goroutine until a token is available
// or ctx is cancelled.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing ratePerSecond sustained calls,
// with a burst capacity equal to one second's worth of tokens.
func NewRateLimiter(ratePerSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		refillRate: ratePerSecond,
		lastRefill: time.Now(),
	}
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}

// TryAcquire attempts a non-blocking token grab.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
