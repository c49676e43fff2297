package reviewer

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterTryAcquireRespectsBurst(t *testing.T) {
	rl := NewRateLimiter(2) // burst of 2
	if !rl.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !rl.TryAcquire() {
		t.Fatal("expected second acquire to succeed (within burst)")
	}
	if rl.TryAcquire() {
		t.Fatal("expected third immediate acquire to fail (burst exhausted)")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(100) // fast refill for a short test
	for rl.TryAcquire() {
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.TryAcquire() {
		t.Fatal("expected a token to have refilled after the wait")
	}
}

func TestRateLimiterAcquireRespectsCancellation(t *testing.T) {
	rl := NewRateLimiter(0.001) // effectively never refills within the test window
	rl.tokens = 0

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Acquire(ctx); err == nil {
		t.Fatal("expected Acquire to fail once the context deadline passes")
	}
}
