// Package service implements the request orchestrator: the per-request
// flow (parse → classify → dispatch → emit), the lifecycle manager
// (readiness, in-flight tracking, graceful shutdown drain), and the
// concrete approval coordinator that batch-polls the reviewer channel.
package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/adapter/outbound/upstream"
)

// Lifecycle tracks readiness (false until the policy set has loaded
// successfully once and the listener is bound), the in-flight request
// count, and coordinates graceful shutdown: stop accepting new slot
// acquisitions, wait up to drainTimeout for in-flight work to finish, then
// report whether the drain completed cleanly. Readiness flips to false the
// moment shutdown begins.
type Lifecycle struct {
	sem          *upstream.Semaphore
	ready        atomic.Bool
	shuttingDown atomic.Bool
	inFlight     atomic.Int64
	drainTimeout time.Duration
}

// NewLifecycle creates a Lifecycle bounded by the given concurrent-stream
// capacity and shutdown drain timeout.
func NewLifecycle(maxConcurrentStreams int, drainTimeout time.Duration) *Lifecycle {
	return &Lifecycle{sem: upstream.NewSemaphore(maxConcurrentStreams), drainTimeout: drainTimeout}
}

// MarkReady flips readiness to true. Call once, after the initial policy
// bundle has loaded and the listener is bound.
func (l *Lifecycle) MarkReady() {
	l.ready.Store(true)
}

// Ready reports whether the readiness probe should succeed.
func (l *Lifecycle) Ready() bool {
	return l.ready.Load() && !l.shuttingDown.Load()
}

// ShuttingDown reports whether Shutdown has begun, so callers that observe
// an AcquireSlot failure can distinguish graceful-shutdown refusal from
// plain semaphore exhaustion.
func (l *Lifecycle) ShuttingDown() bool {
	return l.shuttingDown.Load()
}

// InFlight returns the current in-flight request count, for the health
// endpoint's checks map.
func (l *Lifecycle) InFlight() int64 {
	return l.inFlight.Load()
}

// AcquireSlot attempts to acquire a concurrency-limit slot for one request.
// It fails during shutdown (refusing new slot acquisitions, per the
// orchestrator's lifecycle-coordination rule) and when the semaphore is
// exhausted. On success it returns a release func the caller must invoke
// exactly once, via a scope-bound guard (typically `defer release()`).
func (l *Lifecycle) AcquireSlot() (release func(), ok bool) {
	if l.shuttingDown.Load() {
		return nil, false
	}
	if !l.sem.TryAcquire() {
		return nil, false
	}
	l.inFlight.Add(1)
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			l.inFlight.Add(-1)
			l.sem.Release()
		}
	}, true
}

// Shutdown begins the graceful shutdown drain: readiness fails immediately,
// no new slot acquisitions succeed, and Shutdown blocks until every
// in-flight request completes or ctx's deadline (the drain timeout) is
// reached first. Returns false if the drain timeout was exceeded — callers
// map that to a non-zero exit code.
func (l *Lifecycle) Shutdown(ctx context.Context) bool {
	l.shuttingDown.Store(true)
	l.ready.Store(false)

	deadline := time.Now().Add(l.drainTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.inFlight.Load() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return l.inFlight.Load() == 0
		case <-ticker.C:
		}
	}
}
