package upstream

import (
	"context"
	"net"
	"net/http"
	"time"
)

// connectTimeout bounds the upstream TCP connect suspension point.
const connectTimeout = 5 * time.Second

// NewClient builds an *http.Client whose Transport dials with
// connectTimeout and applies TuneOptions to every connection it opens,
// mirroring the socket tuner applied on the accept path so both halves of
// the proxy carry the same low-latency settings.
func NewClient(opts TuneOptions) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := Tune(conn, opts); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{Transport: transport}
}

// Semaphore is the global counting semaphore bounding concurrent streams.
// Exhaustion causes a 503 before any request body is read. It is a plain
// counting primitive, global, and read-only after construction, per the
// concurrency model's rule that the semaphore is the one other legitimate
// process-wide datum besides the policy set.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a Semaphore with the given concurrent-stream
// capacity.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// TryAcquire attempts a non-blocking slot acquisition, for the inbound
// accept path's "reject before reading a body" behavior.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot. Callers acquire via a scope-bound guard (see
// internal/service's dispatch path) so Release always runs exactly once
// per successful TryAcquire.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
	}
}

// InFlight returns the number of currently held slots.
func (s *Semaphore) InFlight() int {
	return len(s.slots)
}
