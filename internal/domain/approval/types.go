// Package approval contains the domain types and contract for the blocking
// human-approval pipeline: posting a record to a reviewer channel,
// batch-polling for a decision, enforcing a deadline, and verifying client
// liveness before any upstream side effect.
package approval

import (
	"context"
	"time"
)

// DecisionKind discriminates the four terminal outcomes a record can reach.
// A terminal decision is produced at-most-once per record.
type DecisionKind int

const (
	Approved DecisionKind = iota
	Rejected
	TimedOut
	ClientGone
)

func (k DecisionKind) String() string {
	switch k {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	case ClientGone:
		return "client_gone"
	default:
		return "unknown"
	}
}

// Decision is the tagged sum `{ Approved{by}, Rejected{by, reason?}, TimedOut, ClientGone }`.
type Decision struct {
	Kind   DecisionKind
	By     string // reviewer identity, set for Approved and Rejected
	Reason string // set for Rejected, optional
}

// Principal mirrors the caller's identity fields the approval message
// needs to render, independent of the policy package to avoid a domain
// dependency cycle.
type Principal struct {
	AppName string
	Roles   []string
}

// ExternalRef identifies the posted message in the reviewer channel: which
// channel it lives in and its timestamp (the Slack-shaped API's native
// message identity).
type ExternalRef struct {
	Channel   string
	Timestamp string
}

// Record is the in-memory datum representing a paused request awaiting a
// human decision. Its lifetime is bounded by the HTTP request that spawned
// it: it is destroyed the instant a terminal decision is reached or the
// deadline expires, and the state is intentionally volatile — a process
// restart loses all pending records, and clients must be prepared to
// retry.
type Record struct {
	CorrelationID     string
	ToolName          string
	ToolArgsRedacted  string
	Principal         Principal
	CreatedAt         time.Time
	Deadline          time.Time
	ExternalRef       *ExternalRef

	resultCh chan Decision
	// IsClientAlive reports whether the HTTP connection that spawned this
	// record is still writable. Checked once at decision receipt and again,
	// mandatorily, immediately before any upstream forward — never cached.
	IsClientAlive func() bool
}

// NewRecord creates a pending Record with an unbuffered decision channel
// sized for exactly one terminal write (resolve is idempotent and only the
// first caller's write is observed).
func NewRecord(correlationID, toolName, argsRedacted string, principal Principal, deadline time.Time, alive func() bool) *Record {
	return &Record{
		CorrelationID:    correlationID,
		ToolName:         toolName,
		ToolArgsRedacted: argsRedacted,
		Principal:        principal,
		CreatedAt:        time.Now(),
		Deadline:         deadline,
		IsClientAlive:    alive,
		resultCh:         make(chan Decision, 1),
	}
}

// Await blocks until a terminal decision is delivered, the context is
// cancelled (client disconnect or shutdown), or the deadline elapses —
// whichever comes first. Only the first caller across all of these paths
// observes the decision that actually happened; Await itself never mutates
// shared state, so it is safe to call from exactly one goroutine (the
// request's own).
func (r *Record) Await(ctx context.Context) Decision {
	timer := time.NewTimer(time.Until(r.Deadline))
	defer timer.Stop()

	select {
	case d := <-r.resultCh:
		return d
	case <-timer.C:
		return Decision{Kind: TimedOut}
	case <-ctx.Done():
		return Decision{Kind: ClientGone}
	}
}

// resolve delivers a terminal decision exactly once. Subsequent calls are
// no-ops, satisfying the at-most-once invariant even under concurrent
// resolution attempts (e.g. a reaction arriving the instant the deadline
// fires).
func (r *Record) resolve(d Decision) bool {
	select {
	case r.resultCh <- d:
		return true
	default:
		return false
	}
}
