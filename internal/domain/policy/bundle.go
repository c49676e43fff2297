package policy

import (
	"sync/atomic"
	"time"
)

// Rule is one entry of a Cedar-shaped authorization bundle. v0.1 matches
// principal and resource against entity-UID patterns only (the simplification
// noted in the component design: attribute-based rules such as
// `principal.namespace == "prod"` are deferred until a complete entity store
// exists). "*" matches any UID.
type Rule struct {
	ID        string
	Principal string // e.g. `App::"agent-runner"` or "*"
	Action    VerdictKind
	Resource  string // e.g. `ToolCall::"delete_user"` or "*"
	// Condition is an optional CEL expression evaluated against the
	// request's resource arguments; an empty Condition means "always match"
	// once Principal and Resource match. Rules whose condition references
	// attributes absent from the request context fall through to the next
	// action check rather than erroring.
	Condition string
	// Timeout applies only when Action == Approve; zero means "use the
	// engine's configured default timeout."
	Timeout time.Duration
}

// Bundle is the immutable, schema-validated set of rules a Set atomically
// swaps in. Bundles are never mutated after construction — a reload builds
// a new Bundle and swaps the pointer.
type Bundle struct {
	Rules     []Rule
	LoadedAt  time.Time
	Source    Source
	Unsafe    bool // true only for the embedded permissive default
}

// Set is the atomically-swappable handle shared by all evaluators. Readers
// never block writers and vice versa: Current takes a single atomic load,
// and Swap performs a single atomic store after the candidate bundle has
// already been fully validated by the caller.
type Set struct {
	ptr atomic.Pointer[Bundle]
}

// NewSet creates a Set holding the given initial bundle.
func NewSet(initial *Bundle) *Set {
	s := &Set{}
	s.ptr.Store(initial)
	return s
}

// Current returns the presently active bundle. Never returns nil once
// NewSet has been called with a non-nil bundle.
func (s *Set) Current() *Bundle {
	return s.ptr.Load()
}

// Swap atomically replaces the active bundle. The caller must have already
// schema-validated candidate; an invalid bundle must never reach this call.
func (s *Set) Swap(candidate *Bundle) {
	s.ptr.Store(candidate)
}

// EmbeddedDefault is the built-in permissive fallback used only when no
// POLICY_FILE or POLICIES blob is configured. It is explicitly unsafe: every
// principal may Forward every resource. Callers MUST log a warning when this
// bundle is selected.
func EmbeddedDefault() *Bundle {
	return &Bundle{
		Rules: []Rule{
			{ID: "embedded-allow-all", Principal: "*", Action: Forward, Resource: "*"},
		},
		LoadedAt: time.Now(),
		Source:   SourceEmbedded,
		Unsafe:   true,
	}
}
