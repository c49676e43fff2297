// Package policy contains the domain types and contract for the Cedar-shaped
// authorization engine that maps a (principal, resource) pair to a routing
// verdict.
package policy

import (
	"fmt"
	"time"
)

// VerdictKind discriminates the three-way policy verdict.
type VerdictKind int

const (
	// Forward permits the request onto the Green path unchanged.
	Forward VerdictKind = iota
	// Approve requires a human decision before the request proceeds.
	Approve
	// Reject denies the request outright.
	Reject
)

func (k VerdictKind) String() string {
	switch k {
	case Forward:
		return "forward"
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Verdict is the tagged sum `{ Forward | Approve { timeout } | Reject { reason } }`.
// Verdicts are pure values: they carry no reference to engine state, so they
// can be copied, logged, and compared freely after evaluation returns.
type Verdict struct {
	Kind VerdictKind
	// Timeout is set only when Kind == Approve; it is the deadline the
	// approval coordinator must honor for this request.
	Timeout time.Duration
	// Reason is set only when Kind == Reject.
	Reason string
	// RuleID identifies the rule (action check) that produced this verdict,
	// for diagnostics only — never surfaced to the client.
	RuleID string
}

// ForwardVerdict builds a Forward verdict.
func ForwardVerdict(ruleID string) Verdict {
	return Verdict{Kind: Forward, RuleID: ruleID}
}

// ApproveVerdict builds an Approve verdict with the given deadline.
func ApproveVerdict(timeout time.Duration, ruleID string) Verdict {
	return Verdict{Kind: Approve, Timeout: timeout, RuleID: ruleID}
}

// RejectVerdict builds a Reject verdict carrying a non-disclosive reason.
func RejectVerdict(reason string) Verdict {
	return Verdict{Kind: Reject, Reason: reason}
}

// DefaultRejectReason is used when no policy permits the request — the
// fail-closed default (mirrors the original implementation's fail-closed
// Default impl for its policy-action sum type).
const DefaultRejectReason = "no policy permits this request"

// ResourceKind discriminates the two resource shapes a request can target.
type ResourceKind int

const (
	// ToolCallResource is an MCP `tools/call` invocation.
	ToolCallResource ResourceKind = iota
	// McpMethodResource is any other policy-governed MCP method.
	McpMethodResource
)

// Resource is the sum type `ToolCall { name, server } | McpMethod { method, server }`.
type Resource struct {
	Kind   ResourceKind
	Name   string // tool name, when Kind == ToolCallResource
	Method string // MCP method, when Kind == McpMethodResource
	Server string
}

// ToolCall builds a ToolCall resource.
func ToolCall(name, server string) Resource {
	return Resource{Kind: ToolCallResource, Name: name, Server: server}
}

// McpMethod builds a McpMethod resource.
func McpMethod(method, server string) Resource {
	return Resource{Kind: McpMethodResource, Method: method, Server: server}
}

// EntityUID renders the resource as the Cedar-shaped entity UID string used
// in policy conditions, e.g. `ToolCall::"delete_user"`.
func (r Resource) EntityUID() string {
	switch r.Kind {
	case ToolCallResource:
		return fmt.Sprintf("ToolCall::%q", r.Name)
	default:
		return fmt.Sprintf("McpMethod::%q", r.Method)
	}
}

// Principal is the identity tuple `(app_name, namespace, service_account, roles[])`.
// Inferred once at startup from hostname and service-account mount files; a
// development override exists but is recognized only when the override flag
// is the literal string "true".
type Principal struct {
	AppName        string
	Namespace      string
	ServiceAccount string
	Roles          []string
}

// EntityUID renders the principal as the Cedar-shaped entity UID string,
// e.g. `App::"thoughtgate-sidecar"`. v0.1 policies match on this UID only —
// attribute-based rules against Namespace/ServiceAccount are deferred until
// a complete entity store exists (see the policy engine's evaluation notes).
func (p Principal) EntityUID() string {
	return fmt.Sprintf("App::%q", p.AppName)
}

// ApprovalGrant records that an approval record reached a terminal decision
// and is being replayed back through evaluation (e.g. for audit re-checks).
type ApprovalGrant struct {
	TaskID     string
	ApprovedBy string
	ApprovedAt time.Time
}
