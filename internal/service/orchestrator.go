package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/domain/approval"
	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
	"github.com/olegmukhin/thoughtgate/pkg/jsonrpc"
)

// maxRedactedArgsLen bounds how much of a tool call's arguments are echoed
// into an approval message or diagnostic log — arguments are never
// forwarded to the reviewer channel verbatim beyond this length.
const maxRedactedArgsLen = 500

// Outcome is what the orchestrator decided for one JSON-RPC element. Exactly
// one of Response or Forward is meaningful: Forward == true means the
// caller must stream the element through to the upstream server (the Green
// path, driven by streambody.Forward); Response != nil means the caller
// must emit that object directly and never contact the upstream for this
// element. Both being the zero value (Forward == false, Response == nil)
// means the element was a notification whose outcome produces no reply —
// ClientGone falls here too, since the client that would have received the
// reply is already gone.
type Outcome struct {
	Forward  bool
	Response *jsonrpc.Response
}

// Orchestrator implements the per-request dispatch table: classify the
// method, evaluate policy for governed methods, and route to one of the
// three paths (Forward, Approve, Reject), merging batch elements per the
// fixed highest-restriction rule before any upstream contact happens.
type Orchestrator struct {
	engine        policy.Engine
	approvals     *ApprovalCoordinator
	approvalChan  string
	server        string
	logger        *slog.Logger

	// OnPolicyEvaluation and OnApprovalOutcome are optional metrics hooks,
	// called with the verdict kind and the terminal decision kind
	// respectively. Both may be left nil.
	OnPolicyEvaluation func(verdict policy.VerdictKind)
	OnApprovalOutcome  func(decision approval.DecisionKind)
}

// NewOrchestrator wires a policy engine and approval coordinator together.
// server is the upstream MCP server name attached to every resource this
// instance evaluates; approvalChannel is the reviewer channel approval
// records are posted to.
func NewOrchestrator(engine policy.Engine, approvals *ApprovalCoordinator, server, approvalChannel string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{engine: engine, approvals: approvals, approvalChan: approvalChannel, server: server, logger: logger}
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// classifyResource extracts the policy resource and tool arguments (if any)
// a governed JSON-RPC element targets.
func (o *Orchestrator) classifyResource(req *jsonrpc.Request) (policy.Resource, map[string]any) {
	if req.Method == "tools/call" {
		var p toolCallParams
		_ = json.Unmarshal(req.Params, &p)
		return policy.ToolCall(p.Name, o.server), p.Arguments
	}
	return policy.McpMethod(req.Method, o.server), nil
}

// Evaluate runs one element through the method classifier and, for
// policy-governed methods, the policy engine. Pass-through and internal
// task-handler methods never touch the engine.
func (o *Orchestrator) Evaluate(ctx context.Context, req *jsonrpc.Request, principal policy.Principal) (policy.Verdict, policy.Resource, map[string]any, jsonrpc.Category) {
	category := jsonrpc.Classify(req.Method)
	resource, toolArgs := o.classifyResource(req)

	if category != jsonrpc.PolicyGoverned {
		return policy.ForwardVerdict(""), resource, toolArgs, category
	}

	verdict, err := o.engine.Evaluate(ctx, policy.Request{Principal: principal, Resource: resource, ToolArguments: toolArgs})
	if err != nil {
		if o.logger != nil {
			o.logger.Error("policy evaluation failed", "error", err, "resource", resource.EntityUID())
		}
		verdict = policy.RejectVerdict(policy.DefaultRejectReason)
	}
	if o.OnPolicyEvaluation != nil {
		o.OnPolicyEvaluation(verdict.Kind)
	}
	return verdict, resource, toolArgs, category
}

// Dispatch resolves one element's verdict into an Outcome. For a PolicyGoverned
// Approve verdict it blocks on the approval pipeline (post, poll, await)
// before returning — the caller's goroutine is the one that pays for the
// wait, matching the one-goroutine-per-request model. correlationID is
// threaded through every error response and approval record; clientAlive is
// consulted once at decision receipt and must be re-checked by the caller
// immediately before any upstream forward.
func (o *Orchestrator) Dispatch(ctx context.Context, req *jsonrpc.Request, principal policy.Principal, correlationID string, clientAlive func() bool) Outcome {
	verdict, resource, toolArgs, category := o.Evaluate(ctx, req, principal)

	switch category {
	case jsonrpc.InternalTaskHandler:
		return o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeTaskNotFound, "task handling is not available", correlationID))
	case jsonrpc.PassThrough:
		return o.forwardOutcome(req)
	}

	switch verdict.Kind {
	case policy.Forward:
		return o.forwardOutcome(req)
	case policy.Reject:
		return o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeRejected, "request rejected by policy", correlationID))
	case policy.Approve:
		return o.dispatchApproval(ctx, req, principal, resource, toolArgs, verdict.Timeout, correlationID, clientAlive)
	default:
		return o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeRejected, "request rejected by policy", correlationID))
	}
}

func (o *Orchestrator) dispatchApproval(ctx context.Context, req *jsonrpc.Request, principal policy.Principal, resource policy.Resource, toolArgs map[string]any, timeout time.Duration, correlationID string, clientAlive func() bool) Outcome {
	deadline := time.Now().Add(timeout)
	rec := approval.NewRecord(
		correlationID,
		resourceDisplayName(resource),
		redactArgs(toolArgs),
		approval.Principal{AppName: principal.AppName, Roles: principal.Roles},
		deadline,
		clientAlive,
	)

	if err := o.approvals.Submit(ctx, rec, o.approvalChan); err != nil {
		if o.logger != nil {
			o.logger.Error("failed to submit approval record", "error", err, "correlation_id", correlationID)
		}
		return o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeUpstreamUnavailable, "approval channel unavailable", correlationID))
	}

	decision := rec.Await(ctx)
	if o.OnApprovalOutcome != nil {
		o.OnApprovalOutcome(decision.Kind)
	}

	switch decision.Kind {
	case approval.Approved:
		// Zombie-execution prevention: liveness is checked at decision
		// receipt and the caller must check again immediately before it
		// actually forwards, since an approval can arrive long after this
		// check and the client may have disconnected in between.
		if rec.IsClientAlive != nil && !rec.IsClientAlive() {
			return Outcome{}
		}
		return o.forwardOutcome(req)
	case approval.Rejected:
		return o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeApprovalRejected, "approval request was rejected", correlationID))
	case approval.TimedOut:
		return o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeApprovalTimedOut, "approval request timed out", correlationID))
	case approval.ClientGone:
		o.approvals.Store().Remove(correlationID)
		return Outcome{}
	default:
		return o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeInternalError, "unexpected approval outcome", correlationID))
	}
}

func (o *Orchestrator) forwardOutcome(req *jsonrpc.Request) Outcome {
	return Outcome{Forward: true}
}

func (o *Orchestrator) errorOutcome(req *jsonrpc.Request, rpcErr *jsonrpc.Error) Outcome {
	if req.IsNotification() {
		return Outcome{}
	}
	return Outcome{Response: &jsonrpc.Response{ID: req.ID, Error: rpcErr}}
}

func resourceDisplayName(r policy.Resource) string {
	if r.Kind == policy.ToolCallResource {
		return r.Name
	}
	return r.Method
}

// redactArgs renders tool arguments as a length-bounded JSON summary for
// the approval message and diagnostics. Argument values themselves are
// never suppressed beyond the length bound — the non-disclosure boundary
// applies to client-facing error responses, not the reviewer-facing
// approval message, which exists specifically so a human can judge the
// call.
func redactArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "<unrenderable arguments>"
	}
	if len(b) > maxRedactedArgsLen {
		return fmt.Sprintf("%s... (truncated)", b[:maxRedactedArgsLen])
	}
	return string(b)
}

// DispatchBatch evaluates every element of a parsed JSON-RPC batch, merges
// the resulting verdicts per the fixed highest-restriction rule, and
// returns one Outcome per element plus the merge plan the caller uses to
// decide whether to stream the batch upstream as one unit (BatchPerElement,
// once every element resolved to Forward) or to block the entire batch on a
// single approval (BatchApproval).
func (o *Orchestrator) DispatchBatch(ctx context.Context, reqs []*jsonrpc.Request, principal policy.Principal, correlationID string, clientAlive func() bool) ([]Outcome, policy.BatchPlan) {
	verdicts := make([]policy.Verdict, len(reqs))
	resources := make([]policy.Resource, len(reqs))
	toolArgsList := make([]map[string]any, len(reqs))
	categories := make([]jsonrpc.Category, len(reqs))

	for i, req := range reqs {
		v, res, args, cat := o.Evaluate(ctx, req, principal)
		verdicts[i] = v
		resources[i] = res
		toolArgsList[i] = args
		categories[i] = cat
	}

	plan := policy.MergeVerdicts(verdicts)

	outcomes := make([]Outcome, len(reqs))

	if plan.Kind == policy.BatchApproval {
		// One atomic approval covers the whole batch: a single record is
		// submitted describing the batch, and every element shares its
		// outcome.
		decision := o.awaitBatchApproval(ctx, reqs, principal, resources, toolArgsList, plan.Timeout, correlationID, clientAlive)
		for i, req := range reqs {
			switch decision.Kind {
			case approval.Approved:
				outcomes[i] = o.forwardOutcome(req)
			case approval.Rejected:
				outcomes[i] = o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeApprovalRejected, "approval request was rejected", correlationID))
			case approval.TimedOut:
				outcomes[i] = o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeApprovalTimedOut, "approval request timed out", correlationID))
			default:
				outcomes[i] = Outcome{}
			}
		}
		return outcomes, plan
	}

	for i, req := range reqs {
		switch categories[i] {
		case jsonrpc.InternalTaskHandler:
			outcomes[i] = o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeTaskNotFound, "task handling is not available", correlationID))
			continue
		case jsonrpc.PassThrough:
			outcomes[i] = o.forwardOutcome(req)
			continue
		}
		if verdicts[i].Kind == policy.Reject {
			outcomes[i] = o.errorOutcome(req, jsonrpc.NewError(jsonrpc.CodeRejected, "request rejected by policy", correlationID))
			continue
		}
		outcomes[i] = o.forwardOutcome(req)
	}
	return outcomes, plan
}

func (o *Orchestrator) awaitBatchApproval(ctx context.Context, reqs []*jsonrpc.Request, principal policy.Principal, resources []policy.Resource, toolArgsList []map[string]any, timeout time.Duration, correlationID string, clientAlive func() bool) approval.Decision {
	names := make([]string, 0, len(reqs))
	for _, r := range resources {
		names = append(names, resourceDisplayName(r))
	}
	argsSummary := redactArgs(map[string]any{"batch": names})

	deadline := time.Now().Add(timeout)
	rec := approval.NewRecord(
		correlationID,
		fmt.Sprintf("batch[%d]", len(reqs)),
		argsSummary,
		approval.Principal{AppName: principal.AppName, Roles: principal.Roles},
		deadline,
		clientAlive,
	)

	if err := o.approvals.Submit(ctx, rec, o.approvalChan); err != nil {
		return approval.Decision{Kind: approval.Rejected, Reason: "approval channel unavailable"}
	}

	decision := rec.Await(ctx)
	if o.OnApprovalOutcome != nil {
		o.OnApprovalOutcome(decision.Kind)
	}
	if decision.Kind == approval.Approved {
		if rec.IsClientAlive != nil && !rec.IsClientAlive() {
			return approval.Decision{Kind: approval.ClientGone}
		}
	}
	if decision.Kind == approval.ClientGone {
		o.approvals.Store().Remove(correlationID)
	}
	return decision
}
