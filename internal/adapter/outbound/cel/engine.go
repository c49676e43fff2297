package cel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	gocel "github.com/google/cel-go/cel"

	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
)

// compiledRule pairs a domain rule with its compiled CEL condition program.
// prog is nil when the rule's condition is empty ("always match").
type compiledRule struct {
	rule policy.Rule
	prog gocel.Program
}

// compiledBundle is the adapter-side companion to a policy.Bundle: the
// immutable bundle plus the compiled programs derived from it. The domain
// layer never sees compiled CEL state; it only ever holds the pure Bundle.
type compiledBundle struct {
	bundle *policy.Bundle
	rules  []compiledRule
}

// Engine implements policy.Engine by evaluating the fixed
// Forward-then-Approve-then-Reject action order against a compiled,
// atomically-swappable bundle.
type Engine struct {
	current atomic.Pointer[compiledBundle]

	evaluator              *Evaluator
	defaultApprovalTimeout time.Duration

	evalCount     atomic.Int64
	reloadSuccess atomic.Int64
	reloadFailure atomic.Int64
	lastReload    atomic.Int64
}

var _ policy.Engine = (*Engine)(nil)

// NewEngine builds an Engine from an already schema-validated initial
// bundle. Use Compile separately (e.g. from the loader) to validate a
// candidate bundle before ever constructing or swapping it in.
func NewEngine(evaluator *Evaluator, initial *policy.Bundle, defaultApprovalTimeout time.Duration) (*Engine, error) {
	cb, err := compile(evaluator, initial)
	if err != nil {
		return nil, err
	}
	e := &Engine{evaluator: evaluator, defaultApprovalTimeout: defaultApprovalTimeout}
	e.current.Store(cb)
	e.lastReload.Store(initial.LoadedAt.UnixNano())
	return e, nil
}

// compile validates every rule's action and compiles its condition,
// returning a policy.LoadError tagged CategoryCedarError on the first
// uncompilable condition and CategorySchemaValidation on a structurally
// invalid rule. An invalid bundle never becomes a compiledBundle.
func compile(evaluator *Evaluator, bundle *policy.Bundle) (*compiledBundle, error) {
	rules := make([]compiledRule, 0, len(bundle.Rules))
	for _, r := range bundle.Rules {
		if r.Action != policy.Forward && r.Action != policy.Approve {
			return nil, policy.NewSchemaValidationError("", fmt.Errorf("rule %q: action must be forward or approve", r.ID))
		}
		var prog gocel.Program
		if r.Condition != "" {
			if err := evaluator.ValidateExpression(r.Condition); err != nil {
				return nil, policy.NewCedarError("", fmt.Errorf("rule %q: %w", r.ID, err))
			}
			p, err := evaluator.Compile(r.Condition)
			if err != nil {
				return nil, policy.NewCedarError("", fmt.Errorf("rule %q: %w", r.ID, err))
			}
			prog = p
		}
		rules = append(rules, compiledRule{rule: r, prog: prog})
	}
	return &compiledBundle{bundle: bundle, rules: rules}, nil
}

// Swap validates and compiles candidate, then atomically replaces the
// active bundle only on success. On failure the previously active bundle
// remains in force and the failure counter is incremented; the returned
// error's category should be used to label the reload-failure metric.
func (e *Engine) Swap(candidate *policy.Bundle) error {
	cb, err := compile(e.evaluator, candidate)
	if err != nil {
		e.reloadFailure.Add(1)
		return err
	}
	e.current.Store(cb)
	e.reloadSuccess.Add(1)
	e.lastReload.Store(candidate.LoadedAt.UnixNano())
	return nil
}

// Evaluate implements the fixed evaluation algorithm: evaluate Forward
// first; if permitted, return Forward. Otherwise evaluate Approve; if
// permitted, return Approve with the rule's timeout (or the engine default
// when the rule leaves it unset). Otherwise return the fail-closed Reject
// default. First rule match within an action check wins.
func (e *Engine) Evaluate(_ context.Context, req policy.Request) (policy.Verdict, error) {
	e.evalCount.Add(1)
	cb := e.current.Load()

	if r, ok := e.firstMatch(cb, req, policy.Forward); ok {
		return policy.ForwardVerdict(r.ID), nil
	}
	if r, ok := e.firstMatch(cb, req, policy.Approve); ok {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = e.defaultApprovalTimeout
		}
		return policy.ApproveVerdict(timeout, r.ID), nil
	}
	return policy.RejectVerdict(policy.DefaultRejectReason), nil
}

// firstMatch scans compiled rules carrying the given action in order and
// returns the first whose principal UID, resource UID, and condition (if
// any) all match the request. A condition referencing fields the runtime
// can't resolve degrades to "no match" rather than erroring, so a rule
// never blocks evaluation of the next action check.
func (e *Engine) firstMatch(cb *compiledBundle, req policy.Request, action policy.VerdictKind) (policy.Rule, bool) {
	principalUID := req.Principal.EntityUID()
	resourceUID := req.Resource.EntityUID()

	for _, cr := range cb.rules {
		if cr.rule.Action != action {
			continue
		}
		if !MatchUID(cr.rule.Principal, principalUID) {
			continue
		}
		if !MatchUID(cr.rule.Resource, resourceUID) {
			continue
		}
		if cr.prog == nil {
			return cr.rule, true
		}
		cc := ConditionContext{
			ResourceName:   req.Resource.Name,
			ResourceServer: req.Resource.Server,
			ToolArguments:  req.ToolArguments,
			PrincipalUID:   principalUID,
			Roles:          req.Principal.Roles,
			RequestTimeUTC: time.Now().UnixNano(),
		}
		matched, err := e.evaluator.Evaluate(cr.prog, cc)
		if err != nil || !matched {
			continue
		}
		return cr.rule, true
	}
	return policy.Rule{}, false
}

// Stats implements policy.Engine.
func (e *Engine) Stats() policy.Stats {
	cb := e.current.Load()
	return policy.Stats{
		PolicyCount:        len(cb.rules),
		LastReload:         e.lastReload.Load(),
		ReloadSuccessCount: e.reloadSuccess.Load(),
		ReloadFailureCount: e.reloadFailure.Load(),
		EvaluationCount:    e.evalCount.Load(),
		Source:             cb.bundle.Source,
	}
}
