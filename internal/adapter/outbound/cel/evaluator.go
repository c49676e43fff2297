package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength bounds the size of a rule condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing a pathological
// condition from starving the evaluation performance contract.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket/brace nesting in a condition.
const maxNestingDepth = 50

// evalTimeout bounds a single condition evaluation. Policy evaluation is
// specified as pure, I/O-free work; this timeout exists only to bound
// pathological expressions, not to tolerate real I/O latency.
const evalTimeout = 50 * time.Millisecond

// interruptCheckFreq is how often comprehension iterations check for
// context cancellation.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL rule conditions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an Evaluator bound to the condition environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewConditionEnvironment()
	if err != nil {
		return nil, fmt.Errorf("build condition environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a rule condition, returning a compiled
// program with cost and interrupt limits applied.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// validateNesting rejects conditions whose bracket nesting exceeds the
// configured maximum.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("condition nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression performs compile-time validation of a rule condition
// and enforces the length and nesting safety limits.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return nil // empty condition means "always match"
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("condition too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

// Evaluate runs a compiled program against a ConditionContext and returns
// whether the condition matched. A program compiled from an empty
// expression string is never produced; callers treat empty conditions as an
// unconditional match before reaching Evaluate.
func (e *Evaluator) Evaluate(prg cel.Program, cc ConditionContext) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, Activation(cc))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, errors.New("condition did not evaluate to a boolean")
	}
	return boolResult, nil
}
