package cel

import (
	"context"
	"testing"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
)

func mustEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return ev
}

func TestEngineForwardWinsOverApprove(t *testing.T) {
	ev := mustEvaluator(t)
	bundle := &policy.Bundle{
		Rules: []policy.Rule{
			{ID: "approve-all", Principal: "*", Action: policy.Approve, Resource: "*"},
			{ID: "forward-get", Principal: "*", Action: policy.Forward, Resource: `ToolCall::"get_file"`},
		},
		LoadedAt: time.Now(),
		Source:   policy.SourceConfigFile,
	}
	engine, err := NewEngine(ev, bundle, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	req := policy.Request{
		Principal: policy.Principal{AppName: "agent"},
		Resource:  policy.ToolCall("get_file", "fs"),
	}
	v, err := engine.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Kind != policy.Forward {
		t.Fatalf("expected Forward, got %v", v.Kind)
	}
}

func TestEngineRejectsWhenNoRuleMatches(t *testing.T) {
	ev := mustEvaluator(t)
	bundle := &policy.Bundle{
		Rules: []policy.Rule{
			{ID: "forward-get", Principal: "*", Action: policy.Forward, Resource: `ToolCall::"get_*"`},
		},
		LoadedAt: time.Now(),
		Source:   policy.SourceConfigFile,
	}
	engine, err := NewEngine(ev, bundle, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	req := policy.Request{
		Principal: policy.Principal{AppName: "agent"},
		Resource:  policy.ToolCall("delete_user", "fs"),
	}
	v, err := engine.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Kind != policy.Reject {
		t.Fatalf("expected Reject, got %v", v.Kind)
	}
	if v.Reason != policy.DefaultRejectReason {
		t.Fatalf("unexpected reject reason: %q", v.Reason)
	}
}

func TestEngineApproveUsesRuleTimeoutOverDefault(t *testing.T) {
	ev := mustEvaluator(t)
	bundle := &policy.Bundle{
		Rules: []policy.Rule{
			{ID: "approve-delete", Principal: "*", Action: policy.Approve, Resource: `ToolCall::"delete_user"`, Timeout: 2 * time.Minute},
		},
		LoadedAt: time.Now(),
		Source:   policy.SourceConfigFile,
	}
	engine, err := NewEngine(ev, bundle, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	req := policy.Request{Resource: policy.ToolCall("delete_user", "fs")}
	v, err := engine.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Kind != policy.Approve || v.Timeout != 2*time.Minute {
		t.Fatalf("expected Approve with 2m timeout, got %+v", v)
	}
}

func TestEngineConditionGatesMatch(t *testing.T) {
	ev := mustEvaluator(t)
	bundle := &policy.Bundle{
		Rules: []policy.Rule{
			{
				ID:        "forward-small-writes",
				Principal: "*",
				Action:    policy.Forward,
				Resource:  `ToolCall::"write_file"`,
				Condition: `arg(tool_args, "size") < 1024`,
			},
		},
		LoadedAt: time.Now(),
		Source:   policy.SourceConfigFile,
	}
	engine, err := NewEngine(ev, bundle, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	small := policy.Request{Resource: policy.ToolCall("write_file", "fs"), ToolArguments: map[string]any{"size": int64(10)}}
	v, err := engine.Evaluate(context.Background(), small)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Kind != policy.Forward {
		t.Fatalf("expected Forward for small write, got %v", v.Kind)
	}

	big := policy.Request{Resource: policy.ToolCall("write_file", "fs"), ToolArguments: map[string]any{"size": int64(999999)}}
	v, err = engine.Evaluate(context.Background(), big)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Kind != policy.Reject {
		t.Fatalf("expected Reject for large write, got %v", v.Kind)
	}
}

func TestEngineSwapRejectsInvalidBundle(t *testing.T) {
	ev := mustEvaluator(t)
	good := &policy.Bundle{
		Rules:    []policy.Rule{{ID: "forward-all", Principal: "*", Action: policy.Forward, Resource: "*"}},
		LoadedAt: time.Now(),
		Source:   policy.SourceConfigFile,
	}
	engine, err := NewEngine(ev, good, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	bad := &policy.Bundle{
		Rules:    []policy.Rule{{ID: "bad", Principal: "*", Action: policy.Forward, Resource: "*", Condition: "not(valid("}},
		LoadedAt: time.Now(),
		Source:   policy.SourceConfigFile,
	}
	if err := engine.Swap(bad); err == nil {
		t.Fatal("expected Swap to reject an invalid bundle")
	}

	// The previous (good) bundle must still be active.
	v, err := engine.Evaluate(context.Background(), policy.Request{Resource: policy.ToolCall("anything", "fs")})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Kind != policy.Forward {
		t.Fatalf("expected previous bundle to remain active, got %v", v.Kind)
	}
	if engine.Stats().ReloadFailureCount != 1 {
		t.Fatalf("expected ReloadFailureCount=1, got %d", engine.Stats().ReloadFailureCount)
	}
}
