package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/domain/approval"
	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
	"github.com/olegmukhin/thoughtgate/pkg/jsonrpc"
)

type fakeEngine struct {
	verdict policy.Verdict
	err     error
}

func (f *fakeEngine) Evaluate(ctx context.Context, req policy.Request) (policy.Verdict, error) {
	return f.verdict, f.err
}

func (f *fakeEngine) Stats() policy.Stats { return policy.Stats{} }

func newToolCallRequest(id, name string) *jsonrpc.Request {
	params, _ := json.Marshal(toolCallParams{Name: name, Arguments: map[string]any{"path": "/tmp/x"}})
	return &jsonrpc.Request{ID: json.RawMessage(id), Method: "tools/call", Params: params}
}

func TestDispatchForwardsPassThroughMethodWithoutPolicyCheck(t *testing.T) {
	engine := &fakeEngine{verdict: policy.RejectVerdict("should not be consulted")}
	o := NewOrchestrator(engine, NewApprovalCoordinator(newFakeChannel(), 100, "check", "x", 30*time.Second, nil), "server1", "#approvals", nil)

	req := &jsonrpc.Request{ID: json.RawMessage(`1`), Method: "initialize"}
	outcome := o.Dispatch(context.Background(), req, policy.Principal{AppName: "agent"}, "corr-1", func() bool { return true })
	if !outcome.Forward {
		t.Fatal("expected a pass-through method to forward")
	}
	if outcome.Response != nil {
		t.Fatal("expected no response for a forwarded outcome")
	}
}

func TestDispatchRejectsWhenPolicyRejects(t *testing.T) {
	engine := &fakeEngine{verdict: policy.RejectVerdict(policy.DefaultRejectReason)}
	o := NewOrchestrator(engine, NewApprovalCoordinator(newFakeChannel(), 100, "check", "x", 30*time.Second, nil), "server1", "#approvals", nil)

	req := newToolCallRequest(`1`, "delete_user")
	outcome := o.Dispatch(context.Background(), req, policy.Principal{AppName: "agent"}, "corr-2", func() bool { return true })
	if outcome.Forward {
		t.Fatal("expected reject verdict not to forward")
	}
	if outcome.Response == nil || outcome.Response.Error == nil {
		t.Fatal("expected an error response")
	}
	if outcome.Response.Error.Code != jsonrpc.CodeRejected {
		t.Fatalf("error code = %d, want %d", outcome.Response.Error.Code, jsonrpc.CodeRejected)
	}
}

func TestDispatchTaskMethodReturnsTaskNotFound(t *testing.T) {
	engine := &fakeEngine{verdict: policy.ForwardVerdict("")}
	o := NewOrchestrator(engine, NewApprovalCoordinator(newFakeChannel(), 100, "check", "x", 30*time.Second, nil), "server1", "#approvals", nil)

	req := &jsonrpc.Request{ID: json.RawMessage(`1`), Method: "tasks/status"}
	outcome := o.Dispatch(context.Background(), req, policy.Principal{AppName: "agent"}, "corr-3", func() bool { return true })
	if outcome.Response == nil || outcome.Response.Error == nil || outcome.Response.Error.Code != jsonrpc.CodeTaskNotFound {
		t.Fatal("expected a CodeTaskNotFound error for a tasks/* method")
	}
}

func TestDispatchApprovalApprovedForwardsAfterLivenessCheck(t *testing.T) {
	ch := newFakeChannel()
	coordinator := NewApprovalCoordinator(ch, 100, "check", "x", 30*time.Second, nil)
	engine := &fakeEngine{verdict: policy.ApproveVerdict(time.Minute, "rule1")}
	o := NewOrchestrator(engine, coordinator, "server1", "#approvals", nil)

	req := newToolCallRequest(`1`, "delete_user")

	resultCh := make(chan Outcome, 1)
	go func() {
		resultCh <- o.Dispatch(context.Background(), req, policy.Principal{AppName: "agent"}, "corr-4", func() bool { return true })
	}()

	// Wait for the record to be posted, then inject an approve reaction and
	// force a poll cycle.
	var ref *approval.ExternalRef
	for i := 0; i < 100; i++ {
		if r, ok := coordinator.Store().Get("corr-4"); ok {
			ref = r.ExternalRef
			break
		}
		time.Sleep(time.Millisecond)
	}
	if ref == nil {
		t.Fatal("approval record was never submitted")
	}
	ch.setEvents("#approvals", []approval.ChannelEvent{{
		Timestamp: ref.Timestamp,
		Reactions: []approval.Reaction{{Name: "check", UserID: "reviewer1"}},
	}})
	coordinator.pollOnce(context.Background())

	select {
	case outcome := <-resultCh:
		if !outcome.Forward {
			t.Fatal("expected an approved request to forward")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch to resolve")
	}
}

func TestDispatchApprovalRejectedReturnsApprovalRejectedError(t *testing.T) {
	ch := newFakeChannel()
	coordinator := NewApprovalCoordinator(ch, 100, "check", "x", 30*time.Second, nil)
	engine := &fakeEngine{verdict: policy.ApproveVerdict(time.Minute, "rule1")}
	o := NewOrchestrator(engine, coordinator, "server1", "#approvals", nil)

	req := newToolCallRequest(`1`, "delete_user")

	resultCh := make(chan Outcome, 1)
	go func() {
		resultCh <- o.Dispatch(context.Background(), req, policy.Principal{AppName: "agent"}, "corr-5", func() bool { return true })
	}()

	var ref *approval.ExternalRef
	for i := 0; i < 100; i++ {
		if r, ok := coordinator.Store().Get("corr-5"); ok {
			ref = r.ExternalRef
			break
		}
		time.Sleep(time.Millisecond)
	}
	if ref == nil {
		t.Fatal("approval record was never submitted")
	}
	ch.setEvents("#approvals", []approval.ChannelEvent{{
		Timestamp: ref.Timestamp,
		Reactions: []approval.Reaction{{Name: "x", UserID: "reviewer1"}},
	}})
	coordinator.pollOnce(context.Background())

	select {
	case outcome := <-resultCh:
		if outcome.Forward {
			t.Fatal("expected a rejected approval not to forward")
		}
		if outcome.Response == nil || outcome.Response.Error == nil || outcome.Response.Error.Code != jsonrpc.CodeApprovalRejected {
			t.Fatal("expected a CodeApprovalRejected error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch to resolve")
	}
}

func TestDispatchApprovalTimesOutReturnsApprovalTimedOutError(t *testing.T) {
	ch := newFakeChannel()
	coordinator := NewApprovalCoordinator(ch, 100, "check", "x", 30*time.Second, nil)
	engine := &fakeEngine{verdict: policy.ApproveVerdict(10 * time.Millisecond, "rule1")}
	o := NewOrchestrator(engine, coordinator, "server1", "#approvals", nil)

	req := newToolCallRequest(`1`, "delete_user")
	outcome := o.Dispatch(context.Background(), req, policy.Principal{AppName: "agent"}, "corr-6", func() bool { return true })
	if outcome.Forward {
		t.Fatal("expected a timed-out approval not to forward")
	}
	if outcome.Response == nil || outcome.Response.Error == nil || outcome.Response.Error.Code != jsonrpc.CodeApprovalTimedOut {
		t.Fatal("expected a CodeApprovalTimedOut error")
	}
}

func TestDispatchBatchUpgradesToApprovalWhenAnyElementRequiresIt(t *testing.T) {
	ch := newFakeChannel()
	coordinator := NewApprovalCoordinator(ch, 100, "check", "x", 30*time.Second, nil)

	reqs := []*jsonrpc.Request{newToolCallRequest(`1`, "read_file"), newToolCallRequest(`2`, "delete_user")}

	callCount := 0
	verdicts := []policy.Verdict{policy.ForwardVerdict(""), policy.ApproveVerdict(10 * time.Millisecond, "rule1")}
	engine := &sequencedEngine{verdicts: verdicts, onCall: func() { callCount++ }}
	o := NewOrchestrator(engine, coordinator, "server1", "#approvals", nil)

	outcomes, plan := o.DispatchBatch(context.Background(), reqs, policy.Principal{AppName: "agent"}, "corr-7", func() bool { return true })

	if plan.Kind != policy.BatchApproval {
		t.Fatalf("plan.Kind = %v, want BatchApproval", plan.Kind)
	}
	for i, outcome := range outcomes {
		if outcome.Forward {
			t.Fatalf("outcome[%d].Forward = true, want false (approval timed out)", i)
		}
		if outcome.Response == nil || outcome.Response.Error == nil || outcome.Response.Error.Code != jsonrpc.CodeApprovalTimedOut {
			t.Fatalf("outcome[%d] expected CodeApprovalTimedOut", i)
		}
	}
	if callCount != 2 {
		t.Fatalf("engine called %d times, want 2", callCount)
	}
}

type sequencedEngine struct {
	verdicts []policy.Verdict
	idx      int
	onCall   func()
}

func (s *sequencedEngine) Evaluate(ctx context.Context, req policy.Request) (policy.Verdict, error) {
	if s.onCall != nil {
		s.onCall()
	}
	v := s.verdicts[s.idx]
	if s.idx < len(s.verdicts)-1 {
		s.idx++
	}
	return v, nil
}

func (s *sequencedEngine) Stats() policy.Stats { return policy.Stats{} }
