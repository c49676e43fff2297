package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/domain/approval"
)

type fakeChannel struct {
	mu        sync.Mutex
	postCount int
	events    map[string][]approval.ChannelEvent
	edits     []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(map[string][]approval.ChannelEvent)}
}

func (f *fakeChannel) Post(ctx context.Context, req approval.PostRequest) (approval.ExternalRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCount++
	ts := "1700000000.000001"
	return approval.ExternalRef{Channel: req.Channel, Timestamp: ts}, nil
}

func (f *fakeChannel) History(ctx context.Context, channel string, limit int) ([]approval.ChannelEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[channel], nil
}

func (f *fakeChannel) LookupUser(ctx context.Context, userID string) (string, error) {
	return "user:" + userID, nil
}

func (f *fakeChannel) Edit(ctx context.Context, ref approval.ExternalRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeChannel) setEvents(channel string, events []approval.ChannelEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[channel] = events
}

func TestDetectDecisionEarliestReactionWinsWhenApproveIsFirst(t *testing.T) {
	events := []approval.ChannelEvent{{
		Timestamp: "ts1",
		Reactions: []approval.Reaction{
			{Name: "check", UserID: "u2", Timestamp: "1700000000.000001"},
			{Name: "x", UserID: "u1", Timestamp: "1700000000.000002"},
		},
	}}
	kind, userID, found := detectDecision(events, "ts1", "check", "x")
	if !found {
		t.Fatal("expected a decision to be found")
	}
	if kind != approval.Approved || userID != "u2" {
		t.Fatalf("got kind=%v user=%q, want Approved/u2", kind, userID)
	}
}

func TestDetectDecisionEarliestReactionWinsWhenRejectIsFirst(t *testing.T) {
	events := []approval.ChannelEvent{{
		Timestamp: "ts1",
		Reactions: []approval.Reaction{
			{Name: "x", UserID: "u1", Timestamp: "1700000000.000001"},
			{Name: "check", UserID: "u2", Timestamp: "1700000000.000002"},
		},
	}}
	kind, userID, found := detectDecision(events, "ts1", "check", "x")
	if !found {
		t.Fatal("expected a decision to be found")
	}
	if kind != approval.Rejected || userID != "u1" {
		t.Fatalf("got kind=%v user=%q, want Rejected/u1", kind, userID)
	}
}

func TestDetectDecisionFallsBackToKeyword(t *testing.T) {
	events := []approval.ChannelEvent{{Timestamp: "ts1", ReplyText: "looks good, rejected actually"}}
	kind, _, found := detectDecision(events, "ts1", "check", "x")
	if !found {
		t.Fatal("expected keyword match to be found")
	}
	if kind != approval.Rejected {
		t.Fatalf("got kind=%v, want Rejected", kind)
	}
}

func TestDetectDecisionNoMatchReturnsFalse(t *testing.T) {
	events := []approval.ChannelEvent{{Timestamp: "ts1", ReplyText: "still thinking"}}
	_, _, found := detectDecision(events, "ts1", "check", "x")
	if found {
		t.Fatal("expected no decision to be found")
	}
}

func TestScheduleNextPollRespectsConfiguredCeiling(t *testing.T) {
	ch := newFakeChannel()
	c := NewApprovalCoordinator(ch, 100, "check", "x", 12*time.Second, nil)

	rec := approval.NewRecord("corr-ceiling", "delete_user", "{}", approval.Principal{AppName: "agent"}, time.Now().Add(time.Hour), func() bool { return true })

	var backoff time.Duration
	for i := 0; i < 10; i++ {
		c.scheduleNextPoll(rec)
		c.mu.Lock()
		backoff = c.state[rec.CorrelationID].backoff
		c.mu.Unlock()
	}
	if backoff != 12*time.Second {
		t.Fatalf("backoff settled at %v, want it capped at the configured 12s ceiling", backoff)
	}
}

func TestNewApprovalCoordinatorFallsBackToMinBackoffWhenCeilingIsZero(t *testing.T) {
	c := NewApprovalCoordinator(newFakeChannel(), 100, "check", "x", 0, nil)
	if c.maxBackoff != minBackoff {
		t.Fatalf("maxBackoff = %v, want fallback to minBackoff (%v)", c.maxBackoff, minBackoff)
	}
}

func TestCoordinatorSubmitRegistersPendingRecord(t *testing.T) {
	ch := newFakeChannel()
	c := NewApprovalCoordinator(ch, 100, "check", "x", 30*time.Second, nil)

	rec := approval.NewRecord("corr-1", "delete_user", "{}", approval.Principal{AppName: "agent"}, time.Now().Add(time.Minute), func() bool { return true })
	if err := c.Submit(context.Background(), rec, "#approvals"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if c.Store().Len() != 1 {
		t.Fatalf("Store().Len() = %d, want 1", c.Store().Len())
	}
	if ch.postCount != 1 {
		t.Fatalf("postCount = %d, want 1", ch.postCount)
	}
}

func TestCoordinatorPollOnceResolvesApproval(t *testing.T) {
	ch := newFakeChannel()
	c := NewApprovalCoordinator(ch, 100, "check", "x", 30*time.Second, nil)

	rec := approval.NewRecord("corr-2", "delete_user", "{}", approval.Principal{AppName: "agent"}, time.Now().Add(time.Minute), func() bool { return true })
	ctx := context.Background()
	if err := c.Submit(ctx, rec, "#approvals"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ch.setEvents("#approvals", []approval.ChannelEvent{{
		Timestamp: rec.ExternalRef.Timestamp,
		Reactions: []approval.Reaction{{Name: "check", UserID: "reviewer1"}},
	}})

	done := make(chan approval.Decision, 1)
	go func() { done <- rec.Await(ctx) }()

	c.pollOnce(ctx)

	select {
	case d := <-done:
		if d.Kind != approval.Approved {
			t.Fatalf("decision kind = %v, want Approved", d.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval decision")
	}

	if c.Store().Len() != 0 {
		t.Fatalf("expected record to be removed from store, Len() = %d", c.Store().Len())
	}
}

func TestCoordinatorExpireOverdueResolvesTimedOut(t *testing.T) {
	ch := newFakeChannel()
	c := NewApprovalCoordinator(ch, 100, "check", "x", 30*time.Second, nil)

	rec := approval.NewRecord("corr-3", "delete_user", "{}", approval.Principal{AppName: "agent"}, time.Now().Add(-time.Second), func() bool { return true })
	ctx := context.Background()
	if err := c.Submit(ctx, rec, "#approvals"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	c.ExpireOverdue(ctx)

	if c.Store().Len() != 0 {
		t.Fatalf("expected overdue record to be removed, Len() = %d", c.Store().Len())
	}
}
