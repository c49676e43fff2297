package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/adapter/outbound/reviewer"
	"github.com/olegmukhin/thoughtgate/internal/domain/approval"
)

// approveKeywords and rejectKeywords back the decision detection's third
// tier: a reply's text is matched case-insensitively against these before
// falling through (no decision observed this cycle).
var approveKeywords = []string{"approve", "approved", "lgtm", "yes"}
var rejectKeywords = []string{"reject", "rejected", "deny", "denied", "no"}

const (
	minBackoff   = 5 * time.Second
	historyLimit = 100
)

type pollState struct {
	nextPoll time.Time
	backoff  time.Duration
}

// ApprovalCoordinator implements the batch-poll approval pipeline: post via
// the reviewer channel, then run a single background poller that fetches
// each distinct channel's history once per cycle and resolves every
// pending record sharing that channel from the same fetch, rather than
// probing per record.
type ApprovalCoordinator struct {
	store           *approval.Store
	channel         approval.ReviewerChannel
	limiter         *reviewer.RateLimiter
	approveReaction string
	rejectReaction  string
	maxBackoff      time.Duration
	logger          *slog.Logger

	mu    sync.Mutex
	state map[string]*pollState // correlation id -> poll state
}

// NewApprovalCoordinator builds a coordinator against the given reviewer
// channel, rate-limited at callsPerSecond. maxBackoff caps the per-record
// poll backoff (config's PollMaxIntervalSecs); a value <= 0 falls back to
// minBackoff, i.e. no backoff growth at all.
func NewApprovalCoordinator(channel approval.ReviewerChannel, callsPerSecond float64, approveReaction, rejectReaction string, maxBackoff time.Duration, logger *slog.Logger) *ApprovalCoordinator {
	if maxBackoff <= 0 {
		maxBackoff = minBackoff
	}
	return &ApprovalCoordinator{
		store:           approval.NewStore(),
		channel:         channel,
		limiter:         reviewer.NewRateLimiter(callsPerSecond),
		approveReaction: approveReaction,
		rejectReaction:  rejectReaction,
		maxBackoff:      maxBackoff,
		logger:          logger,
		state:           make(map[string]*pollState),
	}
}

// Store exposes the pending-record map for the orchestrator's zombie-check
// and cancellation paths.
func (c *ApprovalCoordinator) Store() *approval.Store { return c.store }

// Submit posts the record's approval message and registers it in the
// pending map. The external reference returned by the post is stored on
// the record so subsequent history fetches and edits target it.
func (c *ApprovalCoordinator) Submit(ctx context.Context, rec *approval.Record, channelName string) error {
	text := renderApprovalMessage(rec)
	ref, err := c.channel.Post(ctx, approval.PostRequest{Channel: channelName, Text: text})
	if err != nil {
		return fmt.Errorf("posting approval record: %w", err)
	}
	rec.ExternalRef = &ref

	c.mu.Lock()
	c.state[rec.CorrelationID] = &pollState{nextPoll: time.Now(), backoff: minBackoff}
	c.mu.Unlock()

	c.store.Put(rec)
	return nil
}

func renderApprovalMessage(rec *approval.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval requested for `%s`\n", rec.ToolName)
	fmt.Fprintf(&b, "Principal: %s\n", rec.Principal.AppName)
	fmt.Fprintf(&b, "Arguments: %s\n", rec.ToolArgsRedacted)
	fmt.Fprintf(&b, "Correlation: %s\n", rec.CorrelationID)
	fmt.Fprintf(&b, "Deadline: %s\n", rec.Deadline.Format(time.RFC3339))
	return b.String()
}

// Run is the single background poller. It runs until ctx is cancelled.
func (c *ApprovalCoordinator) Run(ctx context.Context, baseInterval time.Duration) {
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce groups due records by channel and issues one History fetch per
// channel, resolving every pending record that fetch's decision-detection
// pass can match.
func (c *ApprovalCoordinator) pollOnce(ctx context.Context) {
	now := time.Now()
	byChannel := make(map[string][]*approval.Record)

	for _, rec := range c.store.Snapshot() {
		if rec.ExternalRef == nil {
			continue
		}
		c.mu.Lock()
		st, ok := c.state[rec.CorrelationID]
		c.mu.Unlock()
		if ok && now.Before(st.nextPoll) {
			continue
		}
		byChannel[rec.ExternalRef.Channel] = append(byChannel[rec.ExternalRef.Channel], rec)
	}

	for channelName, recs := range byChannel {
		if err := c.limiter.Acquire(ctx); err != nil {
			return
		}
		events, err := c.channel.History(ctx, channelName, historyLimit)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("approval channel history fetch failed", "channel", channelName, "error", err)
			}
			continue
		}
		for _, rec := range recs {
			c.resolveOrBackoff(ctx, rec, events)
		}
	}
}

func (c *ApprovalCoordinator) resolveOrBackoff(ctx context.Context, rec *approval.Record, events []approval.ChannelEvent) {
	kind, userID, found := detectDecision(events, rec.ExternalRef.Timestamp, c.approveReaction, c.rejectReaction)
	if !found {
		c.scheduleNextPoll(rec)
		return
	}

	by := userID
	if name, err := c.channel.LookupUser(ctx, userID); err == nil && name != "" {
		by = name
	}

	var d approval.Decision
	if kind == approval.Approved {
		d = approval.Decision{Kind: approval.Approved, By: by}
	} else {
		d = approval.Decision{Kind: approval.Rejected, By: by}
	}

	if c.store.Resolve(rec.CorrelationID, d) {
		c.mu.Lock()
		delete(c.state, rec.CorrelationID)
		c.mu.Unlock()
		_ = c.channel.Edit(ctx, *rec.ExternalRef, fmt.Sprintf("%s by %s", d.Kind, by))
	}
}

func (c *ApprovalCoordinator) scheduleNextPoll(rec *approval.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[rec.CorrelationID]
	if !ok {
		st = &pollState{backoff: minBackoff}
		c.state[rec.CorrelationID] = st
	}

	next := st.backoff * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	// Bias toward shorter intervals as the deadline approaches.
	if remaining := time.Until(rec.Deadline); remaining > 0 && remaining < next {
		next = remaining / 2
		if next < time.Second {
			next = time.Second
		}
	}
	st.backoff = next
	st.nextPoll = time.Now().Add(next)
}

// detectDecision implements the fixed decision-detection order: reactions
// before reply-text keywords. When both an approve and a reject reaction
// are present on the same message, the one with the earliest timestamp
// wins, per spec.
func detectDecision(events []approval.ChannelEvent, postTimestamp, approveReaction, rejectReaction string) (kind approval.DecisionKind, userID string, found bool) {
	var ev *approval.ChannelEvent
	for i := range events {
		if events[i].Timestamp == postTimestamp {
			ev = &events[i]
			break
		}
	}
	if ev == nil {
		return 0, "", false
	}

	var approveR, rejectR *approval.Reaction
	for i := range ev.Reactions {
		r := &ev.Reactions[i]
		switch r.Name {
		case approveReaction:
			if approveR == nil || reactionEarlier(*r, *approveR) {
				approveR = r
			}
		case rejectReaction:
			if rejectR == nil || reactionEarlier(*r, *rejectR) {
				rejectR = r
			}
		}
	}

	switch {
	case approveR != nil && rejectR != nil:
		if reactionEarlier(*rejectR, *approveR) {
			return approval.Rejected, rejectR.UserID, true
		}
		return approval.Approved, approveR.UserID, true
	case approveR != nil:
		return approval.Approved, approveR.UserID, true
	case rejectR != nil:
		return approval.Rejected, rejectR.UserID, true
	}

	text := strings.ToLower(ev.ReplyText)
	for _, kw := range approveKeywords {
		if strings.Contains(text, kw) {
			return approval.Approved, "", true
		}
	}
	for _, kw := range rejectKeywords {
		if strings.Contains(text, kw) {
			return approval.Rejected, "", true
		}
	}
	return 0, "", false
}

// reactionEarlier reports whether a's timestamp precedes b's. Slack
// timestamps are "seconds.microseconds" strings; parsed numerically when
// possible, falling back to a lexicographic compare for non-numeric test
// fixtures.
func reactionEarlier(a, b approval.Reaction) bool {
	af, aerr := strconv.ParseFloat(a.Timestamp, 64)
	bf, berr := strconv.ParseFloat(b.Timestamp, 64)
	if aerr == nil && berr == nil {
		return af < bf
	}
	return a.Timestamp < b.Timestamp
}

// ExpireOverdue scans pending records whose deadline has passed without a
// decision and resolves them to TimedOut, best-effort editing the posted
// message to indicate expiry. The orchestrator's own deadline timer
// (Record.Await) is what actually unblocks the waiting HTTP request; this
// sweep exists so records nobody is actively awaiting (e.g. after a
// reconnect) are still cleaned out of the pending map.
func (c *ApprovalCoordinator) ExpireOverdue(ctx context.Context) {
	now := time.Now()
	for _, rec := range c.store.Snapshot() {
		if now.Before(rec.Deadline) {
			continue
		}
		if c.store.Resolve(rec.CorrelationID, approval.Decision{Kind: approval.TimedOut}) {
			if rec.ExternalRef != nil {
				_ = c.channel.Edit(ctx, *rec.ExternalRef, "Expired")
			}
		}
	}
}
