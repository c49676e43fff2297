package approval

import "context"

// PostRequest is a formatted approval message: tool name, principal
// identity, a redacted argument summary, the correlation id, and the
// deadline, rendered as human-readable text by the caller before Post is
// invoked.
type PostRequest struct {
	Channel string
	Text    string
}

// Reaction is one emoji reaction observed on a posted message.
type Reaction struct {
	Name      string
	UserID    string
	Timestamp string
}

// ChannelEvent is one message observed in a channel-history fetch: the
// original approval post (identified by Timestamp) together with any
// reactions and reply text accumulated on it.
type ChannelEvent struct {
	Timestamp string
	ReplyText string
	Reactions []Reaction
}

// ReviewerChannel is the narrow interface the approval coordinator is
// specified against: post, batch-poll (via history), lookup-user, and
// best-effort edit. Slack is one implementation among future others — the
// coordinator never imports a Slack-specific type.
type ReviewerChannel interface {
	// Post publishes a formatted message and returns its external
	// reference (channel + timestamp).
	Post(ctx context.Context, req PostRequest) (ExternalRef, error)
	// History fetches up to limit recent events in a channel, newest last.
	History(ctx context.Context, channel string, limit int) ([]ChannelEvent, error)
	// LookupUser resolves a reviewer's display name from their channel user
	// id, for attribution in the resolved Decision.By field.
	LookupUser(ctx context.Context, userID string) (string, error)
	// Edit best-effort updates a previously posted message to reflect a
	// terminal outcome (e.g. "Approved by alice", "Expired").
	Edit(ctx context.Context, ref ExternalRef, text string) error
}
