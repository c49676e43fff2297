package reviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/domain/approval"
)

const slackAPIBase = "https://slack.com/api"

// Config carries the reviewer-channel parameters from the environment.
type Config struct {
	BotToken        SecretString
	Channel         string
	ApproveReaction string
	RejectReaction  string
}

// SlackChannel implements approval.ReviewerChannel against the Slack web
// API using a plain net/http client, grounded on the teacher's outbound
// adapter style: a narrow interface, one concrete implementation, and no
// vendor SDK — there is no Slack client library anywhere in the retrieved
// example pack, so this talks to the documented REST endpoints directly.
type SlackChannel struct {
	cfg    Config
	client *http.Client
	cache  *UserCache
}

var _ approval.ReviewerChannel = (*SlackChannel)(nil)

// New creates a SlackChannel. httpClient, if nil, defaults to a client with
// a 10s timeout (these are short REST calls, not streaming bodies).
func New(cfg Config, httpClient *http.Client) *SlackChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackChannel{cfg: cfg, client: httpClient, cache: NewUserCache(512)}
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *SlackChannel) call(ctx context.Context, method string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slackAPIBase+"/"+method, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken.Reveal())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("reviewer channel request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading reviewer channel response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding reviewer channel response: %w", err)
	}
	return nil
}

// Post publishes a formatted approval message and returns its external
// reference.
func (s *SlackChannel) Post(ctx context.Context, req approval.PostRequest) (approval.ExternalRef, error) {
	var out struct {
		slackResponse
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	form := url.Values{"channel": {req.Channel}, "text": {req.Text}}
	if err := s.call(ctx, "chat.postMessage", form, &out); err != nil {
		return approval.ExternalRef{}, err
	}
	if !out.OK {
		return approval.ExternalRef{}, fmt.Errorf("reviewer channel post rejected: %s", out.Error)
	}
	return approval.ExternalRef{Channel: out.Channel, Timestamp: out.TS}, nil
}

// History fetches up to limit recent messages and their reactions from the
// configured channel, converting Slack's wire shape into the coordinator's
// channel-agnostic event shape.
func (s *SlackChannel) History(ctx context.Context, channel string, limit int) ([]approval.ChannelEvent, error) {
	var out struct {
		slackResponse
		Messages []struct {
			TS        string `json:"ts"`
			Text      string `json:"text"`
			Reactions []struct {
				Name  string   `json:"name"`
				Users []string `json:"users"`
			} `json:"reactions"`
		} `json:"messages"`
	}
	form := url.Values{"channel": {channel}, "limit": {fmt.Sprintf("%d", limit)}}
	if err := s.call(ctx, "conversations.history", form, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("reviewer channel history rejected: %s", out.Error)
	}

	events := make([]approval.ChannelEvent, 0, len(out.Messages))
	for _, m := range out.Messages {
		ev := approval.ChannelEvent{Timestamp: m.TS, ReplyText: m.Text}
		for _, r := range m.Reactions {
			for _, u := range r.Users {
				ev.Reactions = append(ev.Reactions, approval.Reaction{Name: r.Name, UserID: u, Timestamp: m.TS})
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// LookupUser resolves a display name, consulting the bounded LRU cache
// before making a network call.
func (s *SlackChannel) LookupUser(ctx context.Context, userID string) (string, error) {
	if name, ok := s.cache.Get(userID); ok {
		return name, nil
	}

	var out struct {
		slackResponse
		User struct {
			RealName string `json:"real_name"`
			Name     string `json:"name"`
		} `json:"user"`
	}
	form := url.Values{"user": {userID}}
	if err := s.call(ctx, "users.info", form, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("reviewer channel user lookup rejected: %s", out.Error)
	}

	name := out.User.RealName
	if name == "" {
		name = out.User.Name
	}
	s.cache.Put(userID, name)
	return name, nil
}

// Edit best-effort updates a previously posted message.
func (s *SlackChannel) Edit(ctx context.Context, ref approval.ExternalRef, text string) error {
	var out slackResponse
	form := url.Values{"channel": {ref.Channel}, "ts": {ref.Timestamp}, "text": {text}}
	if err := s.call(ctx, "chat.update", form, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("reviewer channel edit rejected: %s", out.Error)
	}
	return nil
}

// ApproveReaction and RejectReaction expose the configured decision
// reaction names for the coordinator's decision-detection pass.
func (s *SlackChannel) ApproveReaction() string { return s.cfg.ApproveReaction }
func (s *SlackChannel) RejectReaction() string  { return s.cfg.RejectReaction }
