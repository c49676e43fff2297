// Package config provides the environment-variable-only configuration
// schema for ThoughtGate. There is no YAML file: every knob the proxy
// needs is specified in spec.md §6's environment variable table, bound
// with viper and validated with go-playground/validator.
package config

import "time"

// Config is the complete runtime configuration for one ThoughtGate
// process, bound entirely from environment variables.
type Config struct {
	// Upstream is the target MCP server every forwarded request is sent
	// to.
	Upstream string `mapstructure:"upstream_url" validate:"required,url"`
	// Listen is the proxy's own bind address.
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`

	Socket   SocketConfig
	Stream   StreamConfig
	Policy   PolicyConfig
	Approval ApprovalConfig
	Slack    SlackConfig

	// MaxConcurrentStreams bounds the global semaphore capacity — the one
	// other process-wide datum besides the policy set.
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams" validate:"required,min=1"`
	// DevMode is recognized only when its value is exactly "true"; any
	// other value (including "1", "TRUE", "yes") is treated as false.
	DevMode bool `mapstructure:"dev_mode"`
	// ShutdownDrainTimeout bounds how long graceful shutdown waits for
	// in-flight requests and pending approvals before forcing exit.
	ShutdownDrainTimeout time.Duration `mapstructure:"shutdown_drain_timeout_secs" validate:"required"`
}

// SocketConfig configures the TCP tuning applied to both the accept path
// and the upstream dial path.
type SocketConfig struct {
	NoDelay         bool `mapstructure:"tcp_nodelay"`
	KeepaliveSecs   int  `mapstructure:"tcp_keepalive_secs" validate:"omitempty,min=0"`
	BufferBytes     int  `mapstructure:"socket_buffer_bytes" validate:"omitempty,min=0"`
}

// StreamConfig configures the Green path's streaming body timers.
type StreamConfig struct {
	ReadTimeoutSecs  int `mapstructure:"stream_read_timeout_secs" validate:"required,min=1"`
	WriteTimeoutSecs int `mapstructure:"stream_write_timeout_secs" validate:"required,min=1"`
	TotalTimeoutSecs int `mapstructure:"stream_total_timeout_secs" validate:"required,min=1"`
}

// PolicyConfig configures policy bundle loading, the three-way loading
// priority (file, then environment blob, then the embedded permissive
// default), hot-reload cadence, and the development identity override.
type PolicyConfig struct {
	// File is the path to a mounted policy bundle (e.g. a ConfigMap
	// symlink target). Highest loading priority.
	File string `mapstructure:"policy_file"`
	// SchemaFile optionally points at a JSON Schema document used to
	// validate a bundle's shape before it is even parsed into rules.
	SchemaFile string `mapstructure:"schema_file"`
	// Blob is an inline policy bundle passed directly as an environment
	// variable, used when no file is mounted.
	Blob string `mapstructure:"policies"`
	// ReloadIntervalSecs is the hot-reload poller's stat-mtime poll
	// period.
	ReloadIntervalSecs int `mapstructure:"policy_reload_interval_secs" validate:"omitempty,min=1"`
	// DevPrincipal and DevNamespace override the inferred principal
	// identity. Only honored when DevMode is true.
	DevPrincipal string `mapstructure:"dev_principal"`
	DevNamespace string `mapstructure:"dev_namespace"`
}

// ApprovalConfig configures the blocking human-approval pipeline's
// default deadline and the coordinator's batch-poll cadence.
type ApprovalConfig struct {
	TimeoutSecs       int  `mapstructure:"approval_timeout_secs" validate:"required,min=1"`
	PollIntervalSecs  int  `mapstructure:"approval_poll_interval_secs" validate:"required,min=1"`
	PollMaxIntervalSecs int `mapstructure:"approval_poll_max_interval_secs" validate:"required,min=1"`
	// LivenessCheck toggles the mandatory liveness re-check immediately
	// before any post-approval upstream forward. Must default to true —
	// disabling it reopens the zombie-execution window and is only ever
	// meant for tests.
	LivenessCheck bool `mapstructure:"approval_liveness_check"`
}

// SlackConfig configures the Slack-shaped reviewer channel.
type SlackConfig struct {
	BotToken        string `mapstructure:"slack_bot_token"`
	Channel         string `mapstructure:"slack_channel"`
	ApproveReaction string `mapstructure:"slack_approve_reaction"`
	RejectReaction  string `mapstructure:"slack_reject_reaction"`
}

// SetDefaults applies the spec's documented defaults. Called before
// validation so required fields with sensible defaults are satisfied
// without requiring every environment variable to be set explicitly.
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:8080"
	}
	if c.MaxConcurrentStreams == 0 {
		c.MaxConcurrentStreams = 256
	}
	if c.ShutdownDrainTimeout == 0 {
		c.ShutdownDrainTimeout = 30 * time.Second
	}
	if c.Stream.ReadTimeoutSecs == 0 {
		c.Stream.ReadTimeoutSecs = 300
	}
	if c.Stream.WriteTimeoutSecs == 0 {
		c.Stream.WriteTimeoutSecs = 300
	}
	if c.Stream.TotalTimeoutSecs == 0 {
		c.Stream.TotalTimeoutSecs = 3600
	}
	if c.Policy.ReloadIntervalSecs == 0 {
		c.Policy.ReloadIntervalSecs = 5
	}
	if c.Approval.TimeoutSecs == 0 {
		c.Approval.TimeoutSecs = 300
	}
	if c.Approval.PollIntervalSecs == 0 {
		c.Approval.PollIntervalSecs = 5
	}
	if c.Approval.PollMaxIntervalSecs == 0 {
		c.Approval.PollMaxIntervalSecs = 30
	}
	if c.Slack.ApproveReaction == "" {
		c.Slack.ApproveReaction = "white_check_mark"
	}
	if c.Slack.RejectReaction == "" {
		c.Slack.RejectReaction = "x"
	}
}

// ApprovalLivenessCheckDefault is applied by the loader before binding, not
// here, since viper's zero-value-vs-unset distinction for booleans requires
// an explicit default registration (see loader.go).
const ApprovalLivenessCheckDefault = true
