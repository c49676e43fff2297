package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envKeys lists every mapstructure key bound to its identically-named
// environment variable. Policy loading intentionally scopes out a YAML
// config file — every knob here is environment-only, per spec.md §6.
var envKeys = []string{
	"upstream_url",
	"listen",
	"tcp_nodelay",
	"tcp_keepalive_secs",
	"socket_buffer_bytes",
	"stream_read_timeout_secs",
	"stream_write_timeout_secs",
	"stream_total_timeout_secs",
	"max_concurrent_streams",
	"policy_file",
	"schema_file",
	"policies",
	"dev_mode",
	"dev_principal",
	"dev_namespace",
	"policy_reload_interval_secs",
	"approval_timeout_secs",
	"approval_poll_interval_secs",
	"approval_poll_max_interval_secs",
	"approval_liveness_check",
	"slack_bot_token",
	"slack_channel",
	"slack_approve_reaction",
	"slack_reject_reaction",
	"shutdown_drain_timeout_secs",
}

// InitViper binds every environment variable ThoughtGate reads, uppercased
// verbatim (no prefix, no nested-key dot replacement — the schema is flat).
func InitViper() {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetDefault("approval_liveness_check", ApprovalLivenessCheckDefault)
	for _, key := range envKeys {
		_ = viper.BindEnv(key, strings.ToUpper(key))
	}
}

// LoadConfig binds the environment, applies defaults, and validates. The
// nested struct fields (Socket, Stream, Policy, Approval, Slack) are
// populated by hand from the flat env keys rather than through viper's
// struct-tag unmarshal, since the schema's variable names (e.g.
// STREAM_READ_TIMEOUT_SECS) don't nest the way mapstructure's dotted
// notation expects.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Upstream:             viper.GetString("upstream_url"),
		Listen:               viper.GetString("listen"),
		MaxConcurrentStreams: viper.GetInt("max_concurrent_streams"),
		ShutdownDrainTimeout: time.Duration(viper.GetInt("shutdown_drain_timeout_secs")) * time.Second,
		Socket: SocketConfig{
			NoDelay:       viper.GetBool("tcp_nodelay"),
			KeepaliveSecs: viper.GetInt("tcp_keepalive_secs"),
			BufferBytes:   viper.GetInt("socket_buffer_bytes"),
		},
		Stream: StreamConfig{
			ReadTimeoutSecs:  viper.GetInt("stream_read_timeout_secs"),
			WriteTimeoutSecs: viper.GetInt("stream_write_timeout_secs"),
			TotalTimeoutSecs: viper.GetInt("stream_total_timeout_secs"),
		},
		Policy: PolicyConfig{
			File:               viper.GetString("policy_file"),
			SchemaFile:         viper.GetString("schema_file"),
			Blob:               viper.GetString("policies"),
			ReloadIntervalSecs: viper.GetInt("policy_reload_interval_secs"),
			DevPrincipal:       viper.GetString("dev_principal"),
			DevNamespace:       viper.GetString("dev_namespace"),
		},
		Approval: ApprovalConfig{
			TimeoutSecs:         viper.GetInt("approval_timeout_secs"),
			PollIntervalSecs:    viper.GetInt("approval_poll_interval_secs"),
			PollMaxIntervalSecs: viper.GetInt("approval_poll_max_interval_secs"),
			LivenessCheck:       viper.GetBool("approval_liveness_check"),
		},
		Slack: SlackConfig{
			BotToken:        viper.GetString("slack_bot_token"),
			Channel:         viper.GetString("slack_channel"),
			ApproveReaction: viper.GetString("slack_approve_reaction"),
			RejectReaction:  viper.GetString("slack_reject_reaction"),
		},
	}

	// DEV_MODE is recognized only when its literal value is "true" — not
	// through viper's lenient bool parsing, which would also accept "1",
	// "T", "yes", etc.
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
