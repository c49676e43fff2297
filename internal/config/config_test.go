package config

import "testing"

func TestSetDefaultsFillsRequiredFields(t *testing.T) {
	c := &Config{Upstream: "http://localhost:9000", Listen: "0.0.0.0:8080"}
	c.SetDefaults()

	if c.MaxConcurrentStreams == 0 {
		t.Error("expected a non-zero default for MaxConcurrentStreams")
	}
	if c.Stream.ReadTimeoutSecs == 0 || c.Stream.WriteTimeoutSecs == 0 || c.Stream.TotalTimeoutSecs == 0 {
		t.Error("expected non-zero stream timeout defaults")
	}
	if c.Approval.TimeoutSecs == 0 {
		t.Error("expected a non-zero approval timeout default")
	}
	if c.Slack.ApproveReaction == "" || c.Slack.RejectReaction == "" {
		t.Error("expected default Slack reaction names")
	}
}

func TestValidateRejectsBothPolicySourcesSet(t *testing.T) {
	c := validConfig()
	c.Policy.File = "/etc/thoughtgate/policy.yaml"
	c.Policy.Blob = "rules: []"
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation to reject both policy_file and policies being set")
	}
}

func TestValidateRejectsInvertedApprovalWindow(t *testing.T) {
	c := validConfig()
	c.Approval.PollIntervalSecs = 60
	c.Approval.PollMaxIntervalSecs = 5
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation to reject a poll interval exceeding the max interval")
	}
}

func TestValidateRejectsMissingUpstream(t *testing.T) {
	c := validConfig()
	c.Upstream = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation to reject a missing upstream URL")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected a well-formed config to validate, got: %v", err)
	}
}

func validConfig() *Config {
	c := &Config{Upstream: "http://localhost:9000", Listen: "0.0.0.0:8080"}
	c.SetDefaults()
	return c
}
