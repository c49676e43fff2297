package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates Config using struct tags, then a handful of
// cross-field rules the tag language can't express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if err := c.validatePolicySource(); err != nil {
		return err
	}
	if err := c.validateApprovalWindow(); err != nil {
		return err
	}
	return nil
}

// validatePolicySource ensures at most one explicit policy source is
// configured; both empty is allowed, since the engine falls back to the
// embedded permissive default.
func (c *Config) validatePolicySource() error {
	if c.Policy.File != "" && c.Policy.Blob != "" {
		return errors.New("policy: specify policy_file or policies, not both")
	}
	return nil
}

// validateApprovalWindow ensures the poller's minimum interval never
// exceeds its own maximum.
func (c *Config) validateApprovalWindow() error {
	if c.Approval.PollIntervalSecs > c.Approval.PollMaxIntervalSecs {
		return errors.New("approval: approval_poll_interval_secs must not exceed approval_poll_max_interval_secs")
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
