// Package reviewer implements the approval.ReviewerChannel contract against
// Slack's REST API, plus the supporting rate limiter and user-display-name
// cache the coordinator's poller needs.
package reviewer

import (
	"log/slog"

	"github.com/alexedwards/argon2id"
)

// SecretString holds a value that must never appear in a log line — the
// reviewer bearer token, in this package's case. String and LogValue both
// return a fixed redaction marker so an accidental %v, %s, or slog field
// never leaks the token, satisfying the non-disclosure requirement the same
// way the header-redaction list does for HTTP headers.
type SecretString struct {
	value string
}

// NewSecret wraps a raw value.
func NewSecret(value string) SecretString {
	return SecretString{value: value}
}

// Reveal returns the underlying value. Callers must use it only to build
// the Authorization header of an outbound request, never to log it.
func (s SecretString) Reveal() string {
	return s.value
}

// String implements fmt.Stringer with a fixed redaction marker.
func (s SecretString) String() string {
	return "REDACTED"
}

// LogValue implements slog.LogValuer with the same redaction marker, so
// passing a SecretString as a structured logging attribute is always safe.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue("REDACTED")
}

// Fingerprint hashes the token at rest with argon2id and returns the
// encoded hash, for the one diagnostic surface that needs to confirm which
// token is loaded (e.g. "does the bearer token configured on this replica
// match the one in the last rotation") without ever echoing the raw value.
// Each call produces a fresh random salt, so two fingerprints of the same
// token are not byte-equal — this is a write-once startup diagnostic, not
// an equality check.
func (s SecretString) Fingerprint() string {
	hash, err := argon2id.CreateHash(s.value, argon2id.DefaultParams)
	if err != nil {
		return "REDACTED"
	}
	return hash
}
