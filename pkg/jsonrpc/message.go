// Package jsonrpc implements the wire-level JSON-RPC 2.0 parsing, id
// preservation, and error-object shaping the MCP transport layer needs.
// The SDK dependency used elsewhere in the corpus
// (modelcontextprotocol/go-sdk/jsonrpc) decodes a message's id through an
// interface{}-typed field that does not round-trip an integer-vs-string
// discriminant faithfully, so the id is instead carried here as a raw
// json.RawMessage and copied verbatim into the response — byte-for-byte
// preservation falls out of never re-encoding it.
package jsonrpc

import (
	"encoding/json"
)

// Version is the only JSON-RPC version ThoughtGate accepts.
const Version = "2.0"

// Request is a single JSON-RPC request or notification. ID is nil for a
// notification; otherwise it holds the exact bytes the client sent for the
// id field (a JSON number, string, or null literal).
type Request struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}

// IsNotification reports whether this element carries no id and therefore
// expects no response entry.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is a single JSON-RPC response object. Exactly one of Result or
// Error is set.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// MarshalJSON emits the canonical `{"jsonrpc":"2.0",...}` envelope.
func (r Response) MarshalJSON() ([]byte, error) {
	type wire struct {
		Version string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *Error          `json:"error,omitempty"`
	}
	id := r.ID
	if id == nil {
		id = json.RawMessage("null")
	}
	return json.Marshal(wire{Version: Version, ID: id, Result: r.Result, Error: r.Error})
}

// Error is a JSON-RPC error object. Data carries at minimum a correlation
// id; per the non-disclosure requirement it must never carry policy rule
// text, internal addresses, upstream bodies verbatim, argument values,
// stack traces, or bearer tokens.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// ErrorData is the conventional shape of Error.Data.
type ErrorData struct {
	CorrelationID string `json:"correlation_id"`
	RetryAfterMS  int64  `json:"retry_after_ms,omitempty"`
}
