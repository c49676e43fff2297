package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyBatch is returned when the request body is a JSON array with no
// elements — rejected with the standard invalid-request code rather than
// treated as a zero-element batch.
var ErrEmptyBatch = errors.New("jsonrpc: empty batch")

// envelope is the wire shape used only to extract fields losslessly; id is
// captured as json.RawMessage so its literal form survives untouched.
type envelope struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Parse decodes a request body as either a single JSON-RPC object or a
// non-empty batch array. Malformed JSON yields (nil, false, CodeParseError
// error); a syntactically valid but non-conforming envelope (missing
// method, wrong jsonrpc version) yields a CodeInvalidRequest error. The
// second return value reports whether the body was a batch (array), which
// governs response framing.
func Parse(body []byte) ([]*Request, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, NewError(CodeParseError, "parse error: empty body", "")
	}

	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, true, NewError(CodeParseError, fmt.Sprintf("parse error: %v", err), "")
		}
		if len(raws) == 0 {
			return nil, true, NewError(CodeInvalidRequest, "invalid request: empty batch", "")
		}
		reqs := make([]*Request, 0, len(raws))
		for _, raw := range raws {
			r, err := parseOne(raw)
			if err != nil {
				return nil, true, err
			}
			reqs = append(reqs, r)
		}
		return reqs, true, nil
	}

	r, err := parseOne(trimmed)
	if err != nil {
		return nil, false, err
	}
	return []*Request{r}, false, nil
}

func parseOne(raw json.RawMessage) (*Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, NewError(CodeParseError, fmt.Sprintf("parse error: %v", err), "")
	}
	if env.Version != Version {
		return nil, NewError(CodeInvalidRequest, "invalid request: jsonrpc must be \"2.0\"", "")
	}
	if env.Method == "" {
		return nil, NewError(CodeInvalidRequest, "invalid request: method is required", "")
	}
	return &Request{ID: env.ID, Method: env.Method, Params: env.Params}, nil
}

// Encode marshals a single response.
func Encode(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// EncodeBatch marshals an ordered slice of responses as a JSON array.
// Notification slots must already have been omitted by the caller.
func EncodeBatch(resps []*Response) ([]byte, error) {
	return json.Marshal(resps)
}
