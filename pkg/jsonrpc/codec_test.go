package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestParseSingleRequestPreservesIntegerID(t *testing.T) {
	reqs, isBatch, err := Parse([]byte(`{"jsonrpc":"2.0","id":42,"method":"tools/call","params":{}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if isBatch {
		t.Fatal("expected single request, got batch")
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if string(reqs[0].ID) != "42" {
		t.Fatalf("expected id literal 42, got %q", reqs[0].ID)
	}
}

func TestParsePreservesStringID(t *testing.T) {
	reqs, _, err := Parse([]byte(`{"jsonrpc":"2.0","id":"abc","method":"tools/call"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(reqs[0].ID) != `"abc"` {
		t.Fatalf("expected id literal \"abc\", got %q", reqs[0].ID)
	}
}

func TestParseNotificationHasNilID(t *testing.T) {
	reqs, _, err := Parse([]byte(`{"jsonrpc":"2.0","method":"notifications/ping"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reqs[0].IsNotification() {
		t.Fatal("expected notification (absent id)")
	}
}

func TestParseRejectsEmptyBatch(t *testing.T) {
	_, isBatch, err := Parse([]byte(`[]`))
	if err == nil {
		t.Fatal("expected error for empty batch")
	}
	if !isBatch {
		t.Fatal("expected isBatch=true even on error")
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, _, err := Parse([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected parse error")
	}
	rpcErr, ok := err.(*Error)
	if !ok || rpcErr.Code != CodeParseError {
		t.Fatalf("expected CodeParseError, got %v", err)
	}
}

func TestResponseRoundTripsNullID(t *testing.T) {
	resp := &Response{ID: nil, Result: json.RawMessage(`"ok"`)}
	raw, err := Encode(resp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(decoded["id"]) != "null" {
		t.Fatalf("expected null id, got %q", decoded["id"])
	}
}

func TestAssembleBatchDropsNotificationSlotsInOrder(t *testing.T) {
	one := json.RawMessage("1")
	three := json.RawMessage("3")
	resps := []*Response{
		{ID: one},
		nil, // notification slot
		{ID: three},
	}
	out, ok := AssembleBatch(resps)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	if string(out[0].ID) != "1" || string(out[1].ID) != "3" {
		t.Fatalf("unexpected order: %v", out)
	}
}

func TestAssembleBatchAllNotificationsYields204(t *testing.T) {
	_, ok := AssembleBatch([]*Response{nil, nil, nil})
	if ok {
		t.Fatal("expected ok=false when every slot is a notification")
	}
}

func TestClassifyRoutingTable(t *testing.T) {
	cases := map[string]Category{
		"tools/call":          PolicyGoverned,
		"resources/list":      PolicyGoverned,
		"prompts/get":         PolicyGoverned,
		"tasks/get":           InternalTaskHandler,
		"initialize":          PassThrough,
		"notifications/ping":  PassThrough,
	}
	for method, want := range cases {
		if got := Classify(method); got != want {
			t.Errorf("Classify(%q) = %v, want %v", method, got, want)
		}
	}
}
