package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(slog.NewJSONHandler(&buf, nil))).With(slog.String("component", "test"))

	ctx := context.Background()
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", UserID: "alice"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "echo"})

	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["component"] != "test" {
		t.Fatalf("WithAttrs lost the wrapper: %v", rec)
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if rpc["method"] != "tools/call" || rpc["id"] != "7" {
		t.Fatalf("unexpected rpc group: %v", rec["rpc"])
	}
	sess, _ := rec["sess"].(map[string]any)
	if sess["id"] != "s1" || sess["user_id"] != "alice" {
		t.Fatalf("unexpected sess group: %v", rec["sess"])
	}
	tool, _ := rec["tool"].(map[string]any)
	if tool["name"] != "echo" {
		t.Fatalf("unexpected tool group: %v", rec["tool"])
	}
}

func TestHandler_NoContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(slog.NewJSONHandler(&buf, nil)))
	log.InfoContext(context.Background(), "plain")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if _, ok := rec["rpc"]; ok {
		t.Fatalf("unexpected rpc group: %v", rec)
	}
}
