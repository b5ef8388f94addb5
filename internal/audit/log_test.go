package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"worksuite.app/internal/auth"
	"worksuite.app/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf)
	defer obs.SetOutput(nil)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.WithPrincipal(ctx, auth.Principal{ID: "user-42", Role: auth.RoleAdmin})

	if err := LogEvent(ctx, "auth.login", map[string]any{"method": "password"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "auth.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "user-42" || entry["actor_role"] != "admin" {
		t.Fatalf("unexpected actor: %v/%v", entry["actor_id"], entry["actor_role"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["method"] != "password" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}

func TestRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), " ")
	if got := RequestID(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
