package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"esusu.org/internal/auth"
)

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestLogEventCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { SetLogger(slog.Default()) })

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = auth.ContextWithUser(ctx, "user-42")
	if err := LogEvent(ctx, "group.create", map[string]any{"group": "NkK9z4aw5p0"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["event"] != "group.create" || entry["request_id"] != "req-1" || entry["user_id"] != "user-42" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["group"] != "NkK9z4aw5p0" {
		t.Fatalf("missing field: %v", entry)
	}
}

func TestWithRequestIDIgnoresEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("request id = %q, want empty", got)
	}
}
