// Package audit records who did what to which group resource.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"esusu.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

var logger = slog.Default()

// SetLogger routes audit entries through the given structured logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []any{"type", "audit", "event", event}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		attrs = append(attrs, "user_id", userID)
	}
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
