package client

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// MaxCorrelationIDLength bounds correlation ids accepted from callers.
const MaxCorrelationIDLength = 128

type correlationKey struct{}

// NormalizeCorrelationID trims id and rejects it when empty, longer than
// MaxCorrelationIDLength or not printable ASCII, since it travels in an HTTP
// header and in log lines.
func NormalizeCorrelationID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxCorrelationIDLength {
		return "", false
	}
	if strings.IndexFunc(id, func(r rune) bool { return r < ' ' || r > '~' }) >= 0 {
		return "", false
	}
	return id, true
}

// WithCorrelationID tags requests dispatched with ctx, their spans and their
// log entries with id. An invalid id leaves ctx unchanged.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if normalized, ok := NormalizeCorrelationID(id); ok {
		return context.WithValue(ctx, correlationKey{}, normalized)
	}
	return ctx
}

// CorrelationIDFromContext returns the id installed by WithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// GenerateCorrelationID returns a new time-ordered (UUIDv7) id.
func GenerateCorrelationID() string {
	return uuid.Must(uuid.NewV7()).String()
}
