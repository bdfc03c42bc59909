package telemetry

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	turnKey
)

// NewSessionID returns a fresh id for one chat session.
func NewSessionID() string { return "session-" + uuid.NewString() }

// NewTurnID returns a fresh id for one request/reply exchange.
func NewTurnID() string { return "turn-" + uuid.NewString() }

// WithSessionID tags ctx with the session id. A nil ctx is treated as
// context.Background().
func WithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionKey, id)
}

// WithTurnID tags ctx with the turn id.
func WithTurnID(ctx context.Context, id string) context.Context {
	return withID(ctx, turnKey, id)
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	return idFrom(ctx, sessionKey)
}

// TurnIDFromContext reports "", false when ctx carries no non-empty turn id.
func TurnIDFromContext(ctx context.Context) (string, bool) {
	return idFrom(ctx, turnKey)
}

// IDFields returns the ids present in ctx as event fields.
func IDFields(ctx context.Context) map[string]any {
	fields := make(map[string]any, 2)
	if id, ok := SessionIDFromContext(ctx); ok {
		fields["session_id"] = id
	}
	if id, ok := TurnIDFromContext(ctx); ok {
		fields["turn_id"] = id
	}
	return fields
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(key).(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
