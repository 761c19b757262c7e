package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID uuid.UUID
	Role   enums.AccountRole
}

type callerKey struct{}

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext reports the caller set by Auth; ok is false for
// anonymous requests.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || caller.UserID == uuid.Nil {
		return Caller{}, false
	}
	return caller, true
}
