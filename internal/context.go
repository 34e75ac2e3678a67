package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextActorKey ctxKey = "actor"

// Actor is the authenticated caller. It is passed explicitly into every
// service call; handlers read it from the request context once.
type Actor struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email,omitempty"`
	RequestID string `json:"-"`
}

// SystemActor is used by scheduled sweeps that run without a user.
var SystemActor = Actor{UserID: 0, Email: "system"}

func (a Actor) IsSystem() bool {
	return a.UserID == 0
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ContextActorKey).(Actor)
	return actor, ok
}

func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ContextActorKey, actor)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
