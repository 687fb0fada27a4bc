package web

import (
	"context"

	"github.com/stratakit/strata/ports"
)

type ctxKey string

const sessionKey ctxKey = "session"

// withSession adds a resolved session to the context.
func withSession(ctx context.Context, s *ports.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// sessionFrom retrieves the resolved session, nil when anonymous.
func sessionFrom(ctx context.Context) *ports.Session {
	s, ok := ctx.Value(sessionKey).(*ports.Session)
	if !ok {
		return nil
	}
	return s
}
