package memory

import (
	"context"
	"sync"

	"github.com/stratakit/strata/ports"
)

// Sessions is an in-memory session resolver.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]ports.Session
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]ports.Session),
	}
}

// Put stores a session under its token.
func (s *Sessions) Put(token string, session ports.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.ID = token
	s.sessions[token] = session
}

// Resolve returns the session for a token, or nil when unknown.
func (s *Sessions) Resolve(ctx context.Context, token string) (*ports.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	copied := session
	return &copied, nil
}

// SetPreviousURL records the last visited URL on a session. Unknown
// tokens are ignored.
func (s *Sessions) SetPreviousURL(ctx context.Context, token, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil
	}
	session.PreviousURL = url
	s.sessions[token] = session
	return nil
}

// Ensure interface compliance.
var _ ports.SessionResolver = (*Sessions)(nil)
