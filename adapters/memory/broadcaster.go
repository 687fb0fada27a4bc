package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stratakit/strata/ports"
)

// Broadcast captures one published message.
type Broadcast struct {
	Topic   string
	Scope   []string
	Payload map[string]any
}

// Recorder collects broadcasts for inspection in tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Broadcast
}

// NewRecorder creates an empty broadcast recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Broadcast(ctx context.Context, topic string, scope []string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Broadcast{Topic: topic, Scope: append([]string(nil), scope...), Payload: payload})
	return nil
}

// Sent returns a copy of every broadcast seen so far.
func (r *Recorder) Sent() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Broadcast(nil), r.sent...)
}

// LogBroadcaster writes broadcasts to a logger. Useful in development
// when no realtime transport is wired.
type LogBroadcaster struct {
	logger zerolog.Logger
}

// NewLogBroadcaster creates a logging broadcaster.
func NewLogBroadcaster(logger zerolog.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: logger}
}

func (b *LogBroadcaster) Broadcast(ctx context.Context, topic string, scope []string, payload map[string]any) error {
	b.logger.Debug().
		Str("topic", topic).
		Strs("scope", scope).
		Msg("broadcast")
	return nil
}

var (
	_ ports.Broadcaster = (*Recorder)(nil)
	_ ports.Broadcaster = (*LogBroadcaster)(nil)
)
