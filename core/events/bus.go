// Package events provides the in-process publish/subscribe bus for
// entity lifecycle events. Dispatch is synchronous, with no persistence
// and no cross-process delivery; the bus is purely an extension point
// for the network surface and application wiring.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Name identifies one lifecycle event. The set is closed: Subscribe
// rejects names outside it.
type Name string

const (
	Create         Name = "create"
	Update         Name = "update"
	Delete         Name = "delete"
	Archive        Name = "archive"
	Unarchive      Name = "unarchive"
	Version        Name = "version"
	RestoreVersion Name = "restore-version"
	DeleteVersion  Name = "delete-version"
	Build          Name = "build"

	// Any subscribes to every lifecycle event.
	Any Name = "*"
)

// known indexes the closed event set.
var known = map[Name]bool{
	Create:         true,
	Update:         true,
	Delete:         true,
	Archive:        true,
	Unarchive:      true,
	Version:        true,
	RestoreVersion: true,
	DeleteVersion:  true,
	Build:          true,
}

// Valid reports whether n is a member of the closed event set.
func (n Name) Valid() bool {
	return known[n]
}

// Event is one published lifecycle event.
type Event struct {
	// Name is the lifecycle event name.
	Name Name

	// Entity is the entity definition that emitted the event.
	Entity string

	// Record is the affected record's data, including global columns.
	Record map[string]any
}

// Handler processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a synchronous publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Name][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event name, or for every event
// via Any. Names outside the closed set are rejected.
func (b *Bus) Subscribe(name Name, handler Handler) error {
	if name != Any && !name.Valid() {
		return fmt.Errorf("unknown event %q", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
	return nil
}

// Publish delivers an event to all matching handlers, synchronously and
// in registration order. Handler errors are logged and do not stop
// delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.handlers[event.Name])+len(b.handlers[Any]))
	matched = append(matched, b.handlers[event.Name]...)
	matched = append(matched, b.handlers[Any]...)
	b.mu.RUnlock()

	b.logger.Debug().
		Str("event", string(event.Name)).
		Str("entity", event.Entity).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", string(event.Name)).
				Str("entity", event.Entity).
				Msg("event handler error")
		}
	}
}

// HasSubscribers reports whether any handler would receive this event.
func (b *Bus) HasSubscribers(name Name) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name]) > 0 || len(b.handlers[Any]) > 0
}
