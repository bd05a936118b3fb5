// Package events implements a high-throughput event bus with pattern-based
// subscriptions, per-type rate limiting, per-subscriber circuit breaking,
// optional durable persistence, and replay. Events are immutable facts;
// subscribers are polymorphic delivery targets (native callbacks, script
// handlers through the bridge package, webhooks).
package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is an immutable fact emitted on a bus. The bus assigns Sequence at
// emission time; sequence numbers are strictly increasing per bus instance.
// Events redelivered from a persisted log carry Replay=true and keep their
// original sequence number.
type Event struct {
	// ID uniquely identifies the event. ULIDs sort by creation time, which
	// keeps persisted logs naturally ordered.
	ID string
	// Type is the dot-separated event type, e.g. "agent.started".
	Type string
	// Payload is the opaque event body.
	Payload any
	// Timestamp is the UTC creation time.
	Timestamp time.Time
	// Sequence is the bus-assigned, strictly increasing sequence number.
	Sequence uint64
	// Source identifies the emitting component.
	Source string
	// Replay marks events redelivered from a persisted log.
	Replay bool
}

// EventOption configures an event at construction.
type EventOption func(*Event)

// WithSource sets the emitting component identifier.
func WithSource(source string) EventOption {
	return func(e *Event) { e.Source = source }
}

// WithID overrides the generated event ID. Used by tests and by storage
// backends reconstructing persisted events.
func WithID(id string) EventOption {
	return func(e *Event) { e.ID = id }
}

// New builds an event of the given type. The ID and UTC timestamp are
// assigned immediately; the sequence number is assigned by the bus at
// emission.
func New(eventType string, payload any, opts ...EventOption) Event {
	e := Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
