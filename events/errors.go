package events

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdownInProgress is returned by Emit and Subscribe once Close has
	// been called on the bus.
	ErrShutdownInProgress = errors.New("events: shutdown in progress")

	// ErrUnknownSubscription is returned by Unsubscribe for an ID that is
	// not registered on the bus.
	ErrUnknownSubscription = errors.New("events: unknown subscription")

	// ErrInvalidPattern is returned by Subscribe for an empty channel
	// pattern.
	ErrInvalidPattern = errors.New("events: invalid channel pattern")

	// ErrNoStore is returned by Bus.Replay when the bus has no persistence
	// backend configured.
	ErrNoStore = errors.New("events: no persistence backend configured")
)

// RateLimitError reports an emission rejected by the per-type rate limiter.
// The emit call fails fast rather than queueing.
type RateLimitError struct {
	// Type is the event type whose budget was exceeded.
	Type string
}

// Error implements error.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("events: rate limit exceeded for type %q", e.Type)
}
