package events

import (
	"context"
	"time"
)

// Store is a durable, sequence-ordered event log a bus persists emitted
// events into. Append must be safe for concurrent use; Load returns events
// in ascending sequence order. Implementations live under events/store:
// inmem (bounded ring), sqlite (file-backed), redis (stream-backed).
type Store interface {
	// Append adds an event to the log.
	Append(ctx context.Context, evt Event) error
	// Load returns events matching the query in ascending sequence order.
	Load(ctx context.Context, q Query) ([]Event, error)
	// LastSequence returns the highest sequence number in the log, or zero
	// when the log is empty. A bus attaching to the store resumes its
	// numbering after this value so appends never collide with prior runs.
	LastSequence(ctx context.Context) (uint64, error)
	// Close releases backend resources.
	Close() error
}

// Query selects events from a log. Zero-valued fields match everything.
type Query struct {
	// Pattern filters by event type; supports the bus's wildcard syntax.
	Pattern string
	// Source filters by exact source identifier.
	Source string
	// Since excludes events with earlier timestamps.
	Since time.Time
	// Until excludes events with later timestamps.
	Until time.Time
	// MinSequence excludes events with smaller sequence numbers.
	MinSequence uint64
	// Limit caps the number of returned events; zero means no cap.
	Limit int
}

// Matches reports whether the event satisfies every set constraint except
// Limit, which callers apply while iterating.
func (q Query) Matches(evt Event) bool {
	if q.Pattern != "" && !MatchPattern(q.Pattern, evt.Type) {
		return false
	}
	if q.Source != "" && evt.Source != q.Source {
		return false
	}
	if !q.Since.IsZero() && evt.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && evt.Timestamp.After(q.Until) {
		return false
	}
	if q.MinSequence > 0 && evt.Sequence < q.MinSequence {
		return false
	}
	return true
}
