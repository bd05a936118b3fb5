// Package redis provides an event store backed by a Redis stream. Each
// event is one stream entry holding the JSON-encoded event, so the log
// survives process restarts and can be shared across processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/hookweave/hookweave/events"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "hookweave:events"

type (
	// Store appends events to a Redis stream and loads them back for
	// replay. Safe for concurrent use; the client handles pooling.
	Store struct {
		client redis.UniversalClient
		stream string
		maxLen int64
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithStream overrides the stream key.
func WithStream(key string) Option {
	return func(s *Store) { s.stream = key }
}

// WithMaxLen caps the stream length; appends trim approximately to it.
// Zero means unbounded.
func WithMaxLen(n int64) Option {
	return func(s *Store) { s.maxLen = n }
}

// New builds a store on an existing Redis client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, stream: DefaultStream}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds the event to the stream.
func (s *Store) Append(ctx context.Context, evt events.Event) error {
	blob, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"event": string(blob)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append to stream %s: %w", s.stream, err)
	}
	return nil
}

// Load reads the stream and returns matching events in ascending sequence
// order. Stream entry order tracks append order, but concurrent emitters
// may interleave, so the result is sorted by sequence.
func (s *Store) Load(ctx context.Context, q events.Query) ([]events.Event, error) {
	entries, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", s.stream, err)
	}
	var out []events.Event
	for _, entry := range entries {
		raw, ok := entry.Values["event"].(string)
		if !ok {
			continue
		}
		var evt events.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("decode stream entry %s: %w", entry.ID, err)
		}
		if q.Matches(evt) {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Sequence < out[b].Sequence })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// LastSequence returns the sequence of the newest stream entry, or zero
// when the stream is empty or missing.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	entries, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("read stream %s tail: %w", s.stream, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	raw, ok := entries[0].Values["event"].(string)
	if !ok {
		return 0, nil
	}
	var evt events.Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return 0, fmt.Errorf("decode stream entry %s: %w", entries[0].ID, err)
	}
	return evt.Sequence, nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }
