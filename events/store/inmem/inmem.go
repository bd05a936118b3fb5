// Package inmem provides a bounded in-memory event store. It keeps the most
// recent events in a ring, which suits tests and short-horizon replay;
// durable backends live in the sibling sqlite and redis packages.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/hookweave/hookweave/events"
)

// DefaultCapacity bounds the ring when none is given.
const DefaultCapacity = 4096

// Store is a bounded in-memory event log. Once full, appends evict the
// oldest event. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	ring  []events.Event
	next  int
	count int
}

// New builds a store holding at most capacity events; non-positive
// capacities get DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{ring: make([]events.Event, capacity)}
}

// Append adds an event, evicting the oldest when the ring is full.
func (s *Store) Append(_ context.Context, evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = evt
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	return nil
}

// Load returns matching events in ascending sequence order. Concurrent
// emitters may append slightly out of order, so the result is sorted rather
// than trusting insertion order.
func (s *Store) Load(_ context.Context, q events.Query) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []events.Event
	start := s.next - s.count
	if start < 0 {
		start += len(s.ring)
	}
	for i := 0; i < s.count; i++ {
		evt := s.ring[(start+i)%len(s.ring)]
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

// LastSequence returns the highest sequence retained in the ring, or zero
// when empty.
func (s *Store) LastSequence(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last uint64
	for i := 0; i < s.count; i++ {
		if seq := s.ring[i].Sequence; seq > last {
			last = seq
		}
	}
	return last, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
