package hooks

import (
	"fmt"
	"sync"
)

type (
	// entry pairs a registered hook with its registration sequence number.
	// The sequence breaks priority ties and keeps resolution stable.
	entry struct {
		hook     Hook
		seq      int
		disabled bool
	}

	// registry is the shared hook store behind a dispatcher. Registration
	// takes the write lock; dispatch snapshots the point's entries under the
	// read lock so concurrent dispatches never observe a mutation mid-flight.
	registry struct {
		mu     sync.RWMutex
		points map[Point][]*entry
		// gen increments on every mutation of a point. Cached resolutions
		// and dispatch results embed the generation they were computed
		// against, so any registration change invalidates them.
		gen     map[Point]uint64
		nextSeq int
		enabled bool
	}

	// RegistryStats summarizes the registry contents.
	RegistryStats struct {
		// TotalHooks counts hooks across all points.
		TotalHooks int
		// HooksByPoint counts hooks per point.
		HooksByPoint map[Point]int
		// GlobalEnabled reports whether dispatch is globally enabled.
		GlobalEnabled bool
	}
)

func newRegistry() *registry {
	return &registry{
		points:  make(map[Point][]*entry),
		gen:     make(map[Point]uint64),
		enabled: true,
	}
}

func (r *registry) register(point Point, h Hook) error {
	if h == nil {
		return fmt.Errorf("hooks: nil hook at %s", point)
	}
	if h.Name() == "" {
		return fmt.Errorf("hooks: hook at %s has empty name", point)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.points[point] {
		if e.hook.Name() == h.Name() {
			return fmt.Errorf("%w: %q at %s", ErrDuplicateHookName, h.Name(), point)
		}
	}
	r.nextSeq++
	r.points[point] = append(r.points[point], &entry{hook: h, seq: r.nextSeq})
	r.gen[point]++
	return nil
}

// unregister removes the named hook. It is a no-op when the hook is absent
// and reports whether a removal happened.
func (r *registry) unregister(point Point, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.points[point]
	for i, e := range entries {
		if e.hook.Name() == name {
			r.points[point] = append(entries[:i:i], entries[i+1:]...)
			r.gen[point]++
			return true
		}
	}
	return false
}

// snapshot returns the enabled entries at point along with the point's
// current generation. The returned slice is a copy; callers own it.
func (r *registry) snapshot(point Point) ([]*entry, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled {
		return nil, r.gen[point]
	}
	entries := r.points[point]
	out := make([]*entry, 0, len(entries))
	for _, e := range entries {
		if !e.disabled {
			out = append(out, e)
		}
	}
	return out, r.gen[point]
}

// setEnabled toggles a single hook without unregistering it. Returns false
// when the hook is not registered at the point.
func (r *registry) setEnabled(point Point, name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.points[point] {
		if e.hook.Name() == name {
			if e.disabled == enabled {
				e.disabled = !enabled
				r.gen[point]++
			}
			return true
		}
	}
	return false
}

func (r *registry) setGlobalEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

func (r *registry) hookNames(point Point) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.points[point]))
	for _, e := range r.points[point] {
		names = append(names, e.hook.Name())
	}
	return names
}

func (r *registry) stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := RegistryStats{
		HooksByPoint:  make(map[Point]int, len(r.points)),
		GlobalEnabled: r.enabled,
	}
	for p, entries := range r.points {
		if len(entries) == 0 {
			continue
		}
		stats.HooksByPoint[p] = len(entries)
		stats.TotalHooks += len(entries)
	}
	return stats
}
