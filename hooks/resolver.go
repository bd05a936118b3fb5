package hooks

import (
	"fmt"
	"hash/fnv"
	"sync"
)

type (
	// resolution is a cached linear execution order for one point. It embeds
	// the registry generation and hook-set fingerprint it was computed
	// against so stale orders are recomputed rather than reused.
	resolution struct {
		gen         uint64
		fingerprint uint64
		order       []*entry
		// mutual lists pairs of hooks that declared each other as
		// conflicts. Strategies that cannot isolate such pairs into
		// non-overlapping parallel groups must refuse to dispatch them.
		mutual [][2]string
	}

	// resolver orders the hooks registered at a point into a total order
	// consistent with every declared dependency edge, descending priority
	// among unconstrained hooks, and registration order for ties.
	resolver struct {
		mu    sync.Mutex
		cache map[Point]*resolution
	}
)

func newResolver() *resolver {
	return &resolver{cache: make(map[Point]*resolution)}
}

// resolve returns the execution order for the snapshot, serving from cache
// when the registry generation and hook-set fingerprint both match.
func (r *resolver) resolve(point Point, entries []*entry, gen uint64) (*resolution, error) {
	fp := fingerprintEntries(entries)
	r.mu.Lock()
	if cached, ok := r.cache[point]; ok && cached.gen == gen && cached.fingerprint == fp {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	res, err := order(point, entries)
	if err != nil {
		return nil, err
	}
	res.gen = gen
	res.fingerprint = fp

	r.mu.Lock()
	r.cache[point] = res
	r.mu.Unlock()
	return res, nil
}

// invalidate drops the cached order for a point. Called on registration
// changes; resolve would also detect the generation mismatch, this just
// frees the entry eagerly.
func (r *resolver) invalidate(point Point) {
	r.mu.Lock()
	delete(r.cache, point)
	r.mu.Unlock()
}

// order runs Kahn's algorithm over the "A depends on B implies B before A"
// edges. Among ready hooks it picks the highest priority first, breaking
// ties by registration order, which yields a deterministic total order.
func order(point Point, entries []*entry) (*resolution, error) {
	byName := make(map[string]*entry, len(entries))
	for _, e := range entries {
		byName[e.hook.Name()] = e
	}

	indegree := make(map[string]int, len(entries))
	dependents := make(map[string][]*entry, len(entries))
	for _, e := range entries {
		name := e.hook.Name()
		indegree[name] += 0
		for _, dep := range e.hook.Meta().Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, &UnknownDependencyError{Point: point, Hook: name, Dependency: dep}
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], e)
		}
	}

	ordered := make([]*entry, 0, len(entries))
	emitted := make(map[string]bool, len(entries))
	for len(ordered) < len(entries) {
		next := pickReady(entries, indegree, emitted)
		if next == nil {
			return nil, &CyclicDependencyError{Point: point, Cycle: remaining(entries, emitted)}
		}
		name := next.hook.Name()
		emitted[name] = true
		ordered = append(ordered, next)
		for _, dep := range dependents[name] {
			indegree[dep.hook.Name()]--
		}
	}

	return &resolution{order: ordered, mutual: mutualConflicts(entries, byName)}, nil
}

// pickReady scans for the unemitted hook with zero unmet dependencies,
// preferring higher priority and earlier registration. Linear scan keeps the
// selection stable; hook sets per point are small.
func pickReady(entries []*entry, indegree map[string]int, emitted map[string]bool) *entry {
	var best *entry
	for _, e := range entries {
		name := e.hook.Name()
		if emitted[name] || indegree[name] > 0 {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		if e.hook.Meta().Priority > best.hook.Meta().Priority {
			best = e
		}
	}
	return best
}

// remaining lists unemitted hooks in registration order. When Kahn stalls,
// these are exactly the hooks in or downstream of a dependency cycle.
func remaining(entries []*entry, emitted map[string]bool) []string {
	var names []string
	for _, e := range entries {
		if !emitted[e.hook.Name()] {
			names = append(names, e.hook.Name())
		}
	}
	return names
}

// mutualConflicts returns pairs of hooks that declare each other as
// conflicts, each pair ordered by registration.
func mutualConflicts(entries []*entry, byName map[string]*entry) [][2]string {
	var pairs [][2]string
	for _, e := range entries {
		name := e.hook.Name()
		for _, other := range e.hook.Meta().Conflicts {
			o, ok := byName[other]
			if !ok || o.seq <= e.seq {
				continue // absent, self, or already visited from the other side
			}
			if declares(o, name) {
				pairs = append(pairs, [2]string{name, other})
			}
		}
	}
	return pairs
}

func declares(e *entry, conflict string) bool {
	for _, c := range e.hook.Meta().Conflicts {
		if c == conflict {
			return true
		}
	}
	return false
}

// fingerprintEntries hashes the scheduling-relevant attributes of a hook
// snapshot in registration order.
func fingerprintEntries(entries []*entry) uint64 {
	h := fnv.New64a()
	for _, e := range entries {
		m := e.hook.Meta()
		fmt.Fprintf(h, "%s|%d|%d|%v|%v|%t;", e.hook.Name(), m.Priority, m.Mode, m.Dependencies, m.Conflicts, m.FailFast)
	}
	return h.Sum64()
}

// stages partitions a resolved order into groups of hooks that may run
// concurrently. A hook lands in the earliest stage after all stages holding
// its dependencies that contains no conflicting member. ModeSequential hooks
// always occupy a singleton stage. Stages execute sequentially, so a
// conflicting pair split across stages never overlaps.
func stages(order []*entry) [][]*entry {
	var out [][]*entry
	stageOf := make(map[string]int, len(order))
	for _, e := range order {
		min := 0
		for _, dep := range e.hook.Meta().Dependencies {
			if s, ok := stageOf[dep]; ok && s+1 > min {
				min = s + 1
			}
		}
		s := min
		for s < len(out) && !canJoin(e, out[s]) {
			s++
		}
		if s == len(out) {
			out = append(out, nil)
		}
		out[s] = append(out[s], e)
		stageOf[e.hook.Name()] = s
	}
	return out
}

func canJoin(e *entry, stage []*entry) bool {
	if len(stage) == 0 {
		return true
	}
	if e.hook.Meta().Mode == ModeSequential {
		return false
	}
	for _, member := range stage {
		if member.hook.Meta().Mode == ModeSequential {
			return false
		}
		if declares(e, member.hook.Name()) || declares(member, e.hook.Name()) {
			return false
		}
	}
	return true
}
