package hooks

import (
	"container/list"
	"sync"
)

// resultCache is a bounded LRU cache of successful dispatch results keyed by
// (point, registry generation, order fingerprint, context fingerprint).
// Embedding the generation in the key means any registration change at a
// point makes its old entries unreachable; they age out through normal LRU
// eviction.
type resultCache struct {
	mu      sync.Mutex
	cap     int
	order   *list.List
	entries map[cacheKey]*list.Element
}

type cacheKey struct {
	point    Point
	gen      uint64
	orderFP  uint64
	ctxFP    uint64
	strategy Strategy
}

type cacheItem struct {
	key    cacheKey
	result *Result
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[cacheKey]*list.Element, capacity),
	}
}

func (c *resultCache) get(key cacheKey) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).result.copyForReuse(), true
}

func (c *resultCache) put(key cacheKey, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheItem).result = res
		return
	}
	el := c.order.PushFront(&cacheItem{key: key, result: res})
	c.entries[key] = el
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheItem).key)
	}
}

// copyForReuse returns a result safe to hand to a new caller: the hook result
// slice and merged context are copied so callers cannot mutate the cached
// entry.
func (r *Result) copyForReuse() *Result {
	out := &Result{
		Point:  r.Point,
		Hooks:  make([]HookResult, len(r.Hooks)),
		Cached: true,
	}
	copy(out.Hooks, r.Hooks)
	if r.Context != nil {
		out.Context = r.Context.Clone()
	}
	return out
}
