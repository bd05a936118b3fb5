package hooks

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Context is the mutable per-invocation state passed through a hook chain.
// The caller builds it before dispatch and reads the merged result afterward.
//
// A Context is owned by a single goroutine at a time. Sequential hooks
// observe it through an exclusive reference; parallel groups receive clones
// and the dispatcher merges their modifications back. Hooks themselves must
// not call Set; they return modifications in their Outcome instead.
type Context struct {
	point    Point
	entityID string
	payload  any
	values   map[string]any
	err      error
	output   any
}

// NewContext builds a context for dispatch at the given point. entityID
// identifies the originating component (agent, tool, workflow); payload is
// the opaque input the hooks inspect.
func NewContext(point Point, entityID string, payload any) *Context {
	return &Context{
		point:    point,
		entityID: entityID,
		payload:  payload,
		values:   make(map[string]any),
	}
}

// Point returns the lifecycle point this context is dispatched at.
func (c *Context) Point() Point { return c.point }

// EntityID returns the originating entity identifier.
func (c *Context) EntityID() string { return c.entityID }

// Payload returns the opaque input payload.
func (c *Context) Payload() any { return c.payload }

// Get returns the value accumulated under key, if any.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value under key. Intended for the caller populating the
// context before dispatch; hooks return modifications in their Outcome.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// Values returns a copy of the accumulated key-value mapping.
func (c *Context) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// SetError records an error observed by the caller, typically when
// dispatching error-path points such as OnError.
func (c *Context) SetError(err error) { c.err = err }

// Err returns the error recorded by the caller, if any.
func (c *Context) Err() error { return c.err }

// SetOutput records the operation output for after-style points.
func (c *Context) SetOutput(out any) { c.output = out }

// Output returns the operation output recorded by the caller.
func (c *Context) Output() any { return c.output }

// Clone returns a snapshot copy for a parallel branch. The values map is
// copied; payload and output are shared since hooks treat them as read-only.
func (c *Context) Clone() *Context {
	clone := &Context{
		point:    c.point,
		entityID: c.entityID,
		payload:  c.payload,
		values:   make(map[string]any, len(c.values)),
		err:      c.err,
		output:   c.output,
	}
	for k, v := range c.values {
		clone.values[k] = v
	}
	return clone
}

// apply merges outcome modifications into the context.
func (c *Context) apply(mods map[string]any) {
	for k, v := range mods {
		c.values[k] = v
	}
}

// fingerprint hashes the dispatch-relevant state of the context. Used as a
// component of the result cache key; two contexts with the same fingerprint
// are assumed to produce the same dispatch result for a fixed hook order.
func (c *Context) fingerprint() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%v|", c.point, c.entityID, c.payload)
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, c.values[k])
	}
	return h.Sum64()
}
