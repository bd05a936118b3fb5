// Package hooks implements a dependency-aware, priority-ordered hook
// dispatcher. Callers register hooks at named lifecycle points and dispatch a
// mutable context through the resolved chain. Hooks declare dependencies,
// conflicts, and execution hints through Meta; the dispatcher orders them,
// runs them under a configurable strategy, and aggregates per-hook results
// without letting one failing hook take down the chain.
package hooks

import (
	"context"
	"time"
)

// Point names a lifecycle marker at which hooks may be registered. Points are
// identity-only values used as registry keys; callers are free to define
// additional points beyond the predeclared set.
type Point string

// Predeclared lifecycle points covering agent, tool, LLM, and workflow
// execution.
const (
	BeforeAgentExecution Point = "before_agent_execution"
	AfterAgentExecution  Point = "after_agent_execution"
	BeforeToolCall       Point = "before_tool_call"
	AfterToolCall        Point = "after_tool_call"
	BeforeLLMCall        Point = "before_llm_call"
	AfterLLMCall         Point = "after_llm_call"
	BeforeWorkflowStage  Point = "before_workflow_stage"
	AfterWorkflowStage   Point = "after_workflow_stage"
	OnError              Point = "on_error"
)

// Mode describes how a hook prefers to be scheduled within a dispatch.
type Mode int

const (
	// ModeSequential hooks require serialized access to the context and are
	// never co-scheduled with other hooks, regardless of strategy.
	ModeSequential Mode = iota
	// ModeParallelGroup hooks may run concurrently with other independent
	// hooks on a cloned context snapshot.
	ModeParallelGroup
	// ModeAsyncSuspend marks hooks backed by a cooperatively scheduled
	// runtime. The cross-runtime adapter drives their suspension internally;
	// the dispatcher schedules them like ModeParallelGroup hooks.
	ModeAsyncSuspend
)

// Cost is a coarse execution-cost hint consumed by the adaptive strategy.
type Cost int

const (
	// CostCheap marks hooks expected to complete in microseconds.
	CostCheap Cost = iota
	// CostExpensive marks hooks performing I/O or heavy computation. The
	// adaptive strategy favors parallel grouping when expensive hooks are
	// present.
	CostExpensive
)

// Meta carries a hook's scheduling attributes. The zero value is a valid
// synchronous hook with default priority and no constraints.
type Meta struct {
	// Priority orders hooks that have no dependency relationship; higher
	// priorities run first. Ties are broken by registration order.
	Priority int
	// Dependencies names hooks at the same point that must run before this
	// one. Resolution fails if a named hook is not registered.
	Dependencies []string
	// Conflicts names hooks this hook must never run concurrently with.
	// When two hooks name each other, they are mutually incompatible and
	// can only be dispatched by a strategy that isolates them into
	// non-overlapping parallel groups.
	Conflicts []string
	// Mode selects the hook's scheduling preference.
	Mode Mode
	// FailFast aborts the remaining chain when this hook fails. Hooks that
	// were not started are reported as skipped.
	FailFast bool
	// Timeout bounds a single execution of this hook. Zero means use the
	// dispatcher default.
	Timeout time.Duration
	// Cacheable allows a dispatch result containing this hook's outcome to
	// be served from the dispatcher's result cache.
	Cacheable bool
	// ParallelSafe declares that the hook tolerates running on a cloned
	// context snapshot. The adaptive strategy only chooses parallel
	// grouping when every hook in the chain is parallel safe.
	ParallelSafe bool
	// Cost hints at the hook's expected execution cost.
	Cost Cost
}

// Hook is the unit of interception logic invoked at a lifecycle point.
// Implementations must be safe for concurrent use: the dispatcher may execute
// the same hook from concurrent Dispatch calls.
//
// Hooks communicate context changes exclusively through the returned
// Outcome's Modifications; they must not mutate the Context directly. This
// keeps parallel snapshots consistent and lets the dispatcher discard the
// work of timed-out executions safely.
type Hook interface {
	// Name returns the hook's identity, unique within a point.
	Name() string
	// Meta returns the hook's scheduling attributes. It must return the
	// same value for the lifetime of the registration.
	Meta() Meta
	// Execute runs the hook against the given context. A nil outcome with a
	// nil error is treated as a successful no-op.
	Execute(ctx context.Context, hc *Context) (*Outcome, error)
}

// Func adapts a closure into a Hook.
type Func struct {
	name string
	meta Meta
	fn   func(ctx context.Context, hc *Context) (*Outcome, error)
}

// NewFunc wraps fn as a Hook with the given name and meta.
func NewFunc(name string, meta Meta, fn func(ctx context.Context, hc *Context) (*Outcome, error)) *Func {
	return &Func{name: name, meta: meta, fn: fn}
}

// Name returns the hook name.
func (f *Func) Name() string { return f.name }

// Meta returns the hook's scheduling attributes.
func (f *Func) Meta() Meta { return f.meta }

// Execute invokes the wrapped closure.
func (f *Func) Execute(ctx context.Context, hc *Context) (*Outcome, error) {
	return f.fn(ctx, hc)
}
