package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hookweave/hookweave/telemetry"
)

// Strategy selects how a dispatch call schedules the resolved hook chain.
type Strategy int

const (
	// StrategySequential runs hooks one at a time in resolved order, each
	// observing the previous hook's merged modifications.
	StrategySequential Strategy = iota
	// StrategyParallel partitions the chain into stages of mutually
	// independent, non-conflicting hooks. Members of a stage run
	// concurrently on cloned context snapshots; stages run sequentially.
	StrategyParallel
	// StrategyPrioritized runs hooks strictly by descending priority,
	// ignoring dependency partitioning. Used when a caller needs
	// deterministic ordering without grouping cost.
	StrategyPrioritized
	// StrategyAdaptive inspects the chain's cost and parallel-safety hints
	// and picks sequential or parallel execution per invocation.
	StrategyAdaptive
)

type (
	// Dispatcher owns the hook registry for a set of lifecycle points and
	// executes registered hooks on demand. It is safe for concurrent use:
	// registration takes exclusive access while dispatches share a registry
	// snapshot, so concurrent dispatches never block each other and never
	// observe a registration mid-flight.
	Dispatcher struct {
		strategy       Strategy
		reg            *registry
		res            *resolver
		cache          *resultCache
		defaultTimeout time.Duration
		logger         telemetry.Logger
		metrics        telemetry.Metrics

		mu      sync.Mutex
		closed  bool
		closing atomic.Bool
		wg      sync.WaitGroup
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)

	// Result aggregates the outcome of one dispatch call. Every resolved
	// hook appears in Hooks exactly once, so callers can distinguish
	// "nothing ran" from "everything failed silently".
	Result struct {
		// Point is the lifecycle point that was dispatched.
		Point Point
		// Hooks holds per-hook results in resolved execution order.
		Hooks []HookResult
		// Context is the caller's context with all successful hooks'
		// modifications merged in.
		Context *Context
		// Cached reports whether the result was served from the dispatch
		// result cache.
		Cached bool
	}

	// HookResult records a single hook's fate within a dispatch.
	HookResult struct {
		// Name is the hook's registered name.
		Name string
		// Outcome is the hook's returned outcome; nil when the hook failed
		// or was skipped.
		Outcome *Outcome
		// Err holds the captured execution error, if any.
		Err error
		// Skipped reports that the hook never started, either because an
		// earlier fail-fast hook aborted the chain or shutdown began.
		Skipped bool
		// Duration is the hook's wall-clock execution time.
		Duration time.Duration
	}
)

// WithStrategy sets the dispatch strategy. Default is StrategySequential.
func WithStrategy(s Strategy) Option {
	return func(d *Dispatcher) { d.strategy = s }
}

// WithDefaultHookTimeout bounds each hook execution that does not declare its
// own timeout. Zero (the default) means unbounded.
func WithDefaultHookTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.defaultTimeout = timeout }
}

// WithResultCache enables the bounded LRU dispatch result cache. Only
// dispatches whose hooks all declare Cacheable and succeed are cached, and
// entries are keyed by the context fingerprint and resolved order, so a
// different input never reuses a cached result.
func WithResultCache(capacity int) Option {
	return func(d *Dispatcher) {
		if capacity > 0 {
			d.cache = newResultCache(capacity)
		}
	}
}

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics recorder. Default is a no-op recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher constructs a dispatcher with an empty registry.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		strategy: StrategySequential,
		reg:      newRegistry(),
		res:      newResolver(),
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a hook at the given point. It fails with ErrDuplicateHookName
// when a hook with the same name is already registered there, and with
// ErrShutdownInProgress once Close has been called. Registration invalidates
// any cached resolution and dispatch results for the point.
func (d *Dispatcher) Register(point Point, h Hook) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrShutdownInProgress
	}
	if err := d.reg.register(point, h); err != nil {
		return err
	}
	d.res.invalidate(point)
	d.logger.Debug(context.Background(), "hook registered", "point", string(point), "hook", h.Name())
	return nil
}

// Unregister removes the named hook from the point. It is a no-op when the
// hook is absent. Removal invalidates cached resolutions and dispatch results
// for the point.
func (d *Dispatcher) Unregister(point Point, name string) {
	if d.reg.unregister(point, name) {
		d.res.invalidate(point)
		d.logger.Debug(context.Background(), "hook unregistered", "point", string(point), "hook", name)
	}
}

// SetHookEnabled toggles a registered hook without removing it. Disabled
// hooks are excluded from dispatch snapshots. Returns false when the hook is
// not registered at the point.
func (d *Dispatcher) SetHookEnabled(point Point, name string, enabled bool) bool {
	return d.reg.setEnabled(point, name, enabled)
}

// SetGlobalEnabled toggles dispatch globally. When disabled, Dispatch returns
// an empty result for every point.
func (d *Dispatcher) SetGlobalEnabled(enabled bool) {
	d.reg.setGlobalEnabled(enabled)
}

// HookNames returns the names of hooks registered at the point in
// registration order.
func (d *Dispatcher) HookNames(point Point) []string {
	return d.reg.hookNames(point)
}

// Stats summarizes the registry contents.
func (d *Dispatcher) Stats() RegistryStats {
	return d.reg.stats()
}

// Dispatch runs every hook registered at the point under the configured
// strategy and returns per-hook results plus the merged context.
//
// Per-hook failures are captured in the result, never propagated as a call
// failure, with one exception: a failing hook registered with FailFast
// aborts the remaining chain and its error is returned alongside the partial
// result. Resolution failures (unknown dependency, cycle, unsatisfiable
// conflict) and shutdown are the only other conditions that fail the call.
func (d *Dispatcher) Dispatch(ctx context.Context, point Point, hc *Context) (*Result, error) {
	return d.dispatch(ctx, point, hc, d.strategy)
}

// DispatchWith runs the point under the given strategy instead of the
// dispatcher default. Cached results are keyed by strategy, so alternating
// strategies on the same point never cross-pollinate.
func (d *Dispatcher) DispatchWith(ctx context.Context, point Point, hc *Context, strategy Strategy) (*Result, error) {
	return d.dispatch(ctx, point, hc, strategy)
}

func (d *Dispatcher) dispatch(ctx context.Context, point Point, hc *Context, strategy Strategy) (*Result, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrShutdownInProgress
	}
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	if hc == nil {
		hc = NewContext(point, "", nil)
	}

	entries, gen := d.reg.snapshot(point)
	if len(entries) == 0 {
		return &Result{Point: point, Context: hc}, nil
	}

	res, err := d.res.resolve(point, entries, gen)
	if err != nil {
		return nil, err
	}

	if strategy == StrategyAdaptive {
		strategy = adapt(res)
	}
	if strategy != StrategyParallel && len(res.mutual) > 0 {
		pair := res.mutual[0]
		return nil, &ConflictError{Point: point, HookA: pair[0], HookB: pair[1]}
	}

	var key cacheKey
	if d.cache != nil {
		key = cacheKey{point: point, gen: gen, orderFP: res.fingerprint, ctxFP: hc.fingerprint(), strategy: strategy}
		if cached, ok := d.cache.get(key); ok {
			d.metrics.IncCounter("hooks.dispatch.cache_hit", 1, "point", string(point))
			return cached, nil
		}
	}

	start := time.Now()
	var result *Result
	var dispatchErr error
	switch strategy {
	case StrategyParallel:
		result, dispatchErr = d.runStages(ctx, point, res.order, hc)
	case StrategyPrioritized:
		result, dispatchErr = d.runChain(ctx, point, byPriority(res.order), hc)
	default:
		result, dispatchErr = d.runChain(ctx, point, res.order, hc)
	}
	dur := time.Since(start)

	status := "ok"
	if dispatchErr != nil {
		status = "error"
	}
	d.metrics.RecordTimer("hooks.dispatch.duration", dur, "point", string(point))
	d.metrics.IncCounter("hooks.dispatch.total", 1, "point", string(point), "status", status)

	if d.cache != nil && dispatchErr == nil && cacheable(res.order, result) {
		d.cache.put(key, result)
	}
	return result, dispatchErr
}

// Close stops the dispatcher. In-flight sequential chains drain to
// completion; parallel stages that have not started are abandoned and
// reported as skipped with ErrShutdownInProgress. New Register and Dispatch
// calls fail immediately. Close returns once all in-flight dispatches have
// finished, or with the context's error if it expires first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.closing.Store(true)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runChain executes hooks strictly one at a time, merging each successful
// hook's modifications into the live context before the next hook runs.
func (d *Dispatcher) runChain(ctx context.Context, point Point, order []*entry, hc *Context) (*Result, error) {
	results := make([]HookResult, len(order))
	var firstErr error
	aborted := false
	for i, e := range order {
		name := e.hook.Name()
		if aborted {
			results[i] = HookResult{Name: name, Skipped: true}
			continue
		}
		out, dur, err := d.runHook(ctx, e.hook, hc)
		if err != nil {
			results[i] = HookResult{Name: name, Err: err, Duration: dur}
			d.logger.Warn(ctx, "hook failed", "point", string(point), "hook", name, "err", err)
			d.metrics.IncCounter("hooks.execution.failures", 1, "point", string(point), "hook", name)
			if e.hook.Meta().FailFast {
				aborted = true
				firstErr = err
			}
			continue
		}
		hc.apply(out.Modifications)
		results[i] = HookResult{Name: name, Outcome: out, Duration: dur}
	}
	return &Result{Point: point, Hooks: results, Context: hc}, firstErr
}

// runStages executes the chain as sequential stages of concurrent members.
// Each member of a multi-hook stage receives a cloned context snapshot and
// never observes a sibling's in-flight modifications; the stage's outcomes
// are merged in ascending priority order so the highest-priority hook wins
// conflicting keys, ties going to the later registration.
func (d *Dispatcher) runStages(ctx context.Context, point Point, order []*entry, hc *Context) (*Result, error) {
	byName := make(map[string]HookResult, len(order))
	var firstErr error
	aborted := false
	shutdown := false

	for _, stage := range stages(order) {
		if aborted {
			for _, e := range stage {
				byName[e.hook.Name()] = HookResult{Name: e.hook.Name(), Skipped: true}
			}
			continue
		}
		if d.closing.Load() {
			shutdown = true
			for _, e := range stage {
				byName[e.hook.Name()] = HookResult{Name: e.hook.Name(), Skipped: true, Err: ErrShutdownInProgress}
			}
			continue
		}

		stageResults := make([]HookResult, len(stage))
		if len(stage) == 1 {
			e := stage[0]
			out, dur, err := d.runHook(ctx, e.hook, hc)
			stageResults[0] = HookResult{Name: e.hook.Name(), Outcome: out, Err: err, Duration: dur}
		} else {
			var wg sync.WaitGroup
			for i, e := range stage {
				wg.Add(1)
				go func(i int, e *entry) {
					defer wg.Done()
					out, dur, err := d.runHook(ctx, e.hook, hc.Clone())
					stageResults[i] = HookResult{Name: e.hook.Name(), Outcome: out, Err: err, Duration: dur}
				}(i, e)
			}
			wg.Wait()
		}

		merge := make([]int, 0, len(stage))
		for i, r := range stageResults {
			byName[r.Name] = r
			if r.Err != nil {
				d.logger.Warn(ctx, "hook failed", "point", string(point), "hook", r.Name, "err", r.Err)
				d.metrics.IncCounter("hooks.execution.failures", 1, "point", string(point), "hook", r.Name)
				if stage[i].hook.Meta().FailFast {
					aborted = true
					if firstErr == nil {
						firstErr = r.Err
					}
				}
				continue
			}
			merge = append(merge, i)
		}
		// Lowest priority first: later applications overwrite earlier ones,
		// so the highest priority lands last and wins.
		sort.SliceStable(merge, func(a, b int) bool {
			pa, pb := stage[merge[a]].hook.Meta().Priority, stage[merge[b]].hook.Meta().Priority
			if pa != pb {
				return pa < pb
			}
			return stage[merge[a]].seq < stage[merge[b]].seq
		})
		for _, i := range merge {
			hc.apply(stageResults[i].Outcome.Modifications)
		}
	}

	results := make([]HookResult, len(order))
	for i, e := range order {
		results[i] = byName[e.hook.Name()]
	}
	if firstErr == nil && shutdown {
		firstErr = ErrShutdownInProgress
	}
	return &Result{Point: point, Hooks: results, Context: hc}, firstErr
}

// runHook executes one hook with timeout enforcement and panic isolation. A
// timed-out or panicking hook yields an error result; its late writes, if
// any, are discarded because modifications only land through the returned
// outcome.
func (d *Dispatcher) runHook(ctx context.Context, h Hook, hc *Context) (*Outcome, time.Duration, error) {
	timeout := h.Meta().Timeout
	if timeout == 0 {
		timeout = d.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type hookReturn struct {
		out *Outcome
		err error
	}
	ch := make(chan hookReturn, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- hookReturn{err: fmt.Errorf("hook %q panicked: %v", h.Name(), r)}
			}
		}()
		out, err := h.Execute(ctx, hc)
		ch <- hookReturn{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, time.Since(start), r.err
		}
		if r.out == nil {
			return Continue(), time.Since(start), nil
		}
		return r.out, time.Since(start), nil
	case <-ctx.Done():
		return nil, time.Since(start), fmt.Errorf("hook %q: %w", h.Name(), ctx.Err())
	}
}

// byPriority reorders a resolved chain strictly by descending priority,
// registration order breaking ties.
func byPriority(order []*entry) []*entry {
	out := make([]*entry, len(order))
	copy(out, order)
	sort.SliceStable(out, func(a, b int) bool {
		pa, pb := out[a].hook.Meta().Priority, out[b].hook.Meta().Priority
		if pa != pb {
			return pa > pb
		}
		return out[a].seq < out[b].seq
	})
	return out
}

// adapt picks sequential or parallel execution from the chain's hints.
// Parallel grouping requires every hook to be parallel safe; it pays off
// when the chain carries expensive hooks, has enough members to amortize the
// grouping cost, or contains mutually incompatible hooks that only parallel
// staging can isolate.
func adapt(res *resolution) Strategy {
	for _, e := range res.order {
		if !e.hook.Meta().ParallelSafe {
			return StrategySequential
		}
	}
	if len(res.mutual) > 0 {
		return StrategyParallel
	}
	for _, e := range res.order {
		if e.hook.Meta().Cost == CostExpensive {
			return StrategyParallel
		}
	}
	if len(res.order) >= 4 {
		return StrategyParallel
	}
	return StrategySequential
}

// cacheable reports whether a dispatch result may be stored: every hook must
// opt in via Meta.Cacheable and every hook must have succeeded.
func cacheable(order []*entry, res *Result) bool {
	for _, e := range order {
		if !e.hook.Meta().Cacheable {
			return false
		}
	}
	for _, r := range res.Hooks {
		if r.Err != nil || r.Skipped || r.Outcome == nil || !r.Outcome.Success {
			return false
		}
	}
	return true
}
