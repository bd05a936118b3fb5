package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hookweave/hookweave/telemetry"
)

type (
	// Bus routes emitted events to pattern-matched subscribers. Emission is
	// gated by per-type rate limits and a filter chain, optionally persisted
	// to a Store, then delivered concurrently with per-subscription
	// concurrency bounds, delivery timeouts, and circuit breaking.
	//
	// A Bus is safe for concurrent use. Sequence numbers are assigned from a
	// single atomic counter, so they are strictly increasing across
	// concurrent emissions.
	Bus struct {
		mu     sync.RWMutex
		subs   map[string]*subscription
		subSeq uint64 // monotonic, guarded by mu; orders equal-priority outcomes

		seq     atomic.Uint64
		seqOnce sync.Once
		limiter *rateLimiter
		filters *filterChain
		store   Store

		breakerCfg BreakerConfig

		defaultTimeout       time.Duration
		defaultMaxConcurrent int

		logger  telemetry.Logger
		metrics telemetry.Metrics

		closed bool
		wg     sync.WaitGroup

		emitted   atomic.Uint64
		dropped   atomic.Uint64
		delivered atomic.Uint64
		failed    atomic.Uint64
	}

	// subscription is one registered subscriber with its matching rules and
	// delivery policy.
	subscription struct {
		id      string
		pattern string
		sub     Subscriber

		predicate     func(Event) bool
		priority      int
		maxConcurrent int
		timeout       time.Duration

		sem     chan struct{}
		breaker *breaker
		seq     uint64
	}

	// BusOption configures a Bus at construction.
	BusOption func(*busOptions)

	busOptions struct {
		store                Store
		limits               map[string]RateLimit
		defaultLimit         *RateLimit
		filterRules          []FilterRule
		defaultFilterAction  FilterAction
		breakerCfg           BreakerConfig
		defaultTimeout       time.Duration
		defaultMaxConcurrent int
		logger               telemetry.Logger
		metrics              telemetry.Metrics
	}

	// DeliveryStatus classifies one subscription's outcome for one emission.
	DeliveryStatus string

	// DeliveryOutcome reports what happened to one matching subscription
	// during an emission.
	DeliveryOutcome struct {
		// SubscriptionID identifies the subscription.
		SubscriptionID string
		// SubscriberID identifies the underlying subscriber.
		SubscriberID string
		// Status classifies the outcome.
		Status DeliveryStatus
		// Err is the delivery error for StatusFailed, nil otherwise.
		Err error
		// Duration is the wall time spent delivering.
		Duration time.Duration
	}

	// EmissionResult reports the full fate of one Emit call: the assigned
	// identity, whether a filter dropped the event, and the per-subscription
	// delivery outcomes.
	EmissionResult struct {
		// EventID is the event's ULID.
		EventID string
		// Sequence is the bus-assigned sequence number.
		Sequence uint64
		// Dropped reports that a deny filter stopped the event before
		// delivery.
		Dropped bool
		// DropRule names the deny rule, empty unless Dropped.
		DropRule string
		// Outcomes holds one entry per matching subscription, sorted by
		// descending subscription priority.
		Outcomes []DeliveryOutcome
	}

	// BusStats is a point-in-time snapshot of bus counters.
	BusStats struct {
		// Subscriptions is the number of active subscriptions.
		Subscriptions int
		// Emitted counts events accepted by Emit.
		Emitted uint64
		// Dropped counts events stopped by deny filters.
		Dropped uint64
		// Delivered counts successful deliveries.
		Delivered uint64
		// Failed counts deliveries that errored, timed out, or were
		// skipped by an open circuit.
		Failed uint64
	}
)

const (
	// StatusDelivered means the subscriber processed the event.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusFailed means the subscriber returned an error.
	StatusFailed DeliveryStatus = "failed"
	// StatusTimedOut means delivery exceeded the subscription's timeout.
	StatusTimedOut DeliveryStatus = "timed_out"
	// StatusCircuitOpen means the subscription's circuit breaker skipped
	// delivery.
	StatusCircuitOpen DeliveryStatus = "circuit_open"
	// StatusSkipped means the bus began shutting down before delivery.
	StatusSkipped DeliveryStatus = "skipped"
)

const (
	// DefaultDeliveryTimeout bounds each delivery unless overridden.
	DefaultDeliveryTimeout = 5 * time.Second
	// DefaultMaxConcurrent bounds simultaneous deliveries per subscription
	// unless overridden.
	DefaultMaxConcurrent = 4
)

// WithStore attaches a persistence backend; every event that passes the
// filter chain is appended before delivery. Append failures are logged and
// do not fail the emission.
func WithStore(s Store) BusOption {
	return func(o *busOptions) { o.store = s }
}

// WithRateLimit sets a token bucket budget for one event type.
func WithRateLimit(eventType string, limit RateLimit) BusOption {
	return func(o *busOptions) {
		if o.limits == nil {
			o.limits = make(map[string]RateLimit)
		}
		o.limits[eventType] = limit
	}
}

// WithDefaultRateLimit sets the budget applied per-type to every event type
// without an explicit limit. Without it, unlisted types are unlimited.
func WithDefaultRateLimit(limit RateLimit) BusOption {
	return func(o *busOptions) { o.defaultLimit = &limit }
}

// WithFilterRules installs the emission filter chain.
func WithFilterRules(rules ...FilterRule) BusOption {
	return func(o *busOptions) { o.filterRules = append(o.filterRules, rules...) }
}

// WithDefaultFilterAction sets the disposition when no filter rule matches.
// The default is ActionAllow.
func WithDefaultFilterAction(action FilterAction) BusOption {
	return func(o *busOptions) { o.defaultFilterAction = action }
}

// WithBreaker tunes the per-subscription circuit breakers.
func WithBreaker(cfg BreakerConfig) BusOption {
	return func(o *busOptions) { o.breakerCfg = cfg }
}

// WithDeliveryDefaults sets the bus-wide delivery timeout and per-
// subscription concurrency bound used by subscriptions that do not override
// them.
func WithDeliveryDefaults(timeout time.Duration, maxConcurrent int) BusOption {
	return func(o *busOptions) {
		o.defaultTimeout = timeout
		o.defaultMaxConcurrent = maxConcurrent
	}
}

// WithBusLogger sets the structured logger.
func WithBusLogger(l telemetry.Logger) BusOption {
	return func(o *busOptions) { o.logger = l }
}

// WithBusMetrics sets the metrics sink.
func WithBusMetrics(m telemetry.Metrics) BusOption {
	return func(o *busOptions) { o.metrics = m }
}

// NewBus builds an event bus.
func NewBus(opts ...BusOption) *Bus {
	o := busOptions{
		defaultFilterAction:  ActionAllow,
		breakerCfg:           DefaultBreakerConfig(),
		defaultTimeout:       DefaultDeliveryTimeout,
		defaultMaxConcurrent: DefaultMaxConcurrent,
		logger:               telemetry.NoopLogger{},
		metrics:              telemetry.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus{
		subs:                 make(map[string]*subscription),
		limiter:              newRateLimiter(o.limits, o.defaultLimit),
		filters:              newFilterChain(o.filterRules, o.defaultFilterAction),
		store:                o.store,
		breakerCfg:           o.breakerCfg,
		defaultTimeout:       o.defaultTimeout,
		defaultMaxConcurrent: o.defaultMaxConcurrent,
		logger:               o.logger,
		metrics:              o.metrics,
	}
}

// Subscribe registers a subscriber for event types matching the pattern and
// returns the subscription ID used with Unsubscribe.
func (b *Bus) Subscribe(pattern string, sub Subscriber, opts ...SubscribeOption) (string, error) {
	if pattern == "" {
		return "", ErrInvalidPattern
	}
	s := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		sub:     sub,
		breaker: newBreaker(b.breakerCfg),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxConcurrent == 0 {
		s.maxConcurrent = b.defaultMaxConcurrent
	}
	if s.maxConcurrent > 0 {
		s.sem = make(chan struct{}, s.maxConcurrent)
	}
	if s.timeout == 0 {
		s.timeout = b.defaultTimeout
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrShutdownInProgress
	}
	b.subSeq++
	s.seq = b.subSeq
	b.subs[s.id] = s
	b.logger.Debug(context.Background(), "subscription added",
		"subscription_id", s.id, "subscriber", sub.ID(), "pattern", pattern)
	return s.id, nil
}

// Unsubscribe removes a subscription. In-flight deliveries complete;
// subsequent emissions no longer match it.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return ErrUnknownSubscription
	}
	delete(b.subs, id)
	return nil
}

// SubscriberBreakerState reports the circuit breaker state of a
// subscription.
func (b *Bus) SubscriberBreakerState(id string) (BreakerState, error) {
	b.mu.RLock()
	s, ok := b.subs[id]
	b.mu.RUnlock()
	if !ok {
		return BreakerClosed, ErrUnknownSubscription
	}
	return s.breaker.State(), nil
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Subscriptions: n,
		Emitted:       b.emitted.Load(),
		Dropped:       b.dropped.Load(),
		Delivered:     b.delivered.Load(),
		Failed:        b.failed.Load(),
	}
}

// Emit publishes an event. The pipeline runs in order: rate limit check
// (fail fast with *RateLimitError), sequence assignment, filter chain,
// persistence, then concurrent delivery to every matching subscription.
// Emit blocks until all matching deliveries settle and reports their
// outcomes; a delivery failure is reported in the result, never as an Emit
// error.
func (b *Bus) Emit(ctx context.Context, evt Event) (*EmissionResult, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrShutdownInProgress
	}
	b.wg.Add(1)
	b.mu.RUnlock()
	defer b.wg.Done()

	if !b.limiter.allow(evt.Type) {
		b.metrics.IncCounter("events.emit.rate_limited", 1, "type", evt.Type)
		return nil, &RateLimitError{Type: evt.Type}
	}
	b.seqOnce.Do(func() { b.resumeSequence(ctx) })

	if evt.ID == "" {
		ts := evt.Timestamp
		evt = New(evt.Type, evt.Payload, WithSource(evt.Source))
		if !ts.IsZero() {
			evt.Timestamp = ts
		}
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Sequence = b.seq.Add(1)
	b.emitted.Add(1)
	b.metrics.IncCounter("events.emit.total", 1, "type", evt.Type)

	res := &EmissionResult{EventID: evt.ID, Sequence: evt.Sequence}

	filtered, action, rule := b.filters.apply(evt)
	if action == ActionDeny {
		res.Dropped = true
		res.DropRule = rule
		b.dropped.Add(1)
		b.logger.Debug(ctx, "event dropped by filter", "type", evt.Type, "rule", rule)
		return res, nil
	}
	evt = filtered

	if b.store != nil {
		if err := b.store.Append(ctx, evt); err != nil {
			b.logger.Error(ctx, "persist event failed",
				"event_id", evt.ID, "type", evt.Type, "error", err.Error())
		}
	}

	// Match against the filtered event so transforms and predicates agree
	// on what subscribers will actually receive.
	b.mu.RLock()
	matching := b.matchLocked(evt)
	b.mu.RUnlock()

	res.Outcomes = b.deliver(ctx, evt, matching)
	return res, nil
}

// resumeSequence moves the sequence counter past the attached log's highest
// stored sequence so a bus reattached to an existing store never reissues
// numbers that would collide with prior runs. Runs once, before the first
// sequence is assigned.
func (b *Bus) resumeSequence(ctx context.Context) {
	if b.store == nil {
		return
	}
	last, err := b.store.LastSequence(ctx)
	if err != nil {
		b.logger.Error(ctx, "resume sequence from store failed", "error", err.Error())
		return
	}
	b.seq.Store(last)
}

// matchLocked snapshots the subscriptions whose pattern and predicate match
// the event. Callers hold at least a read lock.
func (b *Bus) matchLocked(evt Event) []*subscription {
	var matching []*subscription
	for _, s := range b.subs {
		if !MatchPattern(s.pattern, evt.Type) {
			continue
		}
		if s.predicate != nil && !s.predicate(evt) {
			continue
		}
		matching = append(matching, s)
	}
	return matching
}

// deliver fans the event out to the matching subscriptions concurrently and
// waits for every outcome.
func (b *Bus) deliver(ctx context.Context, evt Event, matching []*subscription) []DeliveryOutcome {
	if len(matching) == 0 {
		return nil
	}
	// Outcomes report in descending priority order, registration order on
	// ties. Delivery itself is concurrent regardless.
	sort.SliceStable(matching, func(a, c int) bool {
		if matching[a].priority != matching[c].priority {
			return matching[a].priority > matching[c].priority
		}
		return matching[a].seq < matching[c].seq
	})
	outcomes := make([]DeliveryOutcome, len(matching))
	var wg sync.WaitGroup
	for i, s := range matching {
		wg.Add(1)
		go func(i int, s *subscription) {
			defer wg.Done()
			outcomes[i] = b.deliverOne(ctx, evt, s)
		}(i, s)
	}
	wg.Wait()
	return outcomes
}

// deliverOne runs one delivery with the subscription's concurrency bound,
// circuit breaker, and timeout applied.
func (b *Bus) deliverOne(ctx context.Context, evt Event, s *subscription) DeliveryOutcome {
	out := DeliveryOutcome{SubscriptionID: s.id, SubscriberID: s.sub.ID()}

	if !s.breaker.allow() {
		out.Status = StatusCircuitOpen
		b.failed.Add(1)
		b.metrics.IncCounter("events.deliver.circuit_open", 1, "subscriber", out.SubscriberID)
		return out
	}

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			// The delivery was never attempted, so it must not count
			// against the subscriber's failure ratio.
			out.Status = StatusSkipped
			out.Err = ctx.Err()
			b.failed.Add(1)
			return out
		}
	}

	dctx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		errCh <- s.sub.Deliver(dctx, evt)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-dctx.Done():
		err = dctx.Err()
	}
	out.Duration = time.Since(start)
	b.metrics.RecordTimer("events.deliver.duration", out.Duration, "subscriber", out.SubscriberID)

	switch {
	case err == nil:
		out.Status = StatusDelivered
		b.delivered.Add(1)
		s.breaker.record(true)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(dctx.Err(), context.DeadlineExceeded):
		out.Status = StatusTimedOut
		out.Err = err
		b.failed.Add(1)
		s.breaker.record(false)
		b.logger.Warn(ctx, "delivery timed out",
			"subscriber", out.SubscriberID, "event_id", evt.ID, "timeout", s.timeout)
	default:
		out.Status = StatusFailed
		out.Err = err
		b.failed.Add(1)
		s.breaker.record(false)
		b.logger.Warn(ctx, "delivery failed",
			"subscriber", out.SubscriberID, "event_id", evt.ID, "error", err.Error())
	}
	return out
}

// Close stops accepting emissions and waits for in-flight deliveries to
// settle, up to the context deadline. The attached store, if any, is closed
// after the drain.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if b.store != nil {
		if cerr := b.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
