package events

import (
	"context"
	"time"
)

type (
	// Subscriber is a polymorphic delivery target. The bus does not know or
	// care whether an implementation is a native callback, a script handler,
	// or a webhook sender; it only requires Deliver to return within the
	// delivery timeout or respect context cancellation.
	//
	// Implementations must be safe for concurrent use when registered with
	// MaxConcurrent greater than one or on multiple buses.
	Subscriber interface {
		// ID identifies the subscriber in delivery outcomes and logs.
		ID() string
		// Deliver processes one event. Returning an error counts against
		// the subscriber's circuit breaker.
		Deliver(ctx context.Context, evt Event) error
	}

	// SubscriberFunc adapts a closure into a Subscriber.
	SubscriberFunc struct {
		id string
		fn func(ctx context.Context, evt Event) error
	}

	// SubscribeOption configures a single subscription.
	SubscribeOption func(*subscription)
)

// NewSubscriberFunc wraps fn as a Subscriber with the given identifier.
func NewSubscriberFunc(id string, fn func(ctx context.Context, evt Event) error) *SubscriberFunc {
	return &SubscriberFunc{id: id, fn: fn}
}

// ID returns the subscriber identifier.
func (s *SubscriberFunc) ID() string { return s.id }

// Deliver invokes the wrapped closure.
func (s *SubscriberFunc) Deliver(ctx context.Context, evt Event) error {
	return s.fn(ctx, evt)
}

// WithPredicate adds a filter predicate evaluated after pattern matching;
// events it rejects are not delivered to this subscription.
func WithPredicate(pred func(Event) bool) SubscribeOption {
	return func(s *subscription) { s.predicate = pred }
}

// WithPriority orders this subscription's outcome within emission results.
// Delivery order across subscribers is unspecified; priority only affects
// reporting order. Higher priorities sort first.
func WithPriority(priority int) SubscribeOption {
	return func(s *subscription) { s.priority = priority }
}

// WithMaxConcurrent bounds the number of simultaneous deliveries to this
// subscription across concurrent emissions. Zero (the default) inherits the
// bus default; negative means unbounded.
func WithMaxConcurrent(n int) SubscribeOption {
	return func(s *subscription) { s.maxConcurrent = n }
}

// WithDeliveryTimeout bounds each delivery to this subscription. Zero
// inherits the bus default; negative means no timeout.
func WithDeliveryTimeout(d time.Duration) SubscribeOption {
	return func(s *subscription) { s.timeout = d }
}
