package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := newBreaker(BreakerConfig{Threshold: 0.5, Window: 4, MinSamples: 2, Cooldown: time.Hour})
	require.Equal(t, BreakerClosed, b.State())

	// One failure is below MinSamples; the circuit stays closed.
	require.True(t, b.allow())
	b.record(false)
	require.Equal(t, BreakerClosed, b.State())

	// A second failure pushes the ratio to 1.0 over 2 samples.
	require.True(t, b.allow())
	b.record(false)
	require.Equal(t, BreakerOpen, b.State())
	require.False(t, b.allow())
}

func TestBreakerHalfOpenTrialDecides(t *testing.T) {
	now := time.Now()
	b := newBreaker(BreakerConfig{Threshold: 0.5, Window: 4, MinSamples: 2, Cooldown: 30 * time.Second})
	b.now = func() time.Time { return now }

	b.record(false)
	b.record(false)
	require.Equal(t, BreakerOpen, b.State())

	// Before the cooldown elapses, deliveries stay blocked.
	require.False(t, b.allow())

	// After the cooldown a single trial is admitted; concurrent attempts
	// during the trial are still blocked.
	now = now.Add(31 * time.Second)
	require.True(t, b.allow())
	require.Equal(t, BreakerHalfOpen, b.State())
	require.False(t, b.allow())

	// A successful trial closes the circuit and resets the window.
	b.record(true)
	require.Equal(t, BreakerClosed, b.State())
	require.True(t, b.allow())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	now := time.Now()
	b := newBreaker(BreakerConfig{Threshold: 0.5, Window: 4, MinSamples: 2, Cooldown: 30 * time.Second})
	b.now = func() time.Time { return now }

	b.record(false)
	b.record(false)
	now = now.Add(31 * time.Second)
	require.True(t, b.allow())
	b.record(false)
	require.Equal(t, BreakerOpen, b.State())
	require.False(t, b.allow())

	// The failed trial restarts the cooldown.
	now = now.Add(31 * time.Second)
	require.True(t, b.allow())
	b.record(true)
	require.Equal(t, BreakerClosed, b.State())
}

func TestDisabledBreakerNeverOpens(t *testing.T) {
	b := newBreaker(BreakerConfig{Disabled: true})
	for i := 0; i < 50; i++ {
		require.True(t, b.allow())
		b.record(false)
	}
	require.Equal(t, BreakerClosed, b.State())
}

// TestBusIsolatesFailingSubscriber drives a consistently failing subscriber
// past the threshold on a live bus and verifies further deliveries are
// skipped as circuit-open until the cooldown elapses, while a healthy
// sibling keeps receiving events.
func TestBusIsolatesFailingSubscriber(t *testing.T) {
	b := NewBus(WithBreaker(BreakerConfig{
		Threshold:  0.5,
		Window:     4,
		MinSamples: 2,
		Cooldown:   40 * time.Millisecond,
	}))

	var failing atomic.Bool
	failing.Store(true)
	var attempts atomic.Int32
	flakyID, err := b.Subscribe("job.*", NewSubscriberFunc("flaky", func(context.Context, Event) error {
		attempts.Add(1)
		if failing.Load() {
			return errors.New("still broken")
		}
		return nil
	}))
	require.NoError(t, err)
	healthy := newCollector("healthy")
	healthyID, err := b.Subscribe("job.*", healthy)
	require.NoError(t, err)

	statusOf := func(res *EmissionResult, subID string) DeliveryStatus {
		for _, out := range res.Outcomes {
			if out.SubscriptionID == subID {
				return out.Status
			}
		}
		t.Fatalf("no outcome for subscription %s", subID)
		return ""
	}

	// Two failures open the circuit.
	for i := 0; i < 2; i++ {
		res, err := b.Emit(context.Background(), New("job.run", i))
		require.NoError(t, err)
		require.Equal(t, StatusFailed, statusOf(res, flakyID))
	}
	state, err := b.SubscriberBreakerState(flakyID)
	require.NoError(t, err)
	require.Equal(t, BreakerOpen, state)

	// While open, deliveries are skipped without invoking the subscriber.
	before := attempts.Load()
	res, err := b.Emit(context.Background(), New("job.run", 2))
	require.NoError(t, err)
	require.Equal(t, StatusCircuitOpen, statusOf(res, flakyID))
	require.Equal(t, before, attempts.Load())
	require.Equal(t, StatusDelivered, statusOf(res, healthyID))

	// The healthy sibling was never affected.
	require.Len(t, healthy.received(), 3)

	// After the cooldown, the half-open trial succeeds and closes the
	// circuit.
	failing.Store(false)
	time.Sleep(50 * time.Millisecond)
	res, err = b.Emit(context.Background(), New("job.run", 3))
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, statusOf(res, flakyID))
	state, err = b.SubscriberBreakerState(flakyID)
	require.NoError(t, err)
	require.Equal(t, BreakerClosed, state)
}
