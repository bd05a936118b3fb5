package events

import (
	"sync"
	"time"
)

// BreakerState is the per-subscriber circuit breaker state.
type BreakerState int

const (
	// BreakerClosed admits deliveries normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen skips deliveries until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen admits a single trial delivery whose result decides
	// whether the circuit closes or re-opens.
	BreakerHalfOpen
)

// BreakerConfig tunes the per-subscriber circuit breaker.
type BreakerConfig struct {
	// Threshold is the rolling failure ratio (0..1] that opens the
	// circuit.
	Threshold float64
	// Window is the number of recent deliveries the ratio is computed
	// over.
	Window int
	// MinSamples is the minimum number of recorded deliveries before the
	// ratio is consulted, preventing a single early failure from opening
	// the circuit.
	MinSamples int
	// Cooldown is how long an open circuit skips deliveries before
	// admitting a half-open trial.
	Cooldown time.Duration
	// Disabled turns circuit breaking off entirely.
	Disabled bool
}

// DefaultBreakerConfig returns the breaker tuning used when a bus is not
// configured explicitly.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:  0.5,
		Window:     20,
		MinSamples: 5,
		Cooldown:   30 * time.Second,
	}
}

// breaker tracks a rolling failure ratio for one subscription and isolates
// it from delivery once the ratio exceeds the threshold.
type breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	results  []bool // ring of recent delivery successes
	next     int
	filled   bool
	state    BreakerState
	openedAt time.Time
	trial    bool
	now      func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerConfig().Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreakerConfig().Threshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultBreakerConfig().MinSamples
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &breaker{
		cfg:     cfg,
		results: make([]bool, cfg.Window),
		now:     time.Now,
	}
}

// allow reports whether a delivery may proceed. In the open state it flips
// to half-open once the cooldown has elapsed and admits exactly one trial.
func (b *breaker) allow() bool {
	if b == nil || b.cfg.Disabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.trial = true
		return true
	case BreakerHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

// record feeds a delivery result into the rolling window and transitions
// state. A half-open trial success closes the circuit and resets the
// window; a trial failure re-opens it.
func (b *breaker) record(success bool) {
	if b == nil || b.cfg.Disabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trial = false
		if success {
			b.state = BreakerClosed
			b.reset()
		} else {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
		return
	}

	b.results[b.next] = success
	b.next++
	if b.next == len(b.results) {
		b.next = 0
		b.filled = true
	}

	count := b.next
	if b.filled {
		count = len(b.results)
	}
	if count < b.cfg.MinSamples {
		return
	}
	failures := 0
	for i := 0; i < count; i++ {
		if !b.results[i] {
			failures++
		}
	}
	if float64(failures)/float64(count) > b.cfg.Threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.reset()
	}
}

// State returns the current breaker state.
func (b *breaker) State() BreakerState {
	if b == nil || b.cfg.Disabled {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) reset() {
	for i := range b.results {
		b.results[i] = false
	}
	b.next = 0
	b.filled = false
}
