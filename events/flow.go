package events

import (
	"sync"

	"golang.org/x/time/rate"
)

type (
	// RateLimit is a per-event-type token bucket budget: Rate tokens per
	// second replenishment and Burst capacity.
	RateLimit struct {
		// Rate is the steady-state events per second.
		Rate float64
		// Burst is the bucket capacity; emissions beyond it fail fast.
		Burst int
	}

	// rateLimiter gates emission per event type. Types with an explicit
	// budget get their own limiter; remaining types share per-type limiters
	// built from the default budget. Types without any budget are
	// unlimited.
	rateLimiter struct {
		mu         sync.Mutex
		configured map[string]*rate.Limiter
		byType     map[string]*rate.Limiter
		def        *RateLimit
	}
)

func newRateLimiter(limits map[string]RateLimit, def *RateLimit) *rateLimiter {
	rl := &rateLimiter{
		configured: make(map[string]*rate.Limiter, len(limits)),
		byType:     make(map[string]*rate.Limiter),
		def:        def,
	}
	for t, l := range limits {
		rl.configured[t] = rate.NewLimiter(rate.Limit(l.Rate), l.Burst)
	}
	return rl
}

// allow consumes one token from the event type's bucket, reporting false
// when the budget is exhausted. Emission never queues on the limiter.
func (rl *rateLimiter) allow(eventType string) bool {
	rl.mu.Lock()
	lim, ok := rl.configured[eventType]
	if !ok {
		if rl.def == nil {
			rl.mu.Unlock()
			return true
		}
		lim, ok = rl.byType[eventType]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rl.def.Rate), rl.def.Burst)
			rl.byType[eventType] = lim
		}
	}
	rl.mu.Unlock()
	return lim.Allow()
}
