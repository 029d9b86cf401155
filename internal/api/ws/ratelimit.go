package ws

import (
	"sync"
	"time"
)

// rateLimiter is a sliding-window counter. Rejected events are not
// recorded, so a client sending 51 commands in a window sees exactly
// one rejection, not a lockout.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

// Allow reports whether one more event fits in the window and records
// it when it does.
func (r *rateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.events = kept
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
