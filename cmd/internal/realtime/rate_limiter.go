package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound events per connection over a sliding window.
// Inbound traffic is liveness pings, so the window stays small and the
// timestamp slice never grows past limit.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, substituting the package defaults
// for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event observed at now is within the limit, and
// records it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	kept := r.stamps[:0]
	for _, t := range r.stamps {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.stamps = kept

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
