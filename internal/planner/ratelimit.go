package planner

import (
	"sync"
	"time"
)

// RateLimiter tracks per-user-key events within a rolling one-minute
// window, confirmed against the original implementation's RateLimiter
// (app/utils/rate_limit.py): a deque of event timestamps per key, trimmed
// from the front on every check.
type RateLimiter struct {
	limit int

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewRateLimiter builds a limiter allowing limitPerMinute runs per key.
func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{limit: limitPerMinute, events: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it stays under the
// rolling limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	events := r.events[key]
	i := 0
	for i < len(events) && events[i].Before(windowStart) {
		i++
	}
	events = events[i:]

	if len(events) >= r.limit {
		r.events[key] = events
		return false
	}

	events = append(events, now)
	r.events[key] = events
	return true
}
