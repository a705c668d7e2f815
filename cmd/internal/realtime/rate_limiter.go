package realtime

import "time"

// RateLimiter caps inbound client envelopes per connection using a sliding window.
// It is owned by a single reader goroutine and is not safe for concurrent use.
type RateLimiter struct {
	limit  int
	window time.Duration

	// ring holds the last `limit` accepted timestamps; head is the oldest.
	ring []time.Time
	head int
	size int
}

// NewRateLimiter returns a limiter allowing limit events per window.
// Non-positive arguments fall back to the per-connection defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		ring:   make([]time.Time, limit),
	}
}

// Allow records an event at now and reports whether it fits in the window.
// Rejected events are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.expire(now)
	if r.size == r.limit {
		return false
	}
	r.ring[(r.head+r.size)%r.limit] = now
	r.size++
	return true
}

// RetryAfter reports how long until the next event would be accepted.
func (r *RateLimiter) RetryAfter(now time.Time) time.Duration {
	r.expire(now)
	if r.size < r.limit {
		return 0
	}
	return r.ring[r.head].Add(r.window).Sub(now)
}

func (r *RateLimiter) expire(now time.Time) {
	cutoff := now.Add(-r.window)
	for r.size > 0 && !r.ring[r.head].After(cutoff) {
		r.ring[r.head] = time.Time{}
		r.head = (r.head + 1) % r.limit
		r.size--
	}
}
