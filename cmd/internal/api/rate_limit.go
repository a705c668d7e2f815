package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// loginThrottle counts failed logins per client IP in a sliding window.
type loginThrottle struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

func newLoginThrottle(limit int, window time.Duration) *loginThrottle {
	return &loginThrottle{
		max:      limit,
		window:   window,
		failures: make(map[string][]time.Time),
	}
}

// blocked reports whether ip has exhausted its failures, and for how long.
func (t *loginThrottle) blocked(ip net.IP, now time.Time) (bool, time.Duration) {
	if t == nil || ip == nil || t.max <= 0 {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ip.String()
	recent := t.prune(key, now)
	if len(recent) < t.max {
		return false, 0
	}
	return true, recent[0].Add(t.window).Sub(now)
}

func (t *loginThrottle) fail(ip net.IP, now time.Time) {
	if t == nil || ip == nil || t.max <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ip.String()
	t.failures[key] = append(t.prune(key, now), now)
}

func (t *loginThrottle) reset(ip net.IP) {
	if t == nil || ip == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, ip.String())
}

// prune drops entries older than the window. Caller holds mu.
func (t *loginThrottle) prune(key string, now time.Time) []time.Time {
	cut := now.Add(-t.window)
	events := t.failures[key]
	dst := events[:0]
	for _, e := range events {
		if e.After(cut) {
			dst = append(dst, e)
		}
	}
	if len(dst) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = dst
	return dst
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
