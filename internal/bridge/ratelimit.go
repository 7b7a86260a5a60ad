package bridge

import (
	"sync"
	"time"
)

// Upgrade rate limiting, keyed by source host.
const (
	rateWindow = 60 * time.Second
	rateLimit  = 10
)

// rateLimiter is a sliding-window counter of upgrade attempts per source
// host. Mutated only by the listener goroutines; one short-lived lock.
type rateLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newRateLimiter(window time.Duration, limit int) *rateLimiter {
	return &rateLimiter{
		window:   window,
		limit:    limit,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records one attempt from host and reports whether it is within the
// window cap.
func (l *rateLimiter) Allow(host string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.attempts[host][:0]
	for _, t := range l.attempts[host] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.attempts[host] = kept
		return false
	}
	l.attempts[host] = append(kept, now)
	return true
}
