// Package resilience provides retry policies for upstream connections.
package resilience

import "time"

// Backoff is an exponential backoff policy. The delay before attempt n
// (1-based) is Initial × Factor^(n−1). Attempts beyond MaxAttempts are not
// permitted.
type Backoff struct {
	Initial     time.Duration
	Factor      float64
	MaxAttempts int
}

// Default is the reconnect policy for streaming upstreams: 1 s, 2 s, 4 s,
// 8 s, 16 s across five attempts.
var Default = Backoff{
	Initial:     time.Second,
	Factor:      2,
	MaxAttempts: 5,
}

// Allowed reports whether attempt n (1-based) is within the policy budget.
func (b Backoff) Allowed(attempt int) bool {
	return attempt >= 1 && attempt <= b.MaxAttempts
}

// Delay returns the wait before attempt n (1-based). Attempt 1 waits the
// full Initial delay; callers that want an immediate first try should not
// consult the policy for attempt 0.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
	}
	return time.Duration(d)
}
