// Package retry computes when a build that lost the project lock is put
// back on the queue.
package retry

import (
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
)

// Policy is the requeue schedule. The zero value never retries.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultPolicy is used until configuration is applied.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// FromConfig builds a policy from the queue.retry block. Unknown modes and
// non-positive delays keep the defaults; Initial never exceeds Max.
func FromConfig(c config.RetryConfig) Policy {
	p := DefaultPolicy()
	if mode := config.NormalizeRetryBackoff(c.Backoff); mode != "" {
		p.Mode = mode
	}
	if c.InitialDelay > 0 {
		p.Initial = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		p.Max = c.MaxDelay
	}
	if c.MaxRetries >= 0 {
		p.MaxRetries = c.MaxRetries
	}
	p.Initial = min(p.Initial, p.Max)
	return p
}

// Next returns the wait before retry n (1-based) and whether retry n is
// allowed at all.
func (p Policy) Next(n int) (time.Duration, bool) {
	if n < 1 || n > p.MaxRetries {
		return 0, false
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffExponential:
		d = p.Initial
		for i := 1; i < n && d < p.Max; i++ {
			d *= 2
		}
	default:
		d = time.Duration(n) * p.Initial
	}
	return min(d, p.Max), true
}
