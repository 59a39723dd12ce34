package worker

import (
	"time"
)

// DefaultRetryBaseDelay is the linear backoff step used when none is configured.
const DefaultRetryBaseDelay = 5 * time.Second

// RetryPolicy is linear backoff: attempt n waits BaseDelay*n.
type RetryPolicy struct {
	BaseDelay time.Duration
}

// ShouldRetry reports whether the failure that produced attempt (the job's
// consecutive failure count) may be followed by another attempt.
func (r RetryPolicy) ShouldRetry(attempt, maxRetries int) bool {
	return attempt >= 1 && attempt <= maxRetries
}

// DelayFor returns the wait before retrying after failure number attempt.
func (r RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := r.BaseDelay
	if base < 0 {
		base = 0
	}
	return base * time.Duration(attempt)
}
