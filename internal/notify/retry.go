package notify

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy is the single retry policy for delivery failures: capped
// exponential backoff with a hard attempt limit. Retries materialize as
// the job moving back to pending with a delayed fire time, so they
// survive process restarts and spread across workers.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the dispatch contract: three attempts,
// one-minute base, capped at fifteen minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		MaxDelay:    15 * time.Minute,
	}
}

// Exhausted reports whether no attempts remain after the given attempt
// count.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Delay returns the backoff before attempt+1. attempt is 1-based: the
// delay after the first failed attempt is Delay(1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := retry.WithCappedDuration(p.MaxDelay, retry.NewExponential(p.BaseDelay))
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}

// Retryable decides whether a delivery error should re-enter the queue:
// only transient failures with attempts remaining.
func (p RetryPolicy) Retryable(err error, attempt int) bool {
	return err != nil && IsTransient(err) && !p.Exhausted(attempt)
}
