// Package queue implements the durable delayed job store: time ordered jobs,
// deduplication by key, best-effort cancellation and leased claiming so that
// several workers can poll the same store.
package queue

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrLeaseLost is returned when a worker completes or fails a job it no
// longer owns, e.g. because its lease expired and another worker reclaimed it.
var ErrLeaseLost = errors.New("job lease lost")

// ErrNoDedupKey is returned by Upsert when called without a dedup key.
var ErrNoDedupKey = errors.New("upsert requires a dedup key")

// RetryPolicy controls how often and how late a failed job is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BaseDelay:   30 * time.Second,
		MaxDelay:    10 * time.Minute,
	}
}

// Next reports the delay before the next attempt of a job that has been
// attempted attempts times. It returns false once the attempts are used up.
func (p RetryPolicy) Next(attempts int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return 0, false
	}
	return calculateBackoff(attempts, p.BaseDelay, p.MaxDelay), true
}

// calculateBackoff computes an exponential delay with full jitter.
func calculateBackoff(retryCount int, baseDelay, maxDelay time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^62 already overflows any sane delay.
	if retryCount > 62 {
		retryCount = 62
	}

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(retryCount)))
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}

	// Full jitter: uniformly random between 0 and delay.
	return time.Duration(rand.Float64() * float64(delay))
}
