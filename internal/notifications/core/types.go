// Package core provides the alert notification infrastructure shared by the
// API service and the notify worker: the bounded dispatcher pool, the
// severity-driven simulated channel, retry backoff and the SQS publisher
// used for queue-driven delivery.
package core

import (
	"errors"
	"time"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// AlertRetryPolicy paces re-dispatch of FAILED alerts by the sweeper and the
// notify worker.
var AlertRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     30 * time.Second,
	MaxDelay:      15 * time.Minute,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}

// RetryDue reports whether an alert whose last attempt was at lastAttempt,
// after retryCount failures, may be re-dispatched at now.
func RetryDue(policy RetryPolicy, retryCount int, lastAttempt *time.Time, now time.Time) bool {
	if policy.MaxAttempts > 0 && retryCount >= policy.MaxAttempts {
		return false
	}
	if lastAttempt == nil {
		return true
	}
	return !now.Before(lastAttempt.Add(CalculateNextRetry(policy, retryCount-1)))
}
