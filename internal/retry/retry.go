// internal/retry/retry.go
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how an operation is retried. The same policy type is used
// for quote lookups, swap builds, tranche sells and confirmation fallback
// checks, so retry behavior is tuned in one place.
type Policy struct {
	MaxTries     uint          // total attempts, 0 means unlimited within MaxElapsed
	InitialDelay time.Duration // first backoff interval
	MaxElapsed   time.Duration // hard cap on the whole retry loop, 0 disables
}

// Quick returns a policy suitable for short HTTP calls: a few attempts with
// sub-second spacing.
func Quick() Policy {
	return Policy{MaxTries: 3, InitialDelay: 500 * time.Millisecond, MaxElapsed: 10 * time.Second}
}

// Do runs op under p, backing off exponentially between attempts. Errors
// wrapped with Permanent abort immediately; context cancellation always
// aborts.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		bo.InitialInterval = p.InitialDelay
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(bo)}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	return backoff.Retry(ctx, op, opts...)
}

// Permanent marks err as non-retryable for Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
