// Package retry runs gateway calls under a bounded exponential backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how long a call may be attempted.
type Policy struct {
	MaxAttempts     int           // Total attempts including the first
	AttemptTimeout  time.Duration // Deadline for a single attempt; 0 disables it
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns three attempts, 30s per attempt, 500ms..10s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		AttemptTimeout:  30 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do calls op until it succeeds, returns an error rejected by retryable, the
// attempt budget runs out, or ctx is done. A nil retryable retries every error.
// The last error from op is returned unwrapped.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0 // bounded by attempts instead

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	operation := func() error {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, policy)
}
