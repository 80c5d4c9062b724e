package scrape

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a transient failure is retried. It is configured
// per extraction strategy.
type RetryPolicy struct {
	// MaxAttempts counts total invocations, the first attempt included.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// OnRetry, when set, observes each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// WithRetry invokes op until it succeeds, fails with a non-transient error, or the
// policy runs out of attempts. The last error is returned as-is so callers still see
// its kind and status code.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	maxAttempts := policy.attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == maxAttempts {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		if !sleep(ctx, policy.Delay) {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
