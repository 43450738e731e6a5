// Package retry wraps calls to flaky external services with bounded
// exponential backoff. The describe, generation and grading flows share one
// policy so transient LLM failures are handled the same way everywhere.
package retry

import (
	"context"
	"time"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts. A nil Retryable treats every error as transient.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// DefaultPolicy matches the configuration defaults: three attempts starting
// at one second, doubling up to thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Do invokes op until it succeeds, the attempt budget is exhausted, a
// non-retryable error occurs, or the context is cancelled. The last error is
// returned unwrapped so callers can inspect it with errors.Is/errors.As.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, err
		}

		if attempt == attempts {
			break
		}

		if err := sleep(ctx, policy.delay(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

// Run is Do for operations with no result value.
func Run(ctx context.Context, policy Policy, op func(context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	return err
}

func (p Policy) delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
