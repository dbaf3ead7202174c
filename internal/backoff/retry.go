package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when every attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// permanent wraps an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Retry returns it unwrapped immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a permanent error, the policy's
// attempts run out, or ctx is done. A policy without MaxAttempts gets one attempt.
func Retry[T any](ctx context.Context, policy Policy, fn func(attempt int) (T, error)) (T, error) {
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

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		var p *permanent
		if errors.As(err, &p) {
			return zero, p.err
		}
		lastErr = err

		if attempt < attempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}

	return zero, errors.Join(ErrMaxAttemptsExhausted, lastErr)
}
