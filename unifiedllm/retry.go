package unifiedllm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often and how patiently a failed model call is
// repeated. Delays grow geometrically from BaseDelay up to MaxDelay.
type RetryPolicy struct {
	// MaxRetries counts repeats after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each delay uniformly over [0.5d, 1.5d).
	Jitter  bool
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy allows two repeats starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Backoff returns the delay before repeat n (0-indexed).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := float64(p.BaseDelay)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < n && d < float64(p.MaxDelay); i++ {
		d *= mult
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// retryAfterHinter is implemented by errors that carry a server-provided
// Retry-After value.
type retryAfterHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

// sleep waits for d or until ctx ends. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn until it succeeds, returns an error IsRetryable rejects,
// or the policy is exhausted. A Retry-After hint replaces the computed
// backoff; a hint longer than MaxDelay ends the retries at once.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Backoff(attempt)
		var hinter retryAfterHinter
		if errors.As(err, &hinter) {
			if hint, ok := hinter.RetryAfterHint(); ok {
				if policy.MaxDelay > 0 && hint > policy.MaxDelay {
					return zero, err
				}
				delay = hint
			}
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: serr}}
		}
	}
}
