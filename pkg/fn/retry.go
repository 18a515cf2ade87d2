package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts is a bounded-retry policy: max attempts, exponential backoff
// with jitter, and a predicate deciding which errors are worth repeating.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool

	// RetryIf filters retryable errors; nil retries everything.
	RetryIf func(error) bool

	// Sleep is the clock seam. nil uses a real context-aware sleep; tests
	// inject a recorder so policies are verified without wall time.
	Sleep func(context.Context, time.Duration) error
}

// DefaultRetry provides sensible provider-call defaults.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Jitter:      true,
}

func realSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Retry runs f up to MaxAttempts times. Non-retryable errors and context
// cancellation stop immediately; the last error is returned on exhaustion.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultRetry.MaxAttempts
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = realSleep
	}

	var result Result[T]
	wait := opts.InitialWait

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		_, err := result.Unwrap()
		if opts.RetryIf != nil && !opts.RetryIf(err) {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		d := wait
		if opts.Jitter {
			d = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && d > opts.MaxWait {
			d = opts.MaxWait
		}
		if err := sleep(ctx, d); err != nil {
			return Err[T](err)
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}
