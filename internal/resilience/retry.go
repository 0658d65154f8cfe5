package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Strob0t/OnboardForge/internal/domain"
)

// RetryPolicy bounds the exponential backoff used for transient failures.
type RetryPolicy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy is used when a zero policy is passed to Retry.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second}

// Retry runs op until it succeeds, returns a non-transient error, or the
// attempts are exhausted. Only errors matching domain.ErrTransient are retried;
// anything else is returned immediately.
func Retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	if p.Attempts == 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultRetryPolicy.Initial
	}
	if p.Max <= 0 {
		p.Max = DefaultRetryPolicy.Max
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.MaxInterval = p.Max

	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, domain.ErrTransient) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.Attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "transient failure, retrying", "error", err, "backoff", next)
		}),
	)
}
