package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/johndosdos/huddle/internal/metrics"
)

// RetryPolicy bounds how often a transient storage error is retried.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
}

// DefaultRetryPolicy retries three times starting at 50ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Base: 50 * time.Millisecond}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryPolicy.Base
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(2*time.Second, b)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// do runs fn, retrying it with backoff while it fails transiently.
func (p RetryPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && isTransient(err) {
			slog.WarnContext(ctx, "transient store error",
				"op", op,
				"attempt", attempt,
				"error", err)
			metrics.StoreRetries.WithLabelValues(op).Inc()
			return retry.RetryableError(err)
		}
		return err
	})
}
