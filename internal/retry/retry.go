package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/DeafMist/opportunity-indexer/internal/config"
)

// Do runs op with exponential backoff bounded by policy. Errors wrapped with
// backoff.Permanent stop immediately and are returned unwrapped.
func Do[T any](ctx context.Context, policy config.Retry, log *slog.Logger, what string, op backoff.Operation[T]) (T, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Reset()

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(attempts)),
	}
	if log != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("retrying", slog.String("op", what), slog.Duration("wait", wait), slog.Any("err", err))
		}))
	}

	return backoff.Retry(ctx, op, opts...)
}
