// Package retry waits for backing services that may still be starting when
// the process boots.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	DefaultAttempts = 5
	DefaultDelay    = 3 * time.Second
)

// Connect calls op until it succeeds or attempts are exhausted, sleeping delay
// between tries. Each failure is logged as a warning against name.
func Connect[T any](ctx context.Context, name string, attempts uint, delay time.Duration, op func() (T, error)) (T, error) {
	try := 0
	return backoff.Retry(ctx,
		func() (T, error) {
			try++
			return op()
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			zap.L().Warn(name+" not ready, retrying",
				zap.Int("attempt", try),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
}

// Ping is Connect for operations that only report readiness.
func Ping(ctx context.Context, name string, attempts uint, delay time.Duration, ping func() error) error {
	_, err := Connect(ctx, name, attempts, delay, func() (struct{}, error) {
		return struct{}{}, ping()
	})
	return err
}
