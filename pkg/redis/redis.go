package redis

import (
	"context"
	"fmt"

	"clientops-controlplane/pkg/config"
	"clientops-controlplane/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// Options maps the REDIS config block onto client options.
func Options(c *config.Config) *redis.Options {
	return &redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	}
}

// New returns a client once redis answers PING. Sequences, the asynq queue and
// readiness all share it.
func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(Options(c))

	ctx := context.Background()
	if err := retry.Ping(ctx, "redis", retry.DefaultAttempts, retry.DefaultDelay, func() error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", c.Redis.Addr, err)
	}
	zap.L().Info("redis connected", zap.String("addr", c.Redis.Addr), zap.Int("db", c.Redis.DB))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
	return rdb, nil
}
