package task

import (
	"context"
	"fmt"

	"clientops-controlplane/pkg/config"
	"clientops-controlplane/pkg/retry"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client lets a process enqueue tasks over the shared redis client.
var Client = fx.Module("asynq.client",
	fx.Provide(NewClient, NewEnqueuer),
)

func NewClient(lc fx.Lifecycle, rdb *redis.Client) (*asynq.Client, error) {
	client := asynq.NewClientFromRedisClient(rdb)
	if err := retry.Ping(context.Background(), "asynq", retry.DefaultAttempts, retry.DefaultDelay, client.Ping); err != nil {
		return nil, fmt.Errorf("connect asynq: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// Server runs the worker loop. Handlers register themselves on the provided
// ServeMux before the server starts.
var Server = fx.Module("asynq.server",
	fx.Provide(asynq.NewServeMux),
	fx.Invoke(RunServer),
)

// ServerConfig weights the queues 6:3:1 and logs tasks that exhaust their
// retries.
func ServerConfig(cfg *config.Config) asynq.Config {
	return asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried < maxRetry {
				return
			}
			zap.L().Error("task failed permanently", zap.String("task_type", t.Type()), zap.Int("retried", retried), zap.Error(err))
		}),
	}
}

func RunServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		ServerConfig(cfg),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return fmt.Errorf("start asynq server: %w", err)
			}
			zap.L().Info("asynq server started", zap.String("addr", cfg.Redis.Addr), zap.Int("concurrency", cfg.Worker.Concurrency))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
