package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"clientops-controlplane/pkg/config"
	"clientops-controlplane/pkg/db"
	"clientops-controlplane/pkg/featureflags"
	"clientops-controlplane/pkg/gen"
	"clientops-controlplane/pkg/hashistack/secretmanager"
	"clientops-controlplane/pkg/logger"
	"clientops-controlplane/pkg/otelcol"
	"clientops-controlplane/pkg/profiling"
	"clientops-controlplane/pkg/redis"
	"clientops-controlplane/pkg/sequence"
	"clientops-controlplane/pkg/task"
	"clientops-controlplane/services/campaign"
	"clientops-controlplane/services/continuity"
	"clientops-controlplane/services/notification"
)

// The worker delivers lifecycle notifications and applies auto-tracked
// campaign progress. Schema migration belongs to the controlplane binary.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		task.Server,
		featureflags.Module,
		continuity.Module,
		campaign.Module,
		campaign.WorkerModule,
		notification.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})
