package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"clientops-controlplane/pkg/auth"
	"clientops-controlplane/pkg/config"
	"clientops-controlplane/pkg/db"
	"clientops-controlplane/pkg/featureflags"
	"clientops-controlplane/pkg/gen"
	"clientops-controlplane/pkg/hashistack/secretmanager"
	"clientops-controlplane/pkg/hashistack/servicediscover"
	"clientops-controlplane/pkg/health"
	"clientops-controlplane/pkg/httpapi"
	"clientops-controlplane/pkg/logger"
	"clientops-controlplane/pkg/minio"
	"clientops-controlplane/pkg/otelcol"
	"clientops-controlplane/pkg/profiling"
	"clientops-controlplane/pkg/redis"
	"clientops-controlplane/pkg/sequence"
	"clientops-controlplane/pkg/server"
	"clientops-controlplane/pkg/task"
	"clientops-controlplane/services/bootstrap"
	"clientops-controlplane/services/campaign"
	"clientops-controlplane/services/continuity"
	"clientops-controlplane/services/guarantee"
)

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
		featureflags.Module,
		minio.Module,
		auth.Module,
		health.Module,
		bootstrap.Module,
		continuity.Module,
		guarantee.Module,
		campaign.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		servicediscover.Module,
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
