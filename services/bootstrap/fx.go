package bootstrap

import (
	"clientops-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("bootstrap",
	fx.Provide(NewService),
	fx.Invoke(migrateOnStart),
)

// migrateOnStart applies the schema before the HTTP server starts accepting
// requests, unless DATABASE.AUTO_MIGRATE is off.
func migrateOnStart(lc fx.Lifecycle, cfg *config.Config, s *Service) {
	if !cfg.Database.AutoMigrate {
		zap.L().Info("[bootstrap] auto migration disabled")
		return
	}
	lc.Append(fx.Hook{OnStart: s.Migrate})
}
