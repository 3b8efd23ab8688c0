package bootstrap

import (
	"context"
	"fmt"

	"clientops-controlplane/services/campaign"
	"clientops-controlplane/services/continuity"
	"clientops-controlplane/services/guarantee"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// Models lists every table the control plane owns, in dependency order.
func Models() []any {
	models := make([]any, 0, 8)
	models = append(models, continuity.Models()...)
	models = append(models, guarantee.Models()...)
	models = append(models, campaign.Models()...)
	return models
}

func (s *Service) Migrate(ctx context.Context) error {
	models := Models()
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		zap.L().Error("[bootstrap] schema migration failed", zap.Error(err))
		return fmt.Errorf("migrate schema: %w", err)
	}

	zap.L().Info("[bootstrap] schema migrated", zap.Int("tables", len(models)))
	return nil
}
