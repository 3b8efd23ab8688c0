package bootstrap

import (
	"context"
	"testing"

	"clientops-controlplane/pkg/config"
	"clientops-controlplane/services/campaign"
	"clientops-controlplane/services/continuity"
	"clientops-controlplane/services/guarantee"
	"clientops-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestMigrateCreatesTables(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(ServiceParams{DB: db})

	require.NoError(t, svc.Migrate(context.Background()))

	m := db.Migrator()
	for _, model := range []any{
		&continuity.Plan{},
		&guarantee.Template{}, &guarantee.Instance{}, &guarantee.Milestone{},
		&campaign.Campaign{}, &campaign.CriteriaTemplate{}, &campaign.Enrollment{}, &campaign.Progress{},
	} {
		require.True(t, m.HasTable(model), "%T", model)
	}
	require.True(t, m.HasIndex(&campaign.Campaign{}, "idx_campaign_slug"))
}

func TestMigrateIsIdempotent(t *testing.T) {
	svc := NewService(ServiceParams{DB: testutil.NewTestDB(t)})

	require.NoError(t, svc.Migrate(context.Background()))
	require.NoError(t, svc.Migrate(context.Background()))
}

func TestMigrateOnStartHonoursConfig(t *testing.T) {
	for name, enabled := range map[string]bool{"enabled": true, "disabled": false} {
		t.Run(name, func(t *testing.T) {
			db := testutil.NewTestDB(t)
			cfg := &config.Config{}
			cfg.Database.AutoMigrate = enabled

			lc := fxtest.NewLifecycle(t)
			migrateOnStart(lc, cfg, NewService(ServiceParams{DB: db}))
			lc.RequireStart()
			require.Equal(t, enabled, db.Migrator().HasTable(&continuity.Plan{}))
			lc.RequireStop()
		})
	}
}
