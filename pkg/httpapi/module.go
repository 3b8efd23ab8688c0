package httpapi

import (
	"clientops-controlplane/pkg/config"
	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/health"
	"clientops-controlplane/pkg/metrics"
	"clientops-controlplane/pkg/middleware"
	"clientops-controlplane/pkg/validation"
	"clientops-controlplane/services/campaign"
	"clientops-controlplane/services/continuity"
	"clientops-controlplane/services/guarantee"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
)

type Params struct {
	fx.In
	Config         *config.Config
	TracerProvider trace.TracerProvider
	Health         health.HealthService
	Admin          gin.HandlerFunc `name:"admin"`

	Guarantee  *guarantee.Handler
	Campaign   *campaign.Handler
	Continuity *continuity.Handler
}

// NewEngine mounts client routes under /api and admin routes under /api/admin.
func NewEngine(p Params) *gin.Engine {
	r := newEngine(p.Config, p.TracerProvider, p.Health)

	api := r.Group("/api")
	p.Guarantee.RegisterClient(api)
	p.Campaign.RegisterClient(api)

	admin := api.Group("/admin", p.Admin)
	p.Guarantee.RegisterAdmin(admin)
	p.Campaign.RegisterAdmin(admin)
	p.Continuity.RegisterAdmin(admin)

	return r
}

func newEngine(cfg *config.Config, tp trace.TracerProvider, hs health.HealthService) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	validation.InstallGin()

	r := gin.New()
	r.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.AppName, otelgin.WithTracerProvider(tp)),
		middleware.RequestLog(),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Error(),
	)

	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("route not found", nil))
	})

	r.GET("/healthz", hs.Liveness)
	r.GET("/readyz", hs.Readiness)
	r.GET("/metrics", metrics.Handler())

	return r
}
