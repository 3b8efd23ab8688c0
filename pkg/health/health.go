package health

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

// Readiness pings every wired dependency concurrently and answers 503 if any
// of them fails.
func (h *health) Readiness(c *gin.Context) {
	ctx := c.Request.Context()

	probes := make([]probe, 0, 2)
	if h.db != nil {
		probes = append(probes, probe{"database", func() error { return pingDB(ctx, h.db) }})
	}
	if h.redis != nil {
		probes = append(probes, probe{"redis", func() error { return h.redis.Ping(ctx).Err() }})
	}

	deps := make([]Dependency, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			deps[i] = check(p.name, p.ping)
			return nil
		})
	}
	_ = g.Wait()

	out := &Health{Status: StatusHealthy, Message: "OK", Deps: deps}
	code := http.StatusOK
	for _, d := range deps {
		if d.Status != StatusHealthy {
			out.Status = StatusUnhealthy
			out.Message = d.Name + " unavailable"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, out)
}

type probe struct {
	name string
	ping func() error
}

func check(name string, ping func() error) Dependency {
	if err := ping(); err != nil {
		return Dependency{Name: name, Status: StatusUnhealthy, Message: err.Error()}
	}
	return Dependency{Name: name, Status: StatusHealthy, Message: "OK"}
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
