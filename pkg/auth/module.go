package auth

import (
	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(
		NewVerifier,
		NewEnforcer,
		fx.Annotate(newAdminMiddleware, fx.ResultTags(`name:"admin"`)),
	),
)

func newAdminMiddleware(v *Verifier, e *casbin.Enforcer) gin.HandlerFunc {
	return Admin(v, e)
}
