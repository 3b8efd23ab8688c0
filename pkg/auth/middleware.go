package auth

import (
	"strings"

	"clientops-controlplane/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	adminIDKey = "auth.admin_id"
	roleKey    = "auth.role"
)

// Admin rejects requests without a valid bearer token (401) and requests the
// policy does not allow for the token's role (403).
func Admin(v *Verifier, e *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			_ = c.Error(errutil.Unauthorized("missing bearer token", nil))
			c.Abort()
			return
		}

		claims, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			_ = c.Error(errutil.Unauthorized("invalid bearer token", err))
			c.Abort()
			return
		}

		allowed, err := e.Enforce(claims.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			zap.L().Error("policy evaluation failed", zap.Error(err))
			_ = c.Error(errutil.Internal("failed to authorize request", err))
			c.Abort()
			return
		}
		if !allowed {
			_ = c.Error(errutil.Forbidden("not allowed", nil))
			c.Abort()
			return
		}

		c.Set(adminIDKey, claims.Subject)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// AdminID returns the authenticated admin's id, or "" outside admin routes.
func AdminID(c *gin.Context) string {
	return c.GetString(adminIDKey)
}

// WithAdmin marks the request as authenticated by adminID. Tests use it in
// place of Admin.
func WithAdmin(adminID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(adminIDKey, adminID)
		c.Next()
	}
}
