package middleware

import (
	"errors"
	"net/http"

	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error a handler attached with c.Error. BaseErrors keep
// their status and message; anything else is logged and becomes a generic 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err

		var be errutil.BaseError
		if errors.As(err, &be) {
			if be.Code.HTTPStatus() >= http.StatusInternalServerError {
				logger.FromContext(c.Request.Context()).Error("request failed",
					zap.String("path", c.FullPath()),
					zap.String("code", string(be.Code)),
					zap.Error(err),
				)
			}
			c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		logger.FromContext(c.Request.Context()).Error("unhandled error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		internal := errutil.Internal("internal server error", err).(errutil.BaseError)
		c.AbortWithStatusJSON(http.StatusInternalServerError, internal.JSON())
	}
}
