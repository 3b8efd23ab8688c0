package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clientops-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func run(t *testing.T, h gin.HandlerFunc, mw ...gin.HandlerFunc) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/x", h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestErrorRendersBaseError(t *testing.T) {
	w, body := run(t, func(c *gin.Context) {
		_ = c.Error(errutil.Conflict("Cannot resolve guarantee with status: voided", nil))
	}, Error())

	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "conflict", body.Error.Code)
	require.Equal(t, "Cannot resolve guarantee with status: voided", body.Error.Message)
}

func TestErrorHidesUnknownErrors(t *testing.T) {
	w, body := run(t, func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused"))
	}, Error())

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "internal", body.Error.Code)
	require.NotContains(t, w.Body.String(), "connection refused")
}

func TestErrorLeavesWrittenResponses(t *testing.T) {
	w, _ := run(t, func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"data": "ok"})
		_ = c.Error(errors.New("late"))
	}, Error())

	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestTimeoutSetsDeadline(t *testing.T) {
	var deadline bool
	w, _ := run(t, func(c *gin.Context) {
		_, deadline = c.Request.Context().Deadline()
		c.Status(http.StatusNoContent)
	}, RequestLog(), Timeout(time.Second))

	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, deadline)
}

func TestTimeoutDisabled(t *testing.T) {
	var deadline bool
	run(t, func(c *gin.Context) {
		_, deadline = c.Request.Context().Deadline()
		c.Status(http.StatusNoContent)
	}, Timeout(0))

	require.False(t, deadline)
}
