package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func router(h HealthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	return r
}

func get(t *testing.T, r http.Handler, path string) (int, Health) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var out Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestLiveness(t *testing.T) {
	code, out := get(t, router(ProvideHealth(HealthParams{})), "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, out.Status)
}

func TestReadinessWithoutDependencies(t *testing.T) {
	code, out := get(t, router(ProvideHealth(HealthParams{})), "/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, out.Deps)
}

func TestReadinessDatabase(t *testing.T) {
	db := openDB(t)
	r := router(ProvideHealth(HealthParams{DB: db}))

	code, out := get(t, r, "/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out.Deps, 1)
	require.Equal(t, "database", out.Deps[0].Name)
	require.Equal(t, StatusHealthy, out.Deps[0].Status)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	code, out = get(t, r, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, StatusUnhealthy, out.Status)
	require.Equal(t, "database unavailable", out.Message)
}
