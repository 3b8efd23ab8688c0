package guarantee

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"clientops-controlplane/pkg/auth"
	"clientops-controlplane/pkg/middleware"
	"clientops-controlplane/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validation.InstallGin()

	r := gin.New()
	r.Use(middleware.Error())

	h := NewHandler(f.svc)
	api := r.Group("/api")
	h.RegisterClient(api)
	h.RegisterAdmin(api.Group("/admin", auth.WithAdmin("admin-9")))
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	} `json:"error"`
}

func TestHandlerCreateTemplateRecordsAdmin(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	w := do(r, http.MethodPost, "/api/admin/guarantee-templates", map[string]any{
		"name":                "Launch guarantee",
		"guarantee_type":      "conditional",
		"duration_days":       45,
		"default_payout_type": "credit",
		"payout_amount_type":  "full",
		"conditions": []map[string]any{
			{"id": "launch", "label": "Launch site", "verification_method": "admin_verified"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var out struct {
		Data Template `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "admin-9", out.Data.CreatedBy)
	require.True(t, out.Data.IsActive)
}

func TestHandlerRejectsInvalidBody(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	w := do(r, http.MethodPost, "/api/admin/guarantee-templates", map[string]any{
		"name":                "x",
		"guarantee_type":      "sometimes",
		"duration_days":       45,
		"default_payout_type": "credit",
		"payout_amount_type":  "full",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "validation_failed", body.Error.Code)
	require.Equal(t, "guarantee_type", body.Error.Details[0].Field)

	w = do(r, http.MethodPost, "/api/admin/guarantee-templates", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerClientViewEmailMismatch(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	inst := f.instance(t, f.conditionalTemplate(t).ID)

	w := do(r, http.MethodGet, "/api/guarantees/"+inst.ID+"?client_email=eve@example.com", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "email does not match guarantee record", body.Error.Message)

	w = do(r, http.MethodGet, "/api/guarantees/"+inst.ID+"?client_email=jane@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerResolveConflict(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	inst := f.instance(t, f.conditionalTemplate(t).ID)
	f.expectNotifications(1)

	w := do(r, http.MethodPost, "/api/admin/guarantees/"+inst.ID+"/resolve", map[string]any{"resolution": "voided"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/admin/guarantees/"+inst.ID+"/resolve", map[string]any{"resolution": "voided"})
	require.Equal(t, http.StatusConflict, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Cannot resolve guarantee with status: voided", body.Error.Message)
}

func TestHandlerListInstances(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	tmpl := f.conditionalTemplate(t)
	f.instance(t, tmpl.ID)
	f.instance(t, tmpl.ID)

	w := do(r, http.MethodGet, "/api/admin/guarantees?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Data  []Instance `json:"data"`
		Total int64      `json:"total"`
		Limit int        `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	require.Equal(t, int64(2), out.Total)
	require.Equal(t, 1, out.Limit)

	w = do(r, http.MethodGet, "/api/admin/guarantees?limit=1000", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerDeleteInstance(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	inst := f.instance(t, f.conditionalTemplate(t).ID)

	w := do(r, http.MethodDelete, "/api/admin/guarantees/"+inst.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/api/admin/guarantees/"+inst.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
