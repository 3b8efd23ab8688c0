package guarantee

import (
	"net/http"

	"clientops-controlplane/pkg/auth"
	"clientops-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterAdmin(admin *gin.RouterGroup) {
	templates := admin.Group("/guarantee-templates")
	templates.GET("", h.listTemplates)
	templates.POST("", h.createTemplate)
	templates.GET("/:id", h.getTemplate)
	templates.PUT("/:id", h.updateTemplate)

	g := admin.Group("/guarantees")
	g.GET("", h.listInstances)
	g.POST("", h.createInstance)
	g.GET("/:id", h.getInstance)
	g.DELETE("/:id", h.deleteInstance)
	g.PUT("/:id/milestones/:conditionId", h.verifyMilestone)
	g.POST("/:id/resolve", h.resolve)
	g.POST("/:id/evaluate", h.evaluate)
	g.POST("/:id/payout", h.payout)
}

// RegisterClient mounts the routes a client reaches without an admin token.
// Every one of them authorizes by email match in the service.
func (h *Handler) RegisterClient(api *gin.RouterGroup) {
	g := api.Group("/guarantees")
	g.GET("/:id", h.clientView)
	g.POST("/:id/milestones/:conditionId/evidence", h.submitEvidence)
	g.POST("/:id/milestones/:conditionId/evidence-upload", h.evidenceUpload)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return false
	}
	return true
}

func respond(c *gin.Context, code int, data any, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(code, gin.H{"data": data})
}

func (h *Handler) listTemplates(c *gin.Context) {
	var req ListTemplatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}
	out, err := h.svc.ListTemplates(c.Request.Context(), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) createTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.CreateTemplate(c.Request.Context(), auth.AdminID(c), req)
	respond(c, http.StatusCreated, out, err)
}

func (h *Handler) getTemplate(c *gin.Context) {
	out, err := h.svc.GetTemplate(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) updateTemplate(c *gin.Context) {
	var req UpdateTemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.UpdateTemplate(c.Request.Context(), c.Param("id"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) listInstances(c *gin.Context) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}
	out, err := h.svc.ListInstances(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) createInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.CreateInstance(c.Request.Context(), req)
	respond(c, http.StatusCreated, out, err)
}

func (h *Handler) getInstance(c *gin.Context) {
	out, err := h.svc.GetInstance(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) deleteInstance(c *gin.Context) {
	if err := h.svc.DeleteInstance(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) verifyMilestone(c *gin.Context) {
	var req VerifyMilestoneRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.VerifyMilestone(c.Request.Context(), auth.AdminID(c), c.Param("id"), c.Param("conditionId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) resolve(c *gin.Context) {
	var req ResolveRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.Resolve(c.Request.Context(), auth.AdminID(c), c.Param("id"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) evaluate(c *gin.Context) {
	out, err := h.svc.Evaluate(c.Request.Context(), auth.AdminID(c), c.Param("id"))
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) payout(c *gin.Context) {
	var req PayoutRequest
	// An empty body means "use the instance's payout type".
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.ResolvePayout(c.Request.Context(), auth.AdminID(c), c.Param("id"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) clientView(c *gin.Context) {
	var req ClientAccess
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}
	out, err := h.svc.GetClientInstance(c.Request.Context(), c.Param("id"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) submitEvidence(c *gin.Context) {
	var req SubmitEvidenceRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.SubmitEvidence(c.Request.Context(), c.Param("id"), c.Param("conditionId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) evidenceUpload(c *gin.Context) {
	var req EvidenceUploadRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.EvidenceUploadURL(c.Request.Context(), c.Param("id"), c.Param("conditionId"), req)
	respond(c, http.StatusOK, out, err)
}
