package campaign

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
	g := admin.Group("/campaigns")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.POST("/:id/clone", h.clone)
	g.POST("/:id/status", h.changeStatus)

	g.GET("/:id/criteria", h.listCriteria)
	g.POST("/:id/criteria", h.createCriterion)
	g.PUT("/:id/criteria/:criterionId", h.updateCriterion)
	g.DELETE("/:id/criteria/:criterionId", h.deleteCriterion)

	g.GET("/:id/enrollments", h.listEnrollments)
	g.POST("/:id/enrollments", h.enroll)
	g.GET("/:id/enrollments/:enrollmentId", h.getEnrollment)
	g.PUT("/:id/enrollments/:enrollmentId/progress/:progressId", h.verifyProgress)
	g.POST("/:id/enrollments/:enrollmentId/resolve", h.resolve)
	g.POST("/:id/enrollments/:enrollmentId/close", h.close)

	admin.POST("/tracking-events", h.trackingEvent)
}

// RegisterClient mounts the email-authorized client routes.
func (h *Handler) RegisterClient(api *gin.RouterGroup) {
	g := api.Group("/campaigns/enrollments")
	g.GET("/:enrollmentId", h.clientView)
	g.POST("/:enrollmentId/progress/:progressId", h.submitProgress)
	g.POST("/:enrollmentId/choose-payout", h.choosePayout)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
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

func (h *Handler) list(c *gin.Context) {
	var req ListCampaignsRequest
	if !bindQuery(c, &req) {
		return
	}
	out, err := h.svc.ListCampaigns(c.Request.Context(), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) create(c *gin.Context) {
	var req CreateCampaignRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.CreateCampaign(c.Request.Context(), auth.AdminID(c), req)
	respond(c, http.StatusCreated, out, err)
}

func (h *Handler) get(c *gin.Context) {
	out, err := h.svc.GetCampaign(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) update(c *gin.Context) {
	var req UpdateCampaignRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.UpdateCampaign(c.Request.Context(), c.Param("id"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) clone(c *gin.Context) {
	var req CloneCampaignRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.CloneCampaign(c.Request.Context(), auth.AdminID(c), c.Param("id"), req)
	respond(c, http.StatusCreated, out, err)
}

func (h *Handler) changeStatus(c *gin.Context) {
	var req ChangeStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.ChangeStatus(c.Request.Context(), c.Param("id"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) listCriteria(c *gin.Context) {
	out, err := h.svc.ListCriteria(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) createCriterion(c *gin.Context) {
	var req CriterionInput
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.CreateCriterion(c.Request.Context(), c.Param("id"), req)
	respond(c, http.StatusCreated, out, err)
}

func (h *Handler) updateCriterion(c *gin.Context) {
	var req UpdateCriterionRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.UpdateCriterion(c.Request.Context(), c.Param("id"), c.Param("criterionId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) deleteCriterion(c *gin.Context) {
	if err := h.svc.DeleteCriterion(c.Request.Context(), c.Param("id"), c.Param("criterionId")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listEnrollments(c *gin.Context) {
	var req ListEnrollmentsRequest
	if !bindQuery(c, &req) {
		return
	}
	out, err := h.svc.ListEnrollments(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) enroll(c *gin.Context) {
	var req EnrollRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.Enroll(c.Request.Context(), c.Param("id"), req)
	respond(c, http.StatusCreated, out, err)
}

func (h *Handler) getEnrollment(c *gin.Context) {
	out, err := h.svc.GetEnrollment(c.Request.Context(), c.Param("id"), c.Param("enrollmentId"))
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) verifyProgress(c *gin.Context) {
	var req VerifyProgressRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.VerifyProgress(c.Request.Context(), auth.AdminID(c), c.Param("id"), c.Param("enrollmentId"), c.Param("progressId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) resolve(c *gin.Context) {
	var req ResolveEnrollmentRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.ResolvePayout(c.Request.Context(), auth.AdminID(c), c.Param("id"), c.Param("enrollmentId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) close(c *gin.Context) {
	var req CloseEnrollmentRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.CloseEnrollment(c.Request.Context(), auth.AdminID(c), c.Param("id"), c.Param("enrollmentId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) trackingEvent(c *gin.Context) {
	var req TrackingEvent
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.QueueTrackingEvent(c.Request.Context(), req)
	respond(c, http.StatusAccepted, out, err)
}

func (h *Handler) clientView(c *gin.Context) {
	var req ClientAccess
	if !bindQuery(c, &req) {
		return
	}
	out, err := h.svc.GetClientEnrollment(c.Request.Context(), c.Param("enrollmentId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) submitProgress(c *gin.Context) {
	var req SubmitProgressRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.SubmitProgress(c.Request.Context(), c.Param("enrollmentId"), c.Param("progressId"), req)
	respond(c, http.StatusOK, out, err)
}

func (h *Handler) choosePayout(c *gin.Context) {
	var req ChoosePayoutRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc.ChoosePayout(c.Request.Context(), c.Param("enrollmentId"), req)
	respond(c, http.StatusOK, out, err)
}
