package continuity

import (
	"net/http"

	"clientops-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterAdmin mounts the plan routes under an already-authenticated group.
func (h *Handler) RegisterAdmin(admin *gin.RouterGroup) {
	g := admin.Group("/continuity-plans")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
}

func (h *Handler) list(c *gin.Context) {
	plans, err := h.svc.ListPlans(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (h *Handler) create(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}
	p, err := h.svc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": p})
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.svc.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

func (h *Handler) update(c *gin.Context) {
	var req UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}
	p, err := h.svc.UpdatePlan(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}
