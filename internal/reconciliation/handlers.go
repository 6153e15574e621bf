package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kycdesk/kycdesk/internal/logging"
)

// Handler exposes reconciliation to admins.
type Handler struct {
	runner *Runner
}

func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// RegisterAdminRoutes sets up reconciliation routes on an admin group.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/reconciliation", h.Last)
	r.POST("/reconciliation", h.Run)
}

// Last handles GET /v1/admin/reconciliation
func (h *Handler) Last(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"report": h.runner.Last()})
}

// Run handles POST /v1/admin/reconciliation
func (h *Handler) Run(c *gin.Context) {
	report, err := h.runner.Run(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Reconciliation failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
