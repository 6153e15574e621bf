package review

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kycdesk/kycdesk/internal/auth"
	"github.com/kycdesk/kycdesk/internal/validation"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// Handler serves the admin review API.
type Handler struct {
	controller *Controller
}

// NewHandler creates a review handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// RegisterAdminRoutes sets up review routes. The group must already be
// behind auth.RequireAdmin.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/queue", h.Queue)
	r.POST("/records/:id/decision", validation.RecordIDParamMiddleware(), h.Decide)
	r.POST("/records/:id/reopen", validation.RecordIDParamMiddleware(), h.Reopen)
}

// Queue handles GET /v1/admin/queue
func (h *Handler) Queue(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_query",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	records, err := h.controller.Queue(c.Request.Context(), limit)
	if err != nil {
		verification.WriteError(c, err, "Failed to load review queue")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// Decide handles POST /v1/admin/records/:id/decision
func (h *Handler) Decide(c *gin.Context) {
	var req verification.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	rec, err := h.controller.Decide(c.Request.Context(), c.Param("id"), req.Action, auth.Reviewer(c))
	if err != nil {
		verification.WriteError(c, err, "Failed to record decision")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Reopen handles POST /v1/admin/records/:id/reopen
func (h *Handler) Reopen(c *gin.Context) {
	var req verification.ReopenRequest
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	rec, err := h.controller.Reopen(c.Request.Context(), c.Param("id"), auth.Reviewer(c), validation.SanitizeString(req.Reason, 500))
	if err != nil {
		verification.WriteError(c, err, "Failed to reopen record")
		return
	}
	c.JSON(http.StatusOK, rec)
}
