package compliance

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kycdesk/kycdesk/internal/auth"
	"github.com/kycdesk/kycdesk/internal/logging"
	"github.com/kycdesk/kycdesk/internal/validation"
)

// Handler provides HTTP handlers for the compliance alerts API.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new alerts handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up the public alert routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/alerts", h.List)
	r.GET("/alerts/:id", validation.AlertIDParamMiddleware(), h.Get)
}

// RegisterAdminRoutes sets up alert routes that require admin access.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/alerts/:id/resolve", validation.AlertIDParamMiddleware(), h.Resolve)
}

// List handles GET /v1/alerts
//
// severity: all (default), low, medium, high
// status: active (default), resolved, all
func (h *Handler) List(c *gin.Context) {
	severityParam := c.DefaultQuery("severity", "all")
	statusParam := c.DefaultQuery("status", "active")

	if errs := validation.Validate(
		validation.OneOf("severity", severityParam, "all", "low", "medium", "high"),
		validation.OneOf("status", statusParam, "all", "active", "resolved"),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}

	f := Filter{RecordID: c.Query("record_id"), Limit: parseIntQuery(c, "limit", 0)}
	if severityParam != "all" {
		sev := Severity(severityParam)
		f.Severity = &sev
	}
	if statusParam != "all" {
		st := Status(statusParam)
		f.Status = &st
	}

	alerts, err := h.engine.List(c.Request.Context(), f)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list alerts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Get handles GET /v1/alerts/:id
func (h *Handler) Get(c *gin.Context) {
	alert, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to get alert")
		return
	}
	c.JSON(http.StatusOK, alert)
}

// Resolve handles POST /v1/admin/alerts/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	alert, err := h.engine.Resolve(c.Request.Context(), c.Param("id"), auth.Reviewer(c))
	if err != nil {
		writeError(c, err, "Failed to resolve alert")
		return
	}
	c.JSON(http.StatusOK, alert)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Alert not found",
		})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "Alert is already resolved",
		})
	default:
		logging.L(c.Request.Context()).Error(fallback, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": fallback,
		})
	}
}

func parseIntQuery(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil && i > 0 {
			if i > 1000 {
				i = 1000
			}
			return i
		}
	}
	return defaultVal
}
