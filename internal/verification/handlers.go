package verification

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kycdesk/kycdesk/internal/logging"
	"github.com/kycdesk/kycdesk/internal/pagination"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/validation"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// Handler provides HTTP handlers for the records API.
type Handler struct {
	service *Service
}

// NewHandler creates a new records handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the public record routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/records", h.Create)
	r.GET("/records", h.List)
	r.GET("/records/:id", validation.RecordIDParamMiddleware(), h.Get)
}

// RegisterAdminRoutes sets up record routes that require admin access.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.DELETE("/records/:id", validation.RecordIDParamMiddleware(), h.Delete)
}

// Create handles POST /v1/records
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
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

	rec, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		WriteError(c, err, "Failed to create record")
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Get handles GET /v1/records/:id
func (h *Handler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err, "Failed to get record")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Delete handles DELETE /v1/admin/records/:id
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		WriteError(c, err, "Failed to delete record")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": c.Param("id")})
}

// List handles GET /v1/records
//
// Query parameters: status and risk (comma-separated), document_type,
// from and to (RFC 3339 or YYYY-MM-DD), limit, cursor.
func (h *Handler) List(c *gin.Context) {
	filter, err := ParseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_query",
			"message": err.Error(),
		})
		return
	}
	limit := filter.Limit
	filter.Limit = limit + 1

	seq, err := h.service.Query(c.Request.Context(), filter)
	if err != nil {
		WriteError(c, err, "Failed to list records")
		return
	}
	records := make([]*Record, 0, limit)
	for r := range seq {
		records = append(records, r)
	}

	page := pagination.ComputePage(records, limit, func(r *Record) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"records":     page.Items,
		"count":       len(page.Items),
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

// ParseFilter reads record filters from the query string.
func ParseFilter(c *gin.Context) (Filter, error) {
	var f Filter

	for _, s := range splitList(c.Query("status")) {
		st := Status(s)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitList(c.Query("risk")) {
		cat, err := risk.ParseCategory(s)
		if err != nil {
			return f, err
		}
		f.Categories = append(f.Categories, cat)
	}
	if dt := c.Query("document_type"); dt != "" {
		f.DocumentType = DocumentType(dt)
		if !f.DocumentType.Valid() {
			return f, fmt.Errorf("unknown document type %q", dt)
		}
	}

	var err error
	if v := c.Query("from"); v != "" {
		if f.CreatedFrom, err = ParseTime(v); err != nil {
			return f, fmt.Errorf("invalid from: %w", err)
		}
	}
	if v := c.Query("to"); v != "" {
		to, err := ParseTime(v)
		if err != nil {
			return f, fmt.Errorf("invalid to: %w", err)
		}
		// A bare date includes the whole day.
		if len(v) == len(time.DateOnly) {
			to = to.AddDate(0, 0, 1)
		}
		f.CreatedBefore = to
	}
	if cur := c.Query("cursor"); cur != "" {
		if f.Cursor, err = pagination.Decode(cur); err != nil {
			return f, err
		}
	}

	f.Limit = defaultPageSize
	if v := c.Query("limit"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = min(n, maxPageSize)
	}
	return f, nil
}

// ParseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates (UTC midnight).
func ParseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

// WriteError maps record errors onto HTTP responses.
func WriteError(c *gin.Context, err error, fallback string) {
	var (
		valErr   *ValidationError
		transErr *InvalidTransitionError
	)
	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": valErr.Error(),
			"field":   valErr.Field,
		})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Record not found",
		})
	case errors.Is(err, ErrReopenLimit):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "reopen_limit",
			"message": err.Error(),
		})
	case errors.As(err, &transErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": transErr.Error(),
			"status":  transErr.From,
		})
	default:
		logging.L(c.Request.Context()).Error(fallback, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": fallback,
		})
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
