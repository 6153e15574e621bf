package webhooks

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kycdesk/kycdesk/internal/idgen"
	"github.com/kycdesk/kycdesk/internal/logging"
)

// Handler serves webhook subscription management. Every route is admin-only.
type Handler struct {
	store      Store
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewHandler creates a new webhook handler.
func NewHandler(store Store, dispatcher *Dispatcher) *Handler {
	return &Handler{store: store, dispatcher: dispatcher, now: time.Now}
}

// RegisterAdminRoutes sets up webhook routes on an admin group.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.Create)
	r.GET("/webhooks", h.List)
	r.DELETE("/webhooks/:id", h.Delete)
}

// CreateRequest registers an endpoint. An empty Events list selects every
// event type.
type CreateRequest struct {
	URL    string   `json:"url" binding:"required,url,max=2048"`
	Events []string `json:"events" binding:"max=16"`
}

// Create handles POST /v1/admin/webhooks
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be {\"url\": \"https://...\", \"events\": [...]}",
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		t := EventType(strings.TrimSpace(e))
		if !t.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": "unknown event type: " + e,
			})
			return
		}
		if !slices.Contains(events, t) {
			events = append(events, t)
		}
	}
	if len(events) == 0 {
		events = slices.Clone(AllEventTypes)
	}

	if err := h.dispatcher.ValidateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		URL:       req.URL,
		Secret:    idgen.Hex(32),
		Events:    events,
		Active:    true,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		logging.L(c.Request.Context()).Error("failed to create webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create webhook",
		})
		return
	}

	logging.L(c.Request.Context()).Info("webhook registered", "subscription_id", sub.ID, "events", sub.Events)

	// The secret is returned only here.
	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  sub.Secret,
		"signature": gin.H{
			"header":    HeaderSignature,
			"algorithm": "HMAC-SHA256 over \"<" + HeaderTimestamp + ">.<body>\"",
		},
	})
}

// List handles GET /v1/admin/webhooks
func (h *Handler) List(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list webhooks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list webhooks",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"webhooks": subs,
		"count":    len(subs),
	})
}

// Delete handles DELETE /v1/admin/webhooks/:id
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Webhook not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to delete webhook", "subscription_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to delete webhook",
		})
		return
	}
	c.Status(http.StatusNoContent)
}
