package stats

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kycdesk/kycdesk/internal/logging"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// DefaultTrendDays is the trend window when no range is given.
const DefaultTrendDays = 7

// Handler serves the statistics API.
type Handler struct {
	service *Service
}

// NewHandler creates a stats handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the stats routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", h.Aggregate)
	r.GET("/stats/trends", h.Trends)
}

// Aggregate handles GET /v1/stats
func (h *Handler) Aggregate(c *gin.Context) {
	agg, err := h.service.Aggregate(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to compute stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute stats",
		})
		return
	}
	c.JSON(http.StatusOK, agg)
}

// Trends handles GET /v1/stats/trends
//
// Either days=N (trailing window ending today) or from and to dates.
func (h *Handler) Trends(c *gin.Context) {
	var (
		points []TrendPoint
		err    error
	)
	from, to := c.Query("from"), c.Query("to")
	switch {
	case from != "" || to != "":
		var start, end time.Time
		if start, err = verification.ParseTime(from); err != nil {
			badQuery(c, "from must be RFC 3339 or YYYY-MM-DD")
			return
		}
		if end, err = verification.ParseTime(to); err != nil {
			badQuery(c, "to must be RFC 3339 or YYYY-MM-DD")
			return
		}
		points, err = h.service.Trends(c.Request.Context(), start, end)
	default:
		days := DefaultTrendDays
		if v := c.Query("days"); v != "" {
			if days, err = strconv.Atoi(v); err != nil {
				badQuery(c, "days must be an integer")
				return
			}
		}
		points, err = h.service.RecentTrends(c.Request.Context(), days)
	}

	if err != nil {
		if errors.Is(err, ErrInvalidRange) {
			badQuery(c, err.Error())
			return
		}
		logging.L(c.Request.Context()).Error("failed to compute trends", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute trends",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trends": points,
		"count":  len(points),
	})
}

func badQuery(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_query",
		"message": msg,
	})
}
