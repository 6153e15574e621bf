// Package metrics provides Prometheus instrumentation for the kycdesk service.
package metrics

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kycdesk",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kycdesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RecordsCreatedTotal counts verification records created by risk category.
	RecordsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kycdesk",
			Name:      "records_created_total",
			Help:      "Total verification records created by risk category.",
		},
		[]string{"risk_category"},
	)

	// ReviewDecisionsTotal counts admin review outcomes by action and result.
	ReviewDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kycdesk",
			Name:      "review_decisions_total",
			Help:      "Total admin review decisions by action and result.",
		},
		[]string{"action", "result"},
	)

	// AlertsRaisedTotal counts compliance alerts raised by severity.
	AlertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kycdesk",
			Name:      "alerts_raised_total",
			Help:      "Total compliance alerts raised by severity.",
		},
		[]string{"severity"},
	)

	// AlertsResolvedTotal counts compliance alerts resolved by resolution.
	AlertsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kycdesk",
			Name:      "alerts_resolved_total",
			Help:      "Total compliance alerts resolved by resolution.",
		},
		[]string{"resolution"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kycdesk",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// FraudScores observes the fraud score of every record that gets one.
	FraudScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kycdesk",
		Name:      "fraud_score",
		Help:      "Distribution of fraud scores assigned to records.",
		Buckets:   prometheus.LinearBuckets(10, 10, 10),
	})

	// ReviewLatency observes the time from record creation to decision.
	ReviewLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kycdesk",
		Name:      "review_latency_seconds",
		Help:      "Time from record creation to an admin decision.",
		Buckets:   []float64{60, 300, 900, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600},
	}, []string{"action"})

	// --- Extraction metrics ---

	ExtractionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kycdesk",
		Name:      "extraction_failures_total",
		Help:      "Total document uploads whose extraction failed.",
	})

	ExtractionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kycdesk",
		Name:      "extraction_duration_seconds",
		Help:      "Time spent in the external extraction service in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	CircuitBreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kycdesk",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by dependency, from-state, and to-state.",
	}, []string{"name", "from_state", "to_state"})

	// --- Dashboard gauges (sampled) ---

	RecordsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kycdesk",
		Name:      "records",
		Help:      "Current number of verification records by status.",
	}, []string{"status"})

	ActiveAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycdesk",
		Name:      "active_alerts",
		Help:      "Current number of active compliance alerts.",
	})

	ComplianceScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycdesk",
		Name:      "compliance_score",
		Help:      "Current compliance score (0-100).",
	})

	AverageFraudScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycdesk",
		Name:      "average_fraud_score",
		Help:      "Average fraud score across scored records.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RecordsCreatedTotal,
		ReviewDecisionsTotal,
		AlertsRaisedTotal,
		AlertsResolvedTotal,
		ActiveWebSocketClients,
		FraudScores,
		ReviewLatency,
		ExtractionFailuresTotal,
		ExtractionDuration,
		CircuitBreakerTransitions,
		RecordsByStatus,
		ActiveAlerts,
		ComplianceScore,
		AverageFraudScore,
	)
}

// RegisterDB exports connection pool statistics for db on every scrape.
func RegisterDB(db *sql.DB) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, "kycdesk"))
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Route pattern, not the raw path, keeps label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
