package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileOrphaned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycdesk",
		Subsystem: "reconciliation",
		Name:      "orphaned_alerts",
		Help:      "Active alerts without a record found in the last run.",
	})

	reconcileStale = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycdesk",
		Subsystem: "reconciliation",
		Name:      "stale_alerts",
		Help:      "Active alerts out of step with their record found in the last run.",
	})

	reconcileMissing = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycdesk",
		Subsystem: "reconciliation",
		Name:      "missing_alerts",
		Help:      "Risky records without any alert found in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kycdesk",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kycdesk",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Reconciliation snapshot and repair failures.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileOrphaned,
		reconcileStale,
		reconcileMissing,
		reconcileDuration,
		reconcileErrors,
	)
}
