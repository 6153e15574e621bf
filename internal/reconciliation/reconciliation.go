// Package reconciliation finds and repairs drift between verification
// records and their compliance alerts.
//
// Alerts are kept in step with records inside each record's critical
// section, but the two live in separate tables and a crash between writes
// can leave them apart. A run looks for three kinds of drift:
//
//   - orphaned: an active alert whose record no longer exists
//   - stale: an active alert whose severity or score no longer matches
//     its record, or whose record no longer warrants one
//   - missing: a record that warrants an alert but has never had one
//
// Alerts an admin resolved by hand are left alone.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// Records is the record side of a run.
type Records interface {
	List(ctx context.Context) ([]*verification.Record, error)
	ResyncAlerts(ctx context.Context, id string) error
}

// Alerts is the alert side of a run.
type Alerts interface {
	ListAll(ctx context.Context) ([]*compliance.Alert, error)
	ShouldAlert(rec *verification.Record) bool
}

// Report is the outcome of one run.
type Report struct {
	RecordsChecked int           `json:"records_checked"`
	AlertsChecked  int           `json:"alerts_checked"`
	Orphaned       []string      `json:"orphaned"`
	Stale          []string      `json:"stale"`
	Missing        []string      `json:"missing"`
	Repaired       int           `json:"repaired"`
	Errors         []string      `json:"errors,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
}

// Clean reports whether the run found no drift.
func (r *Report) Clean() bool {
	return len(r.Orphaned) == 0 && len(r.Stale) == 0 && len(r.Missing) == 0
}

// Runner performs reconciliation runs. Runs are serialized.
type Runner struct {
	records Records
	alerts  Alerts
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	last *Report
}

// NewRunner creates a runner.
func NewRunner(records Records, alerts Alerts, logger *slog.Logger) *Runner {
	return &Runner{records: records, alerts: alerts, logger: logger, now: time.Now}
}

// Last returns the most recent report, or nil before the first run.
func (r *Runner) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Run detects drift and repairs each affected record. Individual repair
// failures are collected in the report; only snapshot failures are returned.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()
	report := &Report{StartedAt: start.UTC()}

	records, err := r.records.List(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	alerts, err := r.alerts.ListAll(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	report.RecordsChecked = len(records)
	report.AlertsChecked = len(alerts)

	byID := make(map[string]*verification.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	everAlerted := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		everAlerted[a.RecordID] = true
		if !a.IsActive() {
			continue
		}
		rec, ok := byID[a.RecordID]
		switch {
		case !ok:
			report.Orphaned = append(report.Orphaned, a.RecordID)
		case isStale(a, rec, r.alerts.ShouldAlert(rec)):
			report.Stale = append(report.Stale, a.RecordID)
		}
	}
	for _, rec := range records {
		if !everAlerted[rec.ID] && r.alerts.ShouldAlert(rec) {
			report.Missing = append(report.Missing, rec.ID)
		}
	}

	for _, group := range [][]string{report.Orphaned, report.Stale, report.Missing} {
		for _, id := range group {
			if err := ctx.Err(); err != nil {
				report.Errors = append(report.Errors, err.Error())
				break
			}
			if err := r.records.ResyncAlerts(ctx, id); err != nil {
				reconcileErrors.Inc()
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
				continue
			}
			report.Repaired++
		}
	}

	report.Duration = time.Since(start)
	reconcileOrphaned.Set(float64(len(report.Orphaned)))
	reconcileStale.Set(float64(len(report.Stale)))
	reconcileMissing.Set(float64(len(report.Missing)))
	reconcileDuration.Observe(report.Duration.Seconds())

	if report.Clean() {
		r.logger.Debug("reconciliation clean", "records", report.RecordsChecked, "alerts", report.AlertsChecked)
	} else {
		r.logger.Warn("reconciliation repaired drift",
			"orphaned", len(report.Orphaned),
			"stale", len(report.Stale),
			"missing", len(report.Missing),
			"repaired", report.Repaired,
			"errors", len(report.Errors),
		)
	}

	r.last = report
	return report, nil
}

func isStale(a *compliance.Alert, rec *verification.Record, shouldAlert bool) bool {
	if !shouldAlert {
		return true
	}
	return a.Severity != compliance.SeverityFor(rec.RiskCategory) || a.ConfidenceScore != rec.Score()
}
