package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kycdesk/kycdesk/internal/idgen"
	"github.com/kycdesk/kycdesk/internal/metrics"
	"github.com/kycdesk/kycdesk/internal/syncutil"
	"github.com/kycdesk/kycdesk/internal/traces"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// Compile-time check that Engine keeps record alerts in sync.
var _ verification.AlertSync = (*Engine)(nil)

// DefaultMinSeverity is the lowest severity that raises an alert.
const DefaultMinSeverity = SeverityMedium

// Engine evaluates records and maintains their alerts.
type Engine struct {
	store       Store
	minSeverity Severity
	notifier    Notifier
	logger      *slog.Logger
	locks       syncutil.ShardedMutex
	now         func() time.Time
}

// NewEngine creates an alert engine backed by the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:       store,
		minSeverity: DefaultMinSeverity,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// WithMinSeverity overrides the minimum alerting severity.
func (e *Engine) WithMinSeverity(s Severity) *Engine {
	e.minSeverity = s
	return e
}

// WithNotifier attaches a listener for raised and resolved alerts.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithLogger sets the engine logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate raises or refreshes the record's active alert when its risk is at
// or above the minimum severity, and resolves a stale alert otherwise. An
// alert resolved by an admin is not raised again for unchanged risk. It
// returns the active alert, or nil when none applies.
func (e *Engine) Evaluate(ctx context.Context, rec *verification.Record) (*Alert, error) {
	if !e.ShouldAlert(rec) {
		return nil, e.ResolveIfStale(ctx, rec)
	}

	unlock := e.locks.Lock(rec.ID)
	defer unlock()

	sev := SeverityFor(rec.RiskCategory)
	now := e.now()

	existing, err := e.store.FindActive(ctx, rec.ID, RuleFraudRisk)
	switch {
	case err == nil:
		if existing.Severity == sev && existing.ConfidenceScore == rec.Score() {
			return existing, nil
		}
		existing.Severity = sev
		existing.ConfidenceScore = rec.Score()
		existing.Message = alertMessage(rec)
		existing.UpdatedAt = now
		if err := e.store.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to refresh alert: %w", err)
		}
		return existing, nil
	case !errors.Is(err, ErrAlertNotFound):
		return nil, fmt.Errorf("failed to look up active alert: %w", err)
	}

	cleared, err := e.manuallyCleared(ctx, rec, sev)
	if err != nil {
		return nil, err
	}
	if cleared {
		return nil, nil
	}

	alert := &Alert{
		ID:              idgen.WithPrefix("alert_"),
		RecordID:        rec.ID,
		Rule:            RuleFraudRisk,
		Severity:        sev,
		Message:         alertMessage(rec),
		ConfidenceScore: rec.Score(),
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to raise alert: %w", err)
	}

	metrics.AlertsRaisedTotal.WithLabelValues(string(sev)).Inc()
	e.logger.Info("compliance alert raised",
		"alert_id", alert.ID,
		"record_id", rec.ID,
		"severity", sev,
		"confidence_score", alert.ConfidenceScore,
	)
	if e.notifier != nil {
		e.notifier.AlertRaised(alert.Clone())
	}
	return alert, nil
}

// manuallyCleared reports whether an admin already resolved an alert for
// this record at the same severity and score. Such a resolution holds until
// the record's risk changes.
func (e *Engine) manuallyCleared(ctx context.Context, rec *verification.Record, sev Severity) (bool, error) {
	history, err := e.store.List(ctx, Filter{RecordID: rec.ID})
	if err != nil {
		return false, fmt.Errorf("failed to load alert history: %w", err)
	}
	for _, a := range history {
		if a.Rule == RuleFraudRisk &&
			a.Resolution == ResolutionManual &&
			a.Severity == sev &&
			a.ConfidenceScore == rec.Score() {
			return true, nil
		}
	}
	return false, nil
}

// ResolveIfStale resolves the record's active alert when the record no
// longer meets the alerting threshold.
func (e *Engine) ResolveIfStale(ctx context.Context, rec *verification.Record) error {
	if e.ShouldAlert(rec) {
		return nil
	}
	return e.resolveActive(ctx, rec.ID, ResolutionStale, "")
}

// ResolveForRecord resolves every active alert of a deleted record.
func (e *Engine) ResolveForRecord(ctx context.Context, recordID string) error {
	return e.resolveActive(ctx, recordID, ResolutionRecordDeleted, "")
}

// Resolve resolves a single alert as an explicit admin action.
func (e *Engine) Resolve(ctx context.Context, alertID, resolvedBy string) (*Alert, error) {
	ctx, span := traces.StartSpan(ctx, "compliance.Resolve", traces.AlertID(alertID), traces.Actor(resolvedBy))
	defer span.End()

	alert, err := e.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(alert.RecordID)
	defer unlock()

	// Re-read under the lock.
	alert, err = e.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !alert.IsActive() {
		return nil, ErrAlreadyResolved
	}
	span.SetAttributes(traces.RecordID(alert.RecordID))
	if err := e.resolve(ctx, alert, ResolutionManual, resolvedBy); err != nil {
		return nil, traces.Fail(span, err, "resolve failed")
	}
	return alert, nil
}

// SyncRecord implements verification.AlertSync.
func (e *Engine) SyncRecord(ctx context.Context, rec *verification.Record) error {
	_, err := e.Evaluate(ctx, rec)
	return err
}

// RecordDeleted implements verification.AlertSync.
func (e *Engine) RecordDeleted(ctx context.Context, recordID string) error {
	return e.ResolveForRecord(ctx, recordID)
}

// Get returns an alert by ID.
func (e *Engine) Get(ctx context.Context, id string) (*Alert, error) {
	return e.store.Get(ctx, id)
}

// ListActive returns active alerts, newest first, optionally filtered by severity.
func (e *Engine) ListActive(ctx context.Context, severity *Severity) ([]*Alert, error) {
	active := StatusActive
	return e.store.List(ctx, Filter{Status: &active, Severity: severity})
}

// List returns alerts matching f, newest first.
func (e *Engine) List(ctx context.Context, f Filter) ([]*Alert, error) {
	return e.store.List(ctx, f)
}

// ListAll returns every alert, newest first.
func (e *Engine) ListAll(ctx context.Context) ([]*Alert, error) {
	return e.store.List(ctx, Filter{})
}

// ShouldAlert reports whether rec warrants an active alert.
func (e *Engine) ShouldAlert(rec *verification.Record) bool {
	if !rec.IsScored() || !rec.RiskCategory.Valid() {
		return false
	}
	return SeverityFor(rec.RiskCategory).Rank() >= e.minSeverity.Rank()
}

func (e *Engine) resolveActive(ctx context.Context, recordID string, reason Resolution, by string) error {
	unlock := e.locks.Lock(recordID)
	defer unlock()

	active := StatusActive
	alerts, err := e.store.List(ctx, Filter{Status: &active, RecordID: recordID})
	if err != nil {
		return fmt.Errorf("failed to list active alerts: %w", err)
	}
	for _, a := range alerts {
		if err := e.resolve(ctx, a, reason, by); err != nil {
			return err
		}
	}
	return nil
}

// resolve marks a as resolved. Caller holds the record lock.
func (e *Engine) resolve(ctx context.Context, a *Alert, reason Resolution, by string) error {
	now := e.now()
	a.Status = StatusResolved
	a.Resolution = reason
	a.ResolvedBy = by
	a.ResolvedAt = &now
	a.UpdatedAt = now
	if err := e.store.Update(ctx, a); err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", a.ID, err)
	}

	metrics.AlertsResolvedTotal.WithLabelValues(string(reason)).Inc()
	e.logger.Info("compliance alert resolved",
		"alert_id", a.ID,
		"record_id", a.RecordID,
		"resolution", reason,
	)
	if e.notifier != nil {
		e.notifier.AlertResolved(a.Clone())
	}
	return nil
}

func alertMessage(rec *verification.Record) string {
	return fmt.Sprintf("%s fraud risk on %s document %q (score %d)",
		capitalize(string(rec.RiskCategory)), rec.DocumentType, rec.Filename, rec.Score())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
