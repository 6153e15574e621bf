// Package compliance derives compliance alerts from verification records.
//
// An alert is raised when a record's risk category reaches the configured
// minimum severity. There is at most one active alert per record and rule;
// re-evaluation refreshes it in place. Alerts are resolved, never deleted,
// when the record's risk drops, when the record is deleted, or when an admin
// resolves them explicitly.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kycdesk/kycdesk/internal/risk"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrAlreadyResolved = errors.New("alert already resolved")
	ErrDuplicateActive = errors.New("active alert already exists for record and rule")
)

// RuleFraudRisk is the rule raised for medium and high fraud risk.
const RuleFraudRisk = "fraud-risk"

// Severity mirrors the record risk category an alert was raised for.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Rank orders severities, higher is more severe.
func (s Severity) Rank() int {
	return risk.Category(s).Rank()
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// SeverityFor maps a risk category to an alert severity.
func SeverityFor(c risk.Category) Severity {
	return Severity(c)
}

// Status is the alert lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Resolution records why an alert was resolved.
type Resolution string

const (
	ResolutionStale         Resolution = "stale"
	ResolutionRecordDeleted Resolution = "record_deleted"
	ResolutionManual        Resolution = "manual"
)

// Alert is a compliance alert tied to a verification record by ID only.
type Alert struct {
	ID              string     `json:"alert_id"`
	RecordID        string     `json:"record_id"`
	Rule            string     `json:"rule"`
	Severity        Severity   `json:"severity"`
	Message         string     `json:"message"`
	ConfidenceScore int        `json:"confidence_score"`
	Status          Status     `json:"status"`
	Resolution      Resolution `json:"resolution,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// IsActive returns true if the alert has not been resolved.
func (a *Alert) IsActive() bool {
	return a.Status == StatusActive
}

// Clone returns a copy of the alert.
func (a *Alert) Clone() *Alert {
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Filter selects alerts for listing. Nil fields match everything.
type Filter struct {
	Status   *Status
	Severity *Severity
	RecordID string
	Limit    int
}

// Matches reports whether a satisfies f (ignoring Limit).
func (f Filter) Matches(a *Alert) bool {
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.Severity != nil && a.Severity != *f.Severity {
		return false
	}
	if f.RecordID != "" && a.RecordID != f.RecordID {
		return false
	}
	return true
}

// Store persists alerts. Implementations return copies.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	// FindActive returns the active alert for (recordID, rule) or ErrAlertNotFound.
	FindActive(ctx context.Context, recordID, rule string) (*Alert, error)
	// List returns matching alerts, newest first.
	List(ctx context.Context, f Filter) ([]*Alert, error)
}

// Notifier is told about alert lifecycle changes.
type Notifier interface {
	AlertRaised(a *Alert)
	AlertResolved(a *Alert)
}

// Notifiers fans alert changes out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) AlertRaised(a *Alert) {
	for _, n := range ns {
		n.AlertRaised(a.Clone())
	}
}

func (ns Notifiers) AlertResolved(a *Alert) {
	for _, n := range ns {
		n.AlertResolved(a.Clone())
	}
}

func newestFirst(a, b *Alert) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}
