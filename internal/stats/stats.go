// Package stats computes dashboard aggregates and trend series from
// verification records and compliance alerts.
//
// Compute and Trends are pure functions over snapshots; nothing here is
// persisted or cached.
package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// MaxTrendDays bounds the length of a trend series.
const MaxTrendDays = 366

// RecentAlertWindow is the trailing window for RecentAlerts24h.
const RecentAlertWindow = 24 * time.Hour

var ErrInvalidRange = errors.New("invalid trend range")

// AggregateStats summarizes the current state of all records and alerts.
type AggregateStats struct {
	TotalRecords           int                               `json:"total_records"`
	ByStatus               map[verification.Status]int       `json:"by_status"`
	VerifiedCount          int                               `json:"verified_count"`
	PendingReviewCount     int                               `json:"pending_review_count"`
	RejectedCount          int                               `json:"rejected_count"`
	LowRiskCount           int                               `json:"low_risk_count"`
	MediumRiskCount        int                               `json:"medium_risk_count"`
	HighRiskCount          int                               `json:"high_risk_count"`
	ByDocumentType         map[verification.DocumentType]int `json:"by_document_type"`
	AverageConfidenceScore float64                           `json:"average_confidence_score"`
	ComplianceScore        int                               `json:"compliance_score"`
	ActiveAlerts           int                               `json:"active_alerts"`
	ActiveAlertsBySeverity map[compliance.Severity]int       `json:"active_alerts_by_severity"`
	RecentAlerts24h        int                               `json:"recent_alerts_24h"`
	ComputedAt             time.Time                         `json:"computed_at"`
}

// TrendPoint is one UTC day of the trend series.
type TrendPoint struct {
	Date              string  `json:"date"`
	Records           int     `json:"records"`
	AverageFraudScore float64 `json:"average_fraud_score"`
	VerifiedCount     int     `json:"verified_count"`
}

// Compute recomputes the aggregate from scratch.
//
// AverageConfidenceScore is the mean fraud score of scored records rounded to
// two decimals, 0 when none are scored. ComplianceScore is
// round(100 - active/max(total,1)*100) clamped to [0, 100].
func Compute(records []*verification.Record, alerts []*compliance.Alert, now time.Time) AggregateStats {
	s := AggregateStats{
		TotalRecords:           len(records),
		ByStatus:               make(map[verification.Status]int, len(verification.AllStatuses)),
		ByDocumentType:         make(map[verification.DocumentType]int, len(verification.AllDocumentTypes)),
		ActiveAlertsBySeverity: make(map[compliance.Severity]int, 3),
		ComputedAt:             now,
	}
	for _, st := range verification.AllStatuses {
		s.ByStatus[st] = 0
	}
	for _, dt := range verification.AllDocumentTypes {
		s.ByDocumentType[dt] = 0
	}

	var scoreSum, scored int64
	for _, r := range records {
		s.ByStatus[r.Status]++
		s.ByDocumentType[r.DocumentType]++

		switch r.Status {
		case verification.StatusApproved:
			s.VerifiedCount++
		case verification.StatusRejected:
			s.RejectedCount++
		case verification.StatusReviewable:
			s.PendingReviewCount++
		case verification.StatusPending, verification.StatusProcessing:
		}

		if !r.IsScored() {
			continue
		}
		scoreSum += int64(r.Score())
		scored++

		switch r.RiskCategory {
		case risk.CategoryLow:
			s.LowRiskCount++
		case risk.CategoryMedium:
			s.MediumRiskCount++
		case risk.CategoryHigh:
			s.HighRiskCount++
		}
	}
	s.AverageConfidenceScore = average(scoreSum, scored)

	windowStart := now.Add(-RecentAlertWindow)
	for _, a := range alerts {
		if a.IsActive() {
			s.ActiveAlerts++
			s.ActiveAlertsBySeverity[a.Severity]++
		}
		if a.CreatedAt.After(windowStart) && !a.CreatedAt.After(now) {
			s.RecentAlerts24h++
		}
	}
	s.ComplianceScore = complianceScore(s.ActiveAlerts, s.TotalRecords)

	return s
}

// Trends buckets records by UTC creation day over [from, to], inclusive of
// both days. Days without records are present with zero values.
func Trends(records []*verification.Record, from, to time.Time) ([]TrendPoint, error) {
	start := truncateDay(from)
	end := truncateDay(to)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	days := int(end.Sub(start)/(24*time.Hour)) + 1
	if days > MaxTrendDays {
		return nil, fmt.Errorf("%w: %d days exceeds maximum of %d", ErrInvalidRange, days, MaxTrendDays)
	}

	type bucket struct {
		records, verified int
		sum, scored       int64
	}
	buckets := make([]bucket, days)
	for _, r := range records {
		day := truncateDay(r.CreatedAt)
		if day.Before(start) || day.After(end) {
			continue
		}
		b := &buckets[int(day.Sub(start)/(24*time.Hour))]
		b.records++
		if r.Status == verification.StatusApproved {
			b.verified++
		}
		if r.IsScored() {
			b.sum += int64(r.Score())
			b.scored++
		}
	}

	points := make([]TrendPoint, days)
	for i, b := range buckets {
		points[i] = TrendPoint{
			Date:              start.AddDate(0, 0, i).Format(time.DateOnly),
			Records:           b.records,
			AverageFraudScore: average(b.sum, b.scored),
			VerifiedCount:     b.verified,
		}
	}
	return points, nil
}

func average(sum, n int64) float64 {
	if n == 0 {
		return 0
	}
	return decimal.NewFromInt(sum).
		DivRound(decimal.NewFromInt(n), 4).
		Round(2).
		InexactFloat64()
}

func complianceScore(active, total int) int {
	denom := max(total, 1)
	ratio := decimal.NewFromInt(int64(active)).
		Div(decimal.NewFromInt(int64(denom))).
		Mul(decimal.NewFromInt(100))
	score := decimal.NewFromInt(100).Sub(ratio).Round(0)

	switch {
	case score.LessThan(decimal.Zero):
		return 0
	case score.GreaterThan(decimal.NewFromInt(100)):
		return 100
	}
	return int(score.IntPart())
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
