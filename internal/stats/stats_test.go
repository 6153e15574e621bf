package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/verification"
)

var now = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func record(id string, status verification.Status, score *int, created time.Time) *verification.Record {
	r := &verification.Record{
		ID:           id,
		DocumentType: verification.DocumentAadhaar,
		Filename:     id + ".png",
		Status:       status,
		FraudScore:   score,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if score != nil {
		r.RiskCategory, _ = risk.NewClassifier().Category(*score)
	}
	return r
}

func intp(n int) *int { return &n }

func alert(recordID string, status compliance.Status, sev compliance.Severity, created time.Time) *compliance.Alert {
	return &compliance.Alert{
		ID:        "alert_" + recordID,
		RecordID:  recordID,
		Rule:      compliance.RuleFraudRisk,
		Severity:  sev,
		Status:    status,
		CreatedAt: created,
	}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, nil, now)

	assert.Equal(t, 0, s.TotalRecords)
	assert.Equal(t, 0.0, s.AverageConfidenceScore)
	assert.Equal(t, 100, s.ComplianceScore)
	assert.Len(t, s.ByStatus, len(verification.AllStatuses))
	assert.Equal(t, 0, s.ByStatus[verification.StatusPending])
	assert.Equal(t, now, s.ComputedAt)
}

func TestCompute_Counts(t *testing.T) {
	records := []*verification.Record{
		record("a", verification.StatusApproved, intp(10), now),
		record("b", verification.StatusRejected, intp(85), now),
		record("c", verification.StatusReviewable, intp(45), now),
		record("d", verification.StatusReviewable, intp(71), now),
		record("e", verification.StatusPending, nil, now),
	}
	records[1].DocumentType = verification.DocumentPAN

	alerts := []*compliance.Alert{
		alert("b", compliance.StatusActive, compliance.SeverityHigh, now.Add(-time.Hour)),
		alert("c", compliance.StatusActive, compliance.SeverityMedium, now.Add(-48*time.Hour)),
		alert("d", compliance.StatusResolved, compliance.SeverityHigh, now.Add(-2*time.Hour)),
	}

	s := Compute(records, alerts, now)

	assert.Equal(t, 5, s.TotalRecords)
	assert.Equal(t, 1, s.VerifiedCount)
	assert.Equal(t, 1, s.RejectedCount)
	assert.Equal(t, 2, s.PendingReviewCount)
	assert.Equal(t, 1, s.ByStatus[verification.StatusPending])
	assert.Equal(t, 1, s.LowRiskCount)
	assert.Equal(t, 1, s.MediumRiskCount)
	assert.Equal(t, 2, s.HighRiskCount)
	assert.Equal(t, 4, s.ByDocumentType[verification.DocumentAadhaar])
	assert.Equal(t, 1, s.ByDocumentType[verification.DocumentPAN])

	// (10+85+45+71)/4 = 52.75; the unscored record is excluded.
	assert.Equal(t, 52.75, s.AverageConfidenceScore)

	assert.Equal(t, 2, s.ActiveAlerts)
	assert.Equal(t, 1, s.ActiveAlertsBySeverity[compliance.SeverityHigh])
	assert.Equal(t, 2, s.RecentAlerts24h)
	// 100 - 2/5*100
	assert.Equal(t, 60, s.ComplianceScore)
}

func TestCompute_AverageRounding(t *testing.T) {
	records := []*verification.Record{
		record("a", verification.StatusReviewable, intp(10), now),
		record("b", verification.StatusReviewable, intp(10), now),
		record("c", verification.StatusReviewable, intp(11), now),
	}
	s := Compute(records, nil, now)
	assert.Equal(t, 10.33, s.AverageConfidenceScore)
}

func TestCompute_ComplianceScoreClamped(t *testing.T) {
	alerts := []*compliance.Alert{
		alert("x", compliance.StatusActive, compliance.SeverityHigh, now),
		alert("y", compliance.StatusActive, compliance.SeverityHigh, now),
	}
	// More active alerts than records cannot go negative.
	s := Compute([]*verification.Record{record("x", verification.StatusReviewable, intp(90), now)}, alerts, now)
	assert.Equal(t, 0, s.ComplianceScore)

	// Active alerts with no records: denominator is 1.
	s = Compute(nil, alerts[:1], now)
	assert.Equal(t, 0, s.ComplianceScore)
}

func TestCompute_ComplianceScoreRounds(t *testing.T) {
	records := make([]*verification.Record, 3)
	for i := range records {
		records[i] = record(string(rune('a'+i)), verification.StatusReviewable, intp(50), now)
	}
	alerts := []*compliance.Alert{alert("a", compliance.StatusActive, compliance.SeverityMedium, now)}

	// 100 - 33.33 = 66.67
	assert.Equal(t, 67, Compute(records, alerts, now).ComplianceScore)
}

func TestTrends_FillsEmptyDays(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2026, 6, d, h, 0, 0, 0, time.UTC) }
	records := []*verification.Record{
		record("a", verification.StatusApproved, intp(20), day(1, 3)),
		record("b", verification.StatusReviewable, intp(41), day(1, 23)),
		record("c", verification.StatusApproved, intp(60), day(3, 9)),
		record("d", verification.StatusPending, nil, day(3, 10)),
		record("e", verification.StatusApproved, intp(5), day(9, 0)), // outside range
	}

	points, err := Trends(records, day(1, 15), day(4, 0))
	require.NoError(t, err)
	require.Len(t, points, 4)

	assert.Equal(t, "2026-06-01", points[0].Date)
	assert.Equal(t, 2, points[0].Records)
	assert.Equal(t, 30.5, points[0].AverageFraudScore)
	assert.Equal(t, 1, points[0].VerifiedCount)

	assert.Equal(t, TrendPoint{Date: "2026-06-02"}, points[1])

	assert.Equal(t, 2, points[2].Records)
	assert.Equal(t, 60.0, points[2].AverageFraudScore)

	assert.Equal(t, 0, points[3].Records)
}

func TestTrends_NonUTCInputs(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 02:00 IST on June 2 is still June 1 in UTC.
	rec := record("a", verification.StatusReviewable, intp(50), time.Date(2026, 6, 2, 2, 0, 0, 0, ist))

	points, err := Trends([]*verification.Record{rec}, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, points[0].Records)
	assert.Equal(t, 0, points[1].Records)
}

func TestTrends_InvalidRange(t *testing.T) {
	_, err := Trends(nil, now, now.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Trends(nil, now.AddDate(-2, 0, 0), now)
	assert.ErrorIs(t, err, ErrInvalidRange)

	points, err := Trends(nil, now, now)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}
