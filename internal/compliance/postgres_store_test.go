//go:build integration

package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kycdesk/kycdesk/internal/testutil"
	"github.com/kycdesk/kycdesk/internal/verification"
)

func newPGAlert(id, recordID string, sev Severity, created time.Time) *Alert {
	return &Alert{
		ID:              id,
		RecordID:        recordID,
		Rule:            RuleFraudRisk,
		Severity:        sev,
		Message:         "High fraud risk on pan document",
		ConfidenceScore: 80,
		Status:          StatusActive,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestPostgresStore_OneActivePerRecord(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := newPGAlert("alert_pg_1", "rec_1", SeverityHigh, now)
	require.NoError(t, store.Create(ctx, a))
	assert.ErrorIs(t, store.Create(ctx, newPGAlert("alert_pg_2", "rec_1", SeverityHigh, now)), ErrDuplicateActive)

	found, err := store.FindActive(ctx, "rec_1", RuleFraudRisk)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	// Resolving frees the slot for a fresh alert.
	resolvedAt := now.Add(time.Minute)
	found.Status = StatusResolved
	found.Resolution = ResolutionManual
	found.ResolvedBy = "priya"
	found.ResolvedAt = &resolvedAt
	found.UpdatedAt = resolvedAt
	require.NoError(t, store.Update(ctx, found))

	_, err = store.FindActive(ctx, "rec_1", RuleFraudRisk)
	assert.ErrorIs(t, err, ErrAlertNotFound)
	require.NoError(t, store.Create(ctx, newPGAlert("alert_pg_3", "rec_1", SeverityMedium, now.Add(2*time.Minute))))

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ResolutionManual, got.Resolution)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolvedAt.Equal(*got.ResolvedAt))

	_, err = store.Get(ctx, "alert_missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.ErrorIs(t, store.Update(ctx, newPGAlert("alert_missing", "rec_x", SeverityLow, now)), ErrAlertNotFound)
}

func TestPostgresStore_ListFilters(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newPGAlert("alert_a", "rec_a", SeverityMedium, base)))
	require.NoError(t, store.Create(ctx, newPGAlert("alert_b", "rec_b", SeverityHigh, base.Add(time.Hour))))
	require.NoError(t, store.Create(ctx, newPGAlert("alert_c", "rec_c", SeverityHigh, base.Add(2*time.Hour))))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alert_c", all[0].ID)

	high := SeverityHigh
	filtered, err := store.List(ctx, Filter{Severity: &high, Limit: 1})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "alert_c", filtered[0].ID)

	byRecord, err := store.List(ctx, Filter{RecordID: "rec_a"})
	require.NoError(t, err)
	require.Len(t, byRecord, 1)
}

func TestPostgresStore_EngineWithRecordService(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	engine := NewEngine(NewPostgresStore(db))
	svc := verification.NewService(verification.NewPostgresStore(db), nil).WithAlertSync(engine)

	score := 91
	rec, err := svc.Create(ctx, verification.CreateRequest{
		DocumentType: verification.DocumentAadhaar,
		Filename:     "aadhaar.png",
		FraudScore:   &score,
	})
	require.NoError(t, err)

	active, err := engine.ListActive(ctx, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rec.ID, active[0].RecordID)

	require.NoError(t, svc.Delete(ctx, rec.ID))
	active, err = engine.ListActive(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, active)
}
