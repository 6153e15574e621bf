//go:build integration

package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kycdesk/kycdesk/internal/pagination"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/testutil"
)

func newPGRecord(id string, score *int, created time.Time) *Record {
	r := &Record{
		ID:              id,
		DocumentType:    DocumentPAN,
		Filename:        "pan.jpg",
		ExtractedFields: map[string]string{"pan": "ABCDE1234F"},
		UserEnteredName: "Meera Shah",
		VerifiedName:    "MEERA SHAH",
		FraudScore:      score,
		RiskFactors:     []string{"font-mismatch"},
		Status:          StatusPending,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	if score != nil {
		r.RiskCategory, _ = risk.NewClassifier().Category(*score)
		r.Status = StatusReviewable
	}
	return r
}

func TestPostgresStore_CRUD(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := newPGRecord("rec_pg_1", intPtr(72), now)
	require.NoError(t, store.Create(ctx, rec))
	assert.ErrorIs(t, store.Create(ctx, rec), ErrAlreadyExists)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 72, got.Score())
	assert.Equal(t, risk.CategoryHigh, got.RiskCategory)
	assert.Equal(t, "ABCDE1234F", got.ExtractedFields["pan"])
	assert.Equal(t, []string{"font-mismatch"}, got.RiskFactors)
	assert.True(t, now.Equal(got.CreatedAt))
	assert.Nil(t, got.DecidedAt)

	decided := now.Add(time.Minute)
	got.Status = StatusApproved
	got.DecidedBy = "priya"
	got.DecidedAt = &decided
	got.UpdatedAt = decided
	require.NoError(t, store.Update(ctx, got))

	again, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, again.Status)
	require.NotNil(t, again.DecidedAt)
	assert.True(t, decided.Equal(*again.DecidedAt))

	require.NoError(t, store.Delete(ctx, rec.ID))
	_, err = store.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, rec.ID), ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, rec), ErrNotFound)
}

func TestPostgresStore_UnscoredRecord(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	rec := newPGRecord("rec_pg_pending", nil, time.Now().UTC())
	rec.ExtractedFields = nil
	rec.RiskFactors = nil
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.IsScored())
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.RiskFactors)
}

func TestPostgresStore_QueryFiltersAndCursor(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, score := range []int{10, 40, 80, 95} {
		rec := newPGRecord("rec_pg_q"+string(rune('a'+i)), intPtr(score), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Create(ctx, rec))
	}

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "rec_pg_qd", all[0].ID)

	high, err := store.Query(ctx, Filter{Categories: []risk.Category{risk.CategoryHigh}})
	require.NoError(t, err)
	assert.Len(t, high, 2)

	window, err := store.Query(ctx, Filter{CreatedFrom: base.Add(time.Hour), CreatedBefore: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	after, err := store.Query(ctx, Filter{Cursor: &pagination.Cursor{CreatedAt: all[1].CreatedAt, ID: all[1].ID}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "rec_pg_qb", after[0].ID)

	limited, err := store.Query(ctx, Filter{Limit: 1, Statuses: []Status{StatusReviewable}})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPostgresStore_ServiceLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	svc := NewService(NewPostgresStore(db), nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, createReq(55))
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, rec.ID, ActionReject, "priya")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, decided.Status)

	reopened, err := svc.Reopen(ctx, rec.ID, "priya", "new evidence")
	require.NoError(t, err)
	assert.Equal(t, StatusReviewable, reopened.Status)
	assert.Equal(t, 1, reopened.ReopenCount)
}
