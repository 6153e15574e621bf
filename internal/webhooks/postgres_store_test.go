//go:build integration

package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kycdesk/kycdesk/internal/testutil"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	older := &Subscription{ID: "wh_pg_1", URL: "https://a.example.com", Secret: "s1",
		Events: []EventType{EventAlertRaised, EventRecordDeleted}, Active: true, CreatedAt: now.Add(-time.Minute)}
	newer := &Subscription{ID: "wh_pg_2", URL: "https://b.example.com", Secret: "s2",
		Events: []EventType{EventRecordDecided}, Active: true, CreatedAt: now}
	require.NoError(t, store.Create(ctx, older))
	require.NoError(t, store.Create(ctx, newer))

	got, err := store.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.Events, got.Events)
	assert.Equal(t, "s1", got.Secret)
	assert.Nil(t, got.LastSuccess)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)

	hits, err := store.ListForEvent(ctx, EventRecordDeleted)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, older.ID, hits[0].ID)

	_, err = store.Get(ctx, "wh_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_RecordDelivery(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	sub := &Subscription{ID: "wh_pg_d", URL: "https://a.example.com", Secret: "s",
		Events: []EventType{EventAlertRaised}, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Create(ctx, sub))

	for i := 0; i < MaxConsecutiveFailures-1; i++ {
		require.NoError(t, store.RecordDelivery(ctx, sub.ID, time.Now(), "status 503"))
	}
	got, _ := store.Get(ctx, sub.ID)
	assert.True(t, got.Active)
	assert.Equal(t, MaxConsecutiveFailures-1, got.ConsecutiveFailures)

	require.NoError(t, store.RecordDelivery(ctx, sub.ID, time.Now(), "status 503"))
	got, _ = store.Get(ctx, sub.ID)
	assert.False(t, got.Active)
	assert.Equal(t, "status 503", got.LastError)

	hits, err := store.ListForEvent(ctx, EventAlertRaised)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, store.RecordDelivery(ctx, sub.ID, time.Now(), ""))
	got, _ = store.Get(ctx, sub.ID)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.NotNil(t, got.LastSuccess)

	assert.ErrorIs(t, store.RecordDelivery(ctx, "wh_missing", time.Now(), ""), ErrNotFound)
	require.NoError(t, store.Delete(ctx, sub.ID))
	assert.ErrorIs(t, store.Delete(ctx, sub.ID), ErrNotFound)
}
