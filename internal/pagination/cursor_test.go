package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 123456789, time.UTC)

	cursor, err := Decode(Encode(ts, "rec_abc123"))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, ts.Equal(cursor.CreatedAt))
	assert.Equal(t, "rec_abc123", cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("nopipe")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"t":"2026-01-01T00:00:00Z"}`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"id":"rec_1"}`)),
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestCursor_Before(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := &Cursor{CreatedAt: ts, ID: "rec_m"}

	assert.True(t, c.Before(ts.Add(-time.Second), "rec_z"))
	assert.False(t, c.Before(ts.Add(time.Second), "rec_a"))
	assert.True(t, c.Before(ts, "rec_a"))
	assert.False(t, c.Before(ts, "rec_m"))
	assert.False(t, c.Before(ts, "rec_z"))
}

func TestComputePage(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	key := func(s string) (time.Time, string) { return base, s }

	p := ComputePage([]string{"c", "b", "a"}, 5, key)
	assert.Len(t, p.Items, 3)
	assert.Empty(t, p.NextCursor)
	assert.False(t, p.HasMore)

	p = ComputePage([]string{"e", "d", "c", "b"}, 3, key)
	assert.Equal(t, []string{"e", "d", "c"}, p.Items)
	assert.True(t, p.HasMore)

	next, err := Decode(p.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "c", next.ID)
}
