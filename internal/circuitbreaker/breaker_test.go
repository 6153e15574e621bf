package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail() error { return errBoom }
func ok() error   { return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", threshold, time.Minute)
	b.now = clock.now
	return b, clock
}

func TestBreaker_ClosedAllows(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.NoError(t, b.Execute(ok, nil))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	assert.ErrorIs(t, b.Execute(fail, nil), errBoom)
	assert.ErrorIs(t, b.Execute(fail, nil), errBoom)
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Execute(fail, nil), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2)
	_ = b.Execute(fail, nil)
	require.NoError(t, b.Execute(ok, nil))
	_ = b.Execute(fail, nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1)
	_ = b.Execute(fail, nil)
	require.Equal(t, StateOpen, b.State())

	clock.t = clock.t.Add(time.Minute)
	require.NoError(t, b.Execute(ok, nil))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1)
	_ = b.Execute(fail, nil)

	clock.t = clock.t.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Execute(fail, nil), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Cool-down restarts from the failed probe.
	clock.t = clock.t.Add(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ok, nil), ErrOpen)
}

func TestBreaker_UncountableErrorsIgnored(t *testing.T) {
	b, _ := newTestBreaker(1)
	never := func(error) bool { return false }

	assert.ErrorIs(t, b.Execute(fail, never), errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Concurrent(t *testing.T) {
	b, _ := newTestBreaker(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Execute(fail, nil)
			} else {
				_ = b.Execute(ok, nil)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
