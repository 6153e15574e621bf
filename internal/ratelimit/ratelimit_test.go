package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(rps float64, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerSecond: rps, BurstSize: burst, IdleTTL: time.Minute})
	l.now = clock.now
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	l, clock := newTestLimiter(1, 5)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("10.0.0.1")
		assert.True(t, ok, "request %d should be within burst", i)
	}

	ok, wait := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	clock.t = clock.t.Add(time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestLimiterDeniedRequestsDoNotConsume(t *testing.T) {
	l, clock := newTestLimiter(1, 1)
	ok, _ := l.Allow("k")
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		ok, _ = l.Allow("k")
		assert.False(t, ok)
	}
	clock.t = clock.t.Add(time.Second)
	ok, _ = l.Allow("k")
	assert.True(t, ok)
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := newTestLimiter(1, 1)

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("b")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestLimiterSweep(t *testing.T) {
	l, clock := newTestLimiter(1, 1)
	l.Allow("old")
	clock.t = clock.t.Add(2 * time.Minute)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(100)
	assert.Equal(t, 100.0, cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.BurstSize)
	assert.Equal(t, 1, DefaultConfig(0).BurstSize)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(1, 2)

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, get().Code)
	assert.Equal(t, http.StatusOK, get().Code)
	w := get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
