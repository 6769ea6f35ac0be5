package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	t.Run("with config", func(t *testing.T) {
		limiter := NewLimiter(&Config{RequestsPerSecond: 2, Burst: 3, Enabled: true})

		assert.Equal(t, 2.0, limiter.config.RequestsPerSecond)
		assert.Equal(t, 3, limiter.config.Burst)
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		limiter := NewLimiter(nil)

		assert.Equal(t, 5.0, limiter.config.RequestsPerSecond)
		assert.Equal(t, 5, limiter.config.Burst)
		assert.True(t, limiter.config.Enabled)
	})
}

func TestLimiter_AllowPerKey(t *testing.T) {
	limiter := NewLimiter(&Config{RequestsPerSecond: 0.001, Burst: 2, Enabled: true})

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"), "burst exhausted")
	assert.True(t, limiter.Allow("b"), "keys do not share buckets")

	assert.Equal(t, 2, limiter.Stats()["limiters_count"])
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(&Config{RequestsPerSecond: 0.001, Burst: 1, Enabled: false})

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow("a"))
	}
	assert.NoError(t, limiter.Wait(context.Background(), "a"))
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(&Config{RequestsPerSecond: 20, Burst: 1, Enabled: true})

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background(), "dest"))
	require.NoError(t, limiter.Wait(context.Background(), "dest"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(&Config{RequestsPerSecond: 0.001, Burst: 1, Enabled: true})
	require.NoError(t, limiter.Wait(context.Background(), "dest"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx, "dest"))
}

func TestLimiter_HTTPMiddleware(t *testing.T) {
	limiter := NewLimiter(&Config{RequestsPerSecond: 0.5, Burst: 1, Enabled: true})
	handler := limiter.HTTPMiddleware(IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestIPBasedKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "ip:192.0.2.1:1234", IPBasedKey(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "ip:198.51.100.7", IPBasedKey(req))
}
