package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/testutil"
)

func newTestDispatcher() *Dispatcher {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.RatePerSecond = 0
	return NewDispatcher(cfg, nil, logging.Nop())
}

func TestSend_Success(t *testing.T) {
	srv := testutil.NewWebhookServer(http.StatusNoContent)
	defer srv.Close()

	n := Notification{Username: "Alice", AvatarURL: "https://img/a.jpg", Content: "https://twitter.com/i/status/1"}
	result, err := newTestDispatcher().Send(context.Background(), srv.URL, n)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, result.StatusCode)
	deliveries := srv.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "application/json", deliveries[0].ContentType)
	assert.Equal(t, map[string]string{
		"username":   "Alice",
		"avatar_url": "https://img/a.jpg",
		"content":    "https://twitter.com/i/status/1",
	}, deliveries[0].Payload)
}

func TestSend_Non204IsDispatchError(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError} {
		srv := testutil.NewWebhookServer(status)

		result, err := newTestDispatcher().Send(context.Background(), srv.URL, Notification{Content: "x"})
		srv.Close()

		require.Error(t, err, "status %d", status)
		assert.True(t, errors.IsType(err, errors.ErrTypeDispatch))
		assert.False(t, errors.IsFatal(err))
		assert.Equal(t, status, result.StatusCode)
	}
}

func TestSend_ErrorCarriesBodyAndDestination(t *testing.T) {
	srv := testutil.NewWebhookServer(http.StatusBadRequest)
	defer srv.Close()

	_, err := newTestDispatcher().Send(context.Background(), srv.URL, Notification{})
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)

	assert.Equal(t, srv.URL, appErr.Context["destination"])
	assert.Contains(t, appErr.Context["body"], "rejected")
}

func TestSend_UnreachableDestination(t *testing.T) {
	result, err := newTestDispatcher().Send(context.Background(), "http://127.0.0.1:1/hook", Notification{})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeDispatch))
	assert.Zero(t, result.StatusCode)
}

func TestSend_BreakerOpensForFailingDestination(t *testing.T) {
	failing := testutil.NewWebhookServer(http.StatusInternalServerError)
	defer failing.Close()

	d := newTestDispatcher()
	for i := 0; i < 10; i++ {
		_, _ = d.Send(context.Background(), failing.URL, Notification{})
	}

	assert.Len(t, failing.Deliveries(), 5, "breaker stops calling after five consecutive failures")
	stats := d.BreakerStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "open", stats[0].State)

	d.Forget(nil)
	assert.Empty(t, d.BreakerStats())
}

func TestSend_RateLimited(t *testing.T) {
	srv := testutil.NewWebhookServer(http.StatusNoContent)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RatePerSecond = 20
	cfg.Burst = 1
	d := NewDispatcher(cfg, nil, logging.Nop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := d.Send(context.Background(), srv.URL, Notification{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
