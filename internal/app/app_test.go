package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/config"
	"stream-bridge/internal/storage"
	"stream-bridge/internal/testutil"
)

func testConfig(t *testing.T, rulesURL, streamURL string) *config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.BearerToken = "test-token"
	cfg.RulesURL = rulesURL
	cfg.StreamURL = streamURL
	cfg.Port = "0"
	cfg.DatabaseType = "sqlite"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "bridge.db")
	cfg.DatabaseURL = ""
	cfg.SeedChannelsFile = ""
	cfg.AdminJWTSecret = ""
	cfg.RedisAddress = ""
	cfg.MirrorRedisStream = ""
	cfg.MirrorAMQPURL = ""
	cfg.RuleRefreshSchedule = ""
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	cfg.ConnectionLimitBackoff = 50 * time.Millisecond
	cfg.WebhookRatePerSecond = 100
	cfg.WebhookBurst = 100
	return cfg
}

func writeSeed(t *testing.T, seeds []storage.SeedChannel) string {
	t.Helper()
	data, err := json.Marshal(seeds)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "channels.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestApp_EndToEnd(t *testing.T) {
	rulesSrv := testutil.NewRulesServer(testutil.FakeRule{ID: "1", Value: "from:stale", Tag: "old"})
	defer rulesSrv.Close()
	hook := testutil.NewWebhookServer(http.StatusNoContent)
	defer hook.Close()
	streamSrv := testutil.NewStreamServer(testutil.Script{
		Frames: []string{testutil.KeepAlive, testutil.TweetFrame("100", "7", "alice", "Alice")},
		Hold:   true,
	})
	defer streamSrv.Close()
	mr := miniredis.RunT(t)

	cfg := testConfig(t, rulesSrv.URL, streamSrv.URL)
	cfg.RedisAddress = mr.Addr()
	cfg.MirrorRedisStream = "tweets"
	cfg.AdminJWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.SeedChannelsFile = writeSeed(t, []storage.SeedChannel{
		{Name: "news", Destination: hook.URL, Accounts: []string{"alice"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg, logging.Nop())
	require.NoError(t, err)
	defer a.Cleanup()
	require.NotNil(t, a.Mirror)
	require.NotNil(t, a.Auth)

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	select {
	case d := <-hook.Received():
		assert.Equal(t, "Alice", d.Payload["username"])
		assert.Equal(t, "https://twitter.com/i/status/100", d.Payload["content"])
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook delivery")
	}

	rules := rulesSrv.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "from:alice", rules[0].Value)
	assert.True(t, mr.Exists("lock:stream-bridge:stream"))

	assert.Eventually(t, func() bool {
		n, err := a.RedisClient.GetGoRedisClient().XLen(ctx, "tweets").Result()
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	var status map[string]interface{}
	require.NoError(t, a.RedisClient.GetJSON(ctx, StatusKey, &status))
	assert.Equal(t, "connected", status["state"])

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// A new channel reaches the upstream rules after a reload.
	require.NoError(t, a.Store.CreateChannel(ctx, &storage.Channel{
		Destination: hook.URL, Accounts: []string{"bob"}, Enabled: true,
	}))
	require.NoError(t, a.Reload(ctx))
	rules = rulesSrv.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "from:alice OR from:bob", rules[0].Value)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.False(t, mr.Exists("lock:stream-bridge:stream"))
}

func TestApp_FatalRuleSync(t *testing.T) {
	rulesSrv := testutil.NewRulesServer()
	defer rulesSrv.Close()
	rulesSrv.FailOn("fetch", http.StatusServiceUnavailable)
	streamSrv := testutil.NewStreamServer(testutil.Script{Hold: true})
	defer streamSrv.Close()

	a, err := New(context.Background(), testConfig(t, rulesSrv.URL, streamSrv.URL), logging.Nop())
	require.NoError(t, err)
	defer a.Cleanup()

	err = a.Serve(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstreamRule))
	assert.Zero(t, streamSrv.Connections())
}

func TestApp_ReloadBeforeRun(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, "http://127.0.0.1:1/rules", "http://127.0.0.1:1/stream"), logging.Nop())
	require.NoError(t, err)
	defer a.Cleanup()

	assert.Error(t, a.Reload(context.Background()))
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown database", func(c *config.Config) { c.DatabaseType = "mongo" }},
		{"missing seed file", func(c *config.Config) { c.SeedChannelsFile = "/does/not/exist.json" }},
		{"unreachable redis", func(c *config.Config) { c.RedisAddress = "127.0.0.1:1" }},
		{"redis mirror without redis", func(c *config.Config) { c.MirrorRedisStream = "tweets" }},
		{"short admin secret", func(c *config.Config) { c.AdminJWTSecret = "short" }},
		{"bad refresh schedule", func(c *config.Config) { c.RuleRefreshSchedule = "whenever" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://127.0.0.1:1/rules", "http://127.0.0.1:1/stream")
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, logging.Nop())
			assert.Error(t, err)
		})
	}
}

func TestHandler_AdminDisabledWithoutSecret(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, "http://127.0.0.1:1/rules", "http://127.0.0.1:1/stream"), logging.Nop())
	require.NoError(t, err)
	defer a.Cleanup()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stream_bridge_stream_state")
}
