package stream

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	httpclient "stream-bridge/internal/common/http"
	"stream-bridge/internal/testutil"
)

func openTest(t *testing.T, srv *testutil.StreamServer) (*Connection, error) {
	t.Helper()
	client := httpclient.NewStreamingClient(5 * time.Second)
	return Open(context.Background(), client, Config{URL: srv.URL, BearerToken: "secret", UserAgent: "bridge-test"})
}

func TestOpen_SendsHeaders(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{})
	defer srv.Close()

	conn, err := openTest(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	headers := srv.Headers(0)
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "bridge-test", headers.Get("User-Agent"))
}

func TestConnection_FramesThenCleanClose(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Frames: []string{
		testutil.KeepAlive,
		testutil.TweetFrame("1", "10", "alice", "Alice"),
		"{broken",
		`{"errors":[{"title":"a"},{"title":"b"}]}`,
		testutil.KeepAlive,
	}})
	defer srv.Close()

	conn, err := openTest(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()

	ev, err := conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindKeepAlive, ev.Kind)

	ev, err = conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindData, ev.Kind)
	assert.Equal(t, []string{"alice"}, ev.Accounts)

	_, err = conn.Next(ctx)
	assert.True(t, errors.IsType(err, errors.ErrTypeParse), "malformed frames do not end the connection")

	ev, err = conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Title)
	ev, err = conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Title)

	ev, err = conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindKeepAlive, ev.Kind)

	_, err = conn.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed)

	_, err = conn.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed, "a finished connection stays finished")
}

func TestConnection_OversizeFrameIsSkipped(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Frames: []string{
		`{"data":{"id":"` + strings.Repeat("x", 4096) + `"}}`,
		testutil.TweetFrame("2", "10", "alice", "Alice"),
		testutil.KeepAlive,
	}})
	defer srv.Close()

	client := httpclient.NewStreamingClient(5 * time.Second)
	conn, err := Open(context.Background(), client, Config{URL: srv.URL, BearerToken: "secret", MaxFrameSize: 1024})
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()

	_, err = conn.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeParse), "got %v", err)
	var disconnected *DisconnectedError
	assert.False(t, stderrors.As(err, &disconnected))

	ev, err := conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindData, ev.Kind)
	assert.Equal(t, "2", ev.Tweet.ID)

	ev, err = conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindKeepAlive, ev.Kind)

	_, err = conn.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestConnection_TransportFailure(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Frames: []string{testutil.KeepAlive}, Abort: true})
	defer srv.Close()

	conn, err := openTest(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Next(context.Background())
	require.NoError(t, err)

	_, err = conn.Next(context.Background())
	var disconnected *DisconnectedError
	require.True(t, stderrors.As(err, &disconnected), "got %v", err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTransport))
}

func TestOpen_ConnectionLimitStatus(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Status: http.StatusTooManyRequests, Body: `{"title":"ConnectionException"}`})
	defer srv.Close()

	_, err := openTest(t, srv)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnectionLimit))
}

func TestOpen_UnexpectedStatus(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Status: http.StatusUnauthorized, Body: `{"title":"Unauthorized"}`})
	defer srv.Close()

	_, err := openTest(t, srv)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTransport))

	var appErr *errors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, http.StatusUnauthorized, appErr.Context["status"])
	assert.Contains(t, appErr.Context["body"], "Unauthorized")
}

func TestConnection_CloseUnblocksNext(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Hold: true})
	defer srv.Close()

	conn, err := openTest(t, srv)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "Close is idempotent")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	select {
	case <-srv.Disconnects():
	case <-time.After(2 * time.Second):
		t.Fatal("server still holds the connection")
	}
}

func TestConnection_ContextCancel(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Hold: true})
	defer srv.Close()

	conn, err := openTest(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = conn.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialer_Open(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.Script{Frames: []string{testutil.KeepAlive}})
	defer srv.Close()

	dialer := NewDialer(httpclient.NewStreamingClient(time.Second), Config{URL: srv.URL})
	src, err := dialer.Open(context.Background())
	require.NoError(t, err)
	defer src.Close()

	ev, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindKeepAlive, ev.Kind)
}
