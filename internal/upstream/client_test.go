package upstream

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/rules"
	"stream-bridge/internal/testutil"
)

func newTestClient(srv *testutil.RulesServer) *Client {
	return NewClient(Config{RulesURL: srv.URL, BearerToken: "token", UserAgent: "bridge-test"}, nil, logging.Nop())
}

func TestFetchCurrentRules(t *testing.T) {
	srv := testutil.NewRulesServer(testutil.FakeRule{ID: "1", Value: "from:alice", Tag: "old 1"})
	defer srv.Close()

	list, err := newTestClient(srv).FetchCurrentRules(context.Background())
	require.NoError(t, err)

	require.Len(t, list.Data, 1)
	assert.Equal(t, Rule{ID: "1", Value: "from:alice", Tag: "old 1"}, list.Data[0])
	assert.Equal(t, []string{"1"}, list.IDs())

	req := srv.Requests()[0]
	assert.Equal(t, "Bearer token", req.Authorization)
	assert.Equal(t, "bridge-test", req.UserAgent)
}

func TestFetchCurrentRules_EmptyHasNoData(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()

	list, err := newTestClient(srv).FetchCurrentRules(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list.Data)
	assert.Empty(t, list.Data)
}

func TestFetchCurrentRules_Non200(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()
	srv.FailOn("fetch", http.StatusServiceUnavailable)

	_, err := newTestClient(srv).FetchCurrentRules(context.Background())
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, errors.ErrTypeUpstreamRule, appErr.Type)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Context["status"])
	assert.Contains(t, appErr.Context["body"], "injected failure")
	assert.True(t, errors.IsFatal(err))
}

func TestDeleteRules_EmptyIsNoop(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()

	require.NoError(t, newTestClient(srv).DeleteRules(context.Background(), nil))
	assert.Empty(t, srv.Requests(), "no request for an empty delete")
}

func TestDeleteRules(t *testing.T) {
	srv := testutil.NewRulesServer(
		testutil.FakeRule{ID: "1", Value: "from:a"},
		testutil.FakeRule{ID: "2", Value: "from:b"},
	)
	defer srv.Close()

	require.NoError(t, newTestClient(srv).DeleteRules(context.Background(), []string{"1"}))
	assert.Equal(t, []testutil.FakeRule{{ID: "2", Value: "from:b"}}, srv.Rules())
}

func TestAddRules_EmptyIsNoop(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()

	_, err := newTestClient(srv).AddRules(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, srv.Requests())
}

func TestAddRules_Failure(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()
	srv.FailOn("add", http.StatusBadRequest)

	_, err := newTestClient(srv).AddRules(context.Background(), []rules.FilterRule{{Value: "from:a", Tag: "t 1"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstreamRule))
}

func TestAddRules_Accepts200(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[{"id":"9","value":"from:a"}]}`))
	})
	server := newRawServer(t, handler)

	client := NewClient(Config{RulesURL: server}, nil, logging.Nop())
	list, err := client.AddRules(context.Background(), []rules.FilterRule{{Value: "from:a"}})
	require.NoError(t, err)
	assert.Equal(t, "9", list.Data[0].ID)
}

func TestAddThenFetch_RoundTrip(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()
	client := newTestClient(srv)
	ctx := context.Background()

	want := []rules.FilterRule{
		{Value: "from:alice OR from:bob", Tag: "stream-bridge 1"},
		{Value: "from:carol", Tag: "stream-bridge 2"},
	}
	_, err := client.AddRules(ctx, want)
	require.NoError(t, err)

	list, err := client.FetchCurrentRules(ctx)
	require.NoError(t, err)

	got := make([]rules.FilterRule, 0, len(list.Data))
	for _, r := range list.Data {
		assert.NotEmpty(t, r.ID)
		got = append(got, rules.FilterRule{Value: r.Value, Tag: r.Tag})
	}
	assert.ElementsMatch(t, want, got)
}

func TestRequestFailure_IsUpstreamRule(t *testing.T) {
	client := NewClient(Config{RulesURL: "http://127.0.0.1:1/rules"}, nil, logging.Nop())

	_, err := client.FetchCurrentRules(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstreamRule))
}
