package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/rules"
	"stream-bridge/internal/testutil"
)

func newRawServer(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSync_ReplacesRules(t *testing.T) {
	srv := testutil.NewRulesServer(
		testutil.FakeRule{ID: "1", Value: "from:old", Tag: "old 1"},
		testutil.FakeRule{ID: "2", Value: "from:older", Tag: "old 2"},
	)
	defer srv.Close()

	want := []rules.FilterRule{{Value: "from:alice", Tag: "stream-bridge 1"}}
	result, err := newTestClient(srv).Sync(context.Background(), want)
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "delete", "add", "fetch"}, srv.Operations())
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 1, result.Added)
	assert.Len(t, result.Before.Data, 2)
	require.Len(t, result.After.Data, 1)
	assert.Equal(t, "from:alice", result.After.Data[0].Value)
	assert.Equal(t, "stream-bridge 1", result.After.Data[0].Tag)
}

func TestSync_EmptyUpstreamSkipsDelete(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()

	_, err := newTestClient(srv).Sync(context.Background(), []rules.FilterRule{{Value: "from:a", Tag: "t 1"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "add", "fetch"}, srv.Operations())
}

func TestSync_EmptyRuleSetClearsUpstream(t *testing.T) {
	srv := testutil.NewRulesServer(testutil.FakeRule{ID: "1", Value: "from:old"})
	defer srv.Close()

	result, err := newTestClient(srv).Sync(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, srv.Rules())
	assert.Empty(t, result.After.Data)
	assert.Equal(t, []string{"fetch", "delete", "fetch"}, srv.Operations())
}

func TestSync_AbortsOnFailure(t *testing.T) {
	srv := testutil.NewRulesServer(testutil.FakeRule{ID: "1", Value: "from:old"})
	defer srv.Close()
	srv.FailOn("delete", http.StatusForbidden)

	_, err := newTestClient(srv).Sync(context.Background(), []rules.FilterRule{{Value: "from:a"}})
	require.Error(t, err)

	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, []string{"fetch", "delete"}, srv.Operations(), "no add after a failed delete")
}

func TestSync_RejectedRuleIsFatal(t *testing.T) {
	srv := testutil.NewRulesServer()
	defer srv.Close()
	srv.RejectValues("from:bob")

	want := []rules.FilterRule{
		{Value: "from:alice", Tag: "stream-bridge 1"},
		{Value: "from:bob", Tag: "stream-bridge 2"},
	}
	result, err := newTestClient(srv).Sync(context.Background(), want)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstreamRule))

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"from:bob"}, appErr.Context["missing"])
	assert.Equal(t, []string{"DuplicateRule"}, appErr.Context["add_errors"])
}

func TestSync_ConfirmMustMatchRequestedRules(t *testing.T) {
	tests := []struct {
		name    string
		confirm string
		wantErr bool
	}{
		{name: "matching", confirm: `{"data":[{"id":"9","value":"from:alice","tag":"stream-bridge 1"}]}`},
		{name: "empty after created", confirm: `{"meta":{"result_count":0}}`, wantErr: true},
		{name: "wrong tag", confirm: `{"data":[{"id":"9","value":"from:alice","tag":"other"}]}`, wantErr: true},
		{name: "stale extra rule", confirm: `{"data":[{"id":"9","value":"from:alice","tag":"stream-bridge 1"},{"id":"1","value":"from:old"}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetches := 0
			url := newRawServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusCreated)
					_, _ = w.Write([]byte(`{"data":[{"id":"9","value":"from:alice","tag":"stream-bridge 1"}],"errors":[{"title":"DuplicateRule"}]}`))
					return
				}
				fetches++
				if fetches == 1 {
					_, _ = w.Write([]byte(`{"meta":{"result_count":0}}`))
					return
				}
				_, _ = w.Write([]byte(tt.confirm))
			}))

			client := NewClient(Config{RulesURL: url, BearerToken: "token"}, http.DefaultClient, logging.Nop())
			result, err := client.Sync(context.Background(), []rules.FilterRule{{Value: "from:alice", Tag: "stream-bridge 1"}})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, result.Added)
		})
	}
}
