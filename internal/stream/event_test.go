package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/testutil"
)

func TestParseFrame_KeepAlive(t *testing.T) {
	for _, raw := range []string{"", "\r", "\r\n", "  \t"} {
		events, err := ParseFrame([]byte(raw))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, KindKeepAlive, events[0].Kind)
	}
}

func TestParseFrame_Data(t *testing.T) {
	frame := testutil.TweetFrame("1500", "42", "alice", "Alice A")

	events, err := ParseFrame([]byte(frame))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, KindData, ev.Kind)
	require.NotNil(t, ev.Tweet)
	assert.Equal(t, "1500", ev.Tweet.ID)
	require.NotNil(t, ev.Author)
	assert.Equal(t, "Alice A", ev.Author.Name)
	assert.Equal(t, []string{"alice"}, ev.Accounts)
	assert.Equal(t, "stream-bridge 1", ev.MatchingRules[0].Tag)
	assert.JSONEq(t, frame, string(ev.Raw))
}

func TestParseFrame_DataWithoutAuthor(t *testing.T) {
	events, err := ParseFrame([]byte(`{"data":{"id":"1","author_id":"9"},"includes":{"users":[{"id":"8","username":"other"}]}}`))
	require.NoError(t, err)

	assert.Equal(t, KindData, events[0].Kind)
	assert.Nil(t, events[0].Author)
	assert.Empty(t, events[0].Accounts)
}

func TestParseFrame_ConnectionLimit(t *testing.T) {
	events, err := ParseFrame([]byte(testutil.ConnectionLimitFrame()))
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, KindConnectionLimit, events[0].Kind)
	assert.Equal(t, "ConnectionException", events[0].Title)
	assert.Contains(t, events[0].Detail, "maximum allowed connection limit")
}

func TestParseFrame_TitledError(t *testing.T) {
	events, err := ParseFrame([]byte(`{"title":"operational-disconnect","detail":"upstream maintenance"}`))
	require.NoError(t, err)

	assert.Equal(t, KindError, events[0].Kind)
	assert.Equal(t, "operational-disconnect", events[0].Title)
}

func TestParseFrame_ErrorsArray(t *testing.T) {
	raw := `{"errors":[{"title":"Not Found Error","detail":"user gone"},{"title":"Authorization Error","detail":"protected"}]}`

	events, err := ParseFrame([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindError, events[0].Kind)
	assert.Equal(t, "Not Found Error", events[0].Title)
	assert.Equal(t, "Authorization Error", events[1].Title)
}

func TestParseFrame_ErrorsWithData(t *testing.T) {
	raw := `{"data":{"id":"1","author_id":"2"},"includes":{"users":[{"id":"2","username":"bob"}]},"errors":[{"title":"partial"}]}`

	events, err := ParseFrame([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindData, events[0].Kind)
}

func TestParseFrame_Malformed(t *testing.T) {
	for _, raw := range []string{"{not json", "42", `"text"`} {
		_, err := ParseFrame([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, errors.IsType(err, errors.ErrTypeParse))
		assert.False(t, errors.IsFatal(err))
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "data", KindData.String())
	assert.Equal(t, "keep_alive", KindKeepAlive.String())
	assert.Equal(t, "error", KindError.String())
	assert.Equal(t, "connection_limit", KindConnectionLimit.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
