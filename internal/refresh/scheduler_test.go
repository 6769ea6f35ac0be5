package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
)

type countingReloader struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (r *countingReloader) Reload(ctx context.Context) error {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.err
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("not a schedule", &countingReloader{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestRunOnce(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		reloader := &countingReloader{}
		s, err := New("*/5 * * * *", reloader, nil)
		require.NoError(t, err)

		require.NoError(t, s.RunOnce(context.Background()))
		runs, lastErr := s.Runs()
		assert.Equal(t, 1, runs)
		assert.NoError(t, lastErr)
	})

	t.Run("failure is recorded", func(t *testing.T) {
		reloader := &countingReloader{err: fmt.Errorf("sync failed")}
		s, err := New("@hourly", reloader, nil)
		require.NoError(t, err)

		assert.EqualError(t, s.RunOnce(context.Background()), "sync failed")
		_, lastErr := s.Runs()
		assert.EqualError(t, lastErr, "sync failed")
	})

	t.Run("timeout", func(t *testing.T) {
		reloader := &countingReloader{delay: time.Second}
		s, err := New("@hourly", reloader, nil)
		require.NoError(t, err)
		s.timeout = 20 * time.Millisecond

		assert.ErrorIs(t, s.RunOnce(context.Background()), context.DeadlineExceeded)
	})
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	reloader := &countingReloader{}
	s, err := New("@every 1s", reloader, nil)
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start()
	assert.False(t, s.Next().IsZero())

	assert.Eventually(t, func() bool {
		return reloader.calls.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestKVFields(t *testing.T) {
	fields := kvFields([]interface{}{"entry", 1, 2, "x", "dangling"})
	require.Len(t, fields, 2)
	assert.Equal(t, "entry", fields[0].Key)
	assert.Equal(t, "2", fields[1].Key)
}
