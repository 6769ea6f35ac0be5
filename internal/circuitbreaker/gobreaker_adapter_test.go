package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
)

func TestGoBreakerAdapter(t *testing.T) {
	logger := logging.Nop()

	t.Run("basic operation", func(t *testing.T) {
		cb := NewGoBreaker("test-basic", Config{
			ConsecutiveFailures: 2,
			Cooldown:            100 * time.Millisecond,
			HalfOpenRequests:    1,
		}, logger)

		assert.Equal(t, StateClosed, cb.State())

		err := cb.Execute(context.Background(), func() error {
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, 1, cb.Stats().Successes)
	})

	t.Run("circuit opens after failures", func(t *testing.T) {
		cb := NewGoBreaker("test-failures", Config{
			ConsecutiveFailures: 3,
			Cooldown:            100 * time.Millisecond,
			HalfOpenRequests:    1,
		}, logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(context.Background(), func() error {
				return fmt.Errorf("failure %d", i)
			})
			assert.Error(t, err)
		}

		assert.Equal(t, StateOpen, cb.State())
		assert.True(t, cb.IsOpen())

		err := cb.Execute(context.Background(), func() error {
			t.Fatal("This should not be called")
			return nil
		})
		require.Error(t, err)
		assert.True(t, IsRejection(err))
		assert.Contains(t, err.Error(), "is open")
	})

	t.Run("circuit recovers after timeout", func(t *testing.T) {
		cb := NewGoBreaker("test-recovery", Config{
			ConsecutiveFailures: 1,
			Cooldown:            50 * time.Millisecond,
			HalfOpenRequests:    1,
		}, logger)

		_ = cb.Execute(context.Background(), func() error { return fmt.Errorf("boom") })
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, StateHalfOpen, cb.State())

		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("client errors do not trip", func(t *testing.T) {
		cb := NewGoBreaker("test-client-errors", Config{
			ConsecutiveFailures: 1,
			Cooldown:            time.Second,
			HalfOpenRequests:    1,
		}, logger)

		err := cb.Execute(context.Background(), func() error { return errors.ValidationError("bad payload") })
		assert.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("invalid config falls back to defaults", func(t *testing.T) {
		cb := NewGoBreaker("test-invalid", Config{}, nil)
		assert.Equal(t, DefaultConfig(), cb.config)
	})

	t.Run("cancelled context skips the call", func(t *testing.T) {
		cb := NewGoBreaker("test-cancel", DefaultConfig(), logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := cb.Execute(ctx, func() error {
			t.Fatal("This should not be called")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGoBreakerManager(t *testing.T) {
	m := NewGoBreakerManager(Config{ConsecutiveFailures: 1, Cooldown: time.Minute, HalfOpenRequests: 1}, nil)

	a := m.GetOrCreate("https://a.example")
	assert.Same(t, a, m.GetOrCreate("https://a.example"))

	_ = m.Execute(context.Background(), "https://b.example", func() error { return fmt.Errorf("down") })
	assert.True(t, m.IsOpen("https://b.example"))
	assert.False(t, m.IsOpen("https://a.example"))
	assert.False(t, m.IsOpen("https://unknown.example"))

	stats := m.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "https://a.example", stats[0].Name)
	assert.Equal(t, "open", stats[1].State)

	m.Retain([]string{"https://a.example"})
	assert.Len(t, m.AllStats(), 1)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
