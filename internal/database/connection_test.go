package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "ws://localhost:8000/rpc", redactDBURL("ws://localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("://bad"))
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"refused", errors.New("dial tcp: Connection refused"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"application", errors.New("parse error near SELECT"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConnectionError(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	r := Backoff{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := r.Retry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("boom")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("always")
		err := r.Retry(context.Background(), func() error {
			calls++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 4, calls)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := r.Retry(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoffDelayCapped(t *testing.T) {
	r := Backoff{BaseDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}
	assert.Equal(t, 2*time.Second, r.delay(5))
	assert.Equal(t, time.Second, r.delay(0))
}

func TestConnection_NotConnected(t *testing.T) {
	conn := NewConnection(nil, WithHealthInterval(time.Second))
	assert.False(t, conn.IsHealthy())
	assert.ErrorIs(t, conn.WithConnection(context.Background(), nil), ErrNotConnected)
	assert.ErrorIs(t, conn.Ping(context.Background()), ErrNotConnected)
	assert.NoError(t, conn.Close(context.Background()))
}

func TestConnectionLifecycle(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	assert.True(t, conn.IsHealthy())
	require.NoError(t, conn.Ping(context.Background()))
}
