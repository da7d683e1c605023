package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	l := New(Config{RPS: 10, Burst: 2, Clock: mock})

	require.True(t, l.Allow("ada"))
	require.True(t, l.Allow("ada"))
	require.False(t, l.Allow("ada"))
	require.True(t, l.Allow("grace"), "buckets are independent per key")

	// 10 RPS refills one token every 100ms.
	mock.Add(100 * time.Millisecond)
	require.True(t, l.Allow("ada"))
	require.False(t, l.Allow("ada"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("ada"))
	}
}

func TestLimiterWait(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	l := New(Config{RPS: 10, Burst: 1, Clock: mock})
	require.NoError(t, l.Wait(context.Background(), "ada"))

	done := make(chan error, 1)
	go func() { done <- l.Wait(context.Background(), "ada") }()
	require.Eventually(t, func() bool {
		mock.Add(10 * time.Millisecond)
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	l := New(Config{RPS: 1, Burst: 1, Clock: mock})
	require.True(t, l.Allow("ada"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Wait(ctx, "ada"), context.Canceled)
}

func TestLimiterPrune(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	l := New(Config{RPS: 1, Burst: 1, Clock: mock})
	l.Allow("ada")
	mock.Add(time.Minute)
	l.Allow("grace")

	require.Equal(t, 1, l.Prune(30*time.Second))
	require.Equal(t, 1, l.Len())
}
