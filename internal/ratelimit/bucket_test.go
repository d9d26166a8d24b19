package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/litigio/casefile-monitor/internal/metrics"
)

func TestBucket_AllowDrains(t *testing.T) {
	t.Parallel()
	metrics.Init()

	b := New(3, time.Minute)
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow())
}

func TestBucket_WaitRefills(t *testing.T) {
	t.Parallel()
	metrics.Init()

	// 20 tokens per second so the refill arrives within the test budget.
	b := New(20, time.Second)
	for i := 0; i < 20; i++ {
		require.True(t, b.Allow())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, b.Wait(ctx))
	// One token refills every 50ms.
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBucket_WaitHonorsContext(t *testing.T) {
	t.Parallel()
	metrics.Init()

	b := New(1, time.Hour)
	require.True(t, b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, b.Wait(ctx))
}
