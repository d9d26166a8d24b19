package jobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_JitterWindow(t *testing.T) {
	t.Parallel()

	for attempt, base := range map[int]time.Duration{1: 30 * time.Second, 2: 60 * time.Second, 3: 120 * time.Second} {
		for i := 0; i < 50; i++ {
			d := Backoff(30*time.Second, attempt)
			require.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8))
			require.LessOrEqual(t, d, time.Duration(float64(base)*1.2))
		}
	}
}

func TestDedupKeys(t *testing.T) {
	t.Parallel()

	day := Day(time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC))
	require.Equal(t, "20260310", day)
	require.Equal(t, "monitor:42:20260310", MonitorKey(42, day))
	require.Equal(t, "initial:42:20260310", InitialKey(42, day))

	at := time.UnixMilli(1765432100000)
	require.Equal(t, "priority:42:1765432100000", PriorityKey(42, at))
}
