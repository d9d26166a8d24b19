package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

func TestLaneCaps(t *testing.T) {
	t.Parallel()

	caps := LaneCaps(6)
	require.Equal(t, 6, caps[monitor.LaneMonitor])
	require.Equal(t, 3, caps[monitor.LaneInitial])
	require.Equal(t, 2, caps[monitor.LanePriority])

	// Minimum one slot per lane.
	caps = LaneCaps(1)
	require.Equal(t, 1, caps[monitor.LaneMonitor])
	require.Equal(t, 1, caps[monitor.LaneInitial])
	require.Equal(t, 1, caps[monitor.LanePriority])
}

func TestRunner_ProcessesAndStops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeSubmitter{
		outcomes:  []monitor.SubmitOutcome{monitor.SubmitResults},
		binnacles: []monitor.RawBinnacle{entryA()},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := h.store.Enqueue(ctx, monitor.LaneMonitor,
		monitor.JobPayload{CaseFileID: 42, TenantID: 7, CaseNumber: "00123-2024"},
		monitor.PriorityMedium, "monitor:42:runner")
	require.NoError(t, err)

	runner := NewRunner(h.store, []*Worker{h.worker}, LaneCaps(1), zap.NewNop())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.repo.mu.Lock()
		defer h.repo.mu.Unlock()
		_, ok := h.repo.snapshots[42]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}
