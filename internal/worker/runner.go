package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// Runner fans a fixed set of workers out over the job store. Per-lane
// semaphores cap how many of them may run jobs of one lane at once.
type Runner struct {
	store    monitor.JobStore
	workers  []*Worker
	laneSems map[monitor.Lane]chan struct{}
	logger   *zap.Logger
}

// LaneCaps derives the per-lane concurrency limits from the total worker
// count: monitor may saturate the pool, initial takes half, priority a
// third, each at least one.
func LaneCaps(total int) map[monitor.Lane]int {
	if total < 1 {
		total = 1
	}
	atLeastOne := func(n int) int {
		if n < 1 {
			return 1
		}
		return n
	}
	return map[monitor.Lane]int{
		monitor.LaneMonitor:  total,
		monitor.LaneInitial:  atLeastOne(total / 2),
		monitor.LanePriority: atLeastOne(total / 3),
	}
}

// NewRunner builds a Runner over the given workers.
func NewRunner(store monitor.JobStore, workers []*Worker, caps map[monitor.Lane]int, logger *zap.Logger) *Runner {
	sems := make(map[monitor.Lane]chan struct{}, len(caps))
	for lane, capacity := range caps {
		if capacity < 1 {
			capacity = 1
		}
		sems[lane] = make(chan struct{}, capacity)
	}
	return &Runner{
		store:    store,
		workers:  workers,
		laneSems: sems,
		logger:   logger,
	}
}

// Run blocks until ctx ends and every in-flight job has finished. Workers
// stop claiming new jobs on cancellation but complete the job they hold.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range r.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			r.loop(ctx, w)
		}(w)
	}
	wg.Wait()
	r.logger.Info("all workers stopped")
}

func (r *Runner) loop(ctx context.Context, w *Worker) {
	for {
		job, err := r.store.NextReady(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("next ready failed", zap.String("worker_id", w.id), zap.Error(err))
			return
		}

		sem := r.laneSems[job.Lane]
		if sem != nil {
			sem <- struct{}{}
		}
		// The in-flight job runs on a background context: shutdown lets
		// it finish and the job store records its outcome.
		w.Process(context.WithoutCancel(ctx), job)
		if sem != nil {
			<-sem
		}
	}
}

// WorkerIDs builds stable worker ids for a pool of size n.
func WorkerIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("worker-%d", i+1))
	}
	return ids
}
