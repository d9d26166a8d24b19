// Package scheduler plans monitor scrapes: a periodic tick selects due
// case files by the adaptive frequency rules and enqueues them with
// deduplication.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/jobstore"
	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
)

// Scheduler runs the periodic planning tick.
type Scheduler struct {
	repo     monitor.Repository
	store    monitor.JobStore
	clock    monitor.Clock
	rules    FrequencyRules
	interval time.Duration
	logger   *zap.Logger
	cron     *cron.Cron
}

// New builds a Scheduler; Start arms the tick.
func New(
	repo monitor.Repository,
	store monitor.JobStore,
	clk monitor.Clock,
	rules FrequencyRules,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		repo:     repo,
		store:    store,
		clock:    clk,
		rules:    rules,
		interval: interval,
		logger:   logger,
	}
}

// Start arms the periodic tick. A tick that overruns the interval causes
// the next one to be skipped, not queued.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(
		cron.WithLocation(s.clock.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	// An in-flight tick runs to completion even during shutdown; Stop
	// waits for it below.
	tickCtx := context.WithoutCancel(ctx)
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Tick(tickCtx)
	})
	if err != nil {
		return fmt.Errorf("arm scheduler tick: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the tick and waits for an in-flight tick, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded with tick in flight")
	}
}

// Tick runs one planning pass. Exported so the orchestrator can force an
// immediate pass at startup and tests can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	schedules, err := s.repo.EnabledSchedules(ctx)
	if err != nil {
		s.logger.Error("load schedules failed", zap.Error(err))
		return
	}

	total := 0
	for _, st := range schedules {
		enqueued, err := s.planTenant(ctx, st)
		if err != nil {
			s.logger.Error("plan tenant failed",
				zap.Int64("tenant_id", st.Tenant.ID), zap.Error(err))
			continue
		}
		total += enqueued
	}
	if total > 0 {
		s.logger.Info("tick planned scrapes", zap.Int("enqueued", total))
	}
	metrics.ObserveScheduled(total)
}

func (s *Scheduler) planTenant(ctx context.Context, st monitor.ScheduleTenant) (int, error) {
	caseFiles, err := s.repo.EligibleCaseFiles(ctx, st.Tenant.ID)
	if err != nil {
		return 0, fmt.Errorf("load case files: %w", err)
	}
	if len(caseFiles) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(caseFiles))
	for _, cf := range caseFiles {
		ids = append(ids, cf.ID)
	}
	snapshots, err := s.repo.SnapshotsFor(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load snapshots: %w", err)
	}

	now := s.clock.Now()
	day := jobstore.Day(now)
	priority := PriorityFor(now, st.Schedule.Times)

	enqueued := 0
	for _, cf := range caseFiles {
		var snap *monitor.Snapshot
		if sn, ok := snapshots[cf.ID]; ok {
			snap = &sn
		}
		if !s.rules.Due(now, cf, snap) {
			continue
		}

		payload := monitor.JobPayload{
			CaseFileID: cf.ID,
			TenantID:   cf.TenantID,
			CaseNumber: cf.CaseNumber,
		}
		_, created, err := s.store.Enqueue(ctx, monitor.LaneMonitor, payload,
			priority, jobstore.MonitorKey(cf.ID, day))
		if err != nil {
			s.logger.Error("enqueue monitor job failed",
				zap.Int64("case_file_id", cf.ID), zap.Error(err))
			continue
		}
		if created {
			enqueued++
		}
	}
	return enqueued, nil
}
