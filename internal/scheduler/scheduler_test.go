package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jsmemory "github.com/litigio/casefile-monitor/internal/jobstore/memory"
	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
	"github.com/litigio/casefile-monitor/internal/ratelimit"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time           { return c.now }
func (c fixedClock) Location() *time.Location { return c.now.Location() }

// fakeRepo serves the scheduler read path from canned data.
type fakeRepo struct {
	monitor.Repository

	schedules []monitor.ScheduleTenant
	caseFiles map[int64][]monitor.CaseFile
	snapshots map[int64]monitor.Snapshot
}

func (f *fakeRepo) EnabledSchedules(context.Context) ([]monitor.ScheduleTenant, error) {
	return f.schedules, nil
}

func (f *fakeRepo) EligibleCaseFiles(_ context.Context, tenantID int64) ([]monitor.CaseFile, error) {
	return f.caseFiles[tenantID], nil
}

func (f *fakeRepo) SnapshotsFor(_ context.Context, ids []int64) (map[int64]monitor.Snapshot, error) {
	out := map[int64]monitor.Snapshot{}
	for _, id := range ids {
		if snap, ok := f.snapshots[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func TestFrequencyRules(t *testing.T) {
	t.Parallel()
	rules := DefaultRules()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	young := monitor.CaseFile{CreatedAt: now.AddDate(0, 0, -2)}
	oldCase := monitor.CaseFile{CreatedAt: now.AddDate(0, 0, -120)}

	snap := func(scrapedDaysAgo int, changedDaysAgo *int) *monitor.Snapshot {
		s := &monitor.Snapshot{LastScrapedAt: now.AddDate(0, 0, -scrapedDaysAgo)}
		if changedDaysAgo != nil {
			s.LastChangedAt = timePtr(now.AddDate(0, 0, -*changedDaysAgo))
		}
		return s
	}
	days := func(n int) *int { return &n }

	// Young case: always due, snapshot or not.
	require.True(t, rules.Due(now, young, nil))
	require.True(t, rules.Due(now, young, snap(0, nil)))

	// No snapshot yet.
	require.True(t, rules.Due(now, oldCase, nil))

	// Recently active: due regardless of the last scrape.
	require.True(t, rules.Due(now, oldCase, snap(0, days(2))))

	// Very stale: weekly cadence.
	require.False(t, rules.Due(now, oldCase, snap(3, days(120))))
	require.True(t, rules.Due(now, oldCase, snap(8, days(120))))

	// High stale: every three days.
	require.False(t, rules.Due(now, oldCase, snap(2, days(45))))
	require.True(t, rules.Due(now, oldCase, snap(3, days(45))))

	// Moderate: daily.
	require.False(t, rules.Due(now, oldCase, snap(0, days(10))))
	require.True(t, rules.Due(now, oldCase, snap(1, days(10))))
}

func TestPriorityFor(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.Equal(t, monitor.PriorityCritical, PriorityFor(now, []string{"09:30"}))
	require.Equal(t, monitor.PriorityHigh, PriorityFor(now, []string{"11:00"}))
	require.Equal(t, monitor.PriorityMedium, PriorityFor(now, []string{"14:00"}))
	require.Equal(t, monitor.PriorityLow, PriorityFor(now, []string{"20:00"}))

	// Past times roll to tomorrow.
	require.Equal(t, monitor.PriorityLow, PriorityFor(now, []string{"08:00"}))
	// Nearest of several wins.
	require.Equal(t, monitor.PriorityCritical, PriorityFor(now, []string{"20:00", "09:15"}))
	// No times: the 23:59 default applies.
	require.Equal(t, monitor.PriorityLow, PriorityFor(now, nil))
}

func TestTick_EnqueuesDueCaseFiles(t *testing.T) {
	t.Parallel()
	metrics.Init()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := fixedClock{now: now}

	repo := &fakeRepo{
		schedules: []monitor.ScheduleTenant{{
			Schedule: monitor.NotificationSchedule{
				ID: 1, TenantID: 7,
				LogicKey: monitor.LogicKeyPortalMonitoring,
				Times:    []string{"10:00"},
				Enabled:  true,
			},
			Tenant: monitor.Tenant{ID: 7, Name: "banco-a", ScrapeEnabled: true},
		}},
		caseFiles: map[int64][]monitor.CaseFile{
			7: {
				// Young: due.
				{ID: 1, TenantID: 7, CaseNumber: "C-1", CreatedAt: now.AddDate(0, 0, -1)},
				// Scraped this morning, quiet history: not due.
				{ID: 2, TenantID: 7, CaseNumber: "C-2", CreatedAt: now.AddDate(0, 0, -60)},
			},
		},
		snapshots: map[int64]monitor.Snapshot{
			2: {CaseFileID: 2, LastScrapedAt: now.Add(-2 * time.Hour),
				LastChangedAt: timePtr(now.AddDate(0, 0, -10))},
		},
	}
	store := jsmemory.New(ratelimit.New(100, time.Second), clk)
	defer store.Close()

	s := New(repo, store, clk, DefaultRules(), 10*time.Minute, zap.NewNop())
	s.Tick(context.Background())

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats[monitor.LaneMonitor].Pending)

	job, err := store.NextReady(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, int64(1), job.Payload.CaseFileID)
	require.Equal(t, monitor.PriorityHigh, job.Priority) // 10:00 is <3h away
	require.Equal(t, "monitor:1:20260310", job.DedupKey)
}

func TestTick_Idempotent(t *testing.T) {
	t.Parallel()
	metrics.Init()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := fixedClock{now: now}

	repo := &fakeRepo{
		schedules: []monitor.ScheduleTenant{{
			Schedule: monitor.NotificationSchedule{ID: 1, TenantID: 7, LogicKey: monitor.LogicKeyPortalMonitoring, Enabled: true},
			Tenant:   monitor.Tenant{ID: 7, ScrapeEnabled: true},
		}},
		caseFiles: map[int64][]monitor.CaseFile{
			7: {{ID: 1, TenantID: 7, CaseNumber: "C-1", CreatedAt: now.AddDate(0, 0, -1)}},
		},
	}
	store := jsmemory.New(ratelimit.New(100, time.Second), clk)
	defer store.Close()

	s := New(repo, store, clk, DefaultRules(), 10*time.Minute, zap.NewNop())
	s.Tick(context.Background())
	s.Tick(context.Background())

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats[monitor.LaneMonitor].Pending)
}
