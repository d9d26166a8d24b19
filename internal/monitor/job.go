package monitor

import (
	"context"
	"time"
)

// Lane is one of the three logical priority classes within the job store.
type Lane string

const (
	LaneInitial  Lane = "initial"
	LaneMonitor  Lane = "monitor"
	LanePriority Lane = "priority"
)

// Kind maps a lane to the job kind recorded in the job log.
func (l Lane) Kind() JobKind {
	switch l {
	case LaneInitial:
		return JobInitial
	case LanePriority:
		return JobPriority
	default:
		return JobMonitor
	}
}

// Priority orders jobs within a lane; lower numbers run first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityMedium   Priority = 3
	PriorityLow      Priority = 5
)

// JobState is the queue lifecycle state of a job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobPayload identifies the scrape to perform.
type JobPayload struct {
	CaseFileID int64  `json:"case_file_id"`
	TenantID   int64  `json:"tenant_id"`
	CaseNumber string `json:"case_number"`
}

// Job is one queued scrape with its retry bookkeeping.
type Job struct {
	ID          string
	Lane        Lane
	Payload     JobPayload
	Priority    Priority
	DedupKey    string
	Attempt     int // attempts already consumed
	MaxAttempts int
	State       JobState
	NotBefore   time.Time // earliest run time for delayed jobs
	EnqueuedAt  time.Time
	Deadline    *time.Time
	LastError   string
	WorkerID    string
}

// LaneStats is the per-lane breakdown surfaced on /status.
type LaneStats struct {
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// QueueStats aggregates LaneStats across all lanes.
type QueueStats map[Lane]LaneStats

// JobStore is the durable prioritized queue shared by the scheduler, the
// API and the workers. Enqueue is atomic with respect to the dedup key:
// while a job with the same key is pending/active/delayed, re-enqueueing
// returns the existing job. NextReady pops the highest-priority ready job
// across lanes subject to the global token bucket and suspends until work
// and a token are both available.
type JobStore interface {
	Enqueue(ctx context.Context, lane Lane, payload JobPayload, priority Priority, dedupKey string) (Job, bool, error)
	NextReady(ctx context.Context, workerID string) (Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, kind ErrorKind, message string, retryable bool) (bool, error)
	Stats(ctx context.Context) (QueueStats, error)
	// RequeueActive returns every active job to pending so another
	// process can pick it up after an unclean shutdown.
	RequeueActive(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
