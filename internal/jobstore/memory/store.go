// Package memory provides an in-process job store for development and
// tests, mirroring the semantics of the Redis-backed store.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/litigio/casefile-monitor/internal/jobstore"
	"github.com/litigio/casefile-monitor/internal/monitor"
	"github.com/litigio/casefile-monitor/internal/ratelimit"
)

// laneOrder is the cross-lane poll precedence.
var laneOrder = []monitor.Lane{monitor.LanePriority, monitor.LaneInitial, monitor.LaneMonitor}

// ErrClosed is returned once the store has been shut down.
var ErrClosed = errors.New("job store closed")

type pendingItem struct {
	job *monitor.Job
	seq uint64
}

// pendingHeap orders by priority ascending, then enqueue sequence (FIFO).
type pendingHeap []*pendingItem

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)   { *h = append(*h, x.(*pendingItem)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type delayedItem struct {
	job *monitor.Job
	seq uint64
}

type delayedHeap []*delayedItem

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if !h[i].job.NotBefore.Equal(h[j].job.NotBefore) {
		return h[i].job.NotBefore.Before(h[j].job.NotBefore)
	}
	return h[i].seq < h[j].seq
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(*delayedItem)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Store implements monitor.JobStore in memory. The global token bucket
// gates NextReady across all lanes.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*monitor.Job
	pending map[monitor.Lane]*pendingHeap
	delayed delayedHeap
	dedup   map[string]string // dedup key -> job id while pending/active/delayed
	seq     uint64
	closed  bool

	completed map[monitor.Lane]int64
	failed    map[monitor.Lane]int64

	bucket      *ratelimit.Bucket
	clock       monitor.Clock
	maxAttempts int
	backoffBase time.Duration

	notify chan struct{}
}

// Option tweaks store construction.
type Option func(*Store)

// WithRetry overrides the retry schedule.
func WithRetry(maxAttempts int, backoffBase time.Duration) Option {
	return func(s *Store) {
		s.maxAttempts = maxAttempts
		s.backoffBase = backoffBase
	}
}

// New constructs a Store sharing the given token bucket and clock.
func New(bucket *ratelimit.Bucket, clk monitor.Clock, opts ...Option) *Store {
	s := &Store{
		jobs:        make(map[string]*monitor.Job),
		pending:     make(map[monitor.Lane]*pendingHeap),
		dedup:       make(map[string]string),
		completed:   make(map[monitor.Lane]int64),
		failed:      make(map[monitor.Lane]int64),
		bucket:      bucket,
		clock:       clk,
		maxAttempts: jobstore.DefaultMaxAttempts,
		backoffBase: jobstore.DefaultBackoffBase,
		notify:      make(chan struct{}, 1),
	}
	for _, lane := range laneOrder {
		h := make(pendingHeap, 0)
		s.pending[lane] = &h
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue inserts a job unless a live job already holds the dedup key; in
// that case it returns the existing job and false.
func (s *Store) Enqueue(
	ctx context.Context,
	lane monitor.Lane,
	payload monitor.JobPayload,
	priority monitor.Priority,
	dedupKey string,
) (monitor.Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return monitor.Job{}, false, fmt.Errorf("enqueue: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return monitor.Job{}, false, ErrClosed
	}

	if existingID, ok := s.dedup[dedupKey]; ok {
		if existing, live := s.jobs[existingID]; live {
			return *existing, false, nil
		}
	}

	s.seq++
	job := &monitor.Job{
		ID:          uuid.NewString(),
		Lane:        lane,
		Payload:     payload,
		Priority:    priority,
		DedupKey:    dedupKey,
		MaxAttempts: s.maxAttempts,
		State:       monitor.JobPending,
		EnqueuedAt:  s.clock.Now(),
	}
	s.jobs[job.ID] = job
	s.dedup[dedupKey] = job.ID
	heap.Push(s.pending[lane], &pendingItem{job: job, seq: s.seq})
	s.wake()
	return *job, true, nil
}

// NextReady blocks until a job and a rate-limit token are both available,
// then atomically claims the best job across lanes.
func (s *Store) NextReady(ctx context.Context, workerID string) (monitor.Job, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return monitor.Job{}, ErrClosed
		}
		s.promoteDelayedLocked()
		ready := s.anyReadyLocked()
		wait := s.nextWakeLocked()
		s.mu.Unlock()

		if !ready {
			select {
			case <-ctx.Done():
				return monitor.Job{}, fmt.Errorf("next ready: %w", ctx.Err())
			case <-s.notify:
			case <-time.After(wait):
			}
			continue
		}

		// Token acquisition happens outside the critical section so one
		// lane waiting on tokens never blocks queue mutation.
		if err := s.bucket.Wait(ctx); err != nil {
			return monitor.Job{}, err
		}

		s.mu.Lock()
		s.promoteDelayedLocked()
		job := s.claimLocked(workerID)
		s.mu.Unlock()
		if job != nil {
			return *job, nil
		}
		// Another worker drained the queue between the token grant and
		// the claim; go back to waiting.
	}
}

// Complete marks the job finished and frees its dedup key.
func (s *Store) Complete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("complete: job %s not found", jobID)
	}
	job.State = monitor.JobCompleted
	s.completed[job.Lane]++
	s.releaseLocked(job)
	return nil
}

// Fail applies the retry policy. It reports true when the job was
// re-scheduled for another attempt.
func (s *Store) Fail(
	_ context.Context,
	jobID string,
	kind monitor.ErrorKind,
	message string,
	retryable bool,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("fail: job %s not found", jobID)
	}
	job.LastError = fmt.Sprintf("%s: %s", kind, message)

	if retryable && job.Attempt < job.MaxAttempts {
		job.State = monitor.JobDelayed
		job.NotBefore = s.clock.Now().Add(jobstore.Backoff(s.backoffBase, job.Attempt))
		s.seq++
		heap.Push(&s.delayed, &delayedItem{job: job, seq: s.seq})
		s.wake()
		return true, nil
	}

	job.State = monitor.JobFailed
	s.failed[job.Lane]++
	s.releaseLocked(job)
	return false, nil
}

// Stats returns per-lane queue counts.
func (s *Store) Stats(_ context.Context) (monitor.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := monitor.QueueStats{}
	for _, lane := range laneOrder {
		stats[lane] = monitor.LaneStats{
			Pending:   int64(s.pending[lane].Len()),
			Completed: s.completed[lane],
			Failed:    s.failed[lane],
		}
	}
	for _, job := range s.jobs {
		entry := stats[job.Lane]
		switch job.State {
		case monitor.JobActive:
			entry.Active++
		case monitor.JobDelayed:
			entry.Delayed++
		}
		stats[job.Lane] = entry
	}
	return stats, nil
}

// RequeueActive returns claimed jobs to pending after an unclean stop.
func (s *Store) RequeueActive(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.State != monitor.JobActive {
			continue
		}
		job.State = monitor.JobPending
		job.WorkerID = ""
		s.seq++
		heap.Push(s.pending[job.Lane], &pendingItem{job: job, seq: s.seq})
	}
	s.wake()
	return nil
}

// Ping reports liveness; the in-memory store is always reachable unless
// closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close shuts the store; blocked NextReady callers return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
	return nil
}

// Get returns a copy of the job for inspection in tests.
func (s *Store) Get(jobID string) (monitor.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.Job{}, false
	}
	return *job, true
}

func (s *Store) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// promoteDelayedLocked moves due delayed jobs back to their pending lane.
func (s *Store) promoteDelayedLocked() {
	now := s.clock.Now()
	for s.delayed.Len() > 0 {
		next := s.delayed[0]
		if next.job.NotBefore.After(now) {
			return
		}
		heap.Pop(&s.delayed)
		if next.job.State != monitor.JobDelayed {
			continue
		}
		next.job.State = monitor.JobPending
		s.seq++
		heap.Push(s.pending[next.job.Lane], &pendingItem{job: next.job, seq: s.seq})
	}
}

func (s *Store) anyReadyLocked() bool {
	for _, lane := range laneOrder {
		if s.pending[lane].Len() > 0 {
			return true
		}
	}
	return false
}

// nextWakeLocked bounds the idle wait by the soonest delayed promotion.
func (s *Store) nextWakeLocked() time.Duration {
	const idle = 500 * time.Millisecond
	if s.delayed.Len() == 0 {
		return idle
	}
	until := s.delayed[0].job.NotBefore.Sub(s.clock.Now())
	if until <= 0 {
		return time.Millisecond
	}
	if until < idle {
		return until
	}
	return idle
}

// claimLocked pops the best ready job: lane precedence first, then
// priority, then FIFO.
func (s *Store) claimLocked(workerID string) *monitor.Job {
	for _, lane := range laneOrder {
		h := s.pending[lane]
		for h.Len() > 0 {
			item := heap.Pop(h).(*pendingItem)
			if item.job.State != monitor.JobPending {
				continue
			}
			item.job.State = monitor.JobActive
			item.job.WorkerID = workerID
			item.job.Attempt++
			return item.job
		}
	}
	return nil
}

func (s *Store) releaseLocked(job *monitor.Job) {
	if id, ok := s.dedup[job.DedupKey]; ok && id == job.ID {
		delete(s.dedup, job.DedupKey)
	}
}
