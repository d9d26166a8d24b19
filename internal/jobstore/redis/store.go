// Package redis provides the durable Redis-backed job store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/jobstore"
	"github.com/litigio/casefile-monitor/internal/monitor"
	"github.com/litigio/casefile-monitor/internal/ratelimit"
)

const (
	keyPrefix  = "casewatch"
	pollPeriod = 500 * time.Millisecond
	// Dedup keys expire on their own well after any calendar-day key has
	// rotated, so an unclean shutdown cannot wedge a case file.
	dedupTTL = 48 * time.Hour
)

var laneOrder = []monitor.Lane{monitor.LanePriority, monitor.LaneInitial, monitor.LaneMonitor}

// Store implements monitor.JobStore on Redis. Pending lanes are sorted
// sets scored by (priority, sequence); delayed jobs live in one sorted
// set scored by their ready time; dedup keys are plain SET NX entries
// pointing at the live job id.
type Store struct {
	client      *redis.Client
	bucket      *ratelimit.Bucket
	clock       monitor.Clock
	logger      *zap.Logger
	maxAttempts int
	backoffBase time.Duration
}

// Config sizes the store.
type Config struct {
	Addr        string
	Password    string
	DB          int
	MaxAttempts int
	BackoffBase time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, bucket *ratelimit.Bucket, clk monitor.Clock, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = jobstore.DefaultMaxAttempts
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = jobstore.DefaultBackoffBase
	}
	return &Store{
		client:      client,
		bucket:      bucket,
		clock:       clk,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}, nil
}

func jobKey(id string) string { return fmt.Sprintf("%s:job:%s", keyPrefix, id) }

func pendingKey(lane monitor.Lane) string { return fmt.Sprintf("%s:pending:%s", keyPrefix, lane) }

func dedupKey(key string) string { return fmt.Sprintf("%s:dedup:%s", keyPrefix, key) }

var (
	delayedKey = keyPrefix + ":delayed"
	activeKey  = keyPrefix + ":active"
	seqKey     = keyPrefix + ":seq"
)

func counterKey(lane monitor.Lane, state string) string {
	return fmt.Sprintf("%s:count:%s:%s", keyPrefix, lane, state)
}

// enqueueScript claims the dedup key and registers the job atomically.
// KEYS: dedup, job, pending. ARGV: jobID, jobJSON, score, ttlSeconds.
// Returns the live job id (existing or new).
var enqueueScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  return existing
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[4])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return ARGV[1]
`)

// claimScript pops the best pending job across lanes and parks it in the
// active set. KEYS: pending:priority, pending:initial, pending:monitor,
// active. ARGV: now (unix seconds). Returns the job id or false.
var claimScript = redis.NewScript(`
for i = 1, 3 do
  local popped = redis.call('ZPOPMIN', KEYS[i])
  if popped[1] then
    redis.call('ZADD', KEYS[4], ARGV[1], popped[1])
    return popped[1]
  end
end
return false
`)

// promoteScript moves due delayed jobs back to their pending lanes.
// KEYS: delayed. ARGV: now-millis, prefix.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
  local raw = redis.call('GET', ARGV[2] .. ':job:' .. id)
  if raw then
    local job = cjson.decode(raw)
    job.state = 'pending'
    redis.call('SET', ARGV[2] .. ':job:' .. id, cjson.encode(job))
    redis.call('ZADD', ARGV[2] .. ':pending:' .. job.lane, job.score, id)
  end
  redis.call('ZREM', KEYS[1], id)
end
return #due
`)

// storedJob is the JSON shape persisted per job.
type storedJob struct {
	ID          string             `json:"id"`
	Lane        monitor.Lane       `json:"lane"`
	Payload     monitor.JobPayload `json:"payload"`
	Priority    monitor.Priority   `json:"priority"`
	DedupKey    string             `json:"dedup_key"`
	Attempt     int                `json:"attempt"`
	MaxAttempts int                `json:"max_attempts"`
	State       monitor.JobState   `json:"state"`
	Score       float64            `json:"score"`
	NotBefore   int64              `json:"not_before_ms,omitempty"`
	EnqueuedAt  int64              `json:"enqueued_at_ms"`
	LastError   string             `json:"last_error,omitempty"`
	WorkerID    string             `json:"worker_id,omitempty"`
}

func (s *Store) toJob(st storedJob) monitor.Job {
	job := monitor.Job{
		ID:          st.ID,
		Lane:        st.Lane,
		Payload:     st.Payload,
		Priority:    st.Priority,
		DedupKey:    st.DedupKey,
		Attempt:     st.Attempt,
		MaxAttempts: st.MaxAttempts,
		State:       st.State,
		EnqueuedAt:  time.UnixMilli(st.EnqueuedAt).In(s.clock.Location()),
		LastError:   st.LastError,
		WorkerID:    st.WorkerID,
	}
	if st.NotBefore > 0 {
		job.NotBefore = time.UnixMilli(st.NotBefore).In(s.clock.Location())
	}
	return job
}

// Enqueue inserts the job unless the dedup key is held by a live job.
func (s *Store) Enqueue(
	ctx context.Context,
	lane monitor.Lane,
	payload monitor.JobPayload,
	priority monitor.Priority,
	dedup string,
) (monitor.Job, bool, error) {
	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return monitor.Job{}, false, fmt.Errorf("next sequence: %w", err)
	}

	st := storedJob{
		ID:          uuid.NewString(),
		Lane:        lane,
		Payload:     payload,
		Priority:    priority,
		DedupKey:    dedup,
		MaxAttempts: s.maxAttempts,
		State:       monitor.JobPending,
		Score:       float64(priority)*1e12 + float64(seq),
		EnqueuedAt:  s.clock.Now().UnixMilli(),
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return monitor.Job{}, false, fmt.Errorf("marshal job: %w", err)
	}

	liveID, err := enqueueScript.Run(ctx, s.client,
		[]string{dedupKey(dedup), jobKey(st.ID), pendingKey(lane)},
		st.ID, string(raw), st.Score, int(dedupTTL.Seconds()),
	).Text()
	if err != nil {
		return monitor.Job{}, false, fmt.Errorf("enqueue script: %w", err)
	}

	if liveID != st.ID {
		existing, err := s.getJob(ctx, liveID)
		if err != nil {
			// The holder completed between the script and the read;
			// treat the new job as enqueued on the next attempt.
			return monitor.Job{}, false, fmt.Errorf("load deduped job %s: %w", liveID, err)
		}
		return existing, false, nil
	}
	return s.toJob(st), true, nil
}

// NextReady claims the best ready job across lanes, gated by the global
// token bucket. It polls the durable store; a poll period bounds the
// wake-up latency after an enqueue from another process.
func (s *Store) NextReady(ctx context.Context, workerID string) (monitor.Job, error) {
	for {
		if err := s.promoteDelayed(ctx); err != nil {
			s.logger.Warn("promote delayed failed", zap.Error(err))
		}

		ready, err := s.anyPending(ctx)
		if err != nil {
			return monitor.Job{}, err
		}
		if !ready {
			select {
			case <-ctx.Done():
				return monitor.Job{}, fmt.Errorf("next ready: %w", ctx.Err())
			case <-time.After(pollPeriod):
			}
			continue
		}

		if err := s.bucket.Wait(ctx); err != nil {
			return monitor.Job{}, err
		}

		id, err := claimScript.Run(ctx, s.client,
			[]string{
				pendingKey(monitor.LanePriority),
				pendingKey(monitor.LaneInitial),
				pendingKey(monitor.LaneMonitor),
				activeKey,
			},
			s.clock.Now().Unix(),
		).Text()
		if errors.Is(err, redis.Nil) {
			continue // raced with another worker
		}
		if err != nil {
			return monitor.Job{}, fmt.Errorf("claim script: %w", err)
		}

		job, err := s.markActive(ctx, id, workerID)
		if err != nil {
			return monitor.Job{}, err
		}
		return job, nil
	}
}

func (s *Store) markActive(ctx context.Context, id, workerID string) (monitor.Job, error) {
	st, err := s.getStored(ctx, id)
	if err != nil {
		return monitor.Job{}, err
	}
	st.State = monitor.JobActive
	st.WorkerID = workerID
	st.Attempt++
	if err := s.putStored(ctx, st); err != nil {
		return monitor.Job{}, err
	}
	return s.toJob(st), nil
}

// Complete marks the job finished and frees its dedup key.
func (s *Store) Complete(ctx context.Context, jobID string) error {
	st, err := s.getStored(ctx, jobID)
	if err != nil {
		return err
	}
	st.State = monitor.JobCompleted
	if err := s.putStored(ctx, st); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, jobID)
	pipe.Del(ctx, dedupKey(st.DedupKey))
	pipe.Incr(ctx, counterKey(st.Lane, "completed"))
	pipe.Expire(ctx, jobKey(jobID), dedupTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail applies the retry policy; it reports true when the job was delayed
// for another attempt.
func (s *Store) Fail(
	ctx context.Context,
	jobID string,
	kind monitor.ErrorKind,
	message string,
	retryable bool,
) (bool, error) {
	st, err := s.getStored(ctx, jobID)
	if err != nil {
		return false, err
	}
	st.LastError = fmt.Sprintf("%s: %s", kind, message)

	if retryable && st.Attempt < st.MaxAttempts {
		st.State = monitor.JobDelayed
		notBefore := s.clock.Now().Add(jobstore.Backoff(s.backoffBase, st.Attempt))
		st.NotBefore = notBefore.UnixMilli()
		if err := s.putStored(ctx, st); err != nil {
			return false, err
		}
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, activeKey, jobID)
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(st.NotBefore), Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("delay job %s: %w", jobID, err)
		}
		return true, nil
	}

	st.State = monitor.JobFailed
	if err := s.putStored(ctx, st); err != nil {
		return false, err
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, jobID)
	pipe.Del(ctx, dedupKey(st.DedupKey))
	pipe.Incr(ctx, counterKey(st.Lane, "failed"))
	pipe.Expire(ctx, jobKey(jobID), dedupTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return false, nil
}

// Stats returns per-lane queue counts.
func (s *Store) Stats(ctx context.Context) (monitor.QueueStats, error) {
	stats := monitor.QueueStats{}
	active, err := s.activeByLane(ctx)
	if err != nil {
		return nil, err
	}
	delayed, err := s.delayedByLane(ctx)
	if err != nil {
		return nil, err
	}
	for _, lane := range laneOrder {
		pending, err := s.client.ZCard(ctx, pendingKey(lane)).Result()
		if err != nil {
			return nil, fmt.Errorf("count pending %s: %w", lane, err)
		}
		completed, _ := s.client.Get(ctx, counterKey(lane, "completed")).Int64()
		failed, _ := s.client.Get(ctx, counterKey(lane, "failed")).Int64()
		stats[lane] = monitor.LaneStats{
			Pending:   pending,
			Active:    active[lane],
			Delayed:   delayed[lane],
			Completed: completed,
			Failed:    failed,
		}
	}
	return stats, nil
}

// RequeueActive pushes every active job back to pending; used on startup
// and when a shutdown deadline fires with jobs in flight.
func (s *Store) RequeueActive(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}
	for _, id := range ids {
		st, err := s.getStored(ctx, id)
		if err != nil {
			s.logger.Warn("requeue: job record missing", zap.String("job_id", id), zap.Error(err))
			s.client.ZRem(ctx, activeKey, id)
			continue
		}
		st.State = monitor.JobPending
		st.WorkerID = ""
		if err := s.putStored(ctx, st); err != nil {
			return err
		}
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, activeKey, id)
		pipe.ZAdd(ctx, pendingKey(st.Lane), redis.Z{Score: st.Score, Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("requeue job %s: %w", id, err)
		}
	}
	return nil
}

// Ping reports Redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (s *Store) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	if err := promoteScript.Run(ctx, s.client, []string{delayedKey}, now, keyPrefix).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote script: %w", err)
	}
	return nil
}

func (s *Store) anyPending(ctx context.Context) (bool, error) {
	for _, lane := range laneOrder {
		n, err := s.client.ZCard(ctx, pendingKey(lane)).Result()
		if err != nil {
			return false, fmt.Errorf("count pending %s: %w", lane, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) activeByLane(ctx context.Context) (map[monitor.Lane]int64, error) {
	out := map[monitor.Lane]int64{}
	ids, err := s.client.ZRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	for _, id := range ids {
		st, err := s.getStored(ctx, id)
		if err != nil {
			continue
		}
		out[st.Lane]++
	}
	return out, nil
}

func (s *Store) delayedByLane(ctx context.Context) (map[monitor.Lane]int64, error) {
	out := map[monitor.Lane]int64{}
	ids, err := s.client.ZRange(ctx, delayedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list delayed: %w", err)
	}
	for _, id := range ids {
		st, err := s.getStored(ctx, id)
		if err != nil {
			continue
		}
		out[st.Lane]++
	}
	return out, nil
}

func (s *Store) getStored(ctx context.Context, id string) (storedJob, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Result()
	if err != nil {
		return storedJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	var st storedJob
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return storedJob{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return st, nil
}

func (s *Store) putStored(ctx context.Context, st storedJob) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", st.ID, err)
	}
	if err := s.client.Set(ctx, jobKey(st.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", st.ID, err)
	}
	return nil
}

func (s *Store) getJob(ctx context.Context, id string) (monitor.Job, error) {
	st, err := s.getStored(ctx, id)
	if err != nil {
		return monitor.Job{}, err
	}
	return s.toJob(st), nil
}
