package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/store"
)

// EnqueueOptions mirrors the Enqueue(...) contract in spec.md §4.2.
type EnqueueOptions struct {
	Timeout    time.Duration
	TTL        time.Duration
	ResultTTL  time.Duration
	FailureTTL time.Duration
	Meta       Meta
	OnSuccess  *Callback
	OnFailure  *Callback
}

// Manager is the Queue abstraction: named queues backed by a shared store,
// with per-status registries and pipelined bulk enqueue.
type Manager struct {
	store store.Store
	log   *logging.Logger
}

func NewManager(s store.Store, log *logging.Logger) *Manager {
	return &Manager{store: s, log: log.With("component", "QueueManager")}
}

func jobKey(id string) string { return "job:" + id }

func registryKey(queue string, status Status) string {
	return fmt.Sprintf("registry:%s:%s", queue, status)
}

// Enqueue creates a Job for funcName/args on the named queue and commits it
// (job blob + queue list push + status registry entry) in a single pipeline.
func (m *Manager) Enqueue(ctx context.Context, queueName, funcName string, args interface{}, opts EnqueueOptions) (*Job, error) {
	job, raw, err := m.build(queueName, funcName, args, opts)
	if err != nil {
		return nil, err
	}
	if err := m.commit(ctx, job, raw); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueMany prepares N jobs and commits them all through one pipeline,
// per spec.md §4.2's EnqueueMany contract.
func (m *Manager) EnqueueMany(ctx context.Context, queueName, funcName string, argsList []interface{}, opts EnqueueOptions) ([]*Job, error) {
	jobs := make([]*Job, 0, len(argsList))
	pipe := m.store.Pipeline()
	for _, args := range argsList {
		job, raw, err := m.build(queueName, funcName, args, opts)
		if err != nil {
			return nil, err
		}
		m.stage(pipe, job, raw)
		jobs = append(jobs, job)
	}
	if err := pipe.Exec(ctx); err != nil {
		return jobs, fmt.Errorf("queue: enqueue many: %w", err)
	}
	return jobs, nil
}

func (m *Manager) build(queueName, funcName string, args interface{}, opts EnqueueOptions) (*Job, []byte, error) {
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return nil, nil, fmt.Errorf("queue: marshal args: %w", err)
	}
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		Queue:      queueName,
		FuncName:   funcName,
		Args:       argsRaw,
		Status:     StatusQueued,
		CreatedAt:  now,
		EnqueuedAt: now,
		Meta:       opts.Meta,
		JobTTL:     opts.TTL,
		Timeout:    opts.Timeout,
		ResultTTL:  opts.ResultTTL,
		FailureTTL: opts.FailureTTL,
		OnSuccess:  opts.OnSuccess,
		OnFailure:  opts.OnFailure,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("queue: marshal job: %w", err)
	}
	return job, raw, nil
}

func (m *Manager) commit(ctx context.Context, job *Job, raw []byte) error {
	pipe := m.store.Pipeline()
	m.stage(pipe, job, raw)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", job.ID, err)
	}
	return nil
}

// EnqueueStaged builds a job and stages it onto a pipeline the caller
// already owns, without committing it — the dispatcher uses this to
// batch spawn tasks and real jobs across several different queues into
// one atomic commit (spec.md §4.6 bulk dispatch).
func (m *Manager) EnqueueStaged(pipe store.Pipeline, queueName, funcName string, args interface{}, opts EnqueueOptions) (*Job, error) {
	job, raw, err := m.build(queueName, funcName, args, opts)
	if err != nil {
		return nil, err
	}
	m.stage(pipe, job, raw)
	return job, nil
}

func (m *Manager) stage(pipe store.Pipeline, job *Job, raw []byte) {
	ttl := job.JobTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	pipe.Set(jobKey(job.ID), string(raw), ttl)
	pipe.LPush(job.Queue, job.ID)
	pipe.HSet(registryKey(job.Queue, StatusQueued), job.ID, job.EnqueuedAt.Format(time.RFC3339Nano))
}

// Pop removes and returns the next job ID for queueName in FIFO order,
// blocking up to timeout. Implementations of Store guarantee LPush/RPop
// preserve enqueue order (spec.md §5).
func (m *Manager) Pop(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	id, err := m.store.BRPop(ctx, queueName, timeout)
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, id)
}

func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := m.store.Get(ctx, jobKey(id))
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("queue: decode job %s: %w", id, err)
	}
	return &job, nil
}

// FetchMany returns only the jobs that still exist; missing ids are
// silently skipped (spec.md §4.2).
func (m *Manager) FetchMany(ctx context.Context, ids []string) []*Job {
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, job)
	}
	return out
}

// ListByStatus returns every job currently in (queue, status).
func (m *Manager) ListByStatus(ctx context.Context, queueName string, status Status) ([]*Job, error) {
	entries, err := m.store.HGetAll(ctx, registryKey(queueName, status))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	return m.FetchMany(ctx, ids), nil
}

// Transition moves job to newStatus, updating its registry membership and
// persisting the blob with a TTL appropriate to the new state (JobTTL
// while queued/started, ResultTTL/FailureTTL once terminal).
func (m *Manager) Transition(ctx context.Context, job *Job, newStatus Status) error {
	oldStatus := job.Status
	now := time.Now()
	switch newStatus {
	case StatusStarted:
		job.StartedAt = now
	case StatusFinished, StatusFailed, StatusCanceled:
		job.EndedAt = now
	}
	job.Status = newStatus

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", job.ID, err)
	}

	ttl := job.JobTTL
	if newStatus == StatusFailed && job.FailureTTL > 0 {
		ttl = job.FailureTTL
	} else if newStatus.Terminal() && job.ResultTTL > 0 {
		ttl = job.ResultTTL
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	pipe := m.store.Pipeline()
	pipe.Set(jobKey(job.ID), string(raw), ttl)
	pipe.HDel(registryKey(job.Queue, oldStatus), job.ID)
	pipe.HSet(registryKey(job.Queue, newStatus), job.ID, now.Format(time.RFC3339Nano))
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: transition job %s: %w", job.ID, err)
	}
	return nil
}

// Cancel cancels job id only if it is still queued. Any other state, or a
// missing job, is a no-op that returns false/nil (spec.md §4.2, §8 law 9).
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := m.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if job.Status != StatusQueued {
		return false, nil
	}
	if err := m.Transition(ctx, job, StatusCanceled); err != nil {
		return false, err
	}
	if err := m.store.LRem(ctx, job.Queue, job.ID); err != nil {
		m.log.Warn("cancel: failed to remove job from queue list", "job_id", job.ID, "error", err)
	}
	return true, nil
}

// SaveMeta persists job.Meta without altering status, used by
// rpc_exception_callback.
func (m *Manager) SaveMeta(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ttl := job.JobTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return m.store.Set(ctx, jobKey(job.ID), string(raw), ttl)
}

// SaveResult persists job.Result alongside a status transition in one write.
func (m *Manager) SaveResult(ctx context.Context, job *Job, result interface{}, newStatus Status) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("queue: marshal result for job %s: %w", job.ID, err)
	}
	job.Result = raw
	return m.Transition(ctx, job, newStatus)
}
