// Package worker implements the three worker runtime variants spec.md
// §4.3 describes — NodeWorker, PinnedWorker, FIFOWorker — sharing a base
// that registers with the store, sends heartbeats, and listens for
// shutdown commands.
//
// Grounded on the teacher's internal/jobs/worker package (Start spawning
// N goroutines each running an independent ticker-driven claim loop,
// panic recovery wrapping handler execution) generalized from a single
// SQL-backed claim loop to netpulse's per-queue, store-backed pop loop.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/observability"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/store"
)

// base is embedded by every worker variant: store registration,
// heartbeats, and the shutdown pub/sub subscription.
type base struct {
	store store.Store
	queue *queue.Manager
	log   *logging.Logger

	name   string
	queues []string

	mu    sync.Mutex
	state store.WorkerState
	birth time.Time

	successCount int64
	failureCount int64

	heartbeatInterval time.Duration
	metrics           *observability.Metrics
}

// SetMetrics attaches the process-wide metrics handle; nil-safe.
func (b *base) SetMetrics(metrics *observability.Metrics) {
	b.metrics = metrics
}

func newBase(s store.Store, q *queue.Manager, name string, queues []string, heartbeatInterval time.Duration, log *logging.Logger) *base {
	return &base{
		store:             s,
		queue:             q,
		log:               log.With("worker", name),
		name:              name,
		queues:            queues,
		state:             store.WorkerIdle,
		birth:             time.Now(),
		heartbeatInterval: heartbeatInterval,
	}
}

func (b *base) setState(s store.WorkerState) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	if b.metrics != nil && prev != s {
		b.metrics.ActiveWorkers.WithLabelValues(string(prev)).Dec()
		b.metrics.ActiveWorkers.WithLabelValues(string(s)).Inc()
	}
}

func (b *base) recordOutcome(success bool) {
	if success {
		atomic.AddInt64(&b.successCount, 1)
	} else {
		atomic.AddInt64(&b.failureCount, 1)
	}
	if b.metrics != nil {
		status := "success"
		if !success {
			status = "failure"
		}
		b.metrics.JobsCompleted.WithLabelValues(b.queueLabel(), status).Inc()
	}
}

// queueLabel picks a representative queue name for metrics cardinality;
// FIFO/pinned workers own exactly one queue, NodeWorker none (it only
// dispatches spawn/cleanup tasks, never runs job payloads itself).
func (b *base) queueLabel() string {
	if len(b.queues) == 0 {
		return "none"
	}
	return b.queues[0]
}

func (b *base) snapshot(dead bool) store.WorkerRecord {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	rec := store.WorkerRecord{
		Name:          b.name,
		State:         state,
		Queues:        b.queues,
		Birth:         b.birth,
		LastHeartbeat: time.Now(),
		SuccessCount:  atomic.LoadInt64(&b.successCount),
		FailureCount:  atomic.LoadInt64(&b.failureCount),
	}
	if dead {
		now := time.Now()
		rec.DeathDate = &now
	}
	return rec
}

// register writes the worker's initial registry record.
func (b *base) register(ctx context.Context) error {
	if b.metrics != nil {
		b.metrics.ActiveWorkers.WithLabelValues(string(store.WorkerIdle)).Inc()
	}
	return b.store.PutWorker(ctx, b.snapshot(false))
}

// heartbeat writes a fresh registry record carrying the current state
// and counters; callers run this on a ticker for the worker's lifetime.
func (b *base) heartbeat(ctx context.Context) error {
	return b.store.PutWorker(ctx, b.snapshot(false))
}

// deregister marks the worker's registry entry dead on clean shutdown
// (spec.md §4.1 death_date semantics).
func (b *base) deregister(ctx context.Context) error {
	if b.metrics != nil {
		b.metrics.ActiveWorkers.WithLabelValues(string(store.WorkerIdle)).Dec()
	}
	return b.store.PutWorker(ctx, b.snapshot(true))
}

// runHeartbeatLoop ticks heartbeat until ctx is done.
func (b *base) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.heartbeat(ctx); err != nil {
				b.log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// watchShutdown subscribes to this worker's shutdown channel and runs
// onShutdown when a shutdown command arrives (spec.md §5 "store
// send_shutdown_command"). NodeWorker passes a callback that first flips
// its shutting-down flag; the other variants just pass their cancel func.
func (b *base) watchShutdown(ctx context.Context, onShutdown func()) {
	sub, err := b.store.Subscribe(ctx, store.ShutdownChannel(b.name))
	if err != nil {
		b.log.Warn("shutdown subscription failed", "error", err)
		return
	}
	go func() {
		defer sub.Close()
		select {
		case <-ctx.Done():
		case _, ok := <-sub.Channel():
			if ok {
				b.log.Info("shutdown command received")
				onShutdown()
			}
		}
	}()
}
