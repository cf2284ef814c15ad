package worker

import (
	"context"
	"sync"
	"time"

	"github.com/scitix/netpulse/internal/callback"
	"github.com/scitix/netpulse/internal/execute"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/store"
	"github.com/scitix/netpulse/internal/types"
)

// PinnedWorker holds one persistent device session for host (spec.md
// §4.3). A single mutex serializes driver send/config against the
// background keepalive probe so the two never race on the same session.
type PinnedWorker struct {
	*base
	host      string
	pipeline  *execute.Pipeline
	cache     *execute.SessionCache
	callbacks *callback.Registry
	keepalive time.Duration

	mu sync.Mutex
}

func NewPinnedWorker(s store.Store, q *queue.Manager, host string, pipeline *execute.Pipeline, callbacks *callback.Registry, name string, heartbeatInterval, keepalive time.Duration, log *logging.Logger) *PinnedWorker {
	return &PinnedWorker{
		base:      newBase(s, q, name, []string{queue.HostQueue(host)}, heartbeatInterval, log.With("role", "pinned", "host", host)),
		host:      host,
		pipeline:  pipeline,
		cache:     execute.NewSessionCache(),
		callbacks: callbacks,
		keepalive: keepalive,
	}
}

// Run registers, pops+runs jobs off HostQ_<host> one at a time, and runs
// a background keepalive loop that terminates the worker when the
// cached session goes unhealthy (spec.md §4.3). It returns when ctx is
// canceled, a shutdown command arrives, or keepalive gives up.
func (w *PinnedWorker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.register(ctx); err != nil {
		return err
	}
	defer func() {
		w.mu.Lock()
		w.cache.Close(context.Background())
		w.mu.Unlock()
		if err := w.deregister(context.Background()); err != nil {
			w.log.Warn("deregister failed", "error", err)
		}
	}()

	w.watchShutdown(ctx, cancel)
	go w.runHeartbeatLoop(ctx)
	if w.keepalive > 0 {
		go w.runKeepaliveLoop(ctx, cancel)
	}

	hostQ := queue.HostQueue(w.host)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, err := w.queue.Pop(ctx, hostQ, popPollTimeout)
		if err != nil {
			if err == store.ErrNotFound || err == context.Canceled || err == context.DeadlineExceeded {
				continue
			}
			w.log.Warn("pop failed", "error", err)
			continue
		}

		w.setState(store.WorkerBusy)
		run := func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.pipeline.RunPinned(ctx, req, w.cache)
		}
		runExecuteJob(ctx, w.log, w.queue, w.callbacks, job, run, w.recordOutcome)
		w.setState(store.WorkerIdle)
	}
}

// runKeepaliveLoop probes the cached session on a ticker; a failed probe
// ends the worker rather than silently serving a dead connection on the
// next job (spec.md §4.3).
func (w *PinnedWorker) runKeepaliveLoop(ctx context.Context, stop context.CancelFunc) {
	ticker := time.NewTicker(w.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			err := w.cache.Keepalive(ctx, w.host)
			w.mu.Unlock()
			if err != nil {
				w.log.Warn("keepalive failed, shutting down", "error", err)
				stop()
				return
			}
		}
	}
}
