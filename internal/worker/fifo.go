package worker

import (
	"context"
	"time"

	"github.com/gofrs/flock"

	"github.com/scitix/netpulse/internal/callback"
	"github.com/scitix/netpulse/internal/execute"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/store"
)

const popPollTimeout = 5 * time.Second

// FIFOWorker consumes spec.md's shared FifoQ: one process per host,
// enforced by fifo.lock, running jobs one at a time with no pinned
// session state.
type FIFOWorker struct {
	*base
	pipeline  *execute.Pipeline
	callbacks *callback.Registry
	lock      *flock.Flock
}

func NewFIFOWorker(s store.Store, q *queue.Manager, pipeline *execute.Pipeline, callbacks *callback.Registry, name string, heartbeatInterval time.Duration, log *logging.Logger) *FIFOWorker {
	return &FIFOWorker{
		base:      newBase(s, q, name, []string{queue.FifoQueue}, heartbeatInterval, log.With("role", "fifo")),
		pipeline:  pipeline,
		callbacks: callbacks,
		lock:      flock.New(lockPath("fifo.lock")),
	}
}

// Run acquires the singleton lock, registers, and pops+runs jobs off
// FifoQ until ctx is canceled or a shutdown command arrives.
func (w *FIFOWorker) Run(ctx context.Context) error {
	if err := acquireLock(w.lock); err != nil {
		return err
	}
	defer w.lock.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.register(ctx); err != nil {
		return err
	}
	defer func() {
		if err := w.deregister(context.Background()); err != nil {
			w.log.Warn("deregister failed", "error", err)
		}
	}()

	w.watchShutdown(ctx, cancel)
	go w.runHeartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, err := w.queue.Pop(ctx, queue.FifoQueue, popPollTimeout)
		if err != nil {
			if err == store.ErrNotFound || err == context.Canceled || err == context.DeadlineExceeded {
				continue
			}
			w.log.Warn("pop failed", "error", err)
			continue
		}

		w.setState(store.WorkerBusy)
		runExecuteJob(ctx, w.log, w.queue, w.callbacks, job, w.pipeline.Run, w.recordOutcome)
		w.setState(store.WorkerIdle)
	}
}
