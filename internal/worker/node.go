package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/callback"
	"github.com/scitix/netpulse/internal/execute"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/store"
	"github.com/scitix/netpulse/internal/types"
)

// SpawnTask is what the dispatcher's "spawn" task decodes into. Defined
// independently of the dispatcher package's own spawnTask (rather than
// shared) to avoid a dispatcher<->worker import cycle; the two only need
// to agree on JSON shape.
type SpawnTask struct {
	QName string `json:"q_name"`
	Host  string `json:"host"`
}

type cleanupTask struct {
	Host string `json:"host"`
}

// NodeWorker owns one host's PinnedWorker population (spec.md §4.3): it
// is the only process allowed to spawn/tear down pinned workers for
// hostname, enforced by node.lock. Pinned workers run as goroutines
// within this process rather than as separate OS processes — spec.md
// §4.3 explicitly allows either model, and goroutines let NodeWorker
// cancel a child directly instead of needing a second IPC channel.
type NodeWorker struct {
	*base
	hostname  string
	pipeline  *execute.Pipeline
	callbacks *callback.Registry
	capacity  int
	keepalive time.Duration
	lock      *flock.Flock

	mu           sync.Mutex
	children     map[string]context.CancelFunc
	shuttingDown bool
}

func NewNodeWorker(s store.Store, q *queue.Manager, hostname string, pipeline *execute.Pipeline, callbacks *callback.Registry, capacity int, heartbeatInterval, keepalive time.Duration, log *logging.Logger) *NodeWorker {
	return &NodeWorker{
		base:      newBase(s, q, hostname, []string{queue.NodeQueue(hostname)}, heartbeatInterval, log.With("role", "node", "hostname", hostname)),
		hostname:  hostname,
		pipeline:  pipeline,
		callbacks: callbacks,
		capacity:  capacity,
		keepalive: keepalive,
		lock:      flock.New(lockPath("node.lock")),
		children:  make(map[string]context.CancelFunc),
	}
}

// cleanStart implements spec.md §4.3's startup recovery: a fresh process
// has no live pinned-worker goroutines, so every host_to_node_map entry
// still pointing at this hostname from a previous run is now stale.
// Reclaim it and reset this node's published count to zero.
func (w *NodeWorker) cleanStart(ctx context.Context) error {
	bindings, err := w.store.HGetAll(ctx, store.HostToNodeMapKey)
	if err != nil {
		return fmt.Errorf("worker: node clean start: read bindings: %w", err)
	}
	pipe := w.store.Pipeline()
	staged := false
	for host, boundTo := range bindings {
		if boundTo == w.hostname {
			pipe.HDel(store.HostToNodeMapKey, host)
			staged = true
		}
	}
	if staged {
		if err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("worker: node clean start: clear stale bindings: %w", err)
		}
	}
	return w.writeNodeInfo(ctx, 0)
}

func (w *NodeWorker) readNodeInfo(ctx context.Context) (types.NodeInfo, error) {
	raw, err := w.store.HGet(ctx, store.NodeInfoMapKey, w.hostname)
	if err != nil {
		if err == store.ErrNotFound {
			return types.NodeInfo{Hostname: w.hostname, Capacity: w.capacity, Queue: queue.NodeQueue(w.hostname)}, nil
		}
		return types.NodeInfo{}, err
	}
	var info types.NodeInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return types.NodeInfo{}, fmt.Errorf("worker: decode NodeInfo: %w", err)
	}
	return info, nil
}

func (w *NodeWorker) writeNodeInfo(ctx context.Context, count int) error {
	info := types.NodeInfo{Hostname: w.hostname, Count: count, Capacity: w.capacity, Queue: queue.NodeQueue(w.hostname)}
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return w.store.HSet(ctx, store.NodeInfoMapKey, w.hostname, string(raw))
}

// Run acquires node.lock, reclaims stale state, registers, and consumes
// NodeQ_<hostname> until ctx is canceled or a shutdown command arrives.
func (w *NodeWorker) Run(ctx context.Context) error {
	if err := acquireLock(w.lock); err != nil {
		return err
	}
	defer w.lock.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.cleanStart(ctx); err != nil {
		return err
	}
	if err := w.register(ctx); err != nil {
		return err
	}

	w.watchShutdown(ctx, func() {
		w.mu.Lock()
		w.shuttingDown = true
		w.mu.Unlock()
		cancel()
	})
	go w.runHeartbeatLoop(ctx)

	nodeQ := queue.NodeQueue(w.hostname)
	for {
		select {
		case <-ctx.Done():
			w.shutdown(context.Background())
			return nil
		default:
		}

		job, err := w.queue.Pop(ctx, nodeQ, popPollTimeout)
		if err != nil {
			if err == store.ErrNotFound || err == context.Canceled || err == context.DeadlineExceeded {
				continue
			}
			w.log.Warn("pop failed", "error", err)
			continue
		}
		w.handleTask(ctx, job)
	}
}

func (w *NodeWorker) handleTask(ctx context.Context, job *queue.Job) {
	var err error
	switch job.FuncName {
	case "spawn":
		var task SpawnTask
		if jsonErr := json.Unmarshal(job.Args, &task); jsonErr != nil {
			err = fmt.Errorf("decode spawn task: %w", jsonErr)
		} else {
			err = w.handleSpawn(ctx, task)
		}
	case "cleanup":
		var task cleanupTask
		if jsonErr := json.Unmarshal(job.Args, &task); jsonErr != nil {
			err = fmt.Errorf("decode cleanup task: %w", jsonErr)
		} else {
			err = w.handleCleanup(ctx, task.Host)
		}
	default:
		err = apierrors.NotImplemented("unknown node task: " + job.FuncName)
	}

	status := queue.StatusFinished
	if err != nil && !apierrors.IsAbsorbable(err) {
		status = queue.StatusFailed
		w.log.Warn("node task failed", "func", job.FuncName, "job_id", job.ID, "error", err)
	}
	if tErr := w.queue.Transition(ctx, job, status); tErr != nil {
		w.log.Warn("node task: transition failed", "job_id", job.ID, "error", tErr)
	}
}

// handleSpawn implements spec.md §4.3/§4.6 step 4: bind the host to this
// node, bump the published count, and spawn a PinnedWorker goroutine. A
// duplicate spawn (another dispatcher already bound the host) is
// absorbed, not an error — the caller only needed a live pinned worker
// to exist, and one now does.
func (w *NodeWorker) handleSpawn(ctx context.Context, task SpawnTask) error {
	info, err := w.readNodeInfo(ctx)
	if err != nil {
		return err
	}
	if info.Count >= info.Capacity {
		return apierrors.NodePreempted(w.hostname + " at capacity")
	}

	bound, err := w.store.HSetNX(ctx, store.HostToNodeMapKey, task.Host, w.hostname)
	if err != nil {
		return fmt.Errorf("worker: spawn %s: bind: %w", task.Host, err)
	}
	if !bound {
		return apierrors.HostAlreadyPinned(task.Host + " already bound")
	}

	if err := w.writeNodeInfo(ctx, info.Count+1); err != nil {
		_ = w.store.HDel(ctx, store.HostToNodeMapKey, task.Host)
		return err
	}

	w.spawnPinnedWorker(task.Host)
	return nil
}

// handleCleanup implements the counterpart teardown when a pinned
// worker exits: release the host binding and give the count back.
func (w *NodeWorker) handleCleanup(ctx context.Context, host string) error {
	if err := w.store.HDel(ctx, store.HostToNodeMapKey, host); err != nil {
		return fmt.Errorf("worker: cleanup %s: unbind: %w", host, err)
	}
	info, err := w.readNodeInfo(ctx)
	if err != nil {
		return err
	}
	count := info.Count - 1
	if count < 0 {
		count = 0
	}
	return w.writeNodeInfo(ctx, count)
}

// spawnPinnedWorker launches host's PinnedWorker goroutine, tracking its
// CancelFunc so shutdown (or a future targeted teardown) can stop it.
func (w *NodeWorker) spawnPinnedWorker(host string) {
	childCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.children[host] = cancel
	w.mu.Unlock()

	name := w.hostname + "_pinned_" + host
	pw := NewPinnedWorker(w.store, w.queue, host, w.pipeline, w.callbacks, name, w.heartbeatInterval, w.keepalive, w.log)
	pw.SetMetrics(w.metrics)

	go func() {
		if err := pw.Run(childCtx); err != nil {
			w.log.Warn("pinned worker exited with error", "host", host, "error", err)
		}
		w.onChildExit(host)
	}()
}

// onChildExit runs whenever a pinned worker goroutine returns. During an
// orderly node shutdown this is a no-op — shutdown itself performs one
// bulk cleanup pass instead of a cleanup task per child.
func (w *NodeWorker) onChildExit(host string) {
	w.mu.Lock()
	delete(w.children, host)
	shuttingDown := w.shuttingDown
	w.mu.Unlock()
	if shuttingDown {
		return
	}
	if _, err := w.queue.Enqueue(context.Background(), queue.NodeQueue(w.hostname), "cleanup", cleanupTask{Host: host}, queue.EnqueueOptions{TTL: w.heartbeatInterval * 10}); err != nil {
		w.log.Warn("failed to enqueue cleanup task", "host", host, "error", err)
	}
}

// shutdown performs the final bulk teardown on node exit: cancel every
// pinned worker goroutine, clear every host binding owned by this node
// in one pipeline, and deregister.
func (w *NodeWorker) shutdown(ctx context.Context) {
	w.mu.Lock()
	for host, cancel := range w.children {
		cancel()
		delete(w.children, host)
	}
	w.mu.Unlock()

	bindings, err := w.store.HGetAll(ctx, store.HostToNodeMapKey)
	if err != nil {
		w.log.Warn("shutdown: read bindings failed", "error", err)
	} else {
		pipe := w.store.Pipeline()
		staged := false
		for host, boundTo := range bindings {
			if boundTo == w.hostname {
				pipe.HDel(store.HostToNodeMapKey, host)
				staged = true
			}
		}
		pipe.HDel(store.NodeInfoMapKey, w.hostname)
		staged = true
		if staged {
			if err := pipe.Exec(ctx); err != nil {
				w.log.Warn("shutdown: clear bindings failed", "error", err)
			}
		}
	}

	if err := w.deregister(ctx); err != nil {
		w.log.Warn("deregister failed", "error", err)
	}
}
