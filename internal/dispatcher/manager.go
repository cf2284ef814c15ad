// Package dispatcher implements the Manager spec.md §4.6 describes: the
// host-to-node binding lifecycle (None→Assigned→Pinned), FIFO/pinned
// dispatch, bulk dispatch, and stale-node force-delete recovery.
//
// Grounded on the teacher's internal/jobs/orchestrator package (a
// stateful coordinator sitting above the plain job queue, making
// scheduling decisions and writing back coordination state) generalized
// from orchestrating course-generation steps to binding hosts to nodes.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/config"
	"github.com/scitix/netpulse/internal/driver"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/observability"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/scheduler"
	"github.com/scitix/netpulse/internal/store"
	"github.com/scitix/netpulse/internal/types"
)

const (
	executeFuncName = "execute"
	maxNodeAttempts = 3
)

// spawnTask is the payload a NodeWorker's "spawn" handler decodes
// (spec.md §4.3).
type spawnTask struct {
	QName string `json:"q_name"`
	Host  string `json:"host"`
}

// Manager is the dispatcher spec.md §4.6 describes.
type Manager struct {
	store   store.Store
	queue   *queue.Manager
	sched   scheduler.Plugin
	drivers *driver.Registry
	log     *logging.Logger
	metrics *observability.Metrics

	jobTTL     time.Duration
	jobTimeout time.Duration
	resultTTL  time.Duration
	failureTTL time.Duration
	workerTTL  time.Duration
}

func NewManager(s store.Store, q *queue.Manager, schedRegistry *scheduler.Registry, drivers *driver.Registry, cfg config.Config, log *logging.Logger) (*Manager, error) {
	sched, ok := schedRegistry.Get(cfg.Worker.Scheduler)
	if !ok {
		return nil, fmt.Errorf("dispatcher: unknown scheduler %q", cfg.Worker.Scheduler)
	}
	return &Manager{
		store:      s,
		queue:      q,
		sched:      sched,
		drivers:    drivers,
		log:        log.With("component", "Dispatcher"),
		jobTTL:     cfg.Job.TTL(),
		jobTimeout: cfg.Job.Timeout(),
		resultTTL:  cfg.Job.ResultTTL(),
		failureTTL: cfg.Job.FailureTTL(),
		workerTTL:  cfg.Worker.TTL(),
	}, nil
}

// SetMetrics attaches the process-wide metrics handle; nil-safe, so
// callers that don't care about observability can leave it unset.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

func (m *Manager) jobOptions(req *types.ExecutionRequest) queue.EnqueueOptions {
	ttl := m.jobTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	opts := queue.EnqueueOptions{
		TTL:        ttl,
		Timeout:    m.jobTimeout,
		ResultTTL:  m.resultTTL,
		FailureTTL: m.failureTTL,
	}
	if req.Webhook != nil {
		cb := &queue.Callback{Name: "rpc_webhook_callback", TimeoutSeconds: req.Webhook.Timeout}
		opts.OnSuccess, opts.OnFailure = cb, cb
	}
	return opts
}

// hasLiveWorker reports whether any registered worker currently consumes
// queueName and is alive per the liveness rule.
func (m *Manager) hasLiveWorker(ctx context.Context, queueName string) (bool, error) {
	workers, err := m.store.ListWorkers(ctx)
	if err != nil {
		return false, fmt.Errorf("dispatcher: list workers: %w", err)
	}
	now := time.Now()
	for _, w := range workers {
		for _, q := range w.Queues {
			if q == queueName && IsAlive(w, m.jobTimeout, m.workerTTL, now) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *Manager) shutdownWorkersOn(ctx context.Context, queueName string) error {
	workers, err := m.store.ListWorkers(ctx)
	if err != nil {
		return err
	}
	for _, w := range workers {
		for _, q := range w.Queues {
			if q == queueName {
				if err := m.store.Publish(ctx, store.ShutdownChannel(w.Name), "shutdown"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *Manager) lookupBinding(ctx context.Context, host string) (string, bool, error) {
	hostname, err := m.store.HGet(ctx, store.HostToNodeMapKey, host)
	if err != nil {
		if err == store.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("dispatcher: lookup binding %s: %w", host, err)
	}
	return hostname, true, nil
}

func (m *Manager) allNodes(ctx context.Context) ([]types.NodeInfo, error) {
	raw, err := m.store.HGetAll(ctx, store.NodeInfoMapKey)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: read node_info_map: %w", err)
	}
	nodes := make([]types.NodeInfo, 0, len(raw))
	for hostname, v := range raw {
		var n types.NodeInfo
		if err := json.Unmarshal([]byte(v), &n); err != nil {
			m.log.Warn("dispatcher: dropping unreadable NodeInfo", "hostname", hostname, "error", err)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ForceDelete implements spec.md §4.6's stale-node recovery: it removes
// every host_to_node_map entry pointing at hostname, deletes the node's
// NodeInfo, and signals shutdown to any worker still claiming one of
// those hosts' queues.
func (m *Manager) ForceDelete(ctx context.Context, hostname string) error {
	bindings, err := m.store.HGetAll(ctx, store.HostToNodeMapKey)
	if err != nil {
		return fmt.Errorf("dispatcher: force-delete %s: read bindings: %w", hostname, err)
	}
	pipe := m.store.Pipeline()
	var affected []string
	for host, boundTo := range bindings {
		if boundTo == hostname {
			pipe.HDel(store.HostToNodeMapKey, host)
			affected = append(affected, host)
		}
	}
	pipe.HDel(store.NodeInfoMapKey, hostname)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatcher: force-delete %s: %w", hostname, err)
	}
	for _, host := range affected {
		if err := m.shutdownWorkersOn(ctx, queue.HostQueue(host)); err != nil {
			m.log.Warn("force-delete: shutdown signal failed", "host", host, "error", err)
		}
	}
	m.log.Info("force-deleted stale node", "hostname", hostname, "affected_hosts", len(affected))
	return nil
}

// resolveNode implements spec.md §4.6 steps 1-3: reuse an existing live
// binding, or select + verify a node, retrying up to maxNodeAttempts
// times against force-deleted stale nodes.
func (m *Manager) resolveNode(ctx context.Context, host string) (string, error) {
	if hostname, ok, err := m.lookupBinding(ctx, host); err != nil {
		return "", err
	} else if ok {
		alive, err := m.hasLiveWorker(ctx, queue.NodeQueue(hostname))
		if err != nil {
			return "", err
		}
		if alive {
			return hostname, nil
		}
	}

	for attempt := 0; attempt < maxNodeAttempts; attempt++ {
		nodes, err := m.allNodes(ctx)
		if err != nil {
			return "", err
		}
		selected, err := m.sched.NodeSelect(nodes, host)
		if err != nil {
			return "", err
		}
		alive, err := m.hasLiveWorker(ctx, queue.NodeQueue(selected.Hostname))
		if err != nil {
			return "", err
		}
		if alive {
			return selected.Hostname, nil
		}
		if err := m.ForceDelete(ctx, selected.Hostname); err != nil {
			return "", err
		}
		m.log.Warn("resolveNode: selected node had no live worker, retrying", "hostname", selected.Hostname, "host", host, "attempt", attempt+1)
	}
	// spec.md §4.6 step 2: once the retry budget is exhausted without
	// resolving a live node, this surfaces as WorkerUnavailable, not the
	// NodePreempted condition that drove each individual retry.
	return "", apierrors.WorkerUnavailable("no schedulable node found for " + host)
}

func (m *Manager) dispatchFIFO(ctx context.Context, funcName string, args interface{}, opts queue.EnqueueOptions) (*queue.Job, error) {
	alive, err := m.hasLiveWorker(ctx, queue.FifoQueue)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, apierrors.WorkerUnavailable("no live worker on " + queue.FifoQueue)
	}
	return m.queue.Enqueue(ctx, queue.FifoQueue, funcName, args, opts)
}

// dispatchPinned implements spec.md §4.6 steps 4-5: spawn a pinned
// worker if the host's queue has none yet (idempotent — a duplicate
// spawn is absorbed worker-side via HostAlreadyPinned), then enqueue the
// real job on HostQ_<host>.
func (m *Manager) dispatchPinned(ctx context.Context, host, funcName string, args interface{}, opts queue.EnqueueOptions) (*queue.Job, error) {
	hostname, err := m.resolveNode(ctx, host)
	if err != nil {
		return nil, err
	}
	hostQ := queue.HostQueue(host)
	alive, err := m.hasLiveWorker(ctx, hostQ)
	if err != nil {
		return nil, err
	}
	if !alive {
		spawnOpts := queue.EnqueueOptions{TTL: m.jobTimeout}
		if _, err := m.queue.Enqueue(ctx, queue.NodeQueue(hostname), "spawn", spawnTask{QName: hostQ, Host: host}, spawnOpts); err != nil {
			return nil, fmt.Errorf("dispatcher: spawn %s on %s: %w", host, hostname, err)
		}
	}
	return m.queue.Enqueue(ctx, hostQ, funcName, args, opts)
}

// DispatchRPCJob is spec.md §4.6's single-device dispatch entrypoint.
func (m *Manager) DispatchRPCJob(ctx context.Context, conn types.ConnectionArgs, strategy types.QueueStrategy, funcName string, args interface{}, opts queue.EnqueueOptions) (*queue.Job, error) {
	var job *queue.Job
	var err error
	if strategy == types.StrategyFIFO {
		job, err = m.dispatchFIFO(ctx, funcName, args, opts)
	} else {
		host := conn.Host()
		if host == "" {
			return nil, apierrors.Validation("pinned dispatch requires connection_args.host")
		}
		job, err = m.dispatchPinned(ctx, host, funcName, args, opts)
	}
	if err == nil && m.metrics != nil {
		m.metrics.JobsDispatched.WithLabelValues(job.Queue, string(strategy)).Inc()
	}
	return job, err
}

// ExecuteOnDevice wraps DispatchRPCJob with the execute function and the
// request itself as payload (spec.md §4.6).
func (m *Manager) ExecuteOnDevice(ctx context.Context, req *types.ExecutionRequest) (*queue.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apierrors.Validation(err.Error())
	}
	strategy := req.QueueStrategy
	if strategy == "" {
		strategy = m.drivers.DefaultQueueStrategy(req.Driver)
	}
	return m.DispatchRPCJob(ctx, req.ConnectionArgs, strategy, executeFuncName, req, m.jobOptions(req))
}
