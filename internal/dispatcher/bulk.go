package dispatcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/types"
)

// pinnedAssignment pairs a request index with the host it targets and the
// node it has been (or already was) bound to.
type pinnedAssignment struct {
	idx      int
	host     string
	hostname string
}

// DispatchBulkRPCJobs implements spec.md §4.6's bulk dispatch: FIFO is one
// EnqueueMany; pinned partitions hosts into already-assigned vs.
// unassigned, runs BatchNodeSelect for the unassigned set, spawns pinned
// workers per target node, then commits every spawn + job through a
// single pipeline. Hosts that fail scheduling or pipeline commit land in
// failed with a reason; everything else lands in succeeded.
func (m *Manager) DispatchBulkRPCJobs(ctx context.Context, conns []types.ConnectionArgs, strategy types.QueueStrategy, funcName string, argsList []interface{}, opts queue.EnqueueOptions) ([]*queue.Job, []types.BatchFailedItem) {
	if strategy == types.StrategyFIFO {
		alive, err := m.hasLiveWorker(ctx, queue.FifoQueue)
		if err != nil || !alive {
			reason := "no live worker on " + queue.FifoQueue
			if err != nil {
				reason = err.Error()
			}
			return nil, failAll(conns, reason)
		}
		jobs, err := m.queue.EnqueueMany(ctx, queue.FifoQueue, funcName, argsList, opts)
		if err != nil {
			return nil, failAll(conns, err.Error())
		}
		if m.metrics != nil {
			m.metrics.JobsDispatched.WithLabelValues(queue.FifoQueue, string(strategy)).Add(float64(len(jobs)))
		}
		return jobs, nil
	}
	jobs, failed := m.dispatchBulkPinned(ctx, conns, funcName, argsList, opts)
	if m.metrics != nil && len(jobs) > 0 {
		m.metrics.JobsDispatched.WithLabelValues("pinned", string(strategy)).Add(float64(len(jobs)))
	}
	return jobs, failed
}

// bindingCheck is one conn's resolved binding state, filled concurrently
// since each is an independent pair of store round-trips.
type bindingCheck struct {
	host       string
	hostname   string
	hasBinding bool
}

func (m *Manager) dispatchBulkPinned(ctx context.Context, conns []types.ConnectionArgs, funcName string, argsList []interface{}, opts queue.EnqueueOptions) ([]*queue.Job, []types.BatchFailedItem) {
	var failed []types.BatchFailedItem
	var assigned []pinnedAssignment
	var unassignedHosts []string
	unassignedIdx := map[string]int{}

	checks := make([]bindingCheck, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range conns {
		i, host := i, c.Host()
		checks[i].host = host
		if host == "" {
			continue
		}
		g.Go(func() error {
			hostname, ok, err := m.lookupBinding(gctx, host)
			if err != nil || !ok {
				return nil
			}
			alive, lerr := m.hasLiveWorker(gctx, queue.NodeQueue(hostname))
			if lerr != nil || !alive {
				return nil
			}
			checks[i].hostname = hostname
			checks[i].hasBinding = true
			return nil
		})
	}
	_ = g.Wait() // per-host errors are absorbed into hasBinding=false, not propagated

	for i, chk := range checks {
		if chk.host == "" {
			failed = append(failed, types.BatchFailedItem{Reason: "missing connection_args.host"})
			continue
		}
		if chk.hasBinding {
			assigned = append(assigned, pinnedAssignment{idx: i, host: chk.host, hostname: chk.hostname})
			continue
		}
		unassignedHosts = append(unassignedHosts, chk.host)
		unassignedIdx[chk.host] = i
	}

	if len(unassignedHosts) > 0 {
		nodes, err := m.allNodes(ctx)
		if err != nil {
			for _, h := range unassignedHosts {
				failed = append(failed, types.BatchFailedItem{Host: h, Reason: err.Error()})
			}
		} else {
			selected, err := m.sched.BatchNodeSelect(nodes, unassignedHosts)
			if err != nil {
				for _, h := range unassignedHosts {
					failed = append(failed, types.BatchFailedItem{Host: h, Reason: err.Error()})
				}
			} else {
				for i, h := range unassignedHosts {
					node := selected[i]
					alive, err := m.hasLiveWorker(ctx, queue.NodeQueue(node.Hostname))
					if err != nil || !alive {
						failed = append(failed, types.BatchFailedItem{Host: h, Reason: "selected node has no live worker"})
						continue
					}
					assigned = append(assigned, pinnedAssignment{idx: unassignedIdx[h], host: h, hostname: node.Hostname})
				}
			}
		}
	}

	jobs := make([]*queue.Job, len(conns))
	pipe := m.store.Pipeline()
	staged := 0
	for _, p := range assigned {
		hostQ := queue.HostQueue(p.host)
		alive, err := m.hasLiveWorker(ctx, hostQ)
		if err != nil {
			failed = append(failed, types.BatchFailedItem{Host: p.host, Reason: err.Error()})
			continue
		}
		if !alive {
			spawnOpts := queue.EnqueueOptions{TTL: m.jobTimeout}
			if _, err := m.queue.EnqueueStaged(pipe, queue.NodeQueue(p.hostname), "spawn", spawnTask{QName: hostQ, Host: p.host}, spawnOpts); err != nil {
				failed = append(failed, types.BatchFailedItem{Host: p.host, Reason: err.Error()})
				continue
			}
		}
		job, err := m.queue.EnqueueStaged(pipe, hostQ, funcName, argsList[p.idx], opts)
		if err != nil {
			failed = append(failed, types.BatchFailedItem{Host: p.host, Reason: err.Error()})
			continue
		}
		jobs[p.idx] = job
		staged++
	}

	if staged > 0 {
		if err := pipe.Exec(ctx); err != nil {
			m.log.Warn("bulk pinned dispatch: pipeline commit failed", "error", err)
			for _, p := range assigned {
				if jobs[p.idx] != nil {
					failed = append(failed, types.BatchFailedItem{Host: p.host, Reason: "pipeline commit failed: " + err.Error()})
				}
			}
			return nil, failed
		}
	}

	succeeded := make([]*queue.Job, 0, len(jobs))
	for _, j := range jobs {
		if j != nil {
			succeeded = append(succeeded, j)
		}
	}
	return succeeded, failed
}

func failAll(conns []types.ConnectionArgs, reason string) []types.BatchFailedItem {
	failed := make([]types.BatchFailedItem, len(conns))
	for i, c := range conns {
		failed[i] = types.BatchFailedItem{Host: c.Host(), Reason: reason}
	}
	return failed
}

// ExecuteOnBulkDevices wraps DispatchBulkRPCJobs per spec.md §4.6,
// grouping requests by their resolved queue strategy (a single bulk
// request may mix session-oriented and stateless drivers across
// devices) and injecting execute as the payload function.
func (m *Manager) ExecuteOnBulkDevices(ctx context.Context, reqs []*types.ExecutionRequest) ([]*queue.Job, []types.BatchFailedItem) {
	var failed []types.BatchFailedItem
	var fifoConns, pinnedConns []types.ConnectionArgs
	var fifoArgs, pinnedArgs []interface{}
	var fifoOpts, pinnedOpts queue.EnqueueOptions
	haveFifoOpts, havePinnedOpts := false, false

	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			failed = append(failed, types.BatchFailedItem{Host: req.ConnectionArgs.Host(), Reason: err.Error()})
			continue
		}
		strategy := req.QueueStrategy
		if strategy == "" {
			strategy = m.drivers.DefaultQueueStrategy(req.Driver)
		}
		opts := m.jobOptions(req)
		if strategy == types.StrategyFIFO {
			fifoConns = append(fifoConns, req.ConnectionArgs)
			fifoArgs = append(fifoArgs, req)
			if !haveFifoOpts {
				fifoOpts, haveFifoOpts = opts, true
			}
		} else {
			pinnedConns = append(pinnedConns, req.ConnectionArgs)
			pinnedArgs = append(pinnedArgs, req)
			if !havePinnedOpts {
				pinnedOpts, havePinnedOpts = opts, true
			}
		}
	}

	var jobs []*queue.Job
	if len(fifoConns) > 0 {
		j, f := m.DispatchBulkRPCJobs(ctx, fifoConns, types.StrategyFIFO, executeFuncName, fifoArgs, fifoOpts)
		jobs = append(jobs, j...)
		failed = append(failed, f...)
	}
	if len(pinnedConns) > 0 {
		j, f := m.DispatchBulkRPCJobs(ctx, pinnedConns, types.StrategyPinned, executeFuncName, pinnedArgs, pinnedOpts)
		jobs = append(jobs, j...)
		failed = append(failed, f...)
	}
	return jobs, failed
}
