package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/store"
	"github.com/scitix/netpulse/internal/types"
)

func TestDispatchBulkFIFORequiresLiveWorker(t *testing.T) {
	_, _, m := newTestDeps(t)
	conns := []types.ConnectionArgs{{"host": "r1"}, {"host": "r2"}}
	jobs, failed := m.DispatchBulkRPCJobs(context.Background(), conns, types.StrategyFIFO, "execute", []interface{}{"a", "b"}, queue.EnqueueOptions{})
	assert.Len(t, jobs, 0)
	assert.Len(t, failed, 2)
}

func TestDispatchBulkFIFOSucceeds(t *testing.T) {
	s, _, m := newTestDeps(t)
	registerAliveWorker(t, s, "fifo-1", queue.FifoQueue)

	conns := []types.ConnectionArgs{{"host": "r1"}, {"host": "r2"}, {"host": "r3"}}
	args := []interface{}{"a", "b", "c"}
	jobs, failed := m.DispatchBulkRPCJobs(context.Background(), conns, types.StrategyFIFO, "execute", args, queue.EnqueueOptions{})
	assert.Len(t, jobs, 3)
	assert.Len(t, failed, 0)
}

func TestDispatchBulkPinnedPartitionsSucceededAndFailed(t *testing.T) {
	s, _, m := newTestDeps(t)
	writeNode(t, s, types.NodeInfo{Hostname: "node-1", Count: 0, Capacity: 2})
	writeNode(t, s, types.NodeInfo{Hostname: "node-2", Count: 0, Capacity: 2})
	registerAliveWorker(t, s, "node-1-worker", queue.NodeQueue("node-1"))
	registerAliveWorker(t, s, "node-2-worker", queue.NodeQueue("node-2"))

	conns := []types.ConnectionArgs{
		{"host": "r1"},
		{"host": "r2"},
		{"host": "r3"},
		{}, // missing host -> must fail
	}
	args := []interface{}{"a", "b", "c", "d"}
	jobs, failed := m.DispatchBulkRPCJobs(context.Background(), conns, types.StrategyPinned, "execute", args, queue.EnqueueOptions{})

	assert.Len(t, jobs, 3, "three valid hosts must dispatch successfully")
	require.Len(t, failed, 1)
	assert.Equal(t, "missing connection_args.host", failed[0].Reason)
	assert.Equal(t, len(conns), len(jobs)+len(failed), "succeeded + failed must equal total requested")
}

func TestDispatchBulkPinnedReusesExistingBinding(t *testing.T) {
	s, _, m := newTestDeps(t)
	writeNode(t, s, types.NodeInfo{Hostname: "node-1", Count: 1, Capacity: 10})
	require.NoError(t, s.HSet(context.Background(), store.HostToNodeMapKey, "r1", "node-1"))
	registerAliveWorker(t, s, "node-1-worker", queue.NodeQueue("node-1"))
	registerAliveWorker(t, s, "pinned-r1", queue.HostQueue("r1"))

	conns := []types.ConnectionArgs{{"host": "r1"}}
	jobs, failed := m.DispatchBulkRPCJobs(context.Background(), conns, types.StrategyPinned, "execute", []interface{}{"a"}, queue.EnqueueOptions{})
	assert.Len(t, failed, 0)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.HostQueue("r1"), jobs[0].Queue)
}

func TestExecuteOnBulkDevicesGroupsByStrategy(t *testing.T) {
	s, _, m := newTestDeps(t)
	registerAliveWorker(t, s, "fifo-1", queue.FifoQueue)
	writeNode(t, s, types.NodeInfo{Hostname: "node-1", Count: 0, Capacity: 10})
	registerAliveWorker(t, s, "node-1-worker", queue.NodeQueue("node-1"))

	reqs := []*types.ExecutionRequest{
		{Driver: "mock", Command: "show version", ConnectionArgs: types.ConnectionArgs{"host": "r1"}},       // stateless -> fifo
		{Driver: "mock-session", Command: "show version", ConnectionArgs: types.ConnectionArgs{"host": "r2"}}, // unknown driver, defaults fifo too since DefaultQueueStrategy falls back
	}
	jobs, failed := m.ExecuteOnBulkDevices(context.Background(), reqs)
	assert.Equal(t, len(reqs), len(jobs)+len(failed))
}

func TestExecuteOnBulkDevicesRejectsInvalidRequests(t *testing.T) {
	_, _, m := newTestDeps(t)
	reqs := []*types.ExecutionRequest{
		{Driver: "mock"}, // missing command/config and host
	}
	jobs, failed := m.ExecuteOnBulkDevices(context.Background(), reqs)
	assert.Len(t, jobs, 0)
	require.Len(t, failed, 1)
}
