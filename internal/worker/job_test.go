package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/callback"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/store"
	"github.com/scitix/netpulse/internal/types"
)

func newTestJobDeps(t *testing.T) (*queue.Manager, *callback.Registry) {
	t.Helper()
	s := store.NewMemoryStore()
	qm := queue.NewManager(s, logging.NewNop())
	cb := callback.NewRegistry(qm, nil, logging.NewNop())
	return qm, cb
}

func TestRunExecuteJobSuccessTransitionsFinished(t *testing.T) {
	qm, cb := newTestJobDeps(t)
	req := types.ExecutionRequest{Driver: "mock", Command: "show version", ConnectionArgs: types.ConnectionArgs{"host": "r1"}}
	job, err := qm.Enqueue(context.Background(), queue.FifoQueue, "execute", req, queue.EnqueueOptions{})
	require.NoError(t, err)

	var outcomeOK *bool
	run := func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
		return map[string]types.DriverExecutionResult{"show version": {Output: "ok", ExitStatus: 0}}, nil
	}
	record := func(success bool) { outcomeOK = &success }

	runExecuteJob(context.Background(), logging.NewNop(), qm, cb, job, run, record)

	got, err := qm.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFinished, got.Status)
	require.NotNil(t, outcomeOK)
	assert.True(t, *outcomeOK)
}

func TestRunExecuteJobFailureTransitionsFailed(t *testing.T) {
	qm, cb := newTestJobDeps(t)
	req := types.ExecutionRequest{Driver: "mock", Command: "show version", ConnectionArgs: types.ConnectionArgs{"host": "r1"}}
	job, err := qm.Enqueue(context.Background(), queue.FifoQueue, "execute", req, queue.EnqueueOptions{})
	require.NoError(t, err)

	run := func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
		return nil, errors.New("connect refused")
	}
	var outcomeOK bool
	record := func(success bool) { outcomeOK = success }

	runExecuteJob(context.Background(), logging.NewNop(), qm, cb, job, run, record)

	got, err := qm.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.False(t, outcomeOK)
}

func TestRunExecuteJobDecodeErrorIsFailure(t *testing.T) {
	qm, cb := newTestJobDeps(t)
	job, err := qm.Enqueue(context.Background(), queue.FifoQueue, "execute", types.ExecutionRequest{}, queue.EnqueueOptions{})
	require.NoError(t, err)
	job.Args = []byte("not-json")

	run := func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
		t.Fatal("run must not be called when args fail to decode")
		return nil, nil
	}
	record := func(success bool) { assert.False(t, success) }

	runExecuteJob(context.Background(), logging.NewNop(), qm, cb, job, run, record)

	got, err := qm.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
}

func TestRunExecuteJobPanicIsRecoveredAsFailure(t *testing.T) {
	qm, cb := newTestJobDeps(t)
	req := types.ExecutionRequest{Driver: "mock", Command: "show version", ConnectionArgs: types.ConnectionArgs{"host": "r1"}}
	job, err := qm.Enqueue(context.Background(), queue.FifoQueue, "execute", req, queue.EnqueueOptions{})
	require.NoError(t, err)

	run := func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
		panic("boom")
	}
	record := func(success bool) { assert.False(t, success) }

	assert.NotPanics(t, func() {
		runExecuteJob(context.Background(), logging.NewNop(), qm, cb, job, run, record)
	})

	got, err := qm.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
}

func TestRunExecuteJobExceedsTimeoutFailsWithTimeoutKind(t *testing.T) {
	qm, cb := newTestJobDeps(t)
	req := types.ExecutionRequest{Driver: "mock", Command: "show version", ConnectionArgs: types.ConnectionArgs{"host": "r1"}}
	job, err := qm.Enqueue(context.Background(), queue.FifoQueue, "execute", req, queue.EnqueueOptions{
		Timeout:   10 * time.Millisecond,
		OnFailure: &queue.Callback{Name: "rpc_exception_callback"},
	})
	require.NoError(t, err)

	hung := make(chan struct{})
	run := func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
		<-hung // simulate a driver call that outlives the job's timeout
		return map[string]types.DriverExecutionResult{"show version": {Output: "ok"}}, nil
	}
	var outcomeOK bool
	record := func(success bool) { outcomeOK = success }

	runExecuteJob(context.Background(), logging.NewNop(), qm, cb, job, run, record)
	close(hung)

	got, err := qm.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.False(t, outcomeOK)
	require.NotNil(t, got.Meta.Error)
	assert.Equal(t, string(apierrors.KindTimeout), got.Meta.Error.Type)
	assert.Contains(t, got.Meta.Error.Message, "exceeded timeout")
}

func TestRunExecuteJobInvokesOnFailureCallback(t *testing.T) {
	qm, cb := newTestJobDeps(t)
	req := types.ExecutionRequest{Driver: "mock", Command: "show version", ConnectionArgs: types.ConnectionArgs{"host": "r1"}}
	job, err := qm.Enqueue(context.Background(), queue.FifoQueue, "execute", req, queue.EnqueueOptions{
		OnFailure: &queue.Callback{Name: "rpc_exception_callback"},
	})
	require.NoError(t, err)

	run := func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
		return nil, errors.New("connect refused")
	}
	runExecuteJob(context.Background(), logging.NewNop(), qm, cb, job, run, func(bool) {})

	got, err := qm.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Meta.Error)
	assert.Contains(t, got.Meta.Error.Message, "connect refused")
}
