package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(store.NewMemoryStore(), logging.NewNop())
}

func TestEnqueueAndGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, FifoQueue, "execute", map[string]string{"host": "r1"}, EnqueueOptions{TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.NotEmpty(t, job.ID)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, FifoQueue, got.Queue)
}

func TestEnqueuePushesFIFOOrder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.Enqueue(ctx, FifoQueue, "execute", "one", EnqueueOptions{})
	require.NoError(t, err)
	second, err := m.Enqueue(ctx, FifoQueue, "execute", "two", EnqueueOptions{})
	require.NoError(t, err)

	popped1, err := m.Pop(ctx, FifoQueue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, popped1.ID, "FIFO queue must pop the oldest job first")

	popped2, err := m.Pop(ctx, FifoQueue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.ID, popped2.ID)
}

func TestEnqueueManyCommitsAllOrNothing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	jobs, err := m.EnqueueMany(ctx, FifoQueue, "execute", []interface{}{"a", "b", "c"}, EnqueueOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	queued, err := m.ListByStatus(ctx, FifoQueue, StatusQueued)
	require.NoError(t, err)
	assert.Len(t, queued, 3)
}

func TestTransitionMovesRegistryMembership(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, FifoQueue, "execute", "cmd", EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Transition(ctx, job, StatusStarted))
	queued, _ := m.ListByStatus(ctx, FifoQueue, StatusQueued)
	assert.Len(t, queued, 0)
	started, _ := m.ListByStatus(ctx, FifoQueue, StatusStarted)
	assert.Len(t, started, 1)

	require.NoError(t, m.Transition(ctx, job, StatusFinished))
	finished, _ := m.ListByStatus(ctx, FifoQueue, StatusFinished)
	assert.Len(t, finished, 1)
	assert.True(t, finished[0].Status.Terminal())
}

func TestCancelOnlyQueuedJob(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, FifoQueue, "execute", "cmd", EnqueueOptions{})
	require.NoError(t, err)

	ok, err := m.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)

	// Canceling again is a no-op (job is no longer queued).
	ok, err = m.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelMissingJobIsNoop(t *testing.T) {
	m := newTestManager(t)
	ok, err := m.Cancel(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelNonQueuedJobIsNoop(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job, err := m.Enqueue(ctx, FifoQueue, "execute", "cmd", EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, job, StatusStarted))

	ok, err := m.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveResultPersistsResultAndStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job, err := m.Enqueue(ctx, FifoQueue, "execute", "cmd", EnqueueOptions{})
	require.NoError(t, err)

	type resultPayload struct {
		Output string `json:"output"`
	}
	require.NoError(t, m.SaveResult(ctx, job, resultPayload{Output: "ok"}, StatusFinished))

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	var decoded resultPayload
	require.NoError(t, json.Unmarshal(got.Result, &decoded))
	assert.Equal(t, "ok", decoded.Output)
}

func TestFetchManySkipsMissing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job, err := m.Enqueue(ctx, FifoQueue, "execute", "cmd", EnqueueOptions{})
	require.NoError(t, err)

	got := m.FetchMany(ctx, []string{job.ID, "missing-id"})
	assert.Len(t, got, 1)
	assert.Equal(t, job.ID, got[0].ID)
}

func TestJobExpired(t *testing.T) {
	job := &Job{Status: StatusQueued, EnqueuedAt: time.Now().Add(-time.Hour), JobTTL: time.Minute}
	assert.True(t, job.Expired(time.Now()))

	job.Status = StatusFinished
	assert.False(t, job.Expired(time.Now()), "only queued jobs can expire")
}

func TestQueueNameHelpers(t *testing.T) {
	assert.Equal(t, "NodeQ_node-1", NodeQueue("node-1"))
	assert.Equal(t, "HostQ_r1", HostQueue("r1"))
}
