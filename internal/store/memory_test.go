package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashOperations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "h", "f1", "v1"))
	v, err := s.HGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	ok, err := s.HSetNX(ctx, "h", "f1", "v2")
	require.NoError(t, err)
	assert.False(t, ok, "HSetNX must not overwrite an existing field")

	ok, err = s.HSetNX(ctx, "h", "f2", "v2")
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	require.NoError(t, s.HDel(ctx, "h", "f1"))
	_, err = s.HGet(ctx, "h", "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFIFOOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.LPush(ctx, "q", "a", "b", "c"))
	length, err := s.LLen(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 3, length)

	first, err := s.RPop(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "a", first, "RPop must return jobs in enqueue order")

	second, err := s.RPop(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "b", second)
}

func TestBRPopBlocksThenReturns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	done := make(chan string, 1)
	go func() {
		v, err := s.BRPop(ctx, "q", 2*time.Second)
		if err == nil {
			done <- v
		} else {
			done <- "error:" + err.Error()
		}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.LPush(ctx, "q", "job-1"))

	select {
	case v := <-done:
		assert.Equal(t, "job-1", v)
	case <-time.After(2 * time.Second):
		t.Fatal("BRPop did not unblock after push")
	}
}

func TestBRPopTimesOut(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.BRPop(ctx, "empty-queue", 50*time.Millisecond)
	assert.Error(t, err)
}

func TestLRem(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.LPush(ctx, "q", "a", "b", "c"))
	require.NoError(t, s.LRem(ctx, "q", "b"))
	vals, err := s.LRange(ctx, "q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, vals)
}

func TestSetGetExpireDel(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Hour))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Del(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetWithTTLExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPipelineAtomicCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pipe := s.Pipeline()
	pipe.Set("k1", "v1", time.Hour)
	pipe.HSet("h", "f", "v")
	pipe.LPush("q", "job")
	require.NoError(t, pipe.Exec(ctx))

	v, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	hv, err := s.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.Equal(t, "v", hv)

	l, err := s.LLen(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 1, l)
}

func TestWorkerRegistry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	w := WorkerRecord{Name: "worker-1", State: WorkerBusy, PID: 123, Birth: time.Now()}
	require.NoError(t, s.PutWorker(ctx, w))

	got, err := s.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got.Name)
	assert.False(t, got.IsDead())

	list, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteWorker(ctx, "worker-1"))
	_, err = s.GetWorker(ctx, "worker-1")
	assert.Error(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "shutdown:worker-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "shutdown:worker-1", "stop"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "stop", msg)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive published message")
	}
}
