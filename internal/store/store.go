// Package store is netpulse's thin wrapper over the key-value store (Redis
// in production, an in-memory stand-in for tests) used by every other
// component: hashes for host/node maps, lists for queues, a worker
// registry with heartbeats, and pipelines for atomic batched writes.
//
// Grounded on the teacher's internal/clients/redis package (connection
// setup, context-scoped calls, *logging.Logger-based diagnostics) and
// generalized from a single pub/sub bus to the full primitive set
// spec.md §4.1 requires.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-value hash reads when the field/key is
// absent, letting callers distinguish "no record" from a transport error.
var ErrNotFound = errors.New("store: not found")

// Fixed hash keys spec.md §6 "Stored state layout" names — shared by
// dispatcher (writer) and the worker runtime (reader/cleaner on startup).
const (
	HostToNodeMapKey = "host_to_node_map"
	NodeInfoMapKey   = "node_info_map"
)

// WorkerState mirrors spec.md §4.1's worker registry state enum.
type WorkerState string

const (
	WorkerBusy WorkerState = "busy"
	WorkerIdle WorkerState = "idle"
)

// WorkerRecord is the heartbeat/registry entry each worker variant keeps
// current in the store. DeathDate is set only on a clean shutdown; a
// lost heartbeat with DeathDate unset is what liveness checks treat as
// a crash (see dispatcher.IsAlive).
type WorkerRecord struct {
	Name          string      `json:"name"`
	State         WorkerState `json:"state"`
	Queues        []string    `json:"queues"`
	PID           int         `json:"pid"`
	Birth         time.Time   `json:"birth"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	DeathDate     *time.Time  `json:"death_date,omitempty"`
	SuccessCount  int64       `json:"success_count"`
	FailureCount  int64       `json:"failure_count"`
}

func (w WorkerRecord) IsDead() bool { return w.DeathDate != nil }

// Store is the full set of primitives other netpulse components need.
// Implementations: redisStore (production) and memoryStore (tests).
type Store interface {
	// Hash operations.
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HScan(ctx context.Context, key, match string) (map[string]string, error)
	HMGet(ctx context.Context, key string, fields ...string) ([]string, error)

	// List/queue operations. LPush inserts at the head; RPop/BRPop remove
	// from the tail, preserving FIFO order (spec.md §5 ordering guarantee).
	LPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string) (string, error)
	BRPop(ctx context.Context, key string, timeout time.Duration) (string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, value string) error

	// Generic key operations used by TTL-bearing per-job hashes.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Pipeline returns a batch that commits atomically on Exec.
	Pipeline() Pipeline

	// Worker registry.
	PutWorker(ctx context.Context, w WorkerRecord) error
	GetWorker(ctx context.Context, name string) (*WorkerRecord, error)
	ListWorkers(ctx context.Context) ([]WorkerRecord, error)
	DeleteWorker(ctx context.Context, name string) error

	// Pub/sub heartbeat channel used for cross-process shutdown commands.
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Close() error
}

// ShutdownChannel is the pub/sub channel name a worker subscribes to for
// a cross-process shutdown command (spec.md §4.3, §4.6 force-delete).
func ShutdownChannel(workerName string) string { return "shutdown:" + workerName }

// Subscription is a minimal pub/sub handle. The Redis implementation
// closes the channel when the context is canceled or the connection
// drops; the memory implementation never closes it.
type Subscription interface {
	Channel() <-chan string
	Close() error
}

// Pipeline batches writes and commits them as a single round trip. Exec
// reports the first error encountered but still applies every command
// that succeeded before it — "raise_on_error=true" per spec.md §4.1,
// never a silent partial rollback.
type Pipeline interface {
	HSet(key, field, value string)
	HSetNX(key, field, value string)
	HDel(key string, fields ...string)
	LPush(key string, values ...string)
	Del(keys ...string)
	Set(key, value string, ttl time.Duration)
	Exec(ctx context.Context) error
}
