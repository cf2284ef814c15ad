package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockAcquireTimeout = 3 * time.Second

// lockPath resolves the singleton-enforcement lock file for a worker kind
// (spec.md §4.3: "node.lock"/"fifo.lock" — at most one NodeWorker or
// FIFOWorker process may run per host). NETPULSE_RUNTIME_DIR overrides the
// default of os.TempDir()/netpulse for deployments that run several
// netpulse instances on one filesystem namespace.
func lockPath(name string) string {
	dir := os.Getenv("NETPULSE_RUNTIME_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "netpulse")
	}
	return filepath.Join(dir, name)
}

// acquireLock tries to take an exclusive file lock within
// lockAcquireTimeout, per spec.md §4.3's "if not acquired within 3s,
// abort" singleton rule.
func acquireLock(lock *flock.Flock) error {
	if err := os.MkdirAll(filepath.Dir(lock.Path()), 0o755); err != nil {
		return fmt.Errorf("worker: create lock dir: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockAcquireTimeout)
	defer cancel()
	ok, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("worker: acquire lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("worker: lock %s held by another process", lock.Path())
	}
	return nil
}
