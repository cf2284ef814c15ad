package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockPathRespectsRuntimeDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NETPULSE_RUNTIME_DIR", dir)
	assert.Equal(t, filepath.Join(dir, "fifo.lock"), lockPath("fifo.lock"))
}

func TestLockPathDefaultsToTempDir(t *testing.T) {
	t.Setenv("NETPULSE_RUNTIME_DIR", "")
	assert.Equal(t, filepath.Join(os.TempDir(), "netpulse", "node.lock"), lockPath("node.lock"))
}

func TestAcquireLockSucceedsWhenFree(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NETPULSE_RUNTIME_DIR", dir)
	lock := flock.New(lockPath("test.lock"))
	require.NoError(t, acquireLock(lock))
	defer lock.Unlock()
	assert.True(t, lock.Locked())
}

func TestAcquireLockFailsWhenHeldByAnother(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NETPULSE_RUNTIME_DIR", dir)
	path := lockPath("contended.lock")

	holder := flock.New(path)
	require.NoError(t, acquireLock(holder))
	defer holder.Unlock()

	contender := flock.New(path)
	err := acquireLock(contender)
	assert.Error(t, err)
}
