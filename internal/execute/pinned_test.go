package execute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitix/netpulse/internal/driver"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/parse"
	"github.com/scitix/netpulse/internal/render"
	"github.com/scitix/netpulse/internal/types"
)

func newPinnedTestPipeline() *Pipeline {
	drivers := driver.NewRegistry(driver.MockFactory{Session: true})
	return NewPipeline(drivers, render.DefaultRegistry(), parse.DefaultRegistry(), nil, logging.NewNop())
}

func TestRunPinnedReusesSessionForSameHost(t *testing.T) {
	p := newPinnedTestPipeline()
	cache := NewSessionCache()
	req := &types.ExecutionRequest{
		Driver:         "mock",
		Command:        "show version",
		ConnectionArgs: types.ConnectionArgs{"host": "r1"},
	}

	first, err := p.RunPinned(context.Background(), req, cache)
	require.NoError(t, err)
	assert.Equal(t, false, first["show version"].Telemetry["session_reused"], "first call on a fresh cache must not be a reuse")

	second, err := p.RunPinned(context.Background(), req, cache)
	require.NoError(t, err)
	assert.Equal(t, true, second["show version"].Telemetry["session_reused"])
}

func TestRunPinnedClosesCacheOnShutdown(t *testing.T) {
	p := newPinnedTestPipeline()
	cache := NewSessionCache()
	req := &types.ExecutionRequest{
		Driver:         "mock",
		Command:        "show version",
		ConnectionArgs: types.ConnectionArgs{"host": "r1"},
	}
	_, err := p.RunPinned(context.Background(), req, cache)
	require.NoError(t, err)

	cache.Close(context.Background())
	// after Close, the next call must open a fresh (non-reused) session.
	next, err := p.RunPinned(context.Background(), req, cache)
	require.NoError(t, err)
	assert.Equal(t, false, next["show version"].Telemetry["session_reused"])
}

func TestSessionCacheInvalidateDropsSession(t *testing.T) {
	p := newPinnedTestPipeline()
	cache := NewSessionCache()
	req := &types.ExecutionRequest{
		Driver:         "mock",
		Command:        "show version",
		ConnectionArgs: types.ConnectionArgs{"host": "r1"},
	}
	_, err := p.RunPinned(context.Background(), req, cache)
	require.NoError(t, err)

	cache.Invalidate(context.Background(), "r1")
	next, err := p.RunPinned(context.Background(), req, cache)
	require.NoError(t, err)
	assert.Equal(t, false, next["show version"].Telemetry["session_reused"])
}

func TestSessionCacheKeepaliveNoopWhenEmpty(t *testing.T) {
	cache := NewSessionCache()
	assert.NoError(t, cache.Keepalive(context.Background(), "no-such-host"))
}
