package execute

import (
	"context"
	"sync"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/driver"
	"github.com/scitix/netpulse/internal/types"
)

// cachedSession is one pinned worker's persistent device session
// (spec.md §4.3).
type cachedSession struct {
	args types.ConnectionArgs
	sess driver.Session
	drv  driver.Driver
}

// SessionCache holds at most one session per host for a PinnedWorker. A
// worker only ever pins one host, but the type is keyed by host anyway
// so callers can't accidentally mix sessions across hosts.
type SessionCache struct {
	mu       sync.Mutex
	sessions map[string]*cachedSession
}

func NewSessionCache() *SessionCache {
	return &SessionCache{sessions: make(map[string]*cachedSession)}
}

func (c *SessionCache) acquire(ctx context.Context, host string, drv driver.Driver, args types.ConnectionArgs) (driver.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.sessions[host]; ok {
		if drv.SessionReusable(cs.args, args) {
			return cs.sess, true, nil
		}
		_ = cs.drv.Disconnect(ctx, cs.sess, true)
		delete(c.sessions, host)
	}
	sess, err := drv.Connect(ctx, args)
	if err != nil {
		return nil, false, err
	}
	c.sessions[host] = &cachedSession{args: args, sess: sess, drv: drv}
	return sess, false, nil
}

// Invalidate closes and drops host's cached session, used after a send
// error so the next job opens a fresh one.
func (c *SessionCache) Invalidate(ctx context.Context, host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.sessions[host]; ok {
		_ = cs.drv.Disconnect(ctx, cs.sess, true)
		delete(c.sessions, host)
	}
}

// Keepalive probes host's cached session, if any (spec.md §4.3's
// background keepalive loop).
func (c *SessionCache) Keepalive(ctx context.Context, host string) error {
	c.mu.Lock()
	cs, ok := c.sessions[host]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return cs.drv.Keepalive(ctx, cs.sess)
}

// Close disconnects every cached session — used on pinned worker
// shutdown (spec.md §4.5 Disconnect(reset=true) semantics).
func (c *SessionCache) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for host, cs := range c.sessions {
		_ = cs.drv.Disconnect(ctx, cs.sess, true)
		delete(c.sessions, host)
	}
}

// RunPinned is Run's session-reusing counterpart for PinnedWorker
// (spec.md §4.3): connect only when no equivalent session is cached,
// reuse it otherwise, and stamp session_reused=true telemetry when it
// does. A send/config error invalidates the cached session so the next
// job opens a fresh one rather than reusing a possibly-broken session.
func (p *Pipeline) RunPinned(ctx context.Context, req *types.ExecutionRequest, cache *SessionCache) (map[string]types.DriverExecutionResult, error) {
	if err := p.resolveCredentials(ctx, req); err != nil {
		return nil, err
	}
	factory, ok := p.drivers.Get(req.Driver)
	if !ok {
		return nil, apierrors.NotImplemented("unknown driver: " + req.Driver)
	}
	drv, err := factory.New(req)
	if err != nil {
		return nil, apierrors.Validation(err.Error())
	}
	if err := drv.Validate(req); err != nil {
		return nil, apierrors.Validation(err.Error())
	}

	if req.Rendering != nil {
		if err := p.render(req); err != nil {
			return nil, err
		}
	}
	commands, err := types.NormalizeCommands(req.Payload())
	if err != nil {
		return nil, apierrors.Validation(err.Error())
	}

	host := req.ConnectionArgs.Host()
	sess, reused, err := cache.acquire(ctx, host, drv, req.ConnectionArgs)
	if err != nil {
		return failAll(commands, err), nil
	}

	var results map[string]types.DriverExecutionResult
	if req.IsConfig() {
		results, err = drv.Config(ctx, sess, commands)
	} else {
		results, err = drv.Send(ctx, sess, commands)
	}
	if err != nil {
		cache.Invalidate(ctx, host)
		return failAll(commands, err), nil
	}
	if reused {
		stampReused(results)
	}

	if req.Parsing != nil {
		if err := p.parse(req, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func failAll(commands []string, err error) map[string]types.DriverExecutionResult {
	out := make(map[string]types.DriverExecutionResult, len(commands))
	for _, cmd := range commands {
		out[cmd] = types.DriverExecutionResult{Error: err.Error(), ExitStatus: 1}
	}
	return out
}

func stampReused(results map[string]types.DriverExecutionResult) {
	for k, r := range results {
		if r.Telemetry == nil {
			r.Telemetry = map[string]interface{}{}
		}
		r.Telemetry["session_reused"] = true
		results[k] = r
	}
}
