// Package driver defines the connect/send/config/disconnect/test contract
// spec.md §4.5 requires, plus a compile-time registry of concrete drivers
// (spec.md §9's LazyDictProxy, generalized to a static map). Only the
// interface and two reference implementations are provided here — the
// concrete protocol implementations (netmiko, paramiko, napalm, pyeapi)
// are explicitly out of scope per spec.md §1; SSHDriver and EAPIDriver
// below exist to exercise the session-oriented/stateless split end to end,
// not to be production-grade device drivers.
package driver

import (
	"context"

	"github.com/scitix/netpulse/internal/types"
)

// Session is an opaque, driver-owned handle. PinnedWorker caches at most
// one of these per host, keyed by ConnectionArgs (spec.md §4.3).
type Session interface{}

// Driver is the per-request instance spec.md §4.5 describes. Obtained via
// a Factory's New (the "FromExecutionRequest" contract).
type Driver interface {
	Validate(req *types.ExecutionRequest) error
	Connect(ctx context.Context, connArgs types.ConnectionArgs) (Session, error)
	Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error)
	Config(ctx context.Context, sess Session, configs []string) (map[string]types.DriverExecutionResult, error)
	Disconnect(ctx context.Context, sess Session, reset bool) error
	Test(ctx context.Context, connArgs types.ConnectionArgs) (types.DeviceTestInfo, error)
	// SessionReusable reports whether a cached session opened with old
	// connection args may serve a request carrying new args.
	SessionReusable(old, new types.ConnectionArgs) bool
	// Keepalive sends a low-level liveness probe on sess. Drivers that
	// don't support keepalive return nil immediately; the pinned worker
	// treats a nil Keepalive as "no background probing needed".
	Keepalive(ctx context.Context, sess Session) error
}

// Factory constructs a Driver from a validated ExecutionRequest — the
// "FromExecutionRequest" contract — and declares the driver's identity
// and queueing semantics.
type Factory interface {
	Name() string
	// SessionOriented drivers default to the pinned queue strategy;
	// stateless drivers default to fifo (spec.md §3 ExecutionRequest
	// invariants).
	SessionOriented() bool
	New(req *types.ExecutionRequest) (Driver, error)
}

// Registry is the compile-time plugin directory for drivers.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for _, f := range factories {
		r.factories[f.Name()] = f
	}
	return r
}

func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	return out
}

// DefaultQueueStrategy resolves ExecutionRequest.QueueStrategy when the
// caller didn't specify one, defaulting by driver session semantics
// (spec.md §3).
func (r *Registry) DefaultQueueStrategy(driverName string) types.QueueStrategy {
	if f, ok := r.Get(driverName); ok && f.SessionOriented() {
		return types.StrategyPinned
	}
	return types.StrategyFIFO
}
