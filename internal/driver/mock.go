package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/scitix/netpulse/internal/types"
)

// MockFactory backs unit/integration tests: an in-process driver with no
// real transport, deterministic output, and a toggle for session-oriented
// behavior so both pinned and fifo code paths can be exercised without a
// live device.
type MockFactory struct {
	Session bool
}

func (f MockFactory) Name() string          { return "mock" }
func (f MockFactory) SessionOriented() bool { return f.Session }
func (f MockFactory) New(req *types.ExecutionRequest) (Driver, error) {
	return &mockDriver{sessionOriented: f.Session}, nil
}

type mockSession struct {
	args types.ConnectionArgs
}

type mockDriver struct {
	sessionOriented bool
}

func (d *mockDriver) Validate(req *types.ExecutionRequest) error {
	if req.ConnectionArgs.Host() == "" {
		return fmt.Errorf("mock: connection_args.host is required")
	}
	return nil
}

func (d *mockDriver) Connect(ctx context.Context, connArgs types.ConnectionArgs) (Session, error) {
	return &mockSession{args: connArgs}, nil
}

func (d *mockDriver) Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error) {
	s := sess.(*mockSession)
	out := make(map[string]types.DriverExecutionResult, len(commands))
	for _, cmd := range commands {
		out[cmd] = types.DriverExecutionResult{
			Output:     fmt.Sprintf("mock output for %q", cmd),
			ExitStatus: 0,
			Telemetry:  telemetry(time.Now(), s.args.Host(), false),
		}
	}
	return out, nil
}

func (d *mockDriver) Config(ctx context.Context, sess Session, configs []string) (map[string]types.DriverExecutionResult, error) {
	s := sess.(*mockSession)
	joined := joinLines(configs)
	return map[string]types.DriverExecutionResult{
		joined: {Output: "ok", ExitStatus: 0, Telemetry: telemetry(time.Now(), s.args.Host(), false)},
	}, nil
}

func (d *mockDriver) Disconnect(ctx context.Context, sess Session, reset bool) error { return nil }

func (d *mockDriver) Test(ctx context.Context, connArgs types.ConnectionArgs) (types.DeviceTestInfo, error) {
	return types.DeviceTestInfo{Prompt: "mock#", Transport: "mock", Healthy: true}, nil
}

func (d *mockDriver) SessionReusable(old, new types.ConnectionArgs) bool {
	return d.sessionOriented && old.Host() == new.Host()
}

func (d *mockDriver) Keepalive(ctx context.Context, sess Session) error { return nil }
