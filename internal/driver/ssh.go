package driver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/scitix/netpulse/internal/types"
)

// SSHFactory builds session-oriented drivers for terminal-protocol CLIs —
// the Go stand-in for netmiko/paramiko in original_source. Session-
// oriented: a connected *ssh.Client is cached and reused across jobs for
// the same host (spec.md §4.3).
type SSHFactory struct{}

func (SSHFactory) Name() string            { return "ssh" }
func (SSHFactory) SessionOriented() bool    { return true }
func (SSHFactory) New(req *types.ExecutionRequest) (Driver, error) {
	d := &sshDriver{}
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	return d, nil
}

type sshDriver struct{}

func (d *sshDriver) Validate(req *types.ExecutionRequest) error {
	if req.ConnectionArgs.Host() == "" {
		return fmt.Errorf("ssh: connection_args.host is required")
	}
	if _, ok := req.ConnectionArgs["username"].(string); !ok {
		return fmt.Errorf("ssh: connection_args.username is required")
	}
	return nil
}

type sshSession struct {
	client *ssh.Client
	args   types.ConnectionArgs
}

func str(m types.ConnectionArgs, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intArg(m types.ConnectionArgs, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func (d *sshDriver) Connect(ctx context.Context, connArgs types.ConnectionArgs) (Session, error) {
	host := connArgs.Host()
	port := intArg(connArgs, "port", 22)
	username := str(connArgs, "username", "")
	password := str(connArgs, "password", "")
	timeout := time.Duration(intArg(connArgs, "timeout", 10)) * time.Second

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // device fingerprints aren't pinned at this layer
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s:%d: %w", host, port, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, fmt.Sprintf("%s:%d", host, port), cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh: handshake %s: %w", host, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	return &sshSession{client: client, args: connArgs}, nil
}

func (d *sshDriver) Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error) {
	s, ok := sess.(*sshSession)
	if !ok || s.client == nil {
		return nil, fmt.Errorf("ssh: session not connected")
	}
	out := make(map[string]types.DriverExecutionResult, len(commands))
	for _, cmd := range commands {
		out[cmd] = d.runOne(s, cmd)
	}
	return out, nil
}

// Config pushes lines as a single combined command — most CLI drivers
// apply configuration atomically as one "session" of lines.
func (d *sshDriver) Config(ctx context.Context, sess Session, configs []string) (map[string]types.DriverExecutionResult, error) {
	s, ok := sess.(*sshSession)
	if !ok || s.client == nil {
		return nil, fmt.Errorf("ssh: session not connected")
	}
	joined := joinLines(configs)
	return map[string]types.DriverExecutionResult{joined: d.runOne(s, joined)}, nil
}

func (d *sshDriver) runOne(s *sshSession, cmd string) types.DriverExecutionResult {
	start := time.Now()
	session, err := s.client.NewSession()
	if err != nil {
		return types.DriverExecutionResult{Error: err.Error(), ExitStatus: 1}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(cmd); err != nil {
		return types.DriverExecutionResult{
			Output:     stdout.String(),
			Error:      err.Error(),
			ExitStatus: 1,
			Telemetry:  telemetry(start, s.args.Host(), false),
		}
	}
	return types.DriverExecutionResult{
		Output:     stdout.String(),
		ExitStatus: 0,
		Telemetry:  telemetry(start, s.args.Host(), false),
	}
}

func telemetry(start time.Time, host string, reused bool) map[string]interface{} {
	return map[string]interface{}{
		"duration_seconds": time.Since(start).Seconds(),
		"host":             host,
		"session_reused":   reused,
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func (d *sshDriver) Disconnect(ctx context.Context, sess Session, reset bool) error {
	s, ok := sess.(*sshSession)
	if !ok || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (d *sshDriver) Test(ctx context.Context, connArgs types.ConnectionArgs) (types.DeviceTestInfo, error) {
	sess, err := d.Connect(ctx, connArgs)
	if err != nil {
		return types.DeviceTestInfo{}, err
	}
	defer d.Disconnect(ctx, sess, true)
	return types.DeviceTestInfo{Transport: "ssh", Healthy: true}, nil
}

// SessionReusable compares host/port/username — a real driver would also
// check auth material, but that's exactly the kind of secret this layer
// should never need to inspect.
func (d *sshDriver) SessionReusable(old, new types.ConnectionArgs) bool {
	return old.Host() == new.Host() &&
		intArg(old, "port", 22) == intArg(new, "port", 22) &&
		str(old, "username", "") == str(new, "username", "")
}

func (d *sshDriver) Keepalive(ctx context.Context, sess Session) error {
	s, ok := sess.(*sshSession)
	if !ok || s.client == nil {
		return fmt.Errorf("ssh: session not connected")
	}
	_, _, err := s.client.SendRequest("keepalive@netpulse", true, nil)
	return err
}
