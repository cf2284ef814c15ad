package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scitix/netpulse/internal/types"
)

// EAPIFactory builds stateless HTTP(S) JSON-RPC drivers — the Go stand-in
// for pyeapi in original_source. Not session-oriented: every job opens
// and closes its own HTTP round trip, so it defaults to the fifo queue.
type EAPIFactory struct{}

func (EAPIFactory) Name() string         { return "pyeapi" }
func (EAPIFactory) SessionOriented() bool { return false }
func (EAPIFactory) New(req *types.ExecutionRequest) (Driver, error) {
	d := &eapiDriver{client: &http.Client{Timeout: 30 * time.Second}}
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	return d, nil
}

type eapiDriver struct {
	client *http.Client
}

func (d *eapiDriver) Validate(req *types.ExecutionRequest) error {
	if req.ConnectionArgs.Host() == "" {
		return fmt.Errorf("pyeapi: connection_args.host is required")
	}
	return nil
}

type eapiSession struct {
	baseURL string
	args    types.ConnectionArgs
}

// Connect for a stateless HTTP driver just resolves the endpoint; the
// actual TCP/TLS connection is opened per-request by net/http.
func (d *eapiDriver) Connect(ctx context.Context, connArgs types.ConnectionArgs) (Session, error) {
	transport := str(connArgs, "transport", "https")
	host := connArgs.Host()
	port := intArg(connArgs, "port", 443)
	return &eapiSession{
		baseURL: fmt.Sprintf("%s://%s:%d/command-api", transport, host, port),
		args:    connArgs,
	}, nil
}

type eapiRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  eapiParams  `json:"params"`
	ID      string      `json:"id"`
}

type eapiParams struct {
	Version int      `json:"version"`
	Cmds    []string `json:"cmds"`
	Format  string   `json:"format"`
}

type eapiResponse struct {
	Result []json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (d *eapiDriver) Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error) {
	return d.do(ctx, sess, commands)
}

func (d *eapiDriver) Config(ctx context.Context, sess Session, configs []string) (map[string]types.DriverExecutionResult, error) {
	return d.do(ctx, sess, append([]string{"configure"}, configs...))
}

func (d *eapiDriver) do(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error) {
	s, ok := sess.(*eapiSession)
	if !ok {
		return nil, fmt.Errorf("pyeapi: session not connected")
	}
	start := time.Now()
	body, err := json.Marshal(eapiRequest{
		JSONRPC: "2.0",
		Method:  "runCmds",
		Params:  eapiParams{Version: 1, Cmds: commands, Format: "text"},
		ID:      "netpulse",
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if user := str(s.args, "username", ""); user != "" {
		httpReq.SetBasicAuth(user, str(s.args, "password", ""))
	}

	resp, err := d.client.Do(httpReq)
	out := make(map[string]types.DriverExecutionResult, len(commands))
	if err != nil {
		for _, cmd := range commands {
			out[cmd] = types.DriverExecutionResult{Error: err.Error(), ExitStatus: 1}
		}
		return out, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var parsed eapiResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil || parsed.Error != nil {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		for _, cmd := range commands {
			out[cmd] = types.DriverExecutionResult{Error: msg, ExitStatus: 1, Telemetry: telemetry(start, s.args.Host(), false)}
		}
		return out, nil
	}
	for i, cmd := range commands {
		res := types.DriverExecutionResult{ExitStatus: 0, Telemetry: telemetry(start, s.args.Host(), false)}
		if i < len(parsed.Result) {
			res.Output = string(parsed.Result[i])
		}
		out[cmd] = res
	}
	return out, nil
}

func (d *eapiDriver) Disconnect(ctx context.Context, sess Session, reset bool) error { return nil }

func (d *eapiDriver) Test(ctx context.Context, connArgs types.ConnectionArgs) (types.DeviceTestInfo, error) {
	sess, err := d.Connect(ctx, connArgs)
	if err != nil {
		return types.DeviceTestInfo{}, err
	}
	if _, err := d.do(ctx, sess, []string{"show version"}); err != nil {
		return types.DeviceTestInfo{}, err
	}
	return types.DeviceTestInfo{Transport: str(connArgs, "transport", "https"), Healthy: true}, nil
}

// SessionReusable is always false: eapi is stateless, so the pinned-worker
// session-reuse path never applies to it.
func (d *eapiDriver) SessionReusable(old, new types.ConnectionArgs) bool { return false }

func (d *eapiDriver) Keepalive(ctx context.Context, sess Session) error { return nil }
