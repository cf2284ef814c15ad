// Package callback implements the by-name callback registry and the two
// standard callbacks spec.md §4.8 describes: rpc_exception_callback and
// rpc_webhook_callback. Grounded on the teacher's internal/services
// notification dispatch (a name-keyed handler map invoked post-job, with
// HTTP delivery wrapped in its own error type) generalized from SSE
// notifications to outbound webhook POSTs.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/types"
)

// Handler is a named job-completion callback. execErr is the pipeline's
// error for this job, nil on success.
type Handler func(ctx context.Context, job *queue.Job, result map[string]types.DriverExecutionResult, execErr error) error

// Registry resolves callback names at execute time — spec.md §8 law 6:
// unresolved names must fail softly (reported via the exception
// callback) rather than crash the worker.
type Registry struct {
	queue      *queue.Manager
	http       *http.Client
	log        *logging.Logger
	handlers   map[string]Handler
}

func NewRegistry(qm *queue.Manager, httpClient *http.Client, log *logging.Logger) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	r := &Registry{queue: qm, http: httpClient, log: log.With("component", "CallbackRegistry")}
	r.handlers = map[string]Handler{
		"rpc_exception_callback": r.rpcExceptionCallback,
		"rpc_webhook_callback":   r.rpcWebhookCallback,
	}
	return r
}

// Invoke resolves cb by name and runs it, falling back to the exception
// callback (never a panic or propagated error) when the name is
// unresolved.
func (r *Registry) Invoke(ctx context.Context, cb *queue.Callback, job *queue.Job, result map[string]types.DriverExecutionResult, execErr error) error {
	if cb == nil {
		return nil
	}
	h, ok := r.handlers[cb.Name]
	if !ok {
		r.log.Warn("callback: unresolved name", "name", cb.Name, "job_id", job.ID)
		return r.recordError(ctx, job, "callback_error", fmt.Sprintf("unresolved callback %q", cb.Name))
	}
	runCtx := ctx
	if d := cb.Timeout(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return h(runCtx, job, result, execErr)
}

// rpcExceptionCallback validates and records job.meta.error, persisting
// it without altering job status (spec.md §4.8).
func (r *Registry) rpcExceptionCallback(ctx context.Context, job *queue.Job, _ map[string]types.DriverExecutionResult, execErr error) error {
	if execErr == nil {
		return nil
	}
	errType := "error"
	if ae, ok := apierrors.As(execErr); ok {
		errType = string(ae.Kind)
	}
	return r.recordError(ctx, job, errType, execErr.Error())
}

func (r *Registry) recordError(ctx context.Context, job *queue.Job, errType, message string) error {
	job.Meta.Error = &queue.ErrorTuple{Type: errType, Message: message}
	if err := r.queue.SaveMeta(ctx, job); err != nil {
		r.log.Warn("exception callback: failed to persist job meta", "job_id", job.ID, "error", err)
		return nil
	}
	return nil
}

// rpcWebhookCallback implements spec.md §4.8: on success, POST
// {id,result,status,driver,device,command}; on failure, normalize the
// error via rpc_exception_callback first, then POST with status=failed.
// HTTP delivery errors are re-raised so the framework marks the job
// accordingly.
func (r *Registry) rpcWebhookCallback(ctx context.Context, job *queue.Job, result map[string]types.DriverExecutionResult, execErr error) error {
	var req types.ExecutionRequest
	if err := json.Unmarshal(job.Args, &req); err != nil {
		return fmt.Errorf("callback: decode original request for job %s: %w", job.ID, err)
	}
	defer r.cleanupStagedFiles(req)

	if req.Webhook == nil {
		return nil
	}

	status := "finished"
	var resultPayload interface{} = result
	if execErr != nil {
		if err := r.rpcExceptionCallback(ctx, job, result, execErr); err != nil {
			r.log.Warn("webhook callback: exception normalization failed", "job_id", job.ID, "error", err)
		}
		status = "failed"
		errType := "error"
		if job.Meta.Error != nil {
			errType = job.Meta.Error.Type
		}
		resultPayload = fmt.Sprintf("%s: %s", errType, execErr.Error())
	}

	payload := map[string]interface{}{
		"id":      job.ID,
		"result":  resultPayload,
		"status":  status,
		"driver":  req.Driver,
		"device":  req.ConnectionArgs.Host(),
		"command": req.Payload(),
	}
	if err := r.postWebhook(ctx, req.Webhook, payload); err != nil {
		r.log.Error("webhook delivery failed", "job_id", job.ID, "url", req.Webhook.URL, "error", err)
		return apierrors.Webhook("webhook delivery failed", err)
	}
	return nil
}

func (r *Registry) postWebhook(ctx context.Context, spec *types.WebhookSpec, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	timeout := time.Duration(spec.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, spec.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range spec.Headers {
		httpReq.Header.Set(k, v)
	}
	if spec.AuthUser != "" {
		httpReq.SetBasicAuth(spec.AuthUser, spec.AuthPass)
	}

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// cleanupStagedFiles removes any files a rendered script staged on disk,
// referenced by driver_args.staged_files (spec.md §4.8 "post-run
// cleanup"). Missing files are not an error — cleanup is best-effort.
func (r *Registry) cleanupStagedFiles(req types.ExecutionRequest) {
	raw, ok := req.DriverArgs["staged_files"]
	if !ok {
		return
	}
	paths, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, p := range paths {
		path, ok := p.(string)
		if !ok || path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Warn("callback: staged file cleanup failed", "path", path, "error", err)
		}
	}
}
