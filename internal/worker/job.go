package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/callback"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/types"
)

// executeFunc runs one decoded ExecutionRequest to completion — either
// execute.Pipeline.Run (FIFOWorker) or execute.Pipeline.RunPinned bound
// to a worker's session cache (PinnedWorker).
type executeFunc func(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error)

// runExecuteJob is the shared job lifecycle both FIFOWorker and
// PinnedWorker drive: mark started, decode and run with panic recovery,
// persist the result, and dispatch the on_success/on_failure callback
// (spec.md §4.7 step 6, §4.8).
func runExecuteJob(ctx context.Context, log *logging.Logger, qm *queue.Manager, callbacks *callback.Registry, job *queue.Job, run executeFunc, recordOutcome func(bool)) {
	if err := qm.Transition(ctx, job, queue.StatusStarted); err != nil {
		log.Warn("job: failed to mark started", "job_id", job.ID, "error", err)
		return
	}

	var req types.ExecutionRequest
	var result map[string]types.DriverExecutionResult
	var execErr error
	if err := json.Unmarshal(job.Args, &req); err != nil {
		execErr = fmt.Errorf("decode execution request: %w", err)
	} else {
		result, execErr = runWithTimeout(ctx, job, &req, run)
	}

	status := queue.StatusFinished
	if execErr != nil {
		status = queue.StatusFailed
	}
	recordOutcome(execErr == nil)
	if err := qm.SaveResult(ctx, job, result, status); err != nil {
		log.Warn("job: failed to save result", "job_id", job.ID, "error", err)
	}

	cb := job.OnSuccess
	if execErr != nil {
		cb = job.OnFailure
	}
	if cb != nil {
		if err := callbacks.Invoke(ctx, cb, job, result, execErr); err != nil {
			log.Warn("job: callback failed", "job_id", job.ID, "callback", cb.Name, "error", err)
		}
	}
}

// runWithRecover converts a panicking handler into a job failure instead
// of taking the worker process down with it (spec.md §4.3 cooperative
// single-threaded consumer — one bad job must not kill the loop).
func runWithRecover(ctx context.Context, req *types.ExecutionRequest, run executeFunc, out *map[string]types.DriverExecutionResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	*out, err = run(ctx, req)
	return err
}

// runWithTimeout enforces job.Timeout as a hard wall-clock cap (spec.md
// §5, §4.3 "timeout is a hard cap wall-clock; after expiry the worker
// reports the job failed with a timeout error kind"). The driver call
// itself is not interrupted on expiry — "the underlying driver call may
// continue until it returns" — so run executes on its own goroutine and
// the select simply stops waiting on it once the deadline passes.
func runWithTimeout(ctx context.Context, job *queue.Job, req *types.ExecutionRequest, run executeFunc) (map[string]types.DriverExecutionResult, error) {
	if job.Timeout <= 0 {
		var out map[string]types.DriverExecutionResult
		err := runWithRecover(ctx, req, run, &out)
		return out, err
	}

	tctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	type outcome struct {
		result map[string]types.DriverExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		var out map[string]types.DriverExecutionResult
		err := runWithRecover(tctx, req, run, &out)
		done <- outcome{result: out, err: err}
	}()

	select {
	case <-tctx.Done():
		return nil, apierrors.Timeout(fmt.Sprintf("job %s exceeded timeout %s", job.ID, job.Timeout))
	case o := <-done:
		return o.result, o.err
	}
}
