package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/dispatcher"
	"github.com/scitix/netpulse/internal/driver"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/types"
)

// DeviceHandler implements spec.md §6's /device/* endpoints.
type DeviceHandler struct {
	dispatcher *dispatcher.Manager
	drivers    *driver.Registry
	log        *logging.Logger
}

func NewDeviceHandler(d *dispatcher.Manager, drivers *driver.Registry, log *logging.Logger) *DeviceHandler {
	return &DeviceHandler{dispatcher: d, drivers: drivers, log: log.With("component", "DeviceHandler")}
}

// Execute handles POST /device/execute: a single ExecutionRequest is
// validated and dispatched, returning the queued job.
func (h *DeviceHandler) Execute(c *gin.Context) {
	var req types.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Validation(err.Error()))
		return
	}
	job, err := h.dispatcher.ExecuteOnDevice(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, job)
}

// bulkExecuteRequest is the request+devices shape spec.md §6 describes:
// a template ExecutionRequest whose connection_args fields are
// overridden, key by key, per device — not replaced wholesale, so a
// device entry giving only "host" still inherits the template's
// username/password/port. Embedding ExecutionRequest flattens its
// fields alongside "devices" in the request JSON.
type bulkExecuteRequest struct {
	types.ExecutionRequest
	Devices []types.ConnectionArgs `json:"devices"`
}

// Bulk handles POST /device/bulk: expands the template request once per
// device, overriding connection_args, and dispatches all of them as one
// batch (spec.md §8 law 10: succeeded+failed counts must equal N).
func (h *DeviceHandler) Bulk(c *gin.Context) {
	var req bulkExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Validation(err.Error()))
		return
	}
	if len(req.Devices) == 0 {
		respondError(c, apierrors.Validation("devices must be non-empty"))
		return
	}

	reqs := make([]*types.ExecutionRequest, len(req.Devices))
	for i, override := range req.Devices {
		r := req.ExecutionRequest
		r.ConnectionArgs = req.ExecutionRequest.ConnectionArgs.MergeOverride(override)
		reqs[i] = &r
	}

	jobs, failed := h.dispatcher.ExecuteOnBulkDevices(c.Request.Context(), reqs)
	respondOK(c, http.StatusCreated, gin.H{"succeeded": jobs, "failed": failed})
}

type testConnectionRequest struct {
	Driver         string                `json:"driver"`
	ConnectionArgs types.ConnectionArgs  `json:"connection_args"`
}

// TestConnection handles POST /device/test-connection: invokes
// Driver.Test synchronously, bypassing the queue entirely (spec.md §6).
func (h *DeviceHandler) TestConnection(c *gin.Context) {
	var req testConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Validation(err.Error()))
		return
	}
	factory, ok := h.drivers.Get(req.Driver)
	if !ok {
		respondError(c, apierrors.NotImplemented("unknown driver: "+req.Driver))
		return
	}
	drv, err := factory.New(&types.ExecutionRequest{Driver: req.Driver, ConnectionArgs: req.ConnectionArgs, Command: "noop"})
	if err != nil {
		respondError(c, apierrors.Validation(err.Error()))
		return
	}
	info, err := drv.Test(c.Request.Context(), req.ConnectionArgs)
	if err != nil {
		respondError(c, apierrors.Driver("test-connection failed", err))
		return
	}
	respondOK(c, http.StatusOK, info)
}
