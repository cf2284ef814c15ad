package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/store"
)

// WorkerHandler implements spec.md §6's /worker endpoints.
type WorkerHandler struct {
	store store.Store
	log   *logging.Logger
}

func NewWorkerHandler(s store.Store, log *logging.Logger) *WorkerHandler {
	return &WorkerHandler{store: s, log: log.With("component", "WorkerHandler")}
}

func (h *WorkerHandler) matchesFilter(w store.WorkerRecord, queueName string) bool {
	if queueName == "" {
		return true
	}
	for _, q := range w.Queues {
		if q == queueName {
			return true
		}
	}
	return false
}

// Get handles GET /worker?queue=&node=&host=, filtering the registry by
// which queue a worker serves.
func (h *WorkerHandler) Get(c *gin.Context) {
	queueName := resolveQueueName(c)
	workers, err := h.store.ListWorkers(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.Internal("list workers", err))
		return
	}
	out := make([]store.WorkerRecord, 0, len(workers))
	for _, w := range workers {
		if h.matchesFilter(w, queueName) {
			out = append(out, w)
		}
	}
	respondOK(c, http.StatusOK, out)
}

// Delete handles DELETE /worker?name=…|queue=…: signals shutdown to the
// named worker, or to every worker serving the given queue, and returns
// the names it signaled.
func (h *WorkerHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	if name := c.Query("name"); name != "" {
		if err := h.store.Publish(ctx, store.ShutdownChannel(name), "shutdown"); err != nil {
			respondOK(c, http.StatusOK, []string{})
			return
		}
		respondOK(c, http.StatusOK, []string{name})
		return
	}

	queueName := resolveQueueName(c)
	if queueName == "" {
		respondError(c, apierrors.Validation("one of name, queue, node, host is required"))
		return
	}
	workers, err := h.store.ListWorkers(ctx)
	if err != nil {
		respondOK(c, http.StatusOK, []string{})
		return
	}
	killed := make([]string, 0, len(workers))
	for _, w := range workers {
		if !h.matchesFilter(w, queueName) {
			continue
		}
		if err := h.store.Publish(ctx, store.ShutdownChannel(w.Name), "shutdown"); err != nil {
			h.log.Warn("shutdown signal failed", "worker", w.Name, "error", err)
			continue
		}
		killed = append(killed, w.Name)
	}
	respondOK(c, http.StatusOK, killed)
}
