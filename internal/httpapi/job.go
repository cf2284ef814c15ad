package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/queue"
)

// JobHandler implements spec.md §6's /job endpoints.
type JobHandler struct {
	queue *queue.Manager
	log   *logging.Logger
}

func NewJobHandler(q *queue.Manager, log *logging.Logger) *JobHandler {
	return &JobHandler{queue: q, log: log.With("component", "JobHandler")}
}

// resolveQueueName maps the queue/node/host query params onto a concrete
// queue name the same way dispatch does (spec.md §6 queue naming).
func resolveQueueName(c *gin.Context) string {
	if q := c.Query("queue"); q != "" {
		return q
	}
	if node := c.Query("node"); node != "" {
		return queue.NodeQueue(node)
	}
	if host := c.Query("host"); host != "" {
		return queue.HostQueue(host)
	}
	return ""
}

// Get handles GET /job. A single id is fetched directly; otherwise jobs
// are listed by queue/status, defaulting to every non-terminal+terminal
// status when status is omitted (spec.md §6 "JobOperationError ...
// returns empty list, never raises to caller").
func (h *JobHandler) Get(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		job, err := h.queue.Get(c.Request.Context(), id)
		if err != nil {
			respondOK(c, http.StatusOK, []*queue.Job{})
			return
		}
		respondOK(c, http.StatusOK, []*queue.Job{job})
		return
	}

	queueName := resolveQueueName(c)
	if queueName == "" {
		respondError(c, apierrors.Validation("one of id, queue, node, host is required"))
		return
	}

	statuses := []queue.Status{queue.StatusQueued, queue.StatusStarted, queue.StatusFinished, queue.StatusFailed, queue.StatusCanceled}
	if s := c.Query("status"); s != "" {
		statuses = []queue.Status{queue.Status(s)}
	}

	jobs := make([]*queue.Job, 0)
	for _, status := range statuses {
		found, err := h.queue.ListByStatus(c.Request.Context(), queueName, status)
		if err != nil {
			h.log.Warn("list by status failed", "queue", queueName, "status", status, "error", err)
			continue
		}
		jobs = append(jobs, found...)
	}
	respondOK(c, http.StatusOK, jobs)
}

// Delete handles DELETE /job: cancels a single id, or every still-queued
// job on the resolved queue. Per spec.md §7 JobOperationError policy,
// an uncancelable/missing job is never an error — it's simply absent
// from the returned id list.
func (h *JobHandler) Delete(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		canceled, err := h.queue.Cancel(c.Request.Context(), id)
		if err != nil {
			h.log.Warn("cancel failed", "id", id, "error", err)
			respondOK(c, http.StatusOK, []string{})
			return
		}
		if canceled {
			respondOK(c, http.StatusOK, []string{id})
			return
		}
		respondOK(c, http.StatusOK, []string{})
		return
	}

	queueName := resolveQueueName(c)
	if queueName == "" {
		respondError(c, apierrors.Validation("one of id, queue, host is required"))
		return
	}
	queued, err := h.queue.ListByStatus(c.Request.Context(), queueName, queue.StatusQueued)
	if err != nil {
		respondOK(c, http.StatusOK, []string{})
		return
	}
	canceledIDs := make([]string, 0, len(queued))
	for _, job := range queued {
		ok, err := h.queue.Cancel(c.Request.Context(), job.ID)
		if err != nil {
			h.log.Warn("cancel failed", "id", job.ID, "error", err)
			continue
		}
		if ok {
			canceledIDs = append(canceledIDs, job.ID)
		}
	}
	respondOK(c, http.StatusOK, canceledIDs)
}
