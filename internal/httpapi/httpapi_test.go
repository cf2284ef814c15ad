package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitix/netpulse/internal/config"
	"github.com/scitix/netpulse/internal/dispatcher"
	"github.com/scitix/netpulse/internal/driver"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/parse"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/render"
	"github.com/scitix/netpulse/internal/scheduler"
	"github.com/scitix/netpulse/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testHarness struct {
	router *gin.Engine
	store  store.Store
	queue  *queue.Manager
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	s := store.NewMemoryStore()
	log := logging.NewNop()
	qm := queue.NewManager(s, log)
	drivers := driver.NewRegistry(driver.MockFactory{Session: false})
	cfg := config.Config{
		Job:    config.JobConfig{TTLSeconds: 3600, TimeoutSeconds: 180, ResultTTLSeconds: 86400, FailureTTLSeconds: 86400},
		Worker: config.WorkerConfig{Scheduler: "least_load", TTLSeconds: 30},
	}
	dm, err := dispatcher.NewManager(s, qm, scheduler.DefaultRegistry(), drivers, cfg, log)
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		APIKeyName: "X-API-KEY",
		Device:     NewDeviceHandler(dm, drivers, log),
		Job:        NewJobHandler(qm, log),
		Worker:     NewWorkerHandler(s, log),
		Health:     NewHealthHandler(),
		Template:   NewTemplateHandler(render.DefaultRegistry(), parse.DefaultRegistry(), log),
	}, log)

	return &testHarness{router: router, store: s, queue: qm}
}

func doJSON(h *testHarness, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, 0, env.Code)
}

func TestDeviceExecuteValidationError(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodPost, "/device/execute", map[string]interface{}{"driver": "mock"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, -1, env.Code)
}

func TestDeviceExecuteDispatchesJob(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.PutWorker(context.Background(), store.WorkerRecord{
		Name:          "fifo-1",
		State:         store.WorkerIdle,
		Queues:        []string{queue.FifoQueue},
		LastHeartbeat: time.Now(),
	}))

	rec := doJSON(h, http.MethodPost, "/device/execute", map[string]interface{}{
		"driver":          "mock",
		"command":         "show version",
		"connection_args": map[string]interface{}{"host": "r1"},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, 0, env.Code)
}

func TestDeviceBulkRequiresDevices(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodPost, "/device/bulk", map[string]interface{}{
		"driver":  "mock",
		"command": "show version",
		"devices": []interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceBulkPartitionsSucceededAndFailed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.PutWorker(context.Background(), store.WorkerRecord{
		Name:          "fifo-1",
		State:         store.WorkerIdle,
		Queues:        []string{queue.FifoQueue},
		LastHeartbeat: time.Now(),
	}))

	rec := doJSON(h, http.MethodPost, "/device/bulk", map[string]interface{}{
		"driver":  "mock",
		"command": "show version",
		"devices": []interface{}{
			map[string]interface{}{"host": "r1"},
			map[string]interface{}{"host": "r2"},
		},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, data["succeeded"], 2)
}

func TestDeviceBulkMergesConnectionArgsOntoTemplate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.PutWorker(context.Background(), store.WorkerRecord{
		Name:          "fifo-1",
		State:         store.WorkerIdle,
		Queues:        []string{queue.FifoQueue},
		LastHeartbeat: time.Now(),
	}))

	rec := doJSON(h, http.MethodPost, "/device/bulk", map[string]interface{}{
		"driver":  "mock",
		"command": "show version",
		"connection_args": map[string]interface{}{
			"username": "base-user",
			"password": "base-pass",
			"port":     22,
		},
		"devices": []interface{}{
			map[string]interface{}{"host": "r1"},
			map[string]interface{}{"host": "r2", "username": "override-user"},
		},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	succeeded, ok := data["succeeded"].([]interface{})
	require.True(t, ok)
	require.Len(t, succeeded, 2)

	byHost := map[string]map[string]interface{}{}
	for _, raw := range succeeded {
		jobSummary, ok := raw.(map[string]interface{})
		require.True(t, ok)
		id, ok := jobSummary["id"].(string)
		require.True(t, ok)

		job, err := h.queue.Get(context.Background(), id)
		require.NoError(t, err)
		var args map[string]interface{}
		require.NoError(t, json.Unmarshal(job.Args, &args))
		connArgs, ok := args["connection_args"].(map[string]interface{})
		require.True(t, ok)
		byHost[connArgs["host"].(string)] = connArgs
	}

	require.Contains(t, byHost, "r1")
	assert.Equal(t, "base-user", byHost["r1"]["username"])
	assert.Equal(t, "base-pass", byHost["r1"]["password"])
	assert.Equal(t, float64(22), byHost["r1"]["port"])

	require.Contains(t, byHost, "r2")
	assert.Equal(t, "override-user", byHost["r2"]["username"])
	assert.Equal(t, "base-pass", byHost["r2"]["password"])
}

func TestDeviceTestConnection(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodPost, "/device/test-connection", map[string]interface{}{
		"driver":          "mock",
		"connection_args": map[string]interface{}{"host": "r1"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["healthy"])
}

func TestDeviceTestConnectionUnknownDriver(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodPost, "/device/test-connection", map[string]interface{}{
		"driver":          "does-not-exist",
		"connection_args": map[string]interface{}{"host": "r1"},
	})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestJobGetRequiresIdentifier(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodGet, "/job", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobGetByID(t *testing.T) {
	h := newHarness(t)
	job, err := h.queue.Enqueue(context.Background(), queue.FifoQueue, "execute", "cmd", queue.EnqueueOptions{})
	require.NoError(t, err)

	rec := doJSON(h, http.MethodGet, "/job?id="+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	jobs, ok := env.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, jobs, 1)
}

func TestJobGetMissingIDReturnsEmptyList(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodGet, "/job?id=does-not-exist", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	jobs, ok := env.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, jobs, 0)
}

func TestJobDeleteCancelsQueuedJob(t *testing.T) {
	h := newHarness(t)
	job, err := h.queue.Enqueue(context.Background(), queue.FifoQueue, "execute", "cmd", queue.EnqueueOptions{})
	require.NoError(t, err)

	rec := doJSON(h, http.MethodDelete, "/job?id="+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	ids, ok := env.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, ids, 1)
	assert.Equal(t, job.ID, ids[0])
}

func TestWorkerGetFiltersByQueue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.PutWorker(context.Background(), store.WorkerRecord{Name: "w1", Queues: []string{queue.FifoQueue}}))
	require.NoError(t, h.store.PutWorker(context.Background(), store.WorkerRecord{Name: "w2", Queues: []string{queue.NodeQueue("node-1")}}))

	rec := doJSON(h, http.MethodGet, "/worker?queue="+queue.FifoQueue, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	workers, ok := env.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, workers, 1)
}

func TestWorkerDeleteByName(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.PutWorker(context.Background(), store.WorkerRecord{Name: "w1"}))

	rec := doJSON(h, http.MethodDelete, "/worker?name=w1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	names, ok := env.Data.([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"w1"}, names)
}

func TestTemplateRenderJinja2(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodPost, "/template/render/jinja2", map[string]interface{}{
		"template": "show interface {{iface}}",
		"context":  map[string]interface{}{"iface": "eth0"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "show interface eth0", env.Data)
}

func TestTemplateRenderUnknownName(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodPost, "/template/render/unknown", map[string]interface{}{"template": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplateParseIdentity(t *testing.T) {
	h := newHarness(t)
	rec := doJSON(h, http.MethodPost, "/template/parse/identity", map[string]interface{}{
		"output": "raw device output",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "raw device output", env.Data)
}
