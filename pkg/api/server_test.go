package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/metrics"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/orchestrator"
	"github.com/dirigent-io/dirigent/pkg/pool"
	recoverypkg "github.com/dirigent-io/dirigent/pkg/recovery"
	"github.com/dirigent-io/dirigent/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// processFunc adapts a function to the agent.Process interface.
type processFunc func(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error)

func (f processFunc) Send(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
	return f(ctx, instanceID, task)
}

func instantSuccess(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
	return models.NewCompletedResult(task.ID, instanceID,
		models.ResultOutput{Data: map[string]any{"ok": true}, Format: models.FormatJSON, Confidence: 0.9},
		models.ResultMetadata{ExecutionSeconds: 0.001, Quality: 0.9},
	), nil
}

func apiPoolsConfig() *config.PoolsConfig {
	roles := make(map[models.AgentType]*config.PoolConfig, len(models.AllAgentTypes()))
	for _, role := range models.AllAgentTypes() {
		cfg := config.DefaultPoolConfig()
		cfg.Scaling.MinInstances = 1
		cfg.Scaling.MaxInstances = 3
		cfg.ScalerInterval = time.Hour
		cfg.DrainTimeout = 250 * time.Millisecond
		roles[role] = cfg
	}
	return &config.PoolsConfig{Roles: roles}
}

type apiHarness struct {
	server *Server
	ex     *orchestrator.Executor
	bus    *events.Bus
}

func newAPIHarness(t *testing.T, proc agent.Process) *apiHarness {
	t.Helper()

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	pools := pool.NewManager(apiPoolsConfig(), proc, bus, nil)
	require.NoError(t, pools.Start(context.Background()))
	t.Cleanup(func() { _ = pools.Cleanup(context.Background()) })

	cfg := &config.OrchestratorConfig{
		MaxConcurrentWorkflows: 4,
		TaskTimeout:            5 * time.Second,
		ExecutionTimeout:       time.Minute,
		HeartbeatInterval:      time.Second,
		CheckpointEvery:        3,
		MaxRetries:             1,
		HistorySize:            16,
	}
	ex := orchestrator.New(cfg, pools, orchestrator.Options{
		Store:    store.NewMemory(),
		Strategy: recoverypkg.NewStrategy(cfg.MaxRetries, 5*time.Millisecond),
		Bus:      bus,
	})
	require.NoError(t, ex.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ex.Stop(ctx)
	})

	srv := NewServer(config.DefaultAPIConfig(), ex, pools, bus, store.NewMemory(), metrics.New())
	return &apiHarness{server: srv, ex: ex, bus: bus}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), "body: %s", w.Body.String())
	return m
}

func simplePlan(id string) *models.WorkflowPlan {
	return &models.WorkflowPlan{
		ID:      id,
		Pattern: models.PatternSequentialHandoff,
		Assignments: []models.AgentAssignment{
			{Role: models.AgentTypePM},
			{Role: models.AgentTypeImplementation, DependsOn: []string{"t0"}},
		},
	}
}

func (h *apiHarness) createExecution(t *testing.T, pl *models.WorkflowPlan) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/executions", CreateExecutionRequest{Plan: pl})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id, _ := decodeBody(t, w)["execution_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (h *apiHarness) waitForState(t *testing.T, id string, want models.ExecutionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		w := h.do(t, http.MethodGet, "/api/v1/executions/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, w)["state"] == string(want)
	}, 10*time.Second, 10*time.Millisecond)
}

func TestCreateAndGetExecution(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	id := h.createExecution(t, simplePlan("wf-api"))
	h.waitForState(t, id, models.ExecutionCompleted)

	w := h.do(t, http.MethodGet, "/api/v1/executions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(100), body["progress_percentage"])
	assert.Equal(t, "wf-api", body["workflow_id"])
}

func TestCreateExecutionValidation(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	w := h.do(t, http.MethodPost, "/api/v1/executions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "neither request nor plan present")

	bad := &models.WorkflowPlan{ID: "wf-bad", Pattern: "sideways"}
	w = h.do(t, http.MethodPost, "/api/v1/executions", CreateExecutionRequest{Plan: bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/executions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty body")
}

func TestGetExecutionNotFound(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	w := h.do(t, http.MethodGet, "/api/v1/executions/exec-missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelReportsConflictOnTerminal(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	id := h.createExecution(t, simplePlan("wf-done"))
	h.waitForState(t, id, models.ExecutionCompleted)

	w := h.do(t, http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocked := processFunc(func(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return instantSuccess(ctx, instanceID, task)
	})
	h := newAPIHarness(t, blocked)

	id := h.createExecution(t, simplePlan("wf-pause"))
	h.waitForState(t, id, models.ExecutionRunning)

	w := h.do(t, http.MethodPost, "/api/v1/executions/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	h.waitForState(t, id, models.ExecutionPaused)

	w = h.do(t, http.MethodPost, "/api/v1/executions/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	h.waitForState(t, id, models.ExecutionRunning)

	w = h.do(t, http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	h.waitForState(t, id, models.ExecutionCancelled)
}

func TestRollbackUnknownCheckpointIsNotFound(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocked := processFunc(func(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return instantSuccess(ctx, instanceID, task)
	})
	h := newAPIHarness(t, blocked)

	id := h.createExecution(t, simplePlan("wf-rb"))
	h.waitForState(t, id, models.ExecutionRunning)

	w := h.do(t, http.MethodPost, "/api/v1/executions/"+id+"/rollback",
		RollbackRequest{CheckpointID: "cp-missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPoolEndpoints(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	w := h.do(t, http.MethodGet, "/api/v1/pools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Pools []pool.Status `json:"pools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Len(t, listing.Pools, len(models.AllAgentTypes()))

	w = h.do(t, http.MethodGet, "/api/v1/pools/pm", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pm", decodeBody(t, w)["role"])

	w = h.do(t, http.MethodGet, "/api/v1/pools/wizard", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScalePool(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	w := h.do(t, http.MethodPost, "/api/v1/pools/implementation/scale", ScalePoolRequest{Instances: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decodeBody(t, w)["total_instances"])

	w = h.do(t, http.MethodPost, "/api/v1/pools/implementation/scale", ScalePoolRequest{Instances: 99})
	assert.Equal(t, http.StatusBadRequest, w.Code, "target above the configured max")
}

func TestMetricsEndpoints(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	id := h.createExecution(t, simplePlan("wf-metrics"))
	h.waitForState(t, id, models.ExecutionCompleted)

	w := h.do(t, http.MethodGet, "/api/v1/metrics/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary MetricsSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, uint64(1), summary.Workflows.Started)
	assert.Equal(t, uint64(1), summary.Workflows.Completed)
	assert.Len(t, summary.Pools, len(models.AllAgentTypes()))

	w = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dirigent_")
}

func TestHealthAndReadiness(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	w := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])

	w = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decodeBody(t, w)["status"])
}

func TestRequestIDPropagation(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))

	w2 := h.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, w2.Header().Get(requestIDHeader), "generated when absent")
}

func TestExecutionEventStream(t *testing.T) {
	// Hold the first task until the stream is attached so the test cannot
	// miss the task events.
	release := make(chan struct{})
	gated := processFunc(func(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return instantSuccess(ctx, instanceID, task)
	})
	h := newAPIHarness(t, gated)

	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	id := h.createExecution(t, simplePlan("wf-sse"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/executions/%s/events", ts.URL, id), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	close(release)

	seen := map[string]bool{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			seen[strings.TrimSpace(strings.TrimPrefix(line, "event:"))] = true
		}
		if seen[events.EventTypeTaskCompleted] {
			break
		}
	}
	assert.True(t, seen[events.EventTypeTaskCompleted], "saw %v", seen)
}

func TestEventStreamUnknownExecution(t *testing.T) {
	h := newAPIHarness(t, processFunc(instantSuccess))

	w := h.do(t, http.MethodGet, "/api/v1/executions/exec-missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
