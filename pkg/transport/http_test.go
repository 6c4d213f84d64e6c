package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/models"
)

func testTransportConfig(endpoint string) *config.TransportConfig {
	cfg := config.DefaultTransportConfig()
	cfg.Mode = config.TransportModeHTTP
	cfg.Endpoint = endpoint
	cfg.RequestTimeout = 2 * time.Second
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestHTTPSendCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, executePath, r.URL.Path)

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "inst-1", req.InstanceID)
		assert.Equal(t, "task-1", req.Task.ID)

		json.NewEncoder(w).Encode(map[string]any{
			"task_id": req.Task.ID,
			"status":  "completed",
			"output": map[string]any{
				"data":       map[string]any{"done": true},
				"format":     "json",
				"confidence": 0.9,
			},
			"metadata": map[string]any{
				"execution_seconds": 1.5,
				"quality":           0.85,
				"model":             "remote",
			},
			"some_future_field": "ignored",
		})
	}))
	defer srv.Close()

	tr := NewHTTP(testTransportConfig(srv.URL), nil, nil)
	result, err := tr.Send(context.Background(), "inst-1", newTask(models.AgentTypePM, "plan"))
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Equal(t, 0.85, result.Metadata.Quality)
	assert.Equal(t, "remote", result.Metadata.Model)
}

func TestHTTPSendFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": "task-1",
			"status":  "failed",
			"error":   "agent crashed mid-step",
		})
	}))
	defer srv.Close()

	tr := NewHTTP(testTransportConfig(srv.URL), nil, nil)
	result, err := tr.Send(context.Background(), "inst-1", newTask(models.AgentTypePM, "plan"))
	require.NoError(t, err, "a reported task failure is not a transport error")

	assert.Equal(t, models.TaskStatusFailed, result.Status)
	assert.Contains(t, result.Error, "agent crashed mid-step")
}

func TestHTTPSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": "task-1",
			"status":  "completed",
			"output":  map[string]any{"data": map[string]any{"ok": true}, "format": "json"},
		})
	}))
	defer srv.Close()

	tr := NewHTTP(testTransportConfig(srv.URL), nil, nil)
	result, err := tr.Send(context.Background(), "inst-1", newTask(models.AgentTypePM, "plan"))
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSendBadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := NewHTTP(testTransportConfig(srv.URL), nil, nil)
	_, err := tr.Send(context.Background(), "inst-1", newTask(models.AgentTypePM, "plan"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSendMismatchedTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": "task-somebody-else",
			"status":  "completed",
			"output":  map[string]any{"data": map[string]any{}, "format": "json"},
		})
	}))
	defer srv.Close()

	tr := NewHTTP(testTransportConfig(srv.URL), nil, nil)
	_, err := tr.Send(context.Background(), "inst-1", newTask(models.AgentTypePM, "plan"))
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestHTTPSendBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testTransportConfig(srv.URL)
	cfg.MaxAttempts = 2
	cfg.BreakerFailureThreshold = 3
	cfg.BreakerOpenTimeout = time.Minute
	tr := NewHTTP(cfg, nil, nil)

	task := newTask(models.AgentTypePM, "plan")
	// Two sends of two attempts each cross the threshold; the breaker opens
	// and subsequent sends fail fast.
	_, err := tr.Send(context.Background(), "inst-1", task)
	require.Error(t, err)
	_, err = tr.Send(context.Background(), "inst-1", task)
	require.Error(t, err)

	_, err = tr.Send(context.Background(), "inst-1", task)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestHTTPBackoffStaysWithinBounds(t *testing.T) {
	cfg := testTransportConfig("http://unused")
	cfg.InitialBackoff = 100 * time.Millisecond
	cfg.MaxBackoff = time.Second
	cfg.BackoffMultiplier = 2.0
	tr := NewHTTP(cfg, nil, nil)

	for n := 1; n <= 10; n++ {
		d := tr.backoff(n)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, cfg.MaxBackoff)
	}
}
