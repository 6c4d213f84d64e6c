package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/metrics"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// executePath is the agent-process endpoint tasks are posted to.
const executePath = "/v1/execute"

// sendRequest is the wire shape of one task hand-off.
type sendRequest struct {
	InstanceID string            `json:"instance_id"`
	Task       *models.AgentTask `json:"task"`
}

// sendResponse is the wire shape of a task outcome. Unknown fields in the
// peer's response are ignored for forward compatibility.
type sendResponse struct {
	TaskID   string                `json:"task_id"`
	Status   models.TaskStatus     `json:"status"`
	Output   models.ResultOutput   `json:"output"`
	Metadata models.ResultMetadata `json:"metadata"`
	Error    string                `json:"error,omitempty"`
}

// HTTP posts tasks to an external agent-process service. Transient
// failures are retried with jittered exponential backoff; a run of
// consecutive failures opens a circuit breaker so a dead peer fails fast
// instead of eating the full retry budget per task.
type HTTP struct {
	cfg     *config.TransportConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	scorer  Scorer
}

// NewHTTP builds the HTTP transport from resolved configuration. m may be
// nil when metrics are not wired; a nil scorer falls back to
// PassThroughScorer.
func NewHTTP(cfg *config.TransportConfig, scorer Scorer, m *metrics.Metrics) *HTTP {
	if cfg == nil {
		panic("transport.NewHTTP: cfg must not be nil")
	}
	if scorer == nil {
		scorer = PassThroughScorer{}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "agent-process",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Agent transport breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				m.BreakerOpened(name)
			}
		},
	})

	return &HTTP{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		breaker: breaker,
		scorer:  scorer,
	}
}

// Send posts the task and converts the response into an AgentResult. The
// returned error means no usable response arrived; it never encodes a task
// failure, which travels inside the result.
func (t *HTTP) Send(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
	body, err := json.Marshal(sendRequest{InstanceID: instanceID, Task: task})
	if err != nil {
		return nil, fmt.Errorf("encoding task %s: %w", task.ID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.backoff(attempt - 1)):
			}
		}

		resp, err := t.breaker.Execute(func() (any, error) {
			return t.post(ctx, body)
		})
		if err == nil {
			return t.toResult(instanceID, task, resp.(*sendResponse))
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: task %s", ErrBreakerOpen, task.ID)
		}
		if errors.Is(err, ErrBadResponse) {
			// Protocol mismatch, retrying will not help.
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		slog.Warn("Agent transport attempt failed",
			"task_id", task.ID,
			"attempt", attempt,
			"max_attempts", t.cfg.MaxAttempts,
			"error", err)
	}
	return nil, fmt.Errorf("sending task %s after %d attempts: %w", task.ID, t.cfg.MaxAttempts, lastErr)
}

// post performs one HTTP round trip. 5xx answers are errors so the breaker
// and the retry loop see them; a 4xx is a permanent protocol mismatch and
// comes back wrapped in ErrBadResponse.
func (t *HTTP) post(ctx context.Context, body []byte) (*sendResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("agent process returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var out sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &out, nil
}

// toResult converts the wire response into the engine's result contract.
func (t *HTTP) toResult(instanceID string, task *models.AgentTask, resp *sendResponse) (*models.AgentResult, error) {
	if resp.TaskID != "" && resp.TaskID != task.ID {
		return nil, fmt.Errorf("%w: task id %q does not match sent task %q", ErrBadResponse, resp.TaskID, task.ID)
	}

	switch resp.Status {
	case models.TaskStatusCompleted:
		result := models.NewCompletedResult(task.ID, instanceID, resp.Output, resp.Metadata)
		result.SetQuality(t.scorer.Score(result))
		return result, nil
	case models.TaskStatusCancelled:
		return models.NewCancelledResult(task.ID, instanceID), nil
	case models.TaskStatusFailed:
		msg := resp.Error
		if msg == "" {
			msg = "agent process reported failure"
		}
		return models.NewFailedResult(task.ID, instanceID, resp.Metadata.ExecutionSeconds, errors.New(msg)), nil
	default:
		return nil, fmt.Errorf("%w: non-terminal status %q", ErrBadResponse, resp.Status)
	}
}

// backoff returns the jittered delay before retry n (1-based). The base
// delay grows by the configured multiplier and is then spread over
// [0.5x, 1.5x] so synchronized retries fan out.
func (t *HTTP) backoff(n int) time.Duration {
	d := float64(t.cfg.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= t.cfg.BackoffMultiplier
		if d >= float64(t.cfg.MaxBackoff) {
			d = float64(t.cfg.MaxBackoff)
			break
		}
	}
	d *= 0.5 + rand.Float64()
	if d > float64(t.cfg.MaxBackoff) {
		d = float64(t.cfg.MaxBackoff)
	}
	return time.Duration(d)
}
