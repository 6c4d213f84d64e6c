package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// Local executes agent steps in-process through the step registry. It is
// the default transport and the one tests run against.
type Local struct {
	registry *agent.StepRegistry
	scorer   Scorer
}

// NewLocal builds a local transport over the given registry. A nil scorer
// falls back to PassThroughScorer.
func NewLocal(registry *agent.StepRegistry, scorer Scorer) *Local {
	if registry == nil {
		panic("transport.NewLocal: registry must not be nil")
	}
	if scorer == nil {
		scorer = PassThroughScorer{}
	}
	return &Local{registry: registry, scorer: scorer}
}

// SupportsRole reports whether any step is registered for the role.
// Instances consult this during Initialize.
func (l *Local) SupportsRole(role models.AgentType) bool {
	return len(l.registry.TaskTypes(role)) > 0
}

// Send resolves the task's step and runs it. A step error becomes a FAILED
// result; only a missing step is a transport error.
func (l *Local) Send(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
	step, err := l.registry.Get(task.AgentType, task.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: role %s, type %s", ErrNoStep, task.AgentType, task.Type)
	}

	start := time.Now()
	out, err := step(ctx, task)
	elapsed := time.Since(start)

	if err != nil {
		return models.NewFailedResult(task.ID, instanceID, elapsed.Seconds(), err), nil
	}
	if out == nil {
		return models.NewFailedResult(task.ID, instanceID, elapsed.Seconds(),
			fmt.Errorf("step for %s/%s returned no output", task.AgentType, task.Type)), nil
	}

	result := models.NewCompletedResult(task.ID, instanceID,
		models.ResultOutput{
			Data:       out.Data,
			Format:     out.Format,
			Confidence: out.Confidence,
		},
		models.ResultMetadata{
			ExecutionSeconds: elapsed.Seconds(),
			Quality:          out.Quality,
			Model:            out.Model,
		})
	result.SetQuality(l.scorer.Score(result))
	return result, nil
}
