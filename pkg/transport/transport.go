// Package transport moves tasks from agent instances to whatever executes
// them. The local transport runs steps in-process through the step
// registry; the HTTP transport posts tasks to an external agent-process
// service, with retries and a circuit breaker between the engine and a
// flaky peer.
//
// Both transports implement agent.Process. A transport error (the Send
// error return) means the task never ran and counts toward the instance's
// failure latch; a task that ran and failed comes back as a FAILED result
// with a nil error.
package transport

import (
	"errors"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// Sentinel errors for transport failures.
var (
	// ErrNoStep is returned by the local transport when no step serves the
	// task's role and type.
	ErrNoStep = errors.New("no step registered for task")

	// ErrBreakerOpen is returned while the circuit breaker is rejecting
	// calls to the agent-process endpoint.
	ErrBreakerOpen = errors.New("agent transport circuit open")

	// ErrBadResponse is returned when the agent-process endpoint answers
	// with something that is not a usable result.
	ErrBadResponse = errors.New("bad agent-process response")
)

// Scorer rates a finished result. The executor records the score but never
// interprets it.
type Scorer interface {
	Score(result *models.AgentResult) float64
}

// PassThroughScorer keeps whatever quality the producing step reported.
type PassThroughScorer struct{}

// Score returns the result's own quality score, clamped to [0,1].
func (PassThroughScorer) Score(result *models.AgentResult) float64 {
	return models.Clamp01(result.Metadata.Quality)
}
