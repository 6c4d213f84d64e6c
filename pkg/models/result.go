package models

import (
	"errors"
	"fmt"
)

// ErrEmptyOutput indicates a completed result with no output data.
var ErrEmptyOutput = errors.New("completed result has empty output")

// ResultOutput is the data produced by an agent step.
// Confidence is always clamped to [0,1].
type ResultOutput struct {
	Data       any        `json:"data"`
	Format     DataFormat `json:"format"`
	Confidence float64    `json:"confidence"`
}

// ResultMetadata carries execution measurements attached to a result.
// Quality is always clamped to [0,1]; ExecutionSeconds is never negative.
type ResultMetadata struct {
	ExecutionSeconds float64 `json:"execution_seconds"`
	Quality          float64 `json:"quality"`
	Model            string  `json:"model,omitempty"`
}

// AgentResult is the terminal outcome of an AgentTask.
type AgentResult struct {
	TaskID     string         `json:"task_id"`
	InstanceID string         `json:"instance_id"`
	Status     TaskStatus     `json:"status"`
	Output     ResultOutput   `json:"output"`
	Metadata   ResultMetadata `json:"metadata"`
	Error      string         `json:"error,omitempty"`
}

// NewCompletedResult builds a successful result with clamped scores.
func NewCompletedResult(taskID, instanceID string, output ResultOutput, meta ResultMetadata) *AgentResult {
	r := &AgentResult{
		TaskID:     taskID,
		InstanceID: instanceID,
		Status:     TaskStatusCompleted,
		Output:     output,
		Metadata:   meta,
	}
	r.clamp()
	return r
}

// NewFailedResult builds a failed result carrying the error message and elapsed time.
func NewFailedResult(taskID, instanceID string, execSeconds float64, err error) *AgentResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r := &AgentResult{
		TaskID:     taskID,
		InstanceID: instanceID,
		Status:     TaskStatusFailed,
		Metadata:   ResultMetadata{ExecutionSeconds: execSeconds},
		Error:      msg,
	}
	r.clamp()
	return r
}

// NewCancelledResult builds a cancelled result.
func NewCancelledResult(taskID, instanceID string) *AgentResult {
	return &AgentResult{
		TaskID:     taskID,
		InstanceID: instanceID,
		Status:     TaskStatusCancelled,
	}
}

// SetConfidence sets the output confidence, clamped to [0,1].
func (r *AgentResult) SetConfidence(v float64) {
	r.Output.Confidence = Clamp01(v)
}

// SetQuality sets the quality score, clamped to [0,1].
func (r *AgentResult) SetQuality(v float64) {
	r.Metadata.Quality = Clamp01(v)
}

// Succeeded reports whether the result is a successful completion.
func (r *AgentResult) Succeeded() bool {
	return r.Status == TaskStatusCompleted
}

// Validate enforces the result contract: a terminal status, scores in range,
// and a non-empty output for completed results.
func (r *AgentResult) Validate() error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("result for task %s has non-terminal status %s", r.TaskID, r.Status)
	}
	if r.Status == TaskStatusCompleted && r.Output.Data == nil {
		return fmt.Errorf("%w: task %s", ErrEmptyOutput, r.TaskID)
	}
	if r.Output.Confidence < 0 || r.Output.Confidence > 1 {
		return fmt.Errorf("result for task %s has confidence %v outside [0,1]", r.TaskID, r.Output.Confidence)
	}
	if r.Metadata.Quality < 0 || r.Metadata.Quality > 1 {
		return fmt.Errorf("result for task %s has quality %v outside [0,1]", r.TaskID, r.Metadata.Quality)
	}
	if r.Metadata.ExecutionSeconds < 0 {
		return fmt.Errorf("result for task %s has negative execution time", r.TaskID)
	}
	return nil
}

func (r *AgentResult) clamp() {
	r.Output.Confidence = Clamp01(r.Output.Confidence)
	r.Metadata.Quality = Clamp01(r.Metadata.Quality)
	if r.Metadata.ExecutionSeconds < 0 {
		r.Metadata.ExecutionSeconds = 0
	}
}

// Clamp01 clamps v to the closed interval [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
