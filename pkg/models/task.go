package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for task state transitions.
var (
	// ErrTaskNotPending indicates Start was called on a task that already started.
	ErrTaskNotPending = errors.New("task is not pending")

	// ErrTaskNotInProgress indicates Complete was called on a task that is not running.
	ErrTaskNotInProgress = errors.New("task is not in progress")

	// ErrTaskTerminal indicates an attempt to mutate a task in a terminal status.
	ErrTaskTerminal = errors.New("task is in a terminal status")

	// ErrPayloadFormatMismatch indicates the payload does not match its declared format.
	ErrPayloadFormatMismatch = errors.New("payload does not match declared format")
)

// TaskInput carries a task's payload together with its declared format.
type TaskInput struct {
	Payload any        `json:"payload"`
	Format  DataFormat `json:"format"`
}

// Validate checks that the payload shape matches the declared format.
// A JSON-declared payload must be a mapping or a sequence.
func (in TaskInput) Validate() error {
	if !in.Format.IsValid() {
		return fmt.Errorf("invalid input format %q", in.Format)
	}
	if in.Format == FormatJSON {
		switch in.Payload.(type) {
		case map[string]any, []any:
			return nil
		default:
			return fmt.Errorf("%w: json input requires a mapping or sequence, got %T",
				ErrPayloadFormatMismatch, in.Payload)
		}
	}
	if _, ok := in.Payload.(string); !ok && in.Payload != nil {
		return fmt.Errorf("%w: %s input requires a string, got %T",
			ErrPayloadFormatMismatch, in.Format, in.Payload)
	}
	return nil
}

// TaskContext ties a task back to the workflow that spawned it.
type TaskContext struct {
	WorkflowID    string `json:"workflow_id"`
	Phase         string `json:"phase,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// AgentTask is one unit of work routed to an agent instance.
// It is created by the executor during plan initialization and mutated only by
// the instance that owns it while it runs. Terminal statuses never revert.
type AgentTask struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	AgentType   AgentType    `json:"agent_type"`
	Input       TaskInput    `json:"input"`
	Context     TaskContext  `json:"context"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Start moves the task from pending to in_progress and stamps StartedAt.
func (t *AgentTask) Start() error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotPending, t.ID, t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusInProgress
	t.StartedAt = &now
	return nil
}

// Complete moves the task from in_progress to completed and stamps CompletedAt.
func (t *AgentTask) Complete() error {
	if t.Status != TaskStatusInProgress {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotInProgress, t.ID, t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	return nil
}

// Fail moves a non-terminal task to failed and stamps CompletedAt.
func (t *AgentTask) Fail() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, t.ID, t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	return nil
}

// Cancel moves a non-terminal task to cancelled and stamps CompletedAt.
func (t *AgentTask) Cancel() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, t.ID, t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
	return nil
}

// Reset returns a retried task to pending without clearing its history fields.
func (t *AgentTask) Reset() {
	t.Status = TaskStatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
}

// Duration returns the elapsed time between start and completion.
// ok is false when either timestamp is missing.
func (t *AgentTask) Duration() (d time.Duration, ok bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt), true
}
