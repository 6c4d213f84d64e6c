package events

import (
	"github.com/dirigent-io/dirigent/pkg/models"
)

// BasePayload carries the fields every event payload shares.
//
// Payloads routed on an execution channel MUST carry a non-empty
// execution_id — SSE clients route incoming events by inspecting it.
// The typed Publish methods on Bus stamp ExecutionID from their routing
// parameter, so a call site cannot forget it.
type BasePayload struct {
	Type        string `json:"type"`                   // always the EventType* constant for the payload
	ExecutionID string `json:"execution_id,omitempty"` // empty only for pool-level events
	Timestamp   string `json:"timestamp"`              // RFC3339Nano
}

// WorkflowStatePayload is the payload for workflow.state.changed events.
// Published on every execution state transition, to both the execution
// channel and the firehose.
type WorkflowStatePayload struct {
	BasePayload
	WorkflowID string                `json:"workflow_id"`
	From       models.ExecutionState `json:"from"`
	To         models.ExecutionState `json:"to"`
	Progress   float64               `json:"progress"`         // percent complete, 0-100
	Reason     string                `json:"reason,omitempty"` // e.g. "cancelled by operator"
}

// TaskStartedPayload is the payload for task.started events.
// Published when a task is handed to an agent pool for execution.
type TaskStartedPayload struct {
	BasePayload
	TaskID     string           `json:"task_id"`
	TaskType   string           `json:"task_type"`
	Role       models.AgentType `json:"role"`
	InstanceID string           `json:"instance_id,omitempty"` // empty until an instance picks the task up
	Attempt    int              `json:"attempt"`               // 1-based; >1 means this start is a retry
}

// TaskCompletedPayload is the payload for task.completed events.
type TaskCompletedPayload struct {
	BasePayload
	TaskID           string           `json:"task_id"`
	Role             models.AgentType `json:"role"`
	InstanceID       string           `json:"instance_id"`
	ExecutionSeconds float64          `json:"execution_seconds"`
	Quality          float64          `json:"quality"`
	Progress         float64          `json:"progress"` // percent complete after this task
}

// TaskFailedPayload is the payload for task.failed events.
// Action is the recovery decision for this failure, so subscribers can tell
// a retry-in-progress from a skip or an abort.
type TaskFailedPayload struct {
	BasePayload
	TaskID     string                    `json:"task_id"`
	Role       models.AgentType          `json:"role"`
	InstanceID string                    `json:"instance_id,omitempty"`
	Error      string                    `json:"error"`
	RetryCount int                       `json:"retry_count"`
	Action     models.RecoveryActionType `json:"action"`
}

// CheckpointCreatedPayload is the payload for checkpoint.created events.
type CheckpointCreatedPayload struct {
	BasePayload
	CheckpointID   string  `json:"checkpoint_id"`
	Phase          string  `json:"phase"` // workflow boundary or task_<id>_completed
	CompletedTasks int     `json:"completed_tasks"`
	Progress       float64 `json:"progress"`
}

// CriticalFailurePayload is the payload for critical.failure events.
// Published to both the execution channel and the firehose when recovery
// selects abort; Remediations lists the suggested operator follow-ups.
type CriticalFailurePayload struct {
	BasePayload
	TaskID       string   `json:"task_id,omitempty"`
	Error        string   `json:"error"`
	Remediations []string `json:"remediations,omitempty"`
}

// ScalingPayload is the payload for pool.scaling events.
// Published on the firehose only — a scaling decision belongs to a pool,
// not to any single execution.
type ScalingPayload struct {
	BasePayload
	Role       models.AgentType `json:"role"`
	Direction  string           `json:"direction"` // ScaleDirectionUp or ScaleDirectionDown
	InstanceID string           `json:"instance_id,omitempty"`
	Instances  int              `json:"instances"` // pool size after the change
	Load       float64          `json:"load"`      // average load that triggered the decision
	QueueDepth int              `json:"queue_depth"`
	Reason     string           `json:"reason,omitempty"`
}
