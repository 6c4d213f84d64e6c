package models

import (
	"time"
)

// Checkpoint phase labels for the fixed workflow boundaries. Per-task
// checkpoints use the task_<id>_completed form.
const (
	PhaseWorkflowStarted   = "workflow_started"
	PhaseWorkflowCompleted = "workflow_completed"
	PhaseWorkflowFailed    = "workflow_failed"
	PhaseRollback          = "rollback"
)

// CheckpointSnapshot captures the counters a rollback restores.
type CheckpointSnapshot struct {
	CurrentStep     int      `json:"current_step"`
	TotalSteps      int      `json:"total_steps"`
	CompletedPhases []string `json:"completed_phases,omitempty"`
	Progress        float64  `json:"progress_percentage"`
	PendingCount    int      `json:"pending_count"`
	ActiveCount     int      `json:"active_count"`
	CompletedCount  int      `json:"completed_count"`
	FailedCount     int      `json:"failed_count"`
}

// Checkpoint is an append-only record of workflow state at a phase boundary.
// Checkpoints within one execution are timestamp-monotonic.
type Checkpoint struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	Phase       string             `json:"phase"`
	Description string             `json:"description,omitempty"`
	Recoverable bool               `json:"recoverable"`
	Snapshot    CheckpointSnapshot `json:"snapshot"`
}

// IsRecent reports whether the checkpoint is at most maxAge old.
func (c Checkpoint) IsRecent(maxAge time.Duration) bool {
	return time.Since(c.Timestamp) <= maxAge
}

// PartialResult preserves a result from a task that subsequently failed or
// was retried.
type PartialResult struct {
	TaskID      string       `json:"task_id"`
	Result      *AgentResult `json:"result"`
	PreservedAt time.Time    `json:"preserved_at"`
	Reason      string       `json:"reason"`
}

// Remediation options recorded with a critical failure for human follow-up.
const (
	RemediationAbortWorkflow      = "abort_workflow"
	RemediationSkipTask           = "skip_task"
	RemediationManualIntervention = "manual_intervention"
)

// CriticalFailure records a task failure for which recovery selected abort.
type CriticalFailure struct {
	TaskID       string    `json:"task_id"`
	Error        string    `json:"error"`
	RetryCount   int       `json:"retry_count"`
	OccurredAt   time.Time `json:"occurred_at"`
	Remediations []string  `json:"remediations"`
}

// RollbackInfo marks the most recent rollback applied to an execution.
type RollbackInfo struct {
	CheckpointID string    `json:"checkpoint_id"`
	RolledBackAt time.Time `json:"rolled_back_at"`
	FromProgress float64   `json:"from_progress"`
	ToProgress   float64   `json:"to_progress"`
}

// RecoveryRecord is the typed metadata block persisted with every execution:
// checkpoints, partial results, critical failures, and rollback info.
type RecoveryRecord struct {
	Checkpoints      []Checkpoint             `json:"checkpoints"`
	PartialResults   map[string]PartialResult `json:"partial_results"`
	CriticalFailures []CriticalFailure        `json:"critical_failures"`
	RollbackInfo     *RollbackInfo            `json:"rollback_info,omitempty"`
}

// NewRecoveryRecord returns a record with all collections initialized.
func NewRecoveryRecord() *RecoveryRecord {
	return &RecoveryRecord{
		Checkpoints:      []Checkpoint{},
		PartialResults:   map[string]PartialResult{},
		CriticalFailures: []CriticalFailure{},
	}
}

// LatestCheckpoint returns the most recent checkpoint, or nil if none exist.
func (r *RecoveryRecord) LatestCheckpoint() *Checkpoint {
	if len(r.Checkpoints) == 0 {
		return nil
	}
	return &r.Checkpoints[len(r.Checkpoints)-1]
}

// FindCheckpoint returns the checkpoint with the given id, or nil.
func (r *RecoveryRecord) FindCheckpoint(id string) *Checkpoint {
	for i := range r.Checkpoints {
		if r.Checkpoints[i].ID == id {
			return &r.Checkpoints[i]
		}
	}
	return nil
}

// ExecutionEnvelope is the storage-agnostic JSON document persisted per
// workflow execution.
type ExecutionEnvelope struct {
	ExecutionID        string          `json:"execution_id"`
	WorkflowID         string          `json:"workflow_id"`
	State              ExecutionState  `json:"state"`
	ProgressPercentage float64         `json:"progress_percentage"`
	Metadata           *RecoveryRecord `json:"metadata"`
}

// RecoveryAction is the failure strategy's decision for one failed task.
type RecoveryAction struct {
	Action RecoveryActionType `json:"action"`
	Delay  time.Duration      `json:"delay,omitempty"`
	Reason string             `json:"reason,omitempty"`
}
