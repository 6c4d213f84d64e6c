package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// TaskExecution wraps one plan assignment with its runtime bookkeeping.
type TaskExecution struct {
	Task               *models.AgentTask
	DependsOn          []string
	AssignedInstanceID string
	RetryCount         int
}

// Execution is the authoritative runtime state of one workflow run. Every
// task id lives in exactly one of the four sets; all mutations happen under
// one mutex so observers never see a task in two sets or in none.
type Execution struct {
	mu sync.Mutex

	id         string
	workflowID string
	name       string
	pattern    models.OrchestrationPattern
	request    *models.ClarifiedRequest
	plan       *models.WorkflowPlan

	state       models.ExecutionState
	stateReason string
	startedAt   time.Time
	finishedAt  time.Time

	tasks map[string]*TaskExecution
	order []string

	pending   map[string]struct{}
	active    map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}

	results  map[string]*models.AgentResult
	recovery *models.RecoveryRecord

	// currentStep and progress are stored, not derived, so a rollback can
	// restore them from a checkpoint without rebuilding the set partition.
	currentStep     int
	progress        float64
	sinceCheckpoint int

	// cancels holds one cancel func per in-flight dispatch.
	cancels map[string]context.CancelFunc

	// wake coalesces notifications to the drive loop.
	wake chan struct{}
}

func newExecution(request *models.ClarifiedRequest, pl *models.WorkflowPlan) *Execution {
	e := &Execution{
		id:         "exec-" + uuid.NewString(),
		workflowID: pl.ID,
		name:       pl.Name,
		pattern:    pl.Pattern,
		request:    request,
		plan:       pl,
		state:      models.ExecutionPending,
		startedAt:  time.Now().UTC(),
		tasks:      make(map[string]*TaskExecution, len(pl.Assignments)),
		pending:    make(map[string]struct{}, len(pl.Assignments)),
		active:     map[string]struct{}{},
		completed:  map[string]struct{}{},
		failed:     map[string]struct{}{},
		results:    map[string]*models.AgentResult{},
		recovery:   models.NewRecoveryRecord(),
		cancels:    map[string]context.CancelFunc{},
		wake:       make(chan struct{}, 1),
	}
	for _, a := range pl.Assignments {
		task := &models.AgentTask{
			ID:        a.TaskID,
			Type:      a.TaskType,
			AgentType: a.Role,
			Input:     a.Input,
			Context: models.TaskContext{
				WorkflowID:    e.id,
				CorrelationID: requestID(request),
			},
			Priority:  a.Priority,
			Status:    models.TaskStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		e.tasks[a.TaskID] = &TaskExecution{
			Task:      task,
			DependsOn: append([]string(nil), a.DependsOn...),
		}
		e.order = append(e.order, a.TaskID)
		e.pending[a.TaskID] = struct{}{}
	}
	return e
}

func requestID(r *models.ClarifiedRequest) string {
	if r == nil {
		return ""
	}
	return r.ID
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// State returns the current execution state.
func (e *Execution) State() models.ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// task returns the task execution for an id, or nil.
func (e *Execution) task(id string) *TaskExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[id]
}

// wakeUp nudges the drive loop without ever blocking.
func (e *Execution) wakeUp() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// transitionLocked applies a state change after checking legality. Terminal
// transitions stamp the end time. Callers hold e.mu.
func (e *Execution) transitionLocked(next models.ExecutionState, reason string) error {
	if !e.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.state, next)
	}
	e.state = next
	e.stateReason = reason
	if next.IsTerminal() {
		e.finishedAt = time.Now().UTC()
		if e.finishedAt.Before(e.startedAt) {
			e.finishedAt = e.startedAt
		}
	}
	return nil
}

// readyLocked returns pending task ids whose dependency sets are contained
// in completed, in plan order. Callers hold e.mu.
func (e *Execution) readyLocked() []string {
	var ready []string
	for _, id := range e.order {
		if _, ok := e.pending[id]; !ok {
			continue
		}
		te := e.tasks[id]
		satisfied := true
		for _, dep := range te.DependsOn {
			if _, ok := e.completed[dep]; !ok {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// takeReady moves up to limit ready tasks from pending to active and returns
// their ids. Nothing is taken unless the execution is RUNNING.
func (e *Execution) takeReady(limit int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.ExecutionRunning {
		return nil
	}
	room := limit - len(e.active)
	if room <= 0 {
		return nil
	}
	ready := e.readyLocked()
	if len(ready) > room {
		ready = ready[:room]
	}
	for _, id := range ready {
		delete(e.pending, id)
		e.active[id] = struct{}{}
	}
	return ready
}

// counts returns the sizes of the four sets.
func (e *Execution) counts() (pending, active, completed, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending), len(e.active), len(e.completed), len(e.failed)
}

// blockedDependency reports why no pending task can become ready: a
// dependency that already failed, or a cycle. Callers hold e.mu.
func (e *Execution) blockedDependencyLocked() string {
	for _, id := range e.order {
		if _, ok := e.pending[id]; !ok {
			continue
		}
		for _, dep := range e.tasks[id].DependsOn {
			if _, ok := e.failed[dep]; ok {
				return fmt.Sprintf("task %s depends on failed task %s", id, dep)
			}
		}
	}
	return "circular dependency among pending tasks"
}

// noteAssigned records which instance took the task. Empty means the pool
// queued it.
func (e *Execution) noteAssigned(taskID, instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if te := e.tasks[taskID]; te != nil {
		te.AssignedInstanceID = instanceID
	}
}

func (e *Execution) setCancel(taskID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[taskID] = cancel
}

func (e *Execution) clearCancel(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, taskID)
}

// cancelActiveLocked fires every in-flight dispatch's cancel func. Callers
// hold e.mu.
func (e *Execution) cancelActiveLocked() {
	for _, cancel := range e.cancels {
		cancel()
	}
}

// failPendingLocked cancels every still-pending task and moves it to failed.
// Used by abort, cancel, and timeout paths. Callers hold e.mu.
func (e *Execution) failPendingLocked() {
	for id := range e.pending {
		te := e.tasks[id]
		if !te.Task.Status.IsTerminal() {
			_ = te.Task.Cancel()
		}
		delete(e.pending, id)
		e.failed[id] = struct{}{}
	}
}

// markCancelled moves an in-flight task to failed after its dispatch was
// cancelled out from under it.
func (e *Execution) markCancelled(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[taskID]; !ok {
		return
	}
	te := e.tasks[taskID]
	if !te.Task.Status.IsTerminal() {
		_ = te.Task.Cancel()
	}
	delete(e.active, taskID)
	e.failed[taskID] = struct{}{}
}

// recomputeProgressLocked refreshes the stored progress from the completed
// set. Callers hold e.mu.
func (e *Execution) recomputeProgressLocked() {
	if len(e.tasks) == 0 {
		e.progress = 0
		return
	}
	e.progress = float64(len(e.completed)) / float64(len(e.tasks)) * 100
}

// checkpointSnapshotLocked captures the counters a rollback restores.
// Callers hold e.mu.
func (e *Execution) checkpointSnapshotLocked() models.CheckpointSnapshot {
	phases := make([]string, 0, len(e.completed))
	for _, id := range e.order {
		if _, ok := e.completed[id]; ok {
			phases = append(phases, id)
		}
	}
	return models.CheckpointSnapshot{
		CurrentStep:     e.currentStep,
		TotalSteps:      len(e.tasks),
		CompletedPhases: phases,
		Progress:        e.progress,
		PendingCount:    len(e.pending),
		ActiveCount:     len(e.active),
		CompletedCount:  len(e.completed),
		FailedCount:     len(e.failed),
	}
}

// envelope builds the persistence document with a detached copy of the
// recovery record, so the store can marshal it without racing the executor.
func (e *Execution) envelope() *models.ExecutionEnvelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &models.ExecutionEnvelope{
		ExecutionID:        e.id,
		WorkflowID:         e.workflowID,
		State:              e.state,
		ProgressPercentage: e.progress,
		Metadata:           cloneRecoveryLocked(e.recovery),
	}
}

func cloneRecoveryLocked(rec *models.RecoveryRecord) *models.RecoveryRecord {
	out := &models.RecoveryRecord{
		Checkpoints:      append([]models.Checkpoint(nil), rec.Checkpoints...),
		PartialResults:   make(map[string]models.PartialResult, len(rec.PartialResults)),
		CriticalFailures: append([]models.CriticalFailure(nil), rec.CriticalFailures...),
	}
	for k, v := range rec.PartialResults {
		out.PartialResults[k] = v
	}
	if rec.RollbackInfo != nil {
		info := *rec.RollbackInfo
		out.RollbackInfo = &info
	}
	return out
}

// Snapshot is the externally visible view of an execution, returned by
// Status and ActiveExecutions and rendered by the API.
type Snapshot struct {
	ExecutionID string                         `json:"execution_id"`
	WorkflowID  string                         `json:"workflow_id"`
	Name        string                         `json:"name,omitempty"`
	Pattern     models.OrchestrationPattern    `json:"pattern,omitempty"`
	State       models.ExecutionState          `json:"state"`
	Reason      string                         `json:"reason,omitempty"`
	Progress    float64                        `json:"progress_percentage"`
	CurrentStep int                            `json:"current_step"`
	TotalSteps  int                            `json:"total_steps"`
	StartedAt   time.Time                      `json:"started_at"`
	FinishedAt  *time.Time                     `json:"finished_at,omitempty"`
	Pending     []string                       `json:"pending"`
	Active      []string                       `json:"active"`
	Completed   []string                       `json:"completed"`
	Failed      []string                       `json:"failed"`
	Results     map[string]*models.AgentResult `json:"results,omitempty"`
	Checkpoints []models.Checkpoint            `json:"checkpoints,omitempty"`
	Failures    []models.CriticalFailure       `json:"critical_failures,omitempty"`
	Rollback    *models.RollbackInfo           `json:"rollback_info,omitempty"`
}

// Snapshot returns a consistent point-in-time view of the execution.
func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		ExecutionID: e.id,
		WorkflowID:  e.workflowID,
		Name:        e.name,
		Pattern:     e.pattern,
		State:       e.state,
		Reason:      e.stateReason,
		Progress:    e.progress,
		CurrentStep: e.currentStep,
		TotalSteps:  len(e.tasks),
		StartedAt:   e.startedAt,
		Pending:     sortedSet(e.pending),
		Active:      sortedSet(e.active),
		Completed:   sortedSet(e.completed),
		Failed:      sortedSet(e.failed),
		Checkpoints: append([]models.Checkpoint(nil), e.recovery.Checkpoints...),
		Failures:    append([]models.CriticalFailure(nil), e.recovery.CriticalFailures...),
	}
	if !e.finishedAt.IsZero() {
		t := e.finishedAt
		s.FinishedAt = &t
	}
	if len(e.results) > 0 {
		s.Results = make(map[string]*models.AgentResult, len(e.results))
		for k, v := range e.results {
			s.Results[k] = v
		}
	}
	if e.recovery.RollbackInfo != nil {
		info := *e.recovery.RollbackInfo
		s.Rollback = &info
	}
	return s
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
