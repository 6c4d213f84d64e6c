package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/recovery"
)

// Callbacks lets a caller observe one execution without subscribing to the
// event bus. OnFinish runs exactly once, on the drive goroutine, after the
// execution reaches a terminal state.
type Callbacks struct {
	OnFinish func(Snapshot)
}

// Execute validates the plan (or generates one from the request), registers
// a new execution, kicks off its drive loop, and returns the execution id
// immediately.
func (e *Executor) Execute(ctx context.Context, request *models.ClarifiedRequest, pl *models.WorkflowPlan, cb *Callbacks) (string, error) {
	if e.stopping() {
		return "", ErrExecutorStopped
	}
	if request == nil && pl == nil {
		return "", fmt.Errorf("%w: no request and no plan", models.ErrNoPlanAvailable)
	}

	if pl == nil {
		generated, err := e.gen.Generate(request)
		if err != nil {
			return "", err
		}
		pl = generated
	} else {
		pl.Normalize()
		if err := pl.Validate(); err != nil {
			return "", err
		}
	}

	exec := newExecution(request, pl)

	e.mu.Lock()
	if len(e.active) >= e.cfg.MaxConcurrentWorkflows {
		n := len(e.active)
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %d active", ErrCapacity, n)
	}
	e.active[exec.ID()] = exec
	e.started++
	e.mu.Unlock()

	e.metrics.WorkflowStarted()
	e.logger.Info("Execution accepted",
		"execution_id", exec.ID(),
		"workflow_id", exec.workflowID,
		"pattern", string(exec.pattern),
		"tasks", len(exec.tasks))

	e.wg.Add(1)
	go e.run(exec, cb)
	return exec.ID(), nil
}

// Status returns a snapshot for an execution: active first, then the
// in-memory history, then the persistent store.
func (e *Executor) Status(ctx context.Context, executionID string) (Snapshot, error) {
	e.mu.RLock()
	exec, ok := e.active[executionID]
	e.mu.RUnlock()
	if ok {
		return exec.Snapshot(), nil
	}
	if exec, ok := e.history.Get(executionID); ok {
		return exec.Snapshot(), nil
	}

	envelope, err := e.store.LoadSnapshot(ctx, executionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	s := Snapshot{
		ExecutionID: envelope.ExecutionID,
		WorkflowID:  envelope.WorkflowID,
		State:       envelope.State,
		Progress:    envelope.ProgressPercentage,
	}
	if envelope.Metadata != nil {
		s.Checkpoints = envelope.Metadata.Checkpoints
		s.Failures = envelope.Metadata.CriticalFailures
		s.Rollback = envelope.Metadata.RollbackInfo
	}
	return s, nil
}

// ActiveExecutions returns snapshots of every non-terminal execution,
// oldest first.
func (e *Executor) ActiveExecutions() []Snapshot {
	e.mu.RLock()
	out := make([]Snapshot, 0, len(e.active))
	for _, exec := range e.active {
		out = append(out, exec.Snapshot())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// lookup finds an execution in the active map or the history.
func (e *Executor) lookup(executionID string) (*Execution, error) {
	e.mu.RLock()
	exec, ok := e.active[executionID]
	e.mu.RUnlock()
	if ok {
		return exec, nil
	}
	if exec, ok := e.history.Get(executionID); ok {
		return exec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
}

// Pause suspends dispatch for a running execution. Tasks already in flight
// run to completion.
func (e *Executor) Pause(executionID string) error {
	exec, err := e.lookup(executionID)
	if err != nil {
		return err
	}
	if err := e.transition(exec, models.ExecutionPaused, "paused by operator"); err != nil {
		return err
	}
	e.logger.Info("Execution paused", "execution_id", executionID)
	e.persist(exec)
	return nil
}

// Resume reactivates a paused execution.
func (e *Executor) Resume(executionID string) error {
	exec, err := e.lookup(executionID)
	if err != nil {
		return err
	}
	if err := e.transition(exec, models.ExecutionRunning, "resumed by operator"); err != nil {
		return err
	}
	e.logger.Info("Execution resumed", "execution_id", executionID)
	exec.wakeUp()
	e.persist(exec)
	return nil
}

// Cancel moves a non-terminal execution to CANCELLED and fans cancellation
// out to every active task. Pending tasks never start.
func (e *Executor) Cancel(executionID string) error {
	exec, err := e.lookup(executionID)
	if err != nil {
		return err
	}

	exec.mu.Lock()
	from := exec.state
	if err := exec.transitionLocked(models.ExecutionCancelled, "cancelled by operator"); err != nil {
		exec.mu.Unlock()
		return err
	}
	exec.failPendingLocked()
	exec.cancelActiveLocked()
	progress := exec.progress
	exec.mu.Unlock()

	if e.bus != nil {
		e.bus.PublishWorkflowState(executionID, events.WorkflowStatePayload{
			WorkflowID: exec.workflowID,
			From:       from,
			To:         models.ExecutionCancelled,
			Progress:   progress,
			Reason:     "cancelled by operator",
		})
	}
	e.logger.Info("Execution cancelled", "execution_id", executionID, "from", string(from))
	exec.wakeUp()
	e.persist(exec)
	return nil
}

// Rollback restores an execution's step counter and progress from a
// checkpoint: the named one, or the most recent recoverable one. Active
// tasks are cancelled first. The task-set partition itself is not rebuilt;
// work completed after the checkpoint stays completed.
//
// Rolling back a FAILED execution revives it to RUNNING so an operator can
// cancel it cleanly or let the monitor age it out; CANCELLED and COMPLETED
// executions stay terminal.
func (e *Executor) Rollback(executionID, checkpointID string) error {
	exec, err := e.lookup(executionID)
	if err != nil {
		return err
	}

	exec.mu.Lock()
	switch exec.state {
	case models.ExecutionCancelled, models.ExecutionCompleted:
		exec.mu.Unlock()
		return fmt.Errorf("%w: cannot roll back a %s execution", ErrInvalidTransition, exec.state)
	}
	cp, ok := recovery.SelectCheckpoint(exec.recovery, checkpointID)
	if !ok {
		exec.mu.Unlock()
		if checkpointID != "" {
			return fmt.Errorf("%w: checkpoint %s", ErrNoCheckpoint, checkpointID)
		}
		return ErrNoCheckpoint
	}

	exec.cancelActiveLocked()
	recovery.RecordRollback(exec.recovery, cp, exec.progress)
	exec.currentStep = cp.Snapshot.CurrentStep
	exec.progress = cp.Snapshot.Progress
	recovery.AppendCheckpoint(exec.recovery, models.PhaseRollback,
		"rolled back to "+cp.ID, exec.checkpointSnapshotLocked())

	from := exec.state
	// Rollback is the one sanctioned revival: a FAILED execution returns to
	// RUNNING without going through the transition guard.
	exec.state = models.ExecutionRunning
	exec.stateReason = "rolled back to checkpoint " + cp.ID
	exec.finishedAt = time.Time{}
	progress := exec.progress
	exec.mu.Unlock()

	if e.bus != nil {
		e.bus.PublishWorkflowState(executionID, events.WorkflowStatePayload{
			WorkflowID: exec.workflowID,
			From:       from,
			To:         models.ExecutionRunning,
			Progress:   progress,
			Reason:     "rolled back to checkpoint " + cp.ID,
		})
	}
	e.logger.Info("Execution rolled back",
		"execution_id", executionID,
		"checkpoint_id", cp.ID,
		"from_state", string(from),
		"restored_step", cp.Snapshot.CurrentStep)

	// A revived terminal execution moves back under active management so
	// Cancel and the monitor's age limit apply to it again.
	if from.IsTerminal() {
		e.history.Remove(executionID)
		e.mu.Lock()
		e.active[executionID] = exec
		e.mu.Unlock()
	}
	exec.wakeUp()
	e.persist(exec)
	return nil
}

// SkipTask applies the operator-only SKIP remediation: the task is
// abandoned and the execution continues, with dependents of the skipped
// task treated as normally dependent (they never become ready).
func (e *Executor) SkipTask(executionID, taskID string) error {
	exec, err := e.lookup(executionID)
	if err != nil {
		return err
	}

	exec.mu.Lock()
	te, ok := exec.tasks[taskID]
	if !ok {
		exec.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if exec.state.IsTerminal() {
		exec.mu.Unlock()
		return fmt.Errorf("%w: execution is %s", ErrInvalidTransition, exec.state)
	}
	if _, pending := exec.pending[taskID]; pending {
		delete(exec.pending, taskID)
		exec.failed[taskID] = struct{}{}
		if !te.Task.Status.IsTerminal() {
			_ = te.Task.Cancel()
		}
	} else if _, active := exec.active[taskID]; active {
		// Cancelling the dispatch moves the id to failed on its way out.
		if cancel, ok := exec.cancels[taskID]; ok {
			cancel()
		} else {
			delete(exec.active, taskID)
			exec.failed[taskID] = struct{}{}
			if !te.Task.Status.IsTerminal() {
				_ = te.Task.Cancel()
			}
		}
	} else {
		exec.mu.Unlock()
		return fmt.Errorf("%w: task %s already finished", ErrInvalidTransition, taskID)
	}
	role := te.Task.AgentType
	retries := te.RetryCount
	exec.mu.Unlock()

	if e.bus != nil {
		e.bus.PublishTaskFailed(executionID, events.TaskFailedPayload{
			TaskID:     taskID,
			Role:       role,
			Error:      "skipped by operator",
			RetryCount: retries,
			Action:     models.RecoverySkip,
		})
	}
	e.logger.Info("Task skipped", "execution_id", executionID, "task_id", taskID)
	exec.wakeUp()
	e.persist(exec)
	return nil
}
