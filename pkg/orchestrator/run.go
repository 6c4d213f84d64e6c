package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/recovery"
)

// run is the lifecycle of one execution: initialize, drive the task graph,
// settle the terminal state. It is the only goroutine that calls finish.
func (e *Executor) run(exec *Execution, cb *Callbacks) {
	defer e.wg.Done()

	if err := e.transition(exec, models.ExecutionInitializing, "building task executions"); err != nil {
		// Cancelled before the drive loop started.
		e.finish(exec, cb)
		return
	}

	exec.mu.Lock()
	exec.recomputeProgressLocked()
	cp := recovery.AppendCheckpoint(exec.recovery, models.PhaseWorkflowStarted,
		"workflow started", exec.checkpointSnapshotLocked())
	// The start checkpoint counts toward the every-N cadence.
	exec.sinceCheckpoint = 1
	exec.mu.Unlock()
	e.publishCheckpoint(exec, cp, 0)
	e.persist(exec)

	if err := e.transition(exec, models.ExecutionRunning, "dispatching tasks"); err != nil {
		e.finish(exec, cb)
		return
	}
	e.persist(exec)

	e.drive(exec)
	e.finish(exec, cb)
}

// drive scans the ready set and dispatches until the execution settles.
// Sequential handoff runs one task at a time; parallel execution (and
// dynamic routing, which is parallel in this version) dispatches the whole
// ready set onto the bounded worker group.
func (e *Executor) drive(exec *Execution) {
	limit := len(exec.order)
	sequential := exec.pattern == models.PatternSequentialHandoff
	if sequential {
		limit = 1
	}

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		if e.stopping() {
			return
		}
		switch st := exec.State(); {
		case st.IsTerminal():
			return
		case st == models.ExecutionPaused:
			e.waitForWake(exec)
			continue
		}

		ready := exec.takeReady(limit)
		if len(ready) == 0 {
			pending, active, _, _ := exec.counts()
			if active > 0 {
				e.waitForWake(exec)
				continue
			}
			if pending > 0 {
				exec.mu.Lock()
				reason := exec.blockedDependencyLocked()
				exec.mu.Unlock()
				e.failExecution(exec, reason)
			}
			return
		}

		for _, id := range ready {
			// dispatchTask owns the slot from here and releases it before
			// any recovery backoff, so a retrying task cannot hold dispatch
			// capacity while it sleeps.
			if err := e.dispatch.Acquire(e.baseCtx, 1); err != nil {
				return
			}
			if sequential {
				e.dispatchTask(exec, id)
				continue
			}
			inflight.Add(1)
			go func(taskID string) {
				defer inflight.Done()
				e.dispatchTask(exec, taskID)
			}(id)
		}
	}
}

// waitForWake blocks until a task settles, an operator acts, the idle wait
// elapses, or the executor stops.
func (e *Executor) waitForWake(exec *Execution) {
	select {
	case <-exec.wake:
	case <-time.After(driveIdleWait):
	case <-e.stopCh:
	}
}

// dispatchTask runs one task to a settled outcome: hand it to the pool of
// its role, await the result under the task timeout, then route success or
// failure. The caller already moved the id from pending to active.
func (e *Executor) dispatchTask(exec *Execution, taskID string) {
	var relOnce sync.Once
	release := func() { relOnce.Do(func() { e.dispatch.Release(1) }) }
	defer release()

	te := exec.task(taskID)
	if te == nil {
		return
	}
	task := te.Task

	// Pause or cancel may have raced the ready scan.
	if st := exec.State(); st != models.ExecutionRunning {
		exec.mu.Lock()
		if _, ok := exec.active[taskID]; ok {
			delete(exec.active, taskID)
			if st.IsTerminal() {
				exec.failed[taskID] = struct{}{}
				if !task.Status.IsTerminal() {
					_ = task.Cancel()
				}
			} else {
				exec.pending[taskID] = struct{}{}
			}
		}
		exec.mu.Unlock()
		return
	}

	dctx, cancel := context.WithCancel(e.baseCtx)
	defer cancel()
	exec.setCancel(taskID, cancel)
	defer exec.clearCancel(taskID)

	if e.bus != nil {
		e.bus.PublishTaskStarted(exec.ID(), events.TaskStartedPayload{
			TaskID:   taskID,
			TaskType: task.Type,
			Role:     task.AgentType,
			Attempt:  te.RetryCount + 1,
		})
	}
	e.metrics.TaskDispatched(task.AgentType)

	exec.mu.Lock()
	if task.Status == models.TaskStatusPending {
		_ = task.Start()
	}
	exec.mu.Unlock()

	// The pool gets its own copy of the task. A timed-out dispatch leaves
	// the pool holding the old attempt; the retry must not share state
	// with it.
	pending := agent.NewSyncPending(wireCopy(task))
	inst, err := e.pools.Assign(pending)
	if err != nil {
		release()
		e.handleFailure(exec, te, nil, fmt.Errorf("%w: %v", errDistribution, err))
		return
	}
	if inst != nil {
		exec.noteAssigned(taskID, inst.ID())
	}

	timer := time.NewTimer(e.cfg.TaskTimeout)
	defer timer.Stop()

	select {
	case res := <-pending.Result():
		switch {
		case res == nil:
			release()
			e.handleFailure(exec, te, nil, errors.New("instance delivered no result"))
		case res.Succeeded():
			exec.noteAssigned(taskID, res.InstanceID)
			e.completeTask(exec, te, res)
		case res.Status == models.TaskStatusCancelled:
			if exec.State().IsTerminal() {
				exec.markCancelled(taskID)
				return
			}
			// Instance drained during scale-down or cleanup; the work never
			// ran, so treat it like any other failure and let recovery
			// requeue it.
			release()
			e.handleFailure(exec, te, res, errors.New("task cancelled by instance"))
		default:
			cause := res.Error
			if cause == "" {
				cause = "task failed"
			}
			release()
			e.handleFailure(exec, te, res, errors.New(cause))
		}
	case <-timer.C:
		// The abandoned attempt still counts against the owning instance's
		// pool stats.
		if inst != nil {
			e.pools.Complete(task.AgentType, inst.ID(), false, e.cfg.TaskTimeout, 0)
		}
		release()
		e.handleFailure(exec, te, nil, fmt.Errorf("%w after %s", errTaskTimeout, e.cfg.TaskTimeout))
	case <-dctx.Done():
		exec.markCancelled(taskID)
	}
}

// wireCopy returns a fresh pending copy of the task for one dispatch
// attempt. The instance mutates the copy; the canonical task stays owned
// by the executor.
func wireCopy(t *models.AgentTask) *models.AgentTask {
	c := *t
	c.Status = models.TaskStatusPending
	c.StartedAt = nil
	c.CompletedAt = nil
	return &c
}

// completeTask settles a successful task: record the result, advance the
// counters, checkpoint on the every-N cadence, feed the pool and metrics.
func (e *Executor) completeTask(exec *Execution, te *TaskExecution, res *models.AgentResult) {
	taskID := te.Task.ID
	role := te.Task.AgentType
	dur := time.Duration(res.Metadata.ExecutionSeconds * float64(time.Second))

	exec.mu.Lock()
	if !te.Task.Status.IsTerminal() {
		_ = te.Task.Complete()
	}
	delete(exec.active, taskID)
	exec.completed[taskID] = struct{}{}
	exec.results[taskID] = res
	exec.currentStep++
	exec.recomputeProgressLocked()
	progress := exec.progress
	completedCount := len(exec.completed)
	var cp *models.Checkpoint
	exec.sinceCheckpoint++
	if exec.sinceCheckpoint >= e.cfg.CheckpointEvery {
		c := recovery.AppendCheckpoint(exec.recovery,
			fmt.Sprintf("task_%s_completed", taskID),
			"automatic checkpoint", exec.checkpointSnapshotLocked())
		cp = &c
		exec.sinceCheckpoint = 0
	}
	exec.mu.Unlock()

	e.pools.Complete(role, res.InstanceID, true, dur, res.Metadata.Quality)
	e.metrics.TaskCompleted(role, dur)
	e.noteTaskOutcome(true)

	if e.bus != nil {
		e.bus.PublishTaskCompleted(exec.ID(), events.TaskCompletedPayload{
			TaskID:           taskID,
			Role:             role,
			InstanceID:       res.InstanceID,
			ExecutionSeconds: res.Metadata.ExecutionSeconds,
			Quality:          res.Metadata.Quality,
			Progress:         progress,
		})
	}
	if cp != nil {
		e.publishCheckpoint(exec, *cp, completedCount)
	}
	e.logger.Debug("Task completed",
		"execution_id", exec.ID(), "task_id", taskID,
		"instance_id", res.InstanceID, "progress", progress)
	e.persist(exec)
	exec.wakeUp()
}

func (e *Executor) publishCheckpoint(exec *Execution, cp models.Checkpoint, completedTasks int) {
	if e.bus == nil {
		return
	}
	e.bus.PublishCheckpointCreated(exec.ID(), events.CheckpointCreatedPayload{
		CheckpointID:   cp.ID,
		Phase:          cp.Phase,
		CompletedTasks: completedTasks,
		Progress:       cp.Snapshot.Progress,
	})
}

// handleFailure routes one task failure through the recovery strategy and
// applies its decision.
func (e *Executor) handleFailure(exec *Execution, te *TaskExecution, res *models.AgentResult, cause error) {
	taskID := te.Task.ID
	role := te.Task.AgentType

	if exec.State().IsTerminal() {
		exec.markCancelled(taskID)
		return
	}

	if res != nil && res.InstanceID != "" {
		dur := time.Duration(res.Metadata.ExecutionSeconds * float64(time.Second))
		e.pools.Complete(role, res.InstanceID, false, dur, 0)
	}
	e.metrics.TaskFailed(role)
	e.noteTaskOutcome(false)

	exec.mu.Lock()
	recovery.PreservePartial(exec.recovery, res, "task failed: "+cause.Error())
	retries := te.RetryCount
	failedInstance := te.AssignedInstanceID
	exec.mu.Unlock()

	// A resultless failure (timeout, lost result) still names the owning
	// instance through the assignment record.
	if res != nil && res.InstanceID != "" {
		failedInstance = res.InstanceID
	}
	action := e.strategy.Decide(retries, e.idleBackups(role, failedInstance))

	if e.bus != nil {
		e.bus.PublishTaskFailed(exec.ID(), events.TaskFailedPayload{
			TaskID:     taskID,
			Role:       role,
			InstanceID: failedInstance,
			Error:      cause.Error(),
			RetryCount: retries,
			Action:     action.Action,
		})
	}
	e.logger.Warn("Task failed",
		"execution_id", exec.ID(), "task_id", taskID,
		"retry_count", retries, "action", string(action.Action), "error", cause)

	switch action.Action {
	case models.RecoveryRetry:
		e.applyRetry(exec, te, action.Delay)
	case models.RecoveryReassign:
		// Release the exhausted instance back to its pool marked failed;
		// the health pass rescues its queue and refills to minimum. The
		// balancer can no longer hand the reassigned task back to it.
		if failedInstance != "" {
			e.pools.ReleaseFailed(role, failedInstance, cause)
		}
		e.applyReassign(exec, te)
	default:
		e.abortExecution(exec, te, cause)
	}
	e.persist(exec)
}

// idleBackups counts idle same-role instances other than the one that just
// failed the task. The failed instance itself is not a backup; a reassign
// there would change nothing.
func (e *Executor) idleBackups(role models.AgentType, exclude string) int {
	pl, err := e.pools.Pool(role)
	if err != nil {
		return 0
	}
	n := 0
	for _, inst := range pl.Status().Instances {
		if inst.State == models.InstanceIdle && inst.ID != exclude {
			n++
		}
	}
	return n
}

// applyRetry sleeps out the backoff, then returns the task to pending with
// its retry count bumped.
func (e *Executor) applyRetry(exec *Execution, te *TaskExecution, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.stopCh:
		return
	}

	taskID := te.Task.ID
	exec.mu.Lock()
	if exec.state.IsTerminal() {
		if _, ok := exec.active[taskID]; ok {
			delete(exec.active, taskID)
			exec.failed[taskID] = struct{}{}
		}
		exec.mu.Unlock()
		return
	}
	te.RetryCount++
	te.Task.Reset()
	delete(exec.active, taskID)
	exec.pending[taskID] = struct{}{}
	exec.mu.Unlock()

	e.metrics.TaskRetried(te.Task.AgentType)
	exec.wakeUp()
}

// applyReassign returns the task to pending with a zero retry count so a
// different instance can take it over.
func (e *Executor) applyReassign(exec *Execution, te *TaskExecution) {
	taskID := te.Task.ID
	exec.mu.Lock()
	if exec.state.IsTerminal() {
		if _, ok := exec.active[taskID]; ok {
			delete(exec.active, taskID)
			exec.failed[taskID] = struct{}{}
		}
		exec.mu.Unlock()
		return
	}
	te.RetryCount = 0
	te.AssignedInstanceID = ""
	te.Task.Reset()
	delete(exec.active, taskID)
	exec.pending[taskID] = struct{}{}
	exec.mu.Unlock()
	exec.wakeUp()
}

// abortExecution fails the whole workflow after a critical task failure:
// the triggering failure is recorded with its remediation options, every
// other active and pending task is cancelled.
func (e *Executor) abortExecution(exec *Execution, te *TaskExecution, cause error) {
	taskID := te.Task.ID

	exec.mu.Lock()
	if exec.state.IsTerminal() {
		if _, ok := exec.active[taskID]; ok {
			delete(exec.active, taskID)
			exec.failed[taskID] = struct{}{}
		}
		exec.mu.Unlock()
		return
	}
	failure := recovery.RecordCriticalFailure(exec.recovery, taskID, cause, te.RetryCount)
	if !te.Task.Status.IsTerminal() {
		_ = te.Task.Fail()
	}
	delete(exec.active, taskID)
	exec.failed[taskID] = struct{}{}
	exec.failPendingLocked()
	exec.cancelActiveLocked()
	from := exec.state
	_ = exec.transitionLocked(models.ExecutionFailed, "critical failure in task "+taskID)
	recovery.AppendCheckpoint(exec.recovery, models.PhaseWorkflowFailed,
		"workflow failed", exec.checkpointSnapshotLocked())
	progress := exec.progress
	exec.mu.Unlock()

	if e.bus != nil {
		e.bus.PublishCriticalFailure(exec.ID(), events.CriticalFailurePayload{
			TaskID:       taskID,
			Error:        failure.Error,
			Remediations: failure.Remediations,
		})
		e.bus.PublishWorkflowState(exec.ID(), events.WorkflowStatePayload{
			WorkflowID: exec.workflowID,
			From:       from,
			To:         models.ExecutionFailed,
			Progress:   progress,
			Reason:     "critical failure in task " + taskID,
		})
	}
	e.logger.Error("Workflow aborted",
		"execution_id", exec.ID(), "task_id", taskID, "error", cause)
	exec.wakeUp()
}

// failExecution fails a workflow for a control-path reason: unsatisfiable
// dependencies or the execution age limit.
func (e *Executor) failExecution(exec *Execution, reason string) {
	exec.mu.Lock()
	if exec.state.IsTerminal() {
		exec.mu.Unlock()
		return
	}
	exec.failPendingLocked()
	exec.cancelActiveLocked()
	from := exec.state
	_ = exec.transitionLocked(models.ExecutionFailed, reason)
	recovery.AppendCheckpoint(exec.recovery, models.PhaseWorkflowFailed,
		reason, exec.checkpointSnapshotLocked())
	progress := exec.progress
	exec.mu.Unlock()

	if e.bus != nil {
		e.bus.PublishWorkflowState(exec.ID(), events.WorkflowStatePayload{
			WorkflowID: exec.workflowID,
			From:       from,
			To:         models.ExecutionFailed,
			Progress:   progress,
			Reason:     reason,
		})
	}
	e.logger.Error("Workflow failed", "execution_id", exec.ID(), "reason", reason)
	e.persist(exec)
	exec.wakeUp()
}

// finish settles the execution's terminal state, retires it to history, and
// fires the caller's callback.
func (e *Executor) finish(exec *Execution, cb *Callbacks) {
	if e.stopping() && !exec.State().IsTerminal() {
		e.persist(exec)
		return
	}

	var from models.ExecutionState
	transitioned := false

	exec.mu.Lock()
	if !exec.state.IsTerminal() {
		from = exec.state
		if len(exec.failed) == 0 && len(exec.pending) == 0 && len(exec.active) == 0 {
			exec.currentStep = len(exec.tasks)
			exec.recomputeProgressLocked()
			_ = exec.transitionLocked(models.ExecutionCompleted, "all tasks completed")
			recovery.AppendCheckpoint(exec.recovery, models.PhaseWorkflowCompleted,
				"workflow completed", exec.checkpointSnapshotLocked())
		} else {
			_ = exec.transitionLocked(models.ExecutionFailed, "tasks failed")
			recovery.AppendCheckpoint(exec.recovery, models.PhaseWorkflowFailed,
				"tasks failed", exec.checkpointSnapshotLocked())
		}
		transitioned = true
	}
	st := exec.state
	reason := exec.stateReason
	progress := exec.progress
	dur := exec.finishedAt.Sub(exec.startedAt)
	exec.mu.Unlock()

	if transitioned && e.bus != nil {
		e.bus.PublishWorkflowState(exec.ID(), events.WorkflowStatePayload{
			WorkflowID: exec.workflowID,
			From:       from,
			To:         st,
			Progress:   progress,
			Reason:     reason,
		})
	}

	e.metrics.WorkflowFinished(st, dur)
	e.retire(exec)
	e.persist(exec)
	e.logger.Info("Execution finished",
		"execution_id", exec.ID(), "state", string(st),
		"duration", dur.String(), "progress", progress)

	if cb != nil && cb.OnFinish != nil {
		cb.OnFinish(exec.Snapshot())
	}
}

// retire moves an execution from the active map into the bounded history.
// Idempotent; the terminal counters tick once per execution.
func (e *Executor) retire(exec *Execution) {
	id := exec.ID()
	e.mu.Lock()
	if _, ok := e.active[id]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, id)
	switch exec.State() {
	case models.ExecutionCompleted:
		e.completed++
	case models.ExecutionCancelled:
		e.cancelled++
	default:
		e.failed++
	}
	e.mu.Unlock()
	e.history.Add(id, exec)
}
