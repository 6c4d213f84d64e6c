package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// Process executes tasks on behalf of an instance. The local transport backs
// it with the step registry; the HTTP transport forwards to an external
// agent process.
type Process interface {
	Send(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error)
}

// RoleValidator is optionally implemented by a Process that knows which
// roles it can serve. Initialize consults it when present.
type RoleValidator interface {
	SupportsRole(role models.AgentType) bool
}

// Consecutive process-level failures before the instance marks itself
// failed and waits for the pool to replace it. Task-level failures (a step
// returning a FAILED result) do not count.
const maxConsecutiveProcessErrors = 3

// Options tune a single instance.
type Options struct {
	// QueueSize bounds the local task queue. Default 16.
	QueueSize int

	// DrainTimeout bounds how long Cleanup waits for the current task.
	// Default 30s.
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
	return o
}

// Instance is a single specialized agent: one role, one worker goroutine,
// one bounded priority queue. All task execution for the instance funnels
// through the worker, so tasks run strictly one at a time.
type Instance struct {
	id      string
	role    models.AgentType
	process Process
	opts    Options

	queue    *taskQueue
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	state         models.InstanceState
	currentTaskID string
	initializedAt time.Time
	lastActiveAt  time.Time
	busySince     time.Time
	busyAccum     time.Duration

	samples        int
	tasksCompleted int
	tasksFailed    int
	avgExecSeconds float64
	successRate    float64
	avgQuality     float64
	processErrors  int
}

// InstanceStatus is a point-in-time snapshot of an instance.
type InstanceStatus struct {
	ID                  string               `json:"id"`
	Role                models.AgentType     `json:"role"`
	State               models.InstanceState `json:"state"`
	CurrentTaskID       string               `json:"current_task_id,omitempty"`
	QueueLength         int                  `json:"queue_length"`
	TasksCompleted      int                  `json:"tasks_completed"`
	TasksFailed         int                  `json:"tasks_failed"`
	AvgExecutionSeconds float64              `json:"avg_execution_seconds"`
	SuccessRate         float64              `json:"success_rate"`
	AvgQuality          float64              `json:"avg_quality"`
	Utilization         float64              `json:"utilization"`
	LastActiveAt        time.Time            `json:"last_active_at"`
}

// Busy reports whether the snapshot shows an in-flight task.
func (s InstanceStatus) Busy() bool {
	return s.State == models.InstanceBusy
}

// NewInstance creates an instance in the uninitialized state. Initialize
// must be called before it accepts work.
func NewInstance(role models.AgentType, process Process, opts Options) *Instance {
	opts = opts.withDefaults()
	return &Instance{
		id:      "inst-" + uuid.NewString(),
		role:    role,
		process: process,
		opts:    opts,
		queue:   newTaskQueue(opts.QueueSize),
		stopCh:  make(chan struct{}),
		state:   models.InstanceUninitialized,
	}
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id }

// Role returns the role this instance serves.
func (i *Instance) Role() models.AgentType { return i.role }

// Initialize transitions the instance to idle and starts its worker. It is
// one-shot: a second call returns ErrAlreadyInitialized.
func (i *Instance) Initialize(ctx context.Context) error {
	i.mu.Lock()
	if i.state != models.InstanceUninitialized {
		state := i.state
		i.mu.Unlock()
		return fmt.Errorf("%w: instance %s is %s", ErrAlreadyInitialized, i.id, state)
	}
	i.state = models.InstanceInitializing
	i.mu.Unlock()

	if i.process == nil {
		i.markFailed(errors.New("no process attached"))
		return fmt.Errorf("initialize instance %s: no process attached", i.id)
	}
	if v, ok := i.process.(RoleValidator); ok && !v.SupportsRole(i.role) {
		i.markFailed(fmt.Errorf("process does not serve role %s", i.role))
		return fmt.Errorf("%w: process does not serve role %s", ErrRoleMismatch, i.role)
	}

	now := time.Now()
	i.mu.Lock()
	i.state = models.InstanceIdle
	i.initializedAt = now
	i.lastActiveAt = now
	i.mu.Unlock()

	i.wg.Add(1)
	go i.run(ctx)

	slog.Debug("Instance initialized", "instance_id", i.id, "role", string(i.role))
	return nil
}

// Execute runs one task and waits for its result. The task still goes
// through the queue, so priorities and the one-at-a-time guarantee hold.
func (i *Instance) Execute(ctx context.Context, task *models.AgentTask) (*models.AgentResult, error) {
	if err := i.admit(task); err != nil {
		return nil, err
	}

	p := NewSyncPending(task)
	if err := i.queue.push(p); err != nil {
		return nil, fmt.Errorf("%w: instance %s", err, i.id)
	}

	select {
	case result := <-p.resultCh:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue adds a task to the queue for asynchronous execution. The callback,
// when non-nil, receives the final result exactly once, whether the task
// completes, fails, or is cancelled by shutdown.
func (i *Instance) Enqueue(task *models.AgentTask, callback ResultCallback) error {
	if err := i.admit(task); err != nil {
		return err
	}
	if err := i.queue.push(NewPending(task, callback)); err != nil {
		return fmt.Errorf("%w: instance %s", err, i.id)
	}
	return nil
}

// EnqueuePending re-queues previously drained work, preserving the original
// delivery path. The pool uses this when moving tasks off a failed instance.
func (i *Instance) EnqueuePending(p *Pending) error {
	if err := i.admit(p.task); err != nil {
		return err
	}
	if err := i.queue.push(p); err != nil {
		return fmt.Errorf("%w: instance %s", err, i.id)
	}
	return nil
}

// admit rejects tasks the instance cannot take right now.
func (i *Instance) admit(task *models.AgentTask) error {
	if task == nil {
		return errors.New("task must not be nil")
	}
	if task.AgentType != i.role {
		return fmt.Errorf("%w: task %s wants %s, instance %s serves %s",
			ErrRoleMismatch, task.ID, task.AgentType, i.id, i.role)
	}

	i.mu.RLock()
	state := i.state
	i.mu.RUnlock()

	if state == models.InstanceTerminated {
		return fmt.Errorf("%w: instance %s", ErrTerminated, i.id)
	}
	if !state.CanAcceptWork() {
		return fmt.Errorf("%w: instance %s is %s", ErrNotReady, i.id, state)
	}
	return nil
}

// Status returns a snapshot of the instance.
func (i *Instance) Status() InstanceStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return InstanceStatus{
		ID:                  i.id,
		Role:                i.role,
		State:               i.state,
		CurrentTaskID:       i.currentTaskID,
		QueueLength:         i.queue.len(),
		TasksCompleted:      i.tasksCompleted,
		TasksFailed:         i.tasksFailed,
		AvgExecutionSeconds: i.avgExecSeconds,
		SuccessRate:         i.successRate,
		AvgQuality:          i.avgQuality,
		Utilization:         i.utilizationLocked(time.Now()),
		LastActiveAt:        i.lastActiveAt,
	}
}

// utilizationLocked computes the busy fraction of wall-clock time since
// initialization. Callers must hold at least a read lock.
func (i *Instance) utilizationLocked(now time.Time) float64 {
	if i.initializedAt.IsZero() {
		return 0
	}
	total := now.Sub(i.initializedAt)
	if total <= 0 {
		return 0
	}
	busy := i.busyAccum
	if !i.busySince.IsZero() {
		busy += now.Sub(i.busySince)
	}
	return models.Clamp01(float64(busy) / float64(total))
}

// TakePending drains the queue, transferring ownership of every queued task
// to the caller. Used by the pool's health monitor to rescue work from a
// failed instance.
func (i *Instance) TakePending() []*Pending {
	return i.queue.drain()
}

// Cleanup stops the worker and cancels queued work. The current task gets
// the drain timeout to finish. Safe to call more than once.
func (i *Instance) Cleanup(ctx context.Context) error {
	i.mu.Lock()
	switch i.state {
	case models.InstanceTerminated:
		i.mu.Unlock()
		return nil
	case models.InstanceUninitialized:
		// Never started, nothing to stop.
		i.state = models.InstanceTerminated
		i.mu.Unlock()
		return nil
	default:
		i.state = models.InstanceShuttingDown
	}
	i.mu.Unlock()

	log := slog.With("instance_id", i.id, "role", string(i.role))
	log.Debug("Instance cleanup started")

	i.stopOnce.Do(func() { close(i.stopCh) })

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	graceElapsed := false
	select {
	case <-done:
	case <-time.After(i.opts.DrainTimeout):
		graceElapsed = true
	case <-ctx.Done():
		graceElapsed = true
	}

	// Cancel whatever never started. Each drained item still gets its one
	// result delivery.
	for _, p := range i.queue.drain() {
		_ = p.task.Cancel()
		p.Deliver(models.NewCancelledResult(p.task.ID, i.id))
	}

	i.mu.Lock()
	if !i.busySince.IsZero() {
		i.busyAccum += time.Since(i.busySince)
		i.busySince = time.Time{}
	}
	i.currentTaskID = ""
	i.state = models.InstanceTerminated
	i.mu.Unlock()

	if graceElapsed {
		log.Warn("Instance cleanup grace period elapsed", "grace", i.opts.DrainTimeout)
		return fmt.Errorf("%w: instance %s after %s", ErrCleanupTimeout, i.id, i.opts.DrainTimeout)
	}
	log.Debug("Instance cleanup complete")
	return nil
}

// MarkScalingDown flags the instance as a scale-down victim so it stops
// accepting new work before Cleanup runs.
func (i *Instance) MarkScalingDown() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == models.InstanceIdle || i.state == models.InstanceBusy {
		i.state = models.InstanceScalingDown
	}
}

// MarkFailed flags the instance as failed so the pool's health pass
// rescues its queue and retires it. Terminated instances are left alone.
func (i *Instance) MarkFailed(cause error) {
	i.markFailed(cause)
}

// Failed reports whether the instance has marked itself failed.
func (i *Instance) Failed() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state == models.InstanceFailed
}

func (i *Instance) markFailed(cause error) {
	i.mu.Lock()
	if i.state != models.InstanceTerminated {
		i.state = models.InstanceFailed
	}
	i.mu.Unlock()
	slog.Error("Instance failed", "instance_id", i.id, "role", string(i.role), "error", cause)
}

// run is the worker loop: one task at a time, priority order, until stopped.
func (i *Instance) run(ctx context.Context) {
	defer i.wg.Done()

	log := slog.With("instance_id", i.id, "role", string(i.role))
	log.Info("Instance worker started")

	for {
		select {
		case <-i.stopCh:
			log.Info("Instance worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, instance worker shutting down")
			return
		default:
		}

		if i.Failed() {
			// Queued work stays put for the pool's health monitor to rescue.
			log.Warn("Instance worker stopping after repeated process errors")
			return
		}

		p, ok := i.queue.pop()
		if !ok {
			select {
			case <-i.stopCh:
				log.Info("Instance worker shutting down")
				return
			case <-ctx.Done():
				log.Info("Context cancelled, instance worker shutting down")
				return
			case <-i.queue.notify:
			}
			continue
		}

		i.processTask(ctx, p, log)
	}
}

// processTask runs one task end to end and delivers its result.
func (i *Instance) processTask(ctx context.Context, p *Pending, log *slog.Logger) {
	task := p.task
	i.setBusy(task.ID)

	if task.Status == models.TaskStatusPending {
		if err := task.Start(); err != nil {
			log.Warn("Task not startable", "task_id", task.ID, "error", err)
		}
	}

	start := time.Now()
	result, err := i.invoke(ctx, task)
	elapsed := time.Since(start)

	if err != nil {
		result = models.NewFailedResult(task.ID, i.id, elapsed.Seconds(), err)
		i.noteProcessError(err)
	} else {
		i.clearProcessErrors()
	}
	if result == nil {
		result = models.NewFailedResult(task.ID, i.id, elapsed.Seconds(),
			errors.New("process returned nil result"))
	}
	if result.Metadata.ExecutionSeconds == 0 {
		result.Metadata.ExecutionSeconds = elapsed.Seconds()
	}

	switch result.Status {
	case models.TaskStatusCompleted:
		_ = task.Complete()
	case models.TaskStatusCancelled:
		_ = task.Cancel()
	default:
		_ = task.Fail()
	}

	i.recordResult(result, elapsed)
	i.setIdle()
	p.Deliver(result)

	log.Debug("Task processed",
		"task_id", task.ID,
		"status", string(result.Status),
		"duration", elapsed)
}

// invoke calls the process, turning a panic into an error so the worker
// loop survives.
func (i *Instance) invoke(ctx context.Context, task *models.AgentTask) (result *models.AgentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return i.process.Send(ctx, i.id, task)
}

func (i *Instance) setBusy(taskID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.currentTaskID = taskID
	i.busySince = time.Now()
	if i.state == models.InstanceIdle {
		i.state = models.InstanceBusy
	}
}

func (i *Instance) setIdle() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.busySince.IsZero() {
		i.busyAccum += time.Since(i.busySince)
		i.busySince = time.Time{}
	}
	i.currentTaskID = ""
	if i.state == models.InstanceBusy {
		i.state = models.InstanceIdle
	}
}

// recordResult folds one finished task into the running counters:
// avg = (avg*(n-1) + x) / n.
func (i *Instance) recordResult(result *models.AgentResult, elapsed time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := float64(i.samples + 1)
	execSeconds := elapsed.Seconds()

	success := 0.0
	if result.Succeeded() {
		success = 1.0
		i.tasksCompleted++
	} else {
		i.tasksFailed++
	}

	i.avgExecSeconds = (i.avgExecSeconds*(n-1) + execSeconds) / n
	i.successRate = (i.successRate*(n-1) + success) / n
	i.avgQuality = (i.avgQuality*(n-1) + result.Metadata.Quality) / n
	i.samples++
	i.lastActiveAt = time.Now()
}

func (i *Instance) noteProcessError(err error) {
	i.mu.Lock()
	i.processErrors++
	count := i.processErrors
	i.mu.Unlock()

	if count >= maxConsecutiveProcessErrors {
		i.markFailed(fmt.Errorf("%d consecutive process errors, last: %w", count, err))
	}
}

func (i *Instance) clearProcessErrors() {
	i.mu.Lock()
	i.processErrors = 0
	i.mu.Unlock()
}
