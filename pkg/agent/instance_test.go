package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// fakeProcess is a hand-rolled Process for instance tests. It records the
// order tasks arrive in and can block, fail, or panic on demand.
type fakeProcess struct {
	mu       sync.Mutex
	seen     []string
	started  chan string
	block    chan struct{}
	sendErr  error
	stepFail bool
	panicMsg string
	quality  float64
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		started: make(chan string, 32),
		quality: 0.8,
	}
}

func (f *fakeProcess) Send(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, task.ID)
	f.mu.Unlock()

	select {
	case f.started <- task.ID:
	default:
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.stepFail {
		return models.NewFailedResult(task.ID, instanceID, 0.01, errors.New("step failed")), nil
	}

	return models.NewCompletedResult(task.ID, instanceID,
		models.ResultOutput{
			Data:       map[string]any{"ok": true},
			Format:     models.FormatJSON,
			Confidence: 0.9,
		},
		models.ResultMetadata{ExecutionSeconds: 0.01, Quality: f.quality, Model: "fake"},
	), nil
}

func (f *fakeProcess) taskOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.seen))
	copy(out, f.seen)
	return out
}

// roleBoundProcess refuses every role, for initialization failure tests.
type roleBoundProcess struct {
	fakeProcess
}

func (*roleBoundProcess) SupportsRole(models.AgentType) bool { return false }

func implTask(id string, priority models.TaskPriority) *models.AgentTask {
	return &models.AgentTask{
		ID:        id,
		Type:      TaskTypeImplementation,
		AgentType: models.AgentTypeImplementation,
		Priority:  priority,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func startedInstance(t *testing.T, proc Process, opts Options) *Instance {
	t.Helper()
	inst := NewInstance(models.AgentTypeImplementation, proc, opts)
	require.NoError(t, inst.Initialize(context.Background()))
	t.Cleanup(func() { _ = inst.Cleanup(context.Background()) })
	return inst
}

func TestInstanceInitialize(t *testing.T) {
	inst := NewInstance(models.AgentTypeImplementation, newFakeProcess(), Options{})

	assert.True(t, strings.HasPrefix(inst.ID(), "inst-"))
	assert.Equal(t, models.AgentTypeImplementation, inst.Role())
	assert.Equal(t, models.InstanceUninitialized, inst.Status().State)

	require.NoError(t, inst.Initialize(context.Background()))
	t.Cleanup(func() { _ = inst.Cleanup(context.Background()) })

	assert.Equal(t, models.InstanceIdle, inst.Status().State)
}

func TestInstanceDoubleInitialize(t *testing.T) {
	inst := startedInstance(t, newFakeProcess(), Options{})

	err := inst.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInstanceInitializeRoleMismatch(t *testing.T) {
	inst := NewInstance(models.AgentTypeImplementation, &roleBoundProcess{}, Options{})

	err := inst.Initialize(context.Background())
	require.ErrorIs(t, err, ErrRoleMismatch)
	assert.Equal(t, models.InstanceFailed, inst.Status().State)
}

func TestInstanceExecute(t *testing.T) {
	inst := startedInstance(t, newFakeProcess(), Options{})

	task := implTask("task-1", models.PriorityMedium)
	result, err := inst.Execute(context.Background(), task)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Equal(t, "task-1", result.TaskID)
	assert.Equal(t, inst.ID(), result.InstanceID)

	// The task itself is stamped terminal.
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.CompletedAt)

	status := inst.Status()
	assert.Equal(t, 1, status.TasksCompleted)
	assert.Equal(t, 0, status.TasksFailed)
	assert.InDelta(t, 1.0, status.SuccessRate, 1e-9)
	assert.InDelta(t, 0.8, status.AvgQuality, 1e-9)
	assert.Greater(t, status.AvgExecutionSeconds, 0.0)
}

func TestInstanceExecuteRoleMismatch(t *testing.T) {
	inst := startedInstance(t, newFakeProcess(), Options{})

	task := implTask("task-1", models.PriorityMedium)
	task.AgentType = models.AgentTypePM

	_, err := inst.Execute(context.Background(), task)
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestInstanceExecuteBeforeInitialize(t *testing.T) {
	inst := NewInstance(models.AgentTypeImplementation, newFakeProcess(), Options{})

	_, err := inst.Execute(context.Background(), implTask("task-1", models.PriorityMedium))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestInstanceCountersRunningMean(t *testing.T) {
	proc := newFakeProcess()
	inst := startedInstance(t, proc, Options{})
	ctx := context.Background()

	_, err := inst.Execute(ctx, implTask("task-1", models.PriorityMedium))
	require.NoError(t, err)

	proc.stepFail = true
	result, err := inst.Execute(ctx, implTask("task-2", models.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, result.Status)

	proc.stepFail = false
	_, err = inst.Execute(ctx, implTask("task-3", models.PriorityMedium))
	require.NoError(t, err)

	status := inst.Status()
	assert.Equal(t, 2, status.TasksCompleted)
	assert.Equal(t, 1, status.TasksFailed)
	assert.InDelta(t, 2.0/3.0, status.SuccessRate, 1e-9)
	// Failed results carry zero quality: mean of {0.8, 0, 0.8}.
	assert.InDelta(t, 1.6/3.0, status.AvgQuality, 1e-9)
}

func TestInstancePriorityOrderUnderLoad(t *testing.T) {
	proc := newFakeProcess()
	proc.block = make(chan struct{})
	inst := startedInstance(t, proc, Options{})

	results := make(chan *models.AgentResult, 8)
	record := func(r *models.AgentResult) { results <- r }

	// First task occupies the worker so the rest stack up in the queue.
	require.NoError(t, inst.Enqueue(implTask("first", models.PriorityMedium), record))
	require.Equal(t, "first", <-proc.started)

	require.NoError(t, inst.Enqueue(implTask("background", models.PriorityBackground), record))
	require.NoError(t, inst.Enqueue(implTask("critical", models.PriorityCritical), record))
	require.NoError(t, inst.Enqueue(implTask("medium", models.PriorityMedium), record))

	close(proc.block)
	for n := 0; n < 4; n++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}

	assert.Equal(t, []string{"first", "critical", "medium", "background"}, proc.taskOrder())
}

func TestInstanceEnqueueQueueFull(t *testing.T) {
	proc := newFakeProcess()
	proc.block = make(chan struct{})
	inst := startedInstance(t, proc, Options{QueueSize: 1})

	results := make(chan *models.AgentResult, 8)
	record := func(r *models.AgentResult) { results <- r }

	require.NoError(t, inst.Enqueue(implTask("running", models.PriorityMedium), record))
	require.Equal(t, "running", <-proc.started)

	require.NoError(t, inst.Enqueue(implTask("queued", models.PriorityMedium), record))

	err := inst.Enqueue(implTask("rejected", models.PriorityCritical), record)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(proc.block)
	for n := 0; n < 2; n++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
}

func TestInstancePanicYieldsFailedResult(t *testing.T) {
	proc := newFakeProcess()
	proc.panicMsg = "boom"
	inst := startedInstance(t, proc, Options{})

	result, err := inst.Execute(context.Background(), implTask("task-1", models.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, result.Status)
	assert.Contains(t, result.Error, "panicked")

	// The worker loop survives a panicking step.
	proc.panicMsg = ""
	result, err = inst.Execute(context.Background(), implTask("task-2", models.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, result.Status)
}

func TestInstanceConsecutiveProcessErrors(t *testing.T) {
	proc := newFakeProcess()
	proc.sendErr = errors.New("connection refused")
	inst := startedInstance(t, proc, Options{})
	ctx := context.Background()

	for n := 0; n < maxConsecutiveProcessErrors; n++ {
		result, err := inst.Execute(ctx, implTask("task", models.PriorityMedium))
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusFailed, result.Status)
	}

	assert.True(t, inst.Failed())

	_, err := inst.Execute(ctx, implTask("after", models.PriorityMedium))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestInstanceEnqueueCallbackExactlyOnce(t *testing.T) {
	inst := startedInstance(t, newFakeProcess(), Options{})

	var mu sync.Mutex
	calls := map[string]int{}
	done := make(chan struct{}, 8)
	record := func(r *models.AgentResult) {
		mu.Lock()
		calls[r.TaskID]++
		mu.Unlock()
		done <- struct{}{}
	}

	require.NoError(t, inst.Enqueue(implTask("task-1", models.PriorityMedium), record))
	require.NoError(t, inst.Enqueue(implTask("task-2", models.PriorityHigh), record))

	for n := 0; n < 2; n++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for callbacks")
		}
	}

	require.NoError(t, inst.Cleanup(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"task-1": 1, "task-2": 1}, calls)
}

func TestInstanceCleanupCancelsQueuedTasks(t *testing.T) {
	proc := newFakeProcess()
	proc.block = make(chan struct{})
	inst := startedInstance(t, proc, Options{DrainTimeout: 50 * time.Millisecond})

	results := make(chan *models.AgentResult, 8)
	record := func(r *models.AgentResult) { results <- r }

	require.NoError(t, inst.Enqueue(implTask("running", models.PriorityMedium), record))
	require.Equal(t, "running", <-proc.started)

	require.NoError(t, inst.Enqueue(implTask("queued-1", models.PriorityMedium), record))
	require.NoError(t, inst.Enqueue(implTask("queued-2", models.PriorityLow), record))

	// The running task is stuck, so cleanup gives up after the grace period
	// and cancels everything still queued.
	err := inst.Cleanup(context.Background())
	assert.ErrorIs(t, err, ErrCleanupTimeout)
	assert.Equal(t, models.InstanceTerminated, inst.Status().State)

	cancelled := map[string]bool{}
	for n := 0; n < 2; n++ {
		select {
		case r := <-results:
			assert.Equal(t, models.TaskStatusCancelled, r.Status)
			cancelled[r.TaskID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for cancelled results")
		}
	}
	assert.Equal(t, map[string]bool{"queued-1": true, "queued-2": true}, cancelled)

	// Releasing the stuck task still produces its one result.
	close(proc.block)
	select {
	case r := <-results:
		assert.Equal(t, "running", r.TaskID)
		assert.Equal(t, models.TaskStatusCompleted, r.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the in-flight result")
	}
}

func TestInstanceCleanupWaitsForCurrentTask(t *testing.T) {
	proc := newFakeProcess()
	proc.block = make(chan struct{})
	inst := startedInstance(t, proc, Options{})

	results := make(chan *models.AgentResult, 1)
	require.NoError(t, inst.Enqueue(implTask("task-1", models.PriorityMedium), func(r *models.AgentResult) { results <- r }))
	require.Equal(t, "task-1", <-proc.started)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(proc.block)
	}()

	require.NoError(t, inst.Cleanup(context.Background()))

	select {
	case r := <-results:
		assert.Equal(t, models.TaskStatusCompleted, r.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the in-flight result")
	}
}

func TestInstanceCleanupIdempotent(t *testing.T) {
	inst := startedInstance(t, newFakeProcess(), Options{})

	require.NoError(t, inst.Cleanup(context.Background()))
	require.NoError(t, inst.Cleanup(context.Background()))
	assert.Equal(t, models.InstanceTerminated, inst.Status().State)

	err := inst.Enqueue(implTask("late", models.PriorityMedium), nil)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestInstanceCleanupBeforeInitialize(t *testing.T) {
	inst := NewInstance(models.AgentTypeImplementation, newFakeProcess(), Options{})

	require.NoError(t, inst.Cleanup(context.Background()))
	assert.Equal(t, models.InstanceTerminated, inst.Status().State)
}

func TestInstanceStatusWhileBusy(t *testing.T) {
	proc := newFakeProcess()
	proc.block = make(chan struct{})
	inst := startedInstance(t, proc, Options{})

	results := make(chan *models.AgentResult, 4)
	record := func(r *models.AgentResult) { results <- r }

	require.NoError(t, inst.Enqueue(implTask("current", models.PriorityMedium), record))
	require.Equal(t, "current", <-proc.started)
	require.NoError(t, inst.Enqueue(implTask("waiting-1", models.PriorityMedium), record))
	require.NoError(t, inst.Enqueue(implTask("waiting-2", models.PriorityMedium), record))

	status := inst.Status()
	assert.Equal(t, models.InstanceBusy, status.State)
	assert.True(t, status.Busy())
	assert.Equal(t, "current", status.CurrentTaskID)
	assert.Equal(t, 2, status.QueueLength)

	close(proc.block)
	for n := 0; n < 3; n++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}

	require.Eventually(t, func() bool {
		s := inst.Status()
		return s.State == models.InstanceIdle && s.CurrentTaskID == ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Greater(t, inst.Status().Utilization, 0.0)
}

func TestInstanceMarkScalingDownStopsIntake(t *testing.T) {
	inst := startedInstance(t, newFakeProcess(), Options{})

	inst.MarkScalingDown()
	assert.Equal(t, models.InstanceScalingDown, inst.Status().State)

	err := inst.Enqueue(implTask("late", models.PriorityMedium), nil)
	assert.ErrorIs(t, err, ErrNotReady)
}
