package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/pool"
	"github.com/dirigent-io/dirigent/pkg/recovery"
	"github.com/dirigent-io/dirigent/pkg/store"
)

// scriptedProcess is a Process whose per-task behavior is scripted by the
// test: fail the first N attempts of a task, delay every call, or hold all
// calls until released.
type scriptedProcess struct {
	mu        sync.Mutex
	calls     map[string]int
	failFirst map[string]int
	delay     time.Duration
	hold      chan struct{}

	// seenAtStart records, per task, which tasks had already completed when
	// this task first reached the process.
	seenAtStart map[string][]string
	completed   map[string]bool
}

func newScriptedProcess() *scriptedProcess {
	return &scriptedProcess{
		calls:       map[string]int{},
		failFirst:   map[string]int{},
		seenAtStart: map[string][]string{},
		completed:   map[string]bool{},
	}
}

func (p *scriptedProcess) Send(ctx context.Context, instanceID string, task *models.AgentTask) (*models.AgentResult, error) {
	p.mu.Lock()
	p.calls[task.ID]++
	n := p.calls[task.ID]
	fails := p.failFirst[task.ID]
	if _, seen := p.seenAtStart[task.ID]; !seen {
		done := make([]string, 0, len(p.completed))
		for id := range p.completed {
			done = append(done, id)
		}
		p.seenAtStart[task.ID] = done
	}
	delay := p.delay
	hold := p.hold
	p.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= fails {
		return models.NewFailedResult(task.ID, instanceID, 0.01, errors.New("scripted failure")), nil
	}

	p.mu.Lock()
	p.completed[task.ID] = true
	p.mu.Unlock()
	return models.NewCompletedResult(task.ID, instanceID,
		models.ResultOutput{Data: map[string]any{"ok": true}, Format: models.FormatJSON, Confidence: 0.9},
		models.ResultMetadata{ExecutionSeconds: 0.01, Quality: 0.9, Model: "scripted"},
	), nil
}

func (p *scriptedProcess) callCount(taskID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[taskID]
}

func (p *scriptedProcess) firstSaw(taskID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seenAtStart[taskID]
}

func testPoolsConfig(minInst, maxInst int) *config.PoolsConfig {
	roles := make(map[models.AgentType]*config.PoolConfig, len(models.AllAgentTypes()))
	for _, role := range models.AllAgentTypes() {
		cfg := config.DefaultPoolConfig()
		cfg.Scaling.MinInstances = minInst
		cfg.Scaling.MaxInstances = maxInst
		cfg.Scaling.ScaleUpCooldown = 0
		cfg.Scaling.ScaleDownCooldown = 0
		cfg.ScalerInterval = time.Hour
		cfg.DrainTimeout = 250 * time.Millisecond
		roles[role] = cfg
	}
	return &config.PoolsConfig{Roles: roles}
}

type harness struct {
	ex    *Executor
	pools *pool.Manager
	st    store.ExecutionStore
}

func newHarness(t *testing.T, proc agent.Process, minInst int, mutate func(*config.OrchestratorConfig)) *harness {
	t.Helper()

	pools := pool.NewManager(testPoolsConfig(minInst, minInst+2), proc, nil, nil)
	require.NoError(t, pools.Start(context.Background()))
	t.Cleanup(func() { _ = pools.Cleanup(context.Background()) })

	cfg := &config.OrchestratorConfig{
		MaxConcurrentWorkflows: 4,
		TaskTimeout:            2 * time.Second,
		ExecutionTimeout:       time.Minute,
		HeartbeatInterval:      25 * time.Millisecond,
		CheckpointEvery:        3,
		MaxRetries:             3,
		HistorySize:            16,
	}
	if mutate != nil {
		mutate(cfg)
	}
	st := store.NewMemory()
	ex := New(cfg, pools, Options{
		Store: st,
		// Short backoff cap keeps retry scenarios fast.
		Strategy: recovery.NewStrategy(cfg.MaxRetries, 5*time.Millisecond),
	})
	require.NoError(t, ex.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ex.Stop(ctx)
	})
	return &harness{ex: ex, pools: pools, st: st}
}

func chainPlan(id string, roles ...models.AgentType) *models.WorkflowPlan {
	p := &models.WorkflowPlan{ID: id, Pattern: models.PatternSequentialHandoff}
	for i, role := range roles {
		a := models.AgentAssignment{Role: role}
		if i > 0 {
			a.DependsOn = []string{fmt.Sprintf("t%d", i-1)}
		}
		p.Assignments = append(p.Assignments, a)
	}
	return p
}

func runAndWait(t *testing.T, h *harness, pl *models.WorkflowPlan) Snapshot {
	t.Helper()
	done := make(chan Snapshot, 1)
	id, err := h.ex.Execute(context.Background(), &models.ClarifiedRequest{ID: "req-1"}, pl,
		&Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)

	select {
	case s := <-done:
		require.Equal(t, id, s.ExecutionID)
		return s
	case <-time.After(15 * time.Second):
		t.Fatalf("execution %s did not finish", id)
		return Snapshot{}
	}
}

func checkpointPhases(s Snapshot) []string {
	phases := make([]string, 0, len(s.Checkpoints))
	for _, cp := range s.Checkpoints {
		phases = append(phases, cp.Phase)
	}
	return phases
}

func TestSequentialHappyPath(t *testing.T) {
	proc := newScriptedProcess()
	h := newHarness(t, proc, 1, nil)

	s := runAndWait(t, h, chainPlan("wf-seq",
		models.AgentTypePM, models.AgentTypeSA, models.AgentTypeImplementation))

	assert.Equal(t, models.ExecutionCompleted, s.State)
	assert.Equal(t, []string{"t0", "t1", "t2"}, s.Completed)
	assert.Empty(t, s.Pending)
	assert.Empty(t, s.Active)
	assert.Empty(t, s.Failed)
	assert.Equal(t, 100.0, s.Progress)
	assert.Equal(t, 3, s.CurrentStep)
	assert.Equal(t,
		[]string{models.PhaseWorkflowStarted, "task_t1_completed", models.PhaseWorkflowCompleted},
		checkpointPhases(s))
	assertSnapshotInvariants(t, s)

	// Terminal executions leave the active list and stay queryable.
	assert.Empty(t, h.ex.ActiveExecutions())
	got, err := h.ex.Status(context.Background(), s.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, got.State)

	m := h.ex.Metrics()
	assert.Equal(t, uint64(1), m.WorkflowsStarted)
	assert.Equal(t, uint64(1), m.WorkflowsCompleted)
	assert.InDelta(t, 1.0, m.TaskSuccessRate, 1e-9)
}

func TestParallelDependencyOrdering(t *testing.T) {
	proc := newScriptedProcess()
	proc.delay = 30 * time.Millisecond
	h := newHarness(t, proc, 1, nil)

	pl := &models.WorkflowPlan{
		ID:      "wf-par",
		Pattern: models.PatternParallelExecution,
		Assignments: []models.AgentAssignment{
			{Role: models.AgentTypePM},
			{Role: models.AgentTypeSA},
			{Role: models.AgentTypeImplementation, DependsOn: []string{"t0", "t1"}},
		},
	}
	s := runAndWait(t, h, pl)

	assert.Equal(t, models.ExecutionCompleted, s.State)
	assert.ElementsMatch(t, []string{"t0", "t1", "t2"}, s.Completed)
	assert.ElementsMatch(t, []string{"t0", "t1"}, proc.firstSaw("t2"),
		"t2 must not start before both dependencies completed")
	assertSnapshotInvariants(t, s)
}

func TestParallelInvariantsUnderSampling(t *testing.T) {
	proc := newScriptedProcess()
	proc.delay = 10 * time.Millisecond
	h := newHarness(t, proc, 2, nil)

	pl := &models.WorkflowPlan{
		ID:      "wf-wide",
		Pattern: models.PatternParallelExecution,
		Assignments: []models.AgentAssignment{
			{Role: models.AgentTypePM},
			{Role: models.AgentTypeBA},
			{Role: models.AgentTypeSA},
			{Role: models.AgentTypeResearch, DependsOn: []string{"t0"}},
			{Role: models.AgentTypeImplementation, DependsOn: []string{"t1", "t2"}},
			{Role: models.AgentTypeQualityJudge, DependsOn: []string{"t3", "t4"}},
		},
	}

	done := make(chan Snapshot, 1)
	id, err := h.ex.Execute(context.Background(), nil, pl,
		&Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)

	// Sample snapshots while the execution runs; every one must satisfy
	// the partition and dependency invariants.
	for {
		select {
		case s := <-done:
			assert.Equal(t, models.ExecutionCompleted, s.State)
			assertSnapshotInvariants(t, s)
			return
		case <-time.After(5 * time.Millisecond):
			s, err := h.ex.Status(context.Background(), id)
			require.NoError(t, err)
			assertSnapshotInvariants(t, s)
		}
	}
}

func TestCancelImmediatelyYieldsCancelledSnapshot(t *testing.T) {
	proc := newScriptedProcess()
	proc.hold = make(chan struct{})
	defer close(proc.hold)
	h := newHarness(t, proc, 1, nil)

	done := make(chan Snapshot, 1)
	id, err := h.ex.Execute(context.Background(), nil,
		chainPlan("wf-cancel", models.AgentTypePM, models.AgentTypeSA),
		&Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)
	require.NoError(t, h.ex.Cancel(id))

	select {
	case s := <-done:
		assert.Equal(t, models.ExecutionCancelled, s.State)
		assert.Empty(t, s.Pending, "cancelled pending tasks settle into failed")
		assert.Empty(t, s.Active)
		assertSnapshotInvariants(t, s)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled execution did not finish")
	}

	assert.Empty(t, h.ex.ActiveExecutions())
	assert.ErrorIs(t, h.ex.Cancel(id), ErrInvalidTransition, "second cancel is rejected")
}

func TestRetryThenSucceed(t *testing.T) {
	proc := newScriptedProcess()
	proc.failFirst["t0"] = 2
	h := newHarness(t, proc, 1, nil)

	s := runAndWait(t, h, chainPlan("wf-retry", models.AgentTypeImplementation))

	assert.Equal(t, models.ExecutionCompleted, s.State)
	assert.Equal(t, 3, proc.callCount("t0"), "two failures then one success")

	pl, err := h.pools.Pool(models.AgentTypeImplementation)
	require.NoError(t, err)
	st := pl.Status()
	assert.Equal(t, 1, st.TasksCompleted)
	assert.Equal(t, 2, st.TasksFailed)
	assert.InDelta(t, 1.0/3.0, st.SuccessRate, 0.001)
}

func TestReassignAfterExhaustedRetries(t *testing.T) {
	proc := newScriptedProcess()
	proc.failFirst["t0"] = 4 // max_retries failures, then one more to force reassign
	h := newHarness(t, proc, 2, nil)

	s := runAndWait(t, h, chainPlan("wf-reassign", models.AgentTypeImplementation))

	assert.Equal(t, models.ExecutionCompleted, s.State)
	assert.Equal(t, 5, proc.callCount("t0"))
	assert.Empty(t, s.Failures, "reassign is not a critical failure")

	// The last failed attempt's result was preserved for recovery.
	env, err := h.st.LoadSnapshot(context.Background(), s.ExecutionID)
	require.NoError(t, err)
	require.Contains(t, env.Metadata.PartialResults, "t0")
	assert.Equal(t, models.TaskStatusFailed, env.Metadata.PartialResults["t0"].Result.Status)

	// The exhausted instance was released back to its pool marked failed;
	// the health pass retires it and refills to the floor.
	exhausted := env.Metadata.PartialResults["t0"].Result.InstanceID
	require.NotEmpty(t, exhausted)
	pl, err := h.pools.Pool(models.AgentTypeImplementation)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st := pl.Status()
		if st.TotalInstances != 2 || st.FailedInstances != 0 {
			return false
		}
		for _, inst := range st.Instances {
			if inst.ID == exhausted {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond, "exhausted instance should be superseded")
}

func TestCriticalFailureThenRollback(t *testing.T) {
	proc := newScriptedProcess()
	proc.failFirst["t0"] = 1000
	h := newHarness(t, proc, 1, nil)

	s := runAndWait(t, h, chainPlan("wf-abort", models.AgentTypeResearch))

	require.Equal(t, models.ExecutionFailed, s.State)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "t0", s.Failures[0].TaskID)
	assert.Equal(t, 3, s.Failures[0].RetryCount)
	assert.ElementsMatch(t,
		[]string{models.RemediationAbortWorkflow, models.RemediationSkipTask, models.RemediationManualIntervention},
		s.Failures[0].Remediations)
	require.NotEmpty(t, s.Checkpoints)
	assert.Equal(t, models.PhaseWorkflowStarted, s.Checkpoints[0].Phase)

	// Roll back to the start checkpoint: counters restored, state revived.
	require.NoError(t, h.ex.Rollback(s.ExecutionID, s.Checkpoints[0].ID))
	got, err := h.ex.Status(context.Background(), s.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, got.State)
	assert.Equal(t, 0, got.CurrentStep)
	assert.Equal(t, 0.0, got.Progress)
	require.NotNil(t, got.Rollback)
	assert.Equal(t, s.Checkpoints[0].ID, got.Rollback.CheckpointID)

	// The revived execution is under active management again.
	ids := make([]string, 0)
	for _, a := range h.ex.ActiveExecutions() {
		ids = append(ids, a.ExecutionID)
	}
	assert.Contains(t, ids, s.ExecutionID)
	require.NoError(t, h.ex.Cancel(s.ExecutionID))
}

func TestRollbackUnknownCheckpoint(t *testing.T) {
	proc := newScriptedProcess()
	proc.hold = make(chan struct{})
	defer close(proc.hold)
	h := newHarness(t, proc, 1, nil)

	id, err := h.ex.Execute(context.Background(), nil,
		chainPlan("wf-nocp", models.AgentTypePM), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.ex.Cancel(id) })

	// The named checkpoint does not exist.
	assert.ErrorIs(t, h.ex.Rollback(id, "cp-missing"), ErrNoCheckpoint)
}

func TestSkipTaskKeepsDependentsBlocked(t *testing.T) {
	proc := newScriptedProcess()
	proc.delay = 40 * time.Millisecond
	h := newHarness(t, proc, 1, nil)

	done := make(chan Snapshot, 1)
	id, err := h.ex.Execute(context.Background(), nil,
		chainPlan("wf-skip", models.AgentTypeResearch, models.AgentTypeImplementation, models.AgentTypeQualityJudge),
		&Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)

	// t1 is still pending: skipping it leaves t2 permanently blocked.
	require.NoError(t, h.ex.SkipTask(id, "t1"))

	select {
	case s := <-done:
		assert.Equal(t, models.ExecutionFailed, s.State)
		assert.Contains(t, s.Reason, "depends on failed task")
		assert.Equal(t, []string{"t0"}, s.Completed)
		assert.ElementsMatch(t, []string{"t1", "t2"}, s.Failed)
		assertSnapshotInvariants(t, s)
	case <-time.After(10 * time.Second):
		t.Fatal("execution did not finish")
	}
}

func TestSkipLastTaskFailsWorkflow(t *testing.T) {
	proc := newScriptedProcess()
	proc.delay = 40 * time.Millisecond
	h := newHarness(t, proc, 1, nil)

	done := make(chan Snapshot, 1)
	id, err := h.ex.Execute(context.Background(), nil,
		chainPlan("wf-skip-last", models.AgentTypeResearch, models.AgentTypeQualityJudge),
		&Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)
	require.NoError(t, h.ex.SkipTask(id, "t1"))

	select {
	case s := <-done:
		assert.Equal(t, models.ExecutionFailed, s.State)
		assert.Equal(t, []string{"t0"}, s.Completed)
		assert.Equal(t, []string{"t1"}, s.Failed)
	case <-time.After(10 * time.Second):
		t.Fatal("execution did not finish")
	}
}

func TestPauseSuspendsDispatch(t *testing.T) {
	proc := newScriptedProcess()
	proc.delay = 50 * time.Millisecond
	h := newHarness(t, proc, 1, nil)

	done := make(chan Snapshot, 1)
	id, err := h.ex.Execute(context.Background(), nil,
		chainPlan("wf-pause", models.AgentTypePM, models.AgentTypeSA, models.AgentTypeImplementation),
		&Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)

	// Wait for the run loop to reach RUNNING, then pause.
	require.Eventually(t, func() bool {
		s, err := h.ex.Status(context.Background(), id)
		return err == nil && s.State == models.ExecutionRunning
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.ex.Pause(id))

	// The in-flight task may finish, but nothing new starts while paused.
	time.Sleep(150 * time.Millisecond)
	calls := proc.callCount("t0") + proc.callCount("t1") + proc.callCount("t2")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, calls, proc.callCount("t0")+proc.callCount("t1")+proc.callCount("t2"),
		"no new dispatches while paused")
	s, err := h.ex.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPaused, s.State)

	require.NoError(t, h.ex.Resume(id))
	select {
	case s := <-done:
		assert.Equal(t, models.ExecutionCompleted, s.State)
	case <-time.After(10 * time.Second):
		t.Fatal("resumed execution did not finish")
	}

	// Pause requires RUNNING.
	assert.ErrorIs(t, h.ex.Pause(id), ErrInvalidTransition)
}

func TestExecuteRefusesOverCapacity(t *testing.T) {
	proc := newScriptedProcess()
	proc.hold = make(chan struct{})
	defer close(proc.hold)
	h := newHarness(t, proc, 1, func(cfg *config.OrchestratorConfig) {
		cfg.MaxConcurrentWorkflows = 1
	})

	id, err := h.ex.Execute(context.Background(), nil,
		chainPlan("wf-one", models.AgentTypePM), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.ex.Cancel(id) })

	_, err = h.ex.Execute(context.Background(), nil,
		chainPlan("wf-two", models.AgentTypeSA), nil)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestExecuteValidation(t *testing.T) {
	proc := newScriptedProcess()
	h := newHarness(t, proc, 1, nil)

	_, err := h.ex.Execute(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, models.ErrNoPlanAvailable)

	bad := &models.WorkflowPlan{ID: "wf-bad", Pattern: "sideways"}
	_, err = h.ex.Execute(context.Background(), nil, bad, nil)
	assert.ErrorIs(t, err, models.ErrInvalidPlan)
}

func TestExecuteGeneratesPlanFromRequest(t *testing.T) {
	proc := newScriptedProcess()
	h := newHarness(t, proc, 1, nil)

	done := make(chan Snapshot, 1)
	_, err := h.ex.Execute(context.Background(),
		&models.ClarifiedRequest{ID: "req-bug", Summary: "fix the login crash", Kind: "bugfix"},
		nil, &Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)

	select {
	case s := <-done:
		assert.Equal(t, models.ExecutionCompleted, s.State)
		assert.Equal(t, 3, s.TotalSteps, "bug-fix template has three stages")
	case <-time.After(10 * time.Second):
		t.Fatal("generated plan did not finish")
	}
}

func TestStatusUnknownExecution(t *testing.T) {
	proc := newScriptedProcess()
	h := newHarness(t, proc, 1, nil)

	_, err := h.ex.Status(context.Background(), "exec-unknown")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.ErrorIs(t, h.ex.Pause("exec-unknown"), ErrExecutionNotFound)
}

func TestTaskTimeoutEscalatesToFailure(t *testing.T) {
	proc := newScriptedProcess()
	proc.delay = 150 * time.Millisecond
	h := newHarness(t, proc, 1, func(cfg *config.OrchestratorConfig) {
		cfg.TaskTimeout = 40 * time.Millisecond
	})

	s := runAndWait(t, h, chainPlan("wf-timeout", models.AgentTypeBA))

	require.Equal(t, models.ExecutionFailed, s.State)
	require.Len(t, s.Failures, 1)
	assert.Contains(t, s.Failures[0].Error, "timed out")

	// Timed-out dispatches count against the owning instance's pool stats.
	pl, err := h.pools.Pool(models.AgentTypeBA)
	require.NoError(t, err)
	st := pl.Status()
	assert.Positive(t, st.TasksFailed)
	assert.Zero(t, st.TasksCompleted)
}

func TestRetryBackoffReleasesDispatchCapacity(t *testing.T) {
	proc := newScriptedProcess()
	proc.failFirst["t0"] = 1
	proc.failFirst["t1"] = 1

	pools := pool.NewManager(testPoolsConfig(1, 3), proc, nil, nil)
	require.NoError(t, pools.Start(context.Background()))
	t.Cleanup(func() { _ = pools.Cleanup(context.Background()) })

	cfg := &config.OrchestratorConfig{
		MaxConcurrentWorkflows: 1, // dispatch group of two slots
		TaskTimeout:            2 * time.Second,
		ExecutionTimeout:       time.Minute,
		HeartbeatInterval:      25 * time.Millisecond,
		CheckpointEvery:        3,
		MaxRetries:             3,
		HistorySize:            16,
	}
	ex := New(cfg, pools, Options{
		Store: store.NewMemory(),
		// Long backoff so a held slot would be observable.
		Strategy: recovery.NewStrategy(cfg.MaxRetries, time.Second),
	})
	require.NoError(t, ex.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ex.Stop(ctx)
	})

	pl := &models.WorkflowPlan{
		ID:      "wf-backoff",
		Pattern: models.PatternParallelExecution,
		Assignments: []models.AgentAssignment{
			{Role: models.AgentTypePM},
			{Role: models.AgentTypeBA},
			{Role: models.AgentTypeSA},
			{Role: models.AgentTypeResearch},
		},
	}
	done := make(chan Snapshot, 1)
	_, err := ex.Execute(context.Background(), &models.ClarifiedRequest{ID: "req-1"}, pl,
		&Callbacks{OnFinish: func(s Snapshot) { done <- s }})
	require.NoError(t, err)

	// Both slots were taken by t0 and t1, which fail and enter a one
	// second backoff. The remaining tasks must dispatch long before that
	// backoff elapses.
	require.Eventually(t, func() bool {
		return proc.callCount("t2") > 0 && proc.callCount("t3") > 0
	}, 500*time.Millisecond, 10*time.Millisecond,
		"backoff must not hold dispatch slots")

	select {
	case s := <-done:
		assert.Equal(t, models.ExecutionCompleted, s.State)
		assert.Len(t, s.Completed, 4)
	case <-time.After(15 * time.Second):
		t.Fatal("execution did not finish")
	}
}

func TestStatusFallsBackToStore(t *testing.T) {
	proc := newScriptedProcess()
	h := newHarness(t, proc, 1, func(cfg *config.OrchestratorConfig) {
		cfg.HistorySize = 1
	})

	first := runAndWait(t, h, chainPlan("wf-a", models.AgentTypePM))
	second := runAndWait(t, h, chainPlan("wf-b", models.AgentTypeSA))

	// The one-slot history evicted the first execution; Status serves it
	// from the persistent envelope.
	s, err := h.ex.Status(context.Background(), first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, s.State)
	assert.Equal(t, 100.0, s.Progress)
	assert.NotEmpty(t, s.Checkpoints)
	assert.Empty(t, s.Pending, "store fallback carries no task sets")

	s, err = h.ex.Status(context.Background(), second.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, s.State)
}
