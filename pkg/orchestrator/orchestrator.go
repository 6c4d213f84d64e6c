// Package orchestrator runs workflow plans to a terminal state. The
// Executor owns the authoritative map of active executions, drives each
// plan's task graph per its orchestration pattern, enforces dependencies,
// and routes every task failure through the recovery strategy.
//
// Concurrency contract: each execution has one drive goroutine; per-task
// dispatches of parallel-pattern workflows run on a bounded worker group
// shared by all executions (weight max_concurrent_workflows x 2).
// Sequential-pattern workflows consume one worker at a time from the same
// group. A background monitor enforces the execution age limit.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/metrics"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/plan"
	"github.com/dirigent-io/dirigent/pkg/pool"
	"github.com/dirigent-io/dirigent/pkg/recovery"
	"github.com/dirigent-io/dirigent/pkg/store"
)

// driveIdleWait bounds how long the drive loop waits for a wakeup before
// rescanning the ready set.
const driveIdleWait = 50 * time.Millisecond

// Options carries the executor's optional collaborators. Zero values get
// working defaults: the built-in template generator, an in-memory store,
// the default recovery strategy, no events, no metrics.
type Options struct {
	Generator plan.Generator
	Store     store.ExecutionStore
	Strategy  *recovery.Strategy
	Bus       *events.Bus
	Metrics   *metrics.Metrics
}

// Counters is the executor-level observability summary returned by Metrics.
type Counters struct {
	ActiveExecutions   int     `json:"active_executions"`
	HistoricalRetained int     `json:"historical_retained"`
	WorkflowsStarted   uint64  `json:"workflows_started"`
	WorkflowsCompleted uint64  `json:"workflows_completed"`
	WorkflowsFailed    uint64  `json:"workflows_failed"`
	WorkflowsCancelled uint64  `json:"workflows_cancelled"`
	TaskSuccessRate    float64 `json:"task_success_rate"`
}

// Executor coordinates agent pools to run workflow executions.
type Executor struct {
	cfg      *config.OrchestratorConfig
	pools    *pool.Manager
	gen      plan.Generator
	store    store.ExecutionStore
	strategy *recovery.Strategy
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// dispatch is the bounded worker group shared by every execution.
	dispatch *semaphore.Weighted

	// baseCtx parents every dispatch context; Stop cancels it so blocked
	// semaphore acquires and in-flight waits unwind.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.RWMutex
	active  map[string]*Execution
	history *lru.Cache[string, *Execution]

	started    uint64
	completed  uint64
	failed     uint64
	cancelled  uint64
	rateKnown  bool
	successEMA float64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an executor over the given pools. cfg and pools must not be
// nil; everything in opts may be zero.
func New(cfg *config.OrchestratorConfig, pools *pool.Manager, opts Options) *Executor {
	if cfg == nil {
		panic("orchestrator.New: cfg must not be nil")
	}
	if pools == nil {
		panic("orchestrator.New: pools must not be nil")
	}
	if opts.Generator == nil {
		opts.Generator = plan.NewTemplateGenerator()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Strategy == nil {
		opts.Strategy = recovery.NewStrategy(cfg.MaxRetries, recovery.DefaultMaxDelay)
	}
	history, err := lru.New[string, *Execution](cfg.HistorySize)
	if err != nil {
		// Only reachable with a non-positive size, which validation rejects.
		history, _ = lru.New[string, *Execution](1)
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:        cfg,
		pools:      pools,
		gen:        opts.Generator,
		store:      opts.Store,
		strategy:   opts.Strategy,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     slog.With("component", "executor"),
		dispatch:   semaphore.NewWeighted(int64(cfg.MaxConcurrentWorkflows) * 2),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		active:     make(map[string]*Execution),
		history:    history,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the background monitor.
func (e *Executor) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.runMonitor()
	e.logger.Info("Workflow executor started",
		"max_concurrent_workflows", e.cfg.MaxConcurrentWorkflows,
		"task_timeout", e.cfg.TaskTimeout.String())
	return nil
}

// Stop shuts the executor down: no new work is accepted, drive loops wind
// down, and every still-active execution's snapshot is persisted so it can
// be inspected after restart.
func (e *Executor) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.baseCancel()
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("Executor stop timed out waiting for drive loops")
	}

	e.mu.RLock()
	remaining := make([]*Execution, 0, len(e.active))
	for _, exec := range e.active {
		remaining = append(remaining, exec)
	}
	e.mu.RUnlock()
	for _, exec := range remaining {
		e.persist(exec)
	}
	e.logger.Info("Workflow executor stopped", "interrupted_executions", len(remaining))
	return nil
}

func (e *Executor) stopping() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// persist writes the execution's envelope, logging and swallowing store
// errors: persistence is best-effort and must never stall the drive loop.
func (e *Executor) persist(exec *Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.SaveSnapshot(ctx, exec.envelope()); err != nil {
		e.logger.Warn("Failed to persist execution snapshot",
			"execution_id", exec.ID(), "error", err)
	}
}

// transition applies a guarded state change and broadcasts it.
func (e *Executor) transition(exec *Execution, next models.ExecutionState, reason string) error {
	exec.mu.Lock()
	from := exec.state
	if err := exec.transitionLocked(next, reason); err != nil {
		exec.mu.Unlock()
		return err
	}
	progress := exec.progress
	exec.mu.Unlock()

	if e.bus != nil {
		e.bus.PublishWorkflowState(exec.ID(), events.WorkflowStatePayload{
			WorkflowID: exec.workflowID,
			From:       from,
			To:         next,
			Progress:   progress,
			Reason:     reason,
		})
	}
	return nil
}

// noteTaskOutcome folds one task outcome into the exponential moving
// average of task success (alpha 0.1; the first sample seeds the average).
func (e *Executor) noteTaskOutcome(success bool) {
	v := 0.0
	if success {
		v = 1.0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rateKnown {
		e.successEMA = v
		e.rateKnown = true
		return
	}
	e.successEMA = 0.1*v + 0.9*e.successEMA
}

// Metrics returns the executor-level counters.
func (e *Executor) Metrics() Counters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Counters{
		ActiveExecutions:   len(e.active),
		HistoricalRetained: e.history.Len(),
		WorkflowsStarted:   e.started,
		WorkflowsCompleted: e.completed,
		WorkflowsFailed:    e.failed,
		WorkflowsCancelled: e.cancelled,
		TaskSuccessRate:    e.successEMA,
	}
}
