// Package pool manages the fleet of same-role agent instances behind a
// pluggable load balancer. Each pool owns one monitor goroutine that
// supervises instance health, evaluates auto-scaling thresholds and drains
// the pool queue to idle instances.
//
// Work enters through Assign. When at least one idle instance exists the
// balancer picks a target among all live instances and the task is handed
// over immediately; otherwise the task waits in the pool queue until
// capacity frees up or the scaler adds an instance.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/metrics"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// Pool runs the instances of a single agent role.
type Pool struct {
	role    models.AgentType
	cfg     *config.PoolConfig
	process agent.Process
	bus     *events.Bus
	metrics *metrics.Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	// nudge wakes the monitor between ticks when work queues up.
	nudge chan struct{}

	mu        sync.Mutex
	started   bool
	closed    bool
	instances []*agent.Instance
	// backlog holds tasks no instance could take yet. Tasks rescued from a
	// failed or retiring instance go back to the front.
	backlog []*agent.Pending
	rr      uint64

	scaling       bool
	lastScaleUp   time.Time
	lastScaleDown time.Time

	tasksCompleted int
	tasksFailed    int
	respSamples    int
	avgRespSeconds float64
	qualitySamples int
	avgQuality     float64
	peakLoad       float64
}

// Status is a point-in-time snapshot of a pool.
type Status struct {
	Role               models.AgentType             `json:"role"`
	Strategy           models.LoadBalancingStrategy `json:"strategy"`
	TotalInstances     int                          `json:"total_instances"`
	IdleInstances      int                          `json:"idle_instances"`
	BusyInstances      int                          `json:"busy_instances"`
	FailedInstances    int                          `json:"failed_instances"`
	QueuedTasks        int                          `json:"queued_tasks"`
	TasksCompleted     int                          `json:"tasks_completed"`
	TasksFailed        int                          `json:"tasks_failed"`
	SuccessRate        float64                      `json:"success_rate"`
	AvgResponseSeconds float64                      `json:"avg_response_seconds"`
	AvgQuality         float64                      `json:"avg_quality"`
	CurrentLoad        float64                      `json:"current_load"`
	PeakLoad           float64                      `json:"peak_load"`
	Instances          []agent.InstanceStatus       `json:"instances,omitempty"`
}

// New creates a pool for one role. bus and m may be nil when eventing or
// metrics are not wired.
func New(role models.AgentType, cfg *config.PoolConfig, process agent.Process, bus *events.Bus, m *metrics.Metrics) *Pool {
	if cfg == nil {
		panic("pool.New: cfg must not be nil")
	}
	if process == nil {
		panic("pool.New: process must not be nil")
	}
	return &Pool{
		role:    role,
		cfg:     cfg,
		process: process,
		bus:     bus,
		metrics: m,
		stopCh:  make(chan struct{}),
		nudge:   make(chan struct{}, 1),
	}
}

// Start brings the pool to its minimum size and launches the monitor.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.started {
		p.mu.Unlock()
		slog.Warn("Pool already started", "role", string(p.role))
		return nil
	}
	p.started = true
	p.mu.Unlock()

	created := make([]*agent.Instance, 0, p.cfg.Scaling.MinInstances)
	for len(created) < p.cfg.Scaling.MinInstances {
		inst := p.newInstance()
		if err := inst.Initialize(ctx); err != nil {
			for _, prev := range created {
				_ = prev.Cleanup(ctx)
			}
			p.mu.Lock()
			p.started = false
			p.mu.Unlock()
			return fmt.Errorf("initializing %s instance: %w", p.role, err)
		}
		created = append(created, inst)
	}

	p.mu.Lock()
	p.instances = append(p.instances, created...)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runMonitor(ctx)

	slog.Info("Pool started",
		"role", string(p.role),
		"strategy", string(p.cfg.Strategy),
		"min_instances", p.cfg.Scaling.MinInstances,
		"max_instances", p.cfg.Scaling.MaxInstances)
	return nil
}

// Assign hands a task to an instance chosen by the configured strategy.
// When no instance is idle the task is queued, a nil instance is returned
// and the monitor places the task as soon as capacity appears.
func (p *Pool) Assign(pending *agent.Pending) (*agent.Instance, error) {
	if pending == nil || pending.Task() == nil {
		return nil, errors.New("assign: nil task")
	}
	if pending.Task().AgentType != p.role {
		return nil, fmt.Errorf("%w: task %s wants %s, pool is %s",
			ErrRoleMismatch, pending.Task().ID, pending.Task().AgentType, p.role)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	cands := p.candidatesLocked()
	if countIdle(cands) == 0 {
		p.backlog = append(p.backlog, pending)
		depth := len(p.backlog)
		p.mu.Unlock()
		p.wake()
		slog.Debug("Task queued, no idle instance",
			"role", string(p.role), "task_id", pending.Task().ID, "queue_depth", depth)
		return nil, nil
	}

	idx := selectCandidate(p.cfg.Strategy, cands, p.rr)
	inst := cands[idx].inst
	if err := inst.EnqueuePending(pending); err != nil {
		// The chosen instance raced into an unassignable state. Queue the
		// task and let the monitor place it.
		p.backlog = append(p.backlog, pending)
		p.mu.Unlock()
		p.wake()
		return nil, nil
	}
	p.rr++
	p.mu.Unlock()
	return inst, nil
}

// Complete records the outcome of a task that ran on instanceID. When
// queued work exists and the instance is already idle again, the frontmost
// task is handed straight to it and the instance returned.
func (p *Pool) Complete(instanceID string, success bool, execTime time.Duration, quality float64) *agent.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	if success {
		p.tasksCompleted++
	} else {
		p.tasksFailed++
	}
	p.respSamples++
	p.avgRespSeconds += (execTime.Seconds() - p.avgRespSeconds) / float64(p.respSamples)
	if quality > 0 {
		p.qualitySamples++
		p.avgQuality += (models.Clamp01(quality) - p.avgQuality) / float64(p.qualitySamples)
	}

	inst := p.findLocked(instanceID)
	if inst == nil || len(p.backlog) == 0 {
		return nil
	}
	if inst.Status().State != models.InstanceIdle {
		return nil
	}
	if err := inst.EnqueuePending(p.backlog[0]); err != nil {
		return nil
	}
	p.backlog = p.backlog[1:]
	return inst
}

// ReleaseFailed takes instanceID out of rotation by marking it failed.
// The instance stops accepting work immediately; the monitor's next health
// pass rescues its queue and refills the pool to its minimum size.
func (p *Pool) ReleaseFailed(instanceID string, cause error) {
	p.mu.Lock()
	inst := p.findLocked(instanceID)
	p.mu.Unlock()
	if inst == nil {
		return
	}
	inst.MarkFailed(cause)
	p.wake()
}

// Status reports the pool snapshot, including per-instance detail.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pool) statusLocked() Status {
	st := Status{
		Role:               p.role,
		Strategy:           p.cfg.Strategy,
		TotalInstances:     len(p.instances),
		QueuedTasks:        len(p.backlog),
		TasksCompleted:     p.tasksCompleted,
		TasksFailed:        p.tasksFailed,
		AvgResponseSeconds: p.avgRespSeconds,
		AvgQuality:         p.avgQuality,
	}
	if total := p.tasksCompleted + p.tasksFailed; total > 0 {
		st.SuccessRate = float64(p.tasksCompleted) / float64(total)
	}

	var cands []candidate
	for _, inst := range p.instances {
		s := inst.Status()
		st.Instances = append(st.Instances, s)
		switch s.State {
		case models.InstanceIdle:
			st.IdleInstances++
		case models.InstanceBusy:
			st.BusyInstances++
		case models.InstanceFailed:
			st.FailedInstances++
		}
		if s.State.CanAcceptWork() {
			cands = append(cands, candidate{inst: inst, status: s})
		}
	}
	st.CurrentLoad = averageLoad(cands)
	if st.CurrentLoad > p.peakLoad {
		p.peakLoad = st.CurrentLoad
	}
	st.PeakLoad = p.peakLoad
	return st
}

// ForceScale is the operator override: it grows or shrinks the pool to
// target immediately, skipping thresholds and cooldowns. The target must
// stay within the configured min/max bounds.
func (p *Pool) ForceScale(ctx context.Context, target int) error {
	if target < p.cfg.Scaling.MinInstances || target > p.cfg.Scaling.MaxInstances {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidTarget,
			target, p.cfg.Scaling.MinInstances, p.cfg.Scaling.MaxInstances)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.scaling {
		p.mu.Unlock()
		return ErrScalingInFlight
	}
	p.scaling = true
	p.mu.Unlock()
	defer p.clearScaling()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		current := len(p.instances)
		if current == target {
			// Stamp both cooldowns so the auto-scaler does not undo the
			// operator's change on the next tick.
			p.lastScaleUp = time.Now()
			p.lastScaleDown = p.lastScaleUp
			p.mu.Unlock()
			slog.Info("Pool scaled by operator", "role", string(p.role), "instances", target)
			return nil
		}
		if current < target {
			p.mu.Unlock()
			if _, err := p.addInstance(ctx, "operator scale"); err != nil {
				return err
			}
			continue
		}
		victim := p.victimLocked(false)
		if victim == nil {
			p.mu.Unlock()
			return fmt.Errorf("no removable instance in %s pool", p.role)
		}
		victim.MarkScalingDown()
		p.removeLocked(victim)
		p.mu.Unlock()
		p.retire(ctx, victim, "operator scale")
	}
}

// Cleanup retires every instance and fails any tasks still waiting in the
// pool queue. Safe to call more than once.
func (p *Pool) Cleanup(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	insts := p.instances
	p.instances = nil
	backlog := p.backlog
	p.backlog = nil
	p.mu.Unlock()

	for _, inst := range insts {
		inst.MarkScalingDown()
	}

	var errs []error
	for _, inst := range insts {
		if err := inst.Cleanup(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	cancelAll(backlog)

	slog.Info("Pool cleaned up",
		"role", string(p.role),
		"instances_stopped", len(insts),
		"tasks_cancelled", len(backlog))
	return errors.Join(errs...)
}

// runMonitor is the single supervision loop: health first, then scaling,
// then the queue backstop, then gauges.
func (p *Pool) runMonitor(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ScalerInterval)
	defer ticker.Stop()

	log := slog.With("role", string(p.role))
	log.Debug("Pool monitor started", "interval", p.cfg.ScalerInterval)

	for {
		select {
		case <-p.stopCh:
			log.Debug("Pool monitor stopped")
			return
		case <-ctx.Done():
			log.Debug("Pool monitor stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
		case <-p.nudge:
		}

		p.superviseFailed(ctx)
		p.evaluateScaling(ctx)
		p.dispatchBacklog()
		p.observe()
	}
}

// superviseFailed rescues the queues of failed instances, removes the
// husks and refills the pool to its minimum size.
func (p *Pool) superviseFailed(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var failed []*agent.Instance
	for _, inst := range p.instances {
		if inst.Failed() {
			failed = append(failed, inst)
		}
	}
	if len(failed) > 0 {
		live := make([]*agent.Instance, 0, len(p.instances)-len(failed))
		for _, inst := range p.instances {
			if !inst.Failed() {
				live = append(live, inst)
			}
		}
		p.instances = live
	}
	p.mu.Unlock()

	for _, inst := range failed {
		rescued := inst.TakePending()
		_ = inst.Cleanup(ctx)

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			cancelAll(rescued)
			continue
		}
		p.requeueFrontLocked(rescued)
		depth := len(p.backlog)
		size := len(p.instances)
		p.mu.Unlock()

		slog.Warn("Failed instance removed",
			"role", string(p.role),
			"instance_id", inst.ID(),
			"tasks_rescued", len(rescued),
			"queue_depth", depth)
		if p.bus != nil {
			p.bus.PublishScaling(events.ScalingPayload{
				Role:       p.role,
				Direction:  events.ScaleDirectionDown,
				InstanceID: inst.ID(),
				Instances:  size,
				QueueDepth: depth,
				Reason:     "instance failed",
			})
		}
	}

	// Refill to the floor. When another scaling operation holds the flag
	// the next tick catches up.
	for {
		p.mu.Lock()
		if p.closed || p.scaling || len(p.instances) >= p.cfg.Scaling.MinInstances {
			p.mu.Unlock()
			return
		}
		p.scaling = true
		p.mu.Unlock()

		_, err := p.addInstance(ctx, "replacing failed instance")
		p.clearScaling()
		if err != nil {
			slog.Error("Pool refill failed", "role", string(p.role), "error", err)
			return
		}
	}
}

// evaluateScaling applies the threshold rules. At most one scaling step
// happens per pass.
func (p *Pool) evaluateScaling(ctx context.Context) {
	p.mu.Lock()
	if p.closed || p.scaling {
		p.mu.Unlock()
		return
	}
	cands := p.candidatesLocked()
	load := averageLoad(cands)
	if load > p.peakLoad {
		p.peakLoad = load
	}
	depth := len(p.backlog)
	size := len(p.instances)
	now := time.Now()
	th := p.cfg.Scaling

	overloaded := load > th.ScaleUpLoad || depth > th.QueueThreshold
	if overloaded && size < th.MaxInstances && now.Sub(p.lastScaleUp) >= th.ScaleUpCooldown {
		reason := "load above threshold"
		if load <= th.ScaleUpLoad {
			reason = "queue depth above threshold"
		}
		p.scaling = true
		p.lastScaleUp = now
		p.mu.Unlock()

		inst, err := p.addInstance(ctx, reason)
		p.clearScaling()
		if err != nil {
			slog.Error("Scale up failed", "role", string(p.role), "error", err)
			return
		}
		// A fresh instance goes straight to work when tasks are waiting.
		p.handOff(inst)
		return
	}

	relaxed := load < th.ScaleDownLoad && depth == 0
	if relaxed && size > th.MinInstances && now.Sub(p.lastScaleDown) >= th.ScaleDownCooldown {
		victim := p.victimLocked(true)
		if victim == nil {
			p.mu.Unlock()
			return
		}
		p.scaling = true
		p.lastScaleDown = now
		victim.MarkScalingDown()
		p.removeLocked(victim)
		p.mu.Unlock()

		p.retire(ctx, victim, "load below threshold")
		p.clearScaling()
		return
	}
	p.mu.Unlock()
}

// dispatchBacklog hands queued tasks over while an idle instance exists.
// This is the liveness backstop; the fast paths in Assign and Complete
// place most work directly.
func (p *Pool) dispatchBacklog() {
	for {
		p.mu.Lock()
		if p.closed || len(p.backlog) == 0 {
			p.mu.Unlock()
			return
		}
		cands := p.candidatesLocked()
		if countIdle(cands) == 0 {
			p.mu.Unlock()
			return
		}
		idx := selectCandidate(p.cfg.Strategy, cands, p.rr)
		if err := cands[idx].inst.EnqueuePending(p.backlog[0]); err != nil {
			p.mu.Unlock()
			return
		}
		p.backlog = p.backlog[1:]
		p.rr++
		p.mu.Unlock()
	}
}

// observe refreshes the gauges and the peak load figure.
func (p *Pool) observe() {
	st := p.Status()
	p.metrics.SetPoolStatus(p.role, st.TotalInstances, st.QueuedTasks, st.CurrentLoad)
}

// addInstance spins up one instance and registers it. The caller owns the
// scaling flag.
func (p *Pool) addInstance(ctx context.Context, reason string) (*agent.Instance, error) {
	inst := p.newInstance()
	if err := inst.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing %s instance: %w", p.role, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = inst.Cleanup(ctx)
		return nil, ErrPoolClosed
	}
	p.instances = append(p.instances, inst)
	size := len(p.instances)
	depth := len(p.backlog)
	load := averageLoad(p.candidatesLocked())
	p.mu.Unlock()

	slog.Info("Pool added instance",
		"role", string(p.role),
		"instance_id", inst.ID(),
		"instances", size,
		"reason", reason)
	p.metrics.ScaleUp(p.role)
	if p.bus != nil {
		p.bus.PublishScaling(events.ScalingPayload{
			Role:       p.role,
			Direction:  events.ScaleDirectionUp,
			InstanceID: inst.ID(),
			Instances:  size,
			Load:       load,
			QueueDepth: depth,
			Reason:     reason,
		})
	}
	return inst, nil
}

// retire stops a victim that was already removed from the roster, rescuing
// anything left in its queue.
func (p *Pool) retire(ctx context.Context, victim *agent.Instance, reason string) {
	rescued := victim.TakePending()
	if err := victim.Cleanup(ctx); err != nil {
		slog.Warn("Instance cleanup during scale down",
			"role", string(p.role), "instance_id", victim.ID(), "error", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancelAll(rescued)
		return
	}
	p.requeueFrontLocked(rescued)
	size := len(p.instances)
	depth := len(p.backlog)
	load := averageLoad(p.candidatesLocked())
	p.mu.Unlock()

	slog.Info("Pool removed instance",
		"role", string(p.role),
		"instance_id", victim.ID(),
		"instances", size,
		"reason", reason)
	p.metrics.ScaleDown(p.role)
	if p.bus != nil {
		p.bus.PublishScaling(events.ScalingPayload{
			Role:       p.role,
			Direction:  events.ScaleDirectionDown,
			InstanceID: victim.ID(),
			Instances:  size,
			Load:       load,
			QueueDepth: depth,
			Reason:     reason,
		})
	}
}

// handOff gives the instance the frontmost queued task, if any.
func (p *Pool) handOff(inst *agent.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.backlog) == 0 {
		return
	}
	if err := inst.EnqueuePending(p.backlog[0]); err != nil {
		return
	}
	p.backlog = p.backlog[1:]
}

// victimLocked picks the instance cheapest to retire: the idle instance
// with the shortest queue, or with idleOnly false the least connected busy
// one as a fallback. Failed instances are the health pass's business and
// are never victims.
func (p *Pool) victimLocked(idleOnly bool) *agent.Instance {
	var idleVictim, busyVictim *agent.Instance
	idleBest, busyBest := 0, 0
	for _, inst := range p.instances {
		s := inst.Status()
		switch s.State {
		case models.InstanceIdle:
			if idleVictim == nil || s.QueueLength < idleBest {
				idleVictim, idleBest = inst, s.QueueLength
			}
		case models.InstanceBusy:
			if busyVictim == nil || connectionCount(s) < busyBest {
				busyVictim, busyBest = inst, connectionCount(s)
			}
		}
	}
	if idleVictim != nil || idleOnly {
		return idleVictim
	}
	return busyVictim
}

func (p *Pool) newInstance() *agent.Instance {
	return agent.NewInstance(p.role, p.process, agent.Options{
		QueueSize:    p.cfg.InstanceQueueSize,
		DrainTimeout: p.cfg.DrainTimeout,
	})
}

// candidatesLocked snapshots the live (idle or busy) instances.
func (p *Pool) candidatesLocked() []candidate {
	cands := make([]candidate, 0, len(p.instances))
	for _, inst := range p.instances {
		st := inst.Status()
		if st.State.CanAcceptWork() {
			cands = append(cands, candidate{inst: inst, status: st})
		}
	}
	return cands
}

func (p *Pool) findLocked(instanceID string) *agent.Instance {
	for _, inst := range p.instances {
		if inst.ID() == instanceID {
			return inst
		}
	}
	return nil
}

// requeueFrontLocked puts rescued tasks ahead of everything already queued.
func (p *Pool) requeueFrontLocked(pendings []*agent.Pending) {
	if len(pendings) == 0 {
		return
	}
	merged := make([]*agent.Pending, 0, len(pendings)+len(p.backlog))
	merged = append(merged, pendings...)
	merged = append(merged, p.backlog...)
	p.backlog = merged
}

func (p *Pool) removeLocked(victim *agent.Instance) {
	for i, inst := range p.instances {
		if inst == victim {
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
			return
		}
	}
}

func (p *Pool) clearScaling() {
	p.mu.Lock()
	p.scaling = false
	p.mu.Unlock()
}

// wake nudges the monitor without waiting for the next tick.
func (p *Pool) wake() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// cancelAll fails tasks that will never run, honoring the one-delivery
// contract of Pending.
func cancelAll(pendings []*agent.Pending) {
	for _, pending := range pendings {
		_ = pending.Task().Cancel()
		pending.Deliver(models.NewCancelledResult(pending.Task().ID, ""))
	}
}
