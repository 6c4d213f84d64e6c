package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/metrics"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// Manager owns one pool per agent role and routes work by task role.
type Manager struct {
	pools map[models.AgentType]*Pool
	roles []models.AgentType
}

// NewManager builds a pool for every known role from the resolved
// configuration. bus and m may be nil.
func NewManager(cfg *config.PoolsConfig, process agent.Process, bus *events.Bus, m *metrics.Metrics) *Manager {
	if cfg == nil {
		panic("pool.NewManager: cfg must not be nil")
	}
	mgr := &Manager{
		pools: make(map[models.AgentType]*Pool, len(models.AllAgentTypes())),
		roles: models.AllAgentTypes(),
	}
	for _, role := range mgr.roles {
		mgr.pools[role] = New(role, cfg.ForRole(role), process, bus, m)
	}
	return mgr
}

// Start starts every pool. The first failure stops the rollout and cleans
// up the pools that already started.
func (mgr *Manager) Start(ctx context.Context) error {
	var started []*Pool
	for _, role := range mgr.roles {
		pl := mgr.pools[role]
		if err := pl.Start(ctx); err != nil {
			for _, prev := range started {
				_ = prev.Cleanup(ctx)
			}
			return fmt.Errorf("starting %s pool: %w", role, err)
		}
		started = append(started, pl)
	}
	slog.Info("Pool manager started", "pools", len(mgr.pools))
	return nil
}

// Pool returns the pool for one role.
func (mgr *Manager) Pool(role models.AgentType) (*Pool, error) {
	pl, ok := mgr.pools[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return pl, nil
}

// Assign routes the task to the pool of its role.
func (mgr *Manager) Assign(pending *agent.Pending) (*agent.Instance, error) {
	if pending == nil || pending.Task() == nil {
		return nil, errors.New("assign: nil task")
	}
	pl, err := mgr.Pool(pending.Task().AgentType)
	if err != nil {
		return nil, err
	}
	return pl.Assign(pending)
}

// Complete forwards a completion to the pool of the given role.
func (mgr *Manager) Complete(role models.AgentType, instanceID string, success bool, execTime time.Duration, quality float64) *agent.Instance {
	pl, err := mgr.Pool(role)
	if err != nil {
		return nil
	}
	return pl.Complete(instanceID, success, execTime, quality)
}

// ReleaseFailed marks an instance of the role's pool as failed so the
// pool supersedes it.
func (mgr *Manager) ReleaseFailed(role models.AgentType, instanceID string, cause error) {
	pl, err := mgr.Pool(role)
	if err != nil {
		return
	}
	pl.ReleaseFailed(instanceID, cause)
}

// IdleInstances reports how many idle instances the role's pool has.
func (mgr *Manager) IdleInstances(role models.AgentType) int {
	pl, err := mgr.Pool(role)
	if err != nil {
		return 0
	}
	return pl.Status().IdleInstances
}

// Status reports every pool in stable role order.
func (mgr *Manager) Status() []Status {
	out := make([]Status, 0, len(mgr.roles))
	for _, role := range mgr.roles {
		out = append(out, mgr.pools[role].Status())
	}
	return out
}

// Cleanup stops every pool.
func (mgr *Manager) Cleanup(ctx context.Context) error {
	var errs []error
	for _, role := range mgr.roles {
		if err := mgr.pools[role].Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s pool: %w", role, err))
		}
	}
	slog.Info("Pool manager stopped")
	return errors.Join(errs...)
}
