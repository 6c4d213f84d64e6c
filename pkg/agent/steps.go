package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// CatchAllTaskType registers a step as the fallback handler for every task
// type the role has no exact entry for.
const CatchAllTaskType = "*"

// StepOutput is what a step hands back to the instance runtime. The runtime
// wraps it into an AgentResult with timing and status filled in.
type StepOutput struct {
	Data       any
	Format     models.DataFormat
	Confidence float64
	Quality    float64
	Model      string
}

// StepFunc executes a single task on behalf of a role. Implementations must
// be safe for concurrent use; one instance runs at most one step at a time,
// but several instances of the same role share the registry.
type StepFunc func(ctx context.Context, task *models.AgentTask) (*StepOutput, error)

// StepRegistry maps role and task type to the step that serves it. It is the
// single dispatch point for task execution: instances resolve their handler
// here instead of subclassing per role.
type StepRegistry struct {
	mu    sync.RWMutex
	steps map[models.AgentType]map[string]StepFunc
}

// NewStepRegistry creates an empty registry.
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make(map[models.AgentType]map[string]StepFunc),
	}
}

// Register binds a step to a role and task type. Registering the same pair
// twice replaces the earlier step, which is how tests install fakes.
func (r *StepRegistry) Register(role models.AgentType, taskType string, step StepFunc) error {
	if !role.IsValid() {
		return fmt.Errorf("register step: unknown role %q", role)
	}
	if taskType == "" {
		return fmt.Errorf("register step: task type must not be empty (use %q for a fallback)", CatchAllTaskType)
	}
	if step == nil {
		return fmt.Errorf("register step: step must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byType, ok := r.steps[role]
	if !ok {
		byType = make(map[string]StepFunc)
		r.steps[role] = byType
	}
	byType[taskType] = step
	return nil
}

// Get resolves the step for a role and task type, falling back to the role's
// catch-all entry when no exact match exists.
func (r *StepRegistry) Get(role models.AgentType, taskType string) (StepFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType, ok := r.steps[role]
	if !ok {
		return nil, fmt.Errorf("%w: role %q has no steps", ErrUnknownTaskType, role)
	}
	if step, ok := byType[taskType]; ok {
		return step, nil
	}
	if step, ok := byType[CatchAllTaskType]; ok {
		return step, nil
	}
	return nil, fmt.Errorf("%w: role %q, task type %q", ErrUnknownTaskType, role, taskType)
}

// Has reports whether the registry can serve the role and task type.
func (r *StepRegistry) Has(role models.AgentType, taskType string) bool {
	_, err := r.Get(role, taskType)
	return err == nil
}

// Roles returns the roles with at least one registered step, sorted for
// stable output.
func (r *StepRegistry) Roles() []models.AgentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]models.AgentType, 0, len(r.steps))
	for role := range r.steps {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// TaskTypes returns the task types registered for a role, sorted.
func (r *StepRegistry) TaskTypes(role models.AgentType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType := r.steps[role]
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
