package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for plan validation.
var (
	// ErrInvalidPlan indicates a plan that fails structural validation.
	ErrInvalidPlan = errors.New("invalid workflow plan")

	// ErrNoPlanAvailable indicates the generator produced no plan for a request.
	ErrNoPlanAvailable = errors.New("no workflow plan available for request")
)

// ClarifiedRequest is a normalized work request produced by the out-of-scope
// natural-language front end.
type ClarifiedRequest struct {
	ID           string         `json:"id"`
	Summary      string         `json:"summary"`
	Kind         string         `json:"kind,omitempty"`
	Requirements []string       `json:"requirements,omitempty"`
	Priority     TaskPriority   `json:"priority,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at,omitempty"`
}

// WorkflowMatch scores a plan template against a request.
type WorkflowMatch struct {
	TemplateID string               `json:"template_id"`
	Name       string               `json:"name"`
	Confidence float64              `json:"confidence"`
	Pattern    OrchestrationPattern `json:"pattern"`
}

// AgentAssignment is one node of a workflow plan: a role, a priority, and the
// task ids it depends on. TaskID may be left empty and is filled in by
// Normalize as t0, t1, ... in assignment order.
type AgentAssignment struct {
	TaskID            string        `json:"task_id,omitempty"`
	Role              AgentType     `json:"role"`
	TaskType          string        `json:"task_type,omitempty"`
	Priority          TaskPriority  `json:"priority,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	DependsOn         []string      `json:"depends_on,omitempty"`
	Input             TaskInput     `json:"input,omitempty"`
}

// WorkflowPlan is the static declaration of the roles and dependencies needed
// to satisfy a request.
type WorkflowPlan struct {
	ID                string               `json:"id"`
	Name              string               `json:"name,omitempty"`
	Pattern           OrchestrationPattern `json:"pattern"`
	Assignments       []AgentAssignment    `json:"assignments"`
	EstimatedDuration time.Duration        `json:"estimated_duration,omitempty"`
	Priority          TaskPriority         `json:"priority,omitempty"`
}

// Normalize fills defaulted fields in place: missing task ids become t<i>,
// missing priorities become medium, missing task types take the role name.
func (p *WorkflowPlan) Normalize() {
	if p.Priority == "" {
		p.Priority = PriorityMedium
	}
	for i := range p.Assignments {
		a := &p.Assignments[i]
		if a.TaskID == "" {
			a.TaskID = fmt.Sprintf("t%d", i)
		}
		if a.Priority == "" {
			a.Priority = p.Priority
		}
		if a.TaskType == "" {
			a.TaskType = string(a.Role)
		}
		if a.Input.Format == "" {
			a.Input.Format = FormatText
		}
	}
}

// Validate enforces the plan invariants: non-empty id, non-empty assignments,
// a valid pattern, valid roles and priorities, unique task ids, and
// dependencies that reference only ids present in the plan.
// Cycles are not detected here; the executor fails a workflow whose ready set
// empties out while tasks remain.
func (p *WorkflowPlan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPlan)
	}
	if len(p.Assignments) == 0 {
		return fmt.Errorf("%w: plan %s has no assignments", ErrInvalidPlan, p.ID)
	}
	if !p.Pattern.IsValid() {
		return fmt.Errorf("%w: plan %s has unknown pattern %q", ErrInvalidPlan, p.ID, p.Pattern)
	}
	ids := make(map[string]struct{}, len(p.Assignments))
	for i, a := range p.Assignments {
		if a.TaskID == "" {
			return fmt.Errorf("%w: plan %s assignment %d has no task id (call Normalize first)", ErrInvalidPlan, p.ID, i)
		}
		if _, dup := ids[a.TaskID]; dup {
			return fmt.Errorf("%w: plan %s has duplicate task id %s", ErrInvalidPlan, p.ID, a.TaskID)
		}
		ids[a.TaskID] = struct{}{}
		if !a.Role.IsValid() {
			return fmt.Errorf("%w: plan %s task %s has unknown role %q", ErrInvalidPlan, p.ID, a.TaskID, a.Role)
		}
		if a.Priority != "" && !a.Priority.IsValid() {
			return fmt.Errorf("%w: plan %s task %s has unknown priority %q", ErrInvalidPlan, p.ID, a.TaskID, a.Priority)
		}
	}
	for _, a := range p.Assignments {
		for _, dep := range a.DependsOn {
			if dep == a.TaskID {
				return fmt.Errorf("%w: plan %s task %s depends on itself", ErrInvalidPlan, p.ID, a.TaskID)
			}
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: plan %s task %s depends on unknown task %s", ErrInvalidPlan, p.ID, a.TaskID, dep)
			}
		}
	}
	return nil
}

// TaskIDs returns the plan's task ids in assignment order.
func (p *WorkflowPlan) TaskIDs() []string {
	ids := make([]string, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		ids = append(ids, a.TaskID)
	}
	return ids
}
