package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialPlan() *WorkflowPlan {
	return &WorkflowPlan{
		ID:      "plan-1",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{Role: AgentTypePM},
			{Role: AgentTypeSA},
			{Role: AgentTypeImplementation},
		},
	}
}

func TestPlanNormalizeFillsTaskIDs(t *testing.T) {
	plan := sequentialPlan()
	plan.Normalize()

	assert.Equal(t, []string{"t0", "t1", "t2"}, plan.TaskIDs())
	for _, a := range plan.Assignments {
		assert.Equal(t, PriorityMedium, a.Priority)
		assert.Equal(t, string(a.Role), a.TaskType)
		assert.Equal(t, FormatText, a.Input.Format)
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkflowPlan)
		wantErr bool
	}{
		{"valid plan", func(p *WorkflowPlan) {}, false},
		{"missing id", func(p *WorkflowPlan) { p.ID = "" }, true},
		{"no assignments", func(p *WorkflowPlan) { p.Assignments = nil }, true},
		{"bad pattern", func(p *WorkflowPlan) { p.Pattern = "waterfall" }, true},
		{"bad role", func(p *WorkflowPlan) { p.Assignments[0].Role = "intern" }, true},
		{"bad priority", func(p *WorkflowPlan) { p.Assignments[0].Priority = "urgent" }, true},
		{"duplicate task id", func(p *WorkflowPlan) { p.Assignments[1].TaskID = "t0" }, true},
		{"unknown dependency", func(p *WorkflowPlan) { p.Assignments[2].DependsOn = []string{"t9"} }, true},
		{"self dependency", func(p *WorkflowPlan) { p.Assignments[2].DependsOn = []string{"t2"} }, true},
		{"valid dependency", func(p *WorkflowPlan) { p.Assignments[2].DependsOn = []string{"t0", "t1"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := sequentialPlan()
			plan.Normalize()
			tt.mutate(plan)

			err := plan.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPlan)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlanValidateRequiresNormalizedIDs(t *testing.T) {
	plan := sequentialPlan()

	err := plan.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}
