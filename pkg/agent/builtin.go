package agent

import (
	"context"
	"fmt"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// Built-in task types. Plan templates and the default step registry share
// this vocabulary; external processes may register additional types.
const (
	TaskTypeProjectPlanning      = "project_planning"
	TaskTypeMilestoneReview      = "milestone_review"
	TaskTypeRequirementsAnalysis = "requirements_analysis"
	TaskTypeAcceptanceCriteria   = "acceptance_criteria"
	TaskTypeArchitectureDesign   = "architecture_design"
	TaskTypeInterfaceDesign      = "interface_design"
	TaskTypeResearchSpike        = "research_spike"
	TaskTypeFeasibilityStudy     = "feasibility_study"
	TaskTypeQualityReview        = "quality_review"
	TaskTypeImplementation       = "implementation"
	TaskTypeBugFix               = "bug_fix"
)

const builtinModel = "builtin"

// DefaultStepRegistry returns a registry loaded with the built-in steps for
// every role. The built-ins produce deterministic structured output derived
// from the task, which keeps local-mode executions self-contained; real
// deployments point the transport at external agent processes instead.
func DefaultStepRegistry() *StepRegistry {
	r := NewStepRegistry()

	register := func(role models.AgentType, taskType string, step StepFunc) {
		// Registration of built-ins cannot fail: roles and types are static.
		_ = r.Register(role, taskType, step)
	}

	register(models.AgentTypePM, TaskTypeProjectPlanning, pmPlanningStep)
	register(models.AgentTypePM, TaskTypeMilestoneReview, pmMilestoneStep)
	register(models.AgentTypePM, CatchAllTaskType, pmPlanningStep)

	register(models.AgentTypeBA, TaskTypeRequirementsAnalysis, baRequirementsStep)
	register(models.AgentTypeBA, TaskTypeAcceptanceCriteria, baAcceptanceStep)
	register(models.AgentTypeBA, CatchAllTaskType, baRequirementsStep)

	register(models.AgentTypeSA, TaskTypeArchitectureDesign, saArchitectureStep)
	register(models.AgentTypeSA, TaskTypeInterfaceDesign, saInterfaceStep)
	register(models.AgentTypeSA, CatchAllTaskType, saArchitectureStep)

	register(models.AgentTypeResearch, TaskTypeResearchSpike, researchSpikeStep)
	register(models.AgentTypeResearch, TaskTypeFeasibilityStudy, researchFeasibilityStep)
	register(models.AgentTypeResearch, CatchAllTaskType, researchSpikeStep)

	register(models.AgentTypeQualityJudge, TaskTypeQualityReview, judgeReviewStep)
	register(models.AgentTypeQualityJudge, CatchAllTaskType, judgeReviewStep)

	register(models.AgentTypeImplementation, TaskTypeImplementation, implementationStep)
	register(models.AgentTypeImplementation, TaskTypeBugFix, bugFixStep)
	register(models.AgentTypeImplementation, CatchAllTaskType, implementationStep)

	return r
}

// taskSubject extracts a human-readable subject line from the task input.
func taskSubject(task *models.AgentTask) string {
	switch payload := task.Input.Payload.(type) {
	case string:
		if payload != "" {
			return payload
		}
	case map[string]any:
		for _, key := range []string{"summary", "title", "description"} {
			if v, ok := payload[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return task.Type
}

func builtinOutput(data map[string]any, confidence, quality float64) *StepOutput {
	return &StepOutput{
		Data:       data,
		Format:     models.FormatJSON,
		Confidence: confidence,
		Quality:    quality,
		Model:      builtinModel,
	}
}

func pmPlanningStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := taskSubject(task)
	return builtinOutput(map[string]any{
		"subject": subject,
		"objectives": []any{
			fmt.Sprintf("Deliver %s end to end", subject),
			"Keep scope within the current iteration",
		},
		"milestones": []any{
			map[string]any{"name": "analysis complete", "order": 1},
			map[string]any{"name": "design approved", "order": 2},
			map[string]any{"name": "implementation merged", "order": 3},
		},
		"risks": []any{"unclear requirements", "integration surface unknown"},
	}, 0.88, 0.9), nil
}

func pmMilestoneStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return builtinOutput(map[string]any{
		"subject":  taskSubject(task),
		"on_track": true,
		"notes":    []any{"all upstream tasks reported results"},
	}, 0.86, 0.88), nil
}

func baRequirementsStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := taskSubject(task)
	return builtinOutput(map[string]any{
		"subject": subject,
		"requirements": []any{
			fmt.Sprintf("The system shall support %s", subject),
			"Behavior must be observable through the operator surface",
		},
		"assumptions": []any{"existing data model is authoritative"},
	}, 0.85, 0.87), nil
}

func baAcceptanceStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return builtinOutput(map[string]any{
		"subject": taskSubject(task),
		"criteria": []any{
			"happy path verified",
			"failure path yields a recoverable error",
		},
	}, 0.84, 0.86), nil
}

func saArchitectureStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := taskSubject(task)
	return builtinOutput(map[string]any{
		"subject": subject,
		"components": []any{
			map[string]any{"name": "core", "responsibility": subject},
			map[string]any{"name": "adapter", "responsibility": "external integration"},
		},
		"decisions": []any{"prefer composition over inheritance"},
	}, 0.87, 0.89), nil
}

func saInterfaceStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return builtinOutput(map[string]any{
		"subject":    taskSubject(task),
		"interfaces": []any{map[string]any{"name": "Service", "operations": []any{"Execute", "Status"}}},
	}, 0.85, 0.88), nil
}

func researchSpikeStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := taskSubject(task)
	return builtinOutput(map[string]any{
		"subject": subject,
		"findings": []any{
			fmt.Sprintf("%s is feasible with the current stack", subject),
			"no blocking constraint identified",
		},
		"recommendation": "proceed",
	}, 0.8, 0.84), nil
}

func researchFeasibilityStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return builtinOutput(map[string]any{
		"subject":  taskSubject(task),
		"feasible": true,
		"caveats":  []any{"estimate assumes one integration point"},
	}, 0.78, 0.82), nil
}

func judgeReviewStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return builtinOutput(map[string]any{
		"subject": taskSubject(task),
		"verdict": "approved",
		"score":   0.9,
		"issues":  []any{},
	}, 0.9, 0.92), nil
}

func implementationStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := taskSubject(task)
	return builtinOutput(map[string]any{
		"subject": subject,
		"artifacts": []any{
			map[string]any{"kind": "change", "summary": fmt.Sprintf("implements %s", subject)},
			map[string]any{"kind": "test", "summary": "covers the new behavior"},
		},
		"complete": true,
	}, 0.86, 0.88), nil
}

func bugFixStep(ctx context.Context, task *models.AgentTask) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := taskSubject(task)
	return builtinOutput(map[string]any{
		"subject":    subject,
		"root_cause": fmt.Sprintf("regression around %s", subject),
		"artifacts": []any{
			map[string]any{"kind": "fix", "summary": fmt.Sprintf("resolves %s", subject)},
			map[string]any{"kind": "regression_test", "summary": "prevents recurrence"},
		},
		"complete": true,
	}, 0.85, 0.87), nil
}
