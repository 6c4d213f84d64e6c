package plan

import (
	"time"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// Template ids, stable across releases so operators can pin them in
// requests and dashboards.
const (
	TemplateFeatureDelivery = "feature-delivery"
	TemplateBugFix          = "bug-fix"
	TemplateResearchSpike   = "research-spike"
)

// builtinTemplates returns the shipped plan shapes. Feature delivery is the
// fallback: its base score keeps it matchable for any request.
func builtinTemplates() []template {
	return []template{
		{
			id:       TemplateBugFix,
			name:     "Bug fix",
			pattern:  models.PatternSequentialHandoff,
			kinds:    []string{"bug", "bugfix", "defect"},
			keywords: []string{"bug", "fix", "regression", "broken", "crash"},
			assignments: []models.AgentAssignment{
				{
					TaskID:            "t0",
					Role:              models.AgentTypeResearch,
					TaskType:          agent.TaskTypeResearchSpike,
					EstimatedDuration: 10 * time.Minute,
				},
				{
					TaskID:            "t1",
					Role:              models.AgentTypeImplementation,
					TaskType:          agent.TaskTypeBugFix,
					DependsOn:         []string{"t0"},
					EstimatedDuration: 30 * time.Minute,
				},
				{
					TaskID:            "t2",
					Role:              models.AgentTypeQualityJudge,
					TaskType:          agent.TaskTypeQualityReview,
					DependsOn:         []string{"t1"},
					EstimatedDuration: 10 * time.Minute,
				},
			},
		},
		{
			id:       TemplateResearchSpike,
			name:     "Research spike",
			pattern:  models.PatternParallelExecution,
			kinds:    []string{"research", "spike", "investigation"},
			keywords: []string{"research", "investigate", "explore", "feasibility", "evaluate"},
			assignments: []models.AgentAssignment{
				{
					TaskID:            "t0",
					Role:              models.AgentTypeResearch,
					TaskType:          agent.TaskTypeResearchSpike,
					EstimatedDuration: 20 * time.Minute,
				},
				{
					TaskID:            "t1",
					Role:              models.AgentTypeResearch,
					TaskType:          agent.TaskTypeFeasibilityStudy,
					EstimatedDuration: 20 * time.Minute,
				},
				{
					TaskID:            "t2",
					Role:              models.AgentTypePM,
					TaskType:          agent.TaskTypeMilestoneReview,
					DependsOn:         []string{"t0", "t1"},
					EstimatedDuration: 10 * time.Minute,
				},
			},
		},
		{
			id:       TemplateFeatureDelivery,
			name:     "Feature delivery",
			pattern:  models.PatternSequentialHandoff,
			kinds:    []string{"feature", "enhancement"},
			keywords: []string{"feature", "add", "implement", "build", "support"},
			base:     0.2,
			assignments: []models.AgentAssignment{
				{
					TaskID:            "t0",
					Role:              models.AgentTypePM,
					TaskType:          agent.TaskTypeProjectPlanning,
					EstimatedDuration: 15 * time.Minute,
				},
				{
					TaskID:            "t1",
					Role:              models.AgentTypeBA,
					TaskType:          agent.TaskTypeRequirementsAnalysis,
					DependsOn:         []string{"t0"},
					EstimatedDuration: 20 * time.Minute,
				},
				{
					TaskID:            "t2",
					Role:              models.AgentTypeSA,
					TaskType:          agent.TaskTypeArchitectureDesign,
					DependsOn:         []string{"t1"},
					EstimatedDuration: 20 * time.Minute,
				},
				{
					TaskID:            "t3",
					Role:              models.AgentTypeImplementation,
					TaskType:          agent.TaskTypeImplementation,
					DependsOn:         []string{"t2"},
					EstimatedDuration: 45 * time.Minute,
				},
				{
					TaskID:            "t4",
					Role:              models.AgentTypeQualityJudge,
					TaskType:          agent.TaskTypeQualityReview,
					DependsOn:         []string{"t3"},
					EstimatedDuration: 10 * time.Minute,
				},
			},
		},
	}
}
