// Package plan turns clarified work requests into workflow plans. The
// engine treats the generator as an external collaborator; the built-in
// template generator makes local deployments self-contained by matching
// requests against a small set of deterministic plan templates.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// Generator matches requests to candidate workflows and produces the plan
// the executor runs.
type Generator interface {
	// Match scores the known workflow shapes against a request, best first.
	Match(request *models.ClarifiedRequest) []models.WorkflowMatch

	// Generate produces a validated plan for the request, or
	// models.ErrNoPlanAvailable when nothing fits.
	Generate(request *models.ClarifiedRequest) (*models.WorkflowPlan, error)
}

// TemplateGenerator is the deterministic built-in Generator. Templates are
// matched by request kind first and by summary keywords second.
type TemplateGenerator struct {
	templates []template
}

// NewTemplateGenerator returns a generator loaded with the built-in
// templates: feature delivery, bug fix, and research spike.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{templates: builtinTemplates()}
}

// Match scores every template against the request and returns the matches
// above zero, ordered by descending confidence.
func (g *TemplateGenerator) Match(request *models.ClarifiedRequest) []models.WorkflowMatch {
	if request == nil {
		return nil
	}

	var matches []models.WorkflowMatch
	for _, tpl := range g.templates {
		confidence := tpl.score(request)
		if confidence <= 0 {
			continue
		}
		matches = append(matches, models.WorkflowMatch{
			TemplateID: tpl.id,
			Name:       tpl.name,
			Confidence: confidence,
			Pattern:    tpl.pattern,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

// Generate instantiates the best-matching template as a plan. The fallback
// template takes any request, so Generate only fails on a nil request or a
// template bug.
func (g *TemplateGenerator) Generate(request *models.ClarifiedRequest) (*models.WorkflowPlan, error) {
	if request == nil {
		return nil, fmt.Errorf("%w: nil request", models.ErrNoPlanAvailable)
	}
	matches := g.Match(request)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: request %s", models.ErrNoPlanAvailable, request.ID)
	}

	tpl := g.template(matches[0].TemplateID)
	p := tpl.instantiate(request)
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("generated plan from template %s: %w", tpl.id, err)
	}
	return p, nil
}

func (g *TemplateGenerator) template(id string) template {
	for _, tpl := range g.templates {
		if tpl.id == id {
			return tpl
		}
	}
	// Match only returns ids from g.templates.
	return g.templates[len(g.templates)-1]
}

// template is one built-in plan shape.
type template struct {
	id          string
	name        string
	pattern     models.OrchestrationPattern
	kinds       []string
	keywords    []string
	base        float64
	assignments []models.AgentAssignment
}

// score rates the template for a request: an exact kind match dominates,
// keyword hits in the summary add a little, and the base keeps the
// fallback template above zero for everything.
func (t template) score(request *models.ClarifiedRequest) float64 {
	score := t.base
	kind := strings.ToLower(strings.TrimSpace(request.Kind))
	for _, k := range t.kinds {
		if kind == k {
			score += 0.5
			break
		}
	}
	summary := strings.ToLower(request.Summary)
	for _, kw := range t.keywords {
		if strings.Contains(summary, kw) {
			score += 0.1
		}
	}
	return models.Clamp01(score)
}

// instantiate copies the template's assignments into a fresh plan carrying
// the request as every task's input.
func (t template) instantiate(request *models.ClarifiedRequest) *models.WorkflowPlan {
	input := models.TaskInput{
		Payload: map[string]any{
			"request_id":   request.ID,
			"summary":      request.Summary,
			"requirements": toAny(request.Requirements),
		},
		Format: models.FormatJSON,
	}

	assignments := make([]models.AgentAssignment, len(t.assignments))
	copy(assignments, t.assignments)
	for i := range assignments {
		assignments[i].Input = input
		if request.Priority.IsValid() {
			assignments[i].Priority = request.Priority
		}
	}

	p := &models.WorkflowPlan{
		ID:          "plan-" + uuid.NewString(),
		Name:        t.name,
		Pattern:     t.pattern,
		Assignments: assignments,
		Priority:    request.Priority,
	}
	for _, a := range assignments {
		p.EstimatedDuration += a.EstimatedDuration
	}
	return p
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
