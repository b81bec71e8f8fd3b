// Package orchestrator glues the subsystems into a running service: it
// drives workflows through the state machine, turns each phase into a
// task set, and pumps ready tasks through assignment into the
// self-correction loop on a bounded worker pool.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aurora-dev/aurora/internal/budget"
	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
)

// Planner emits the task set for the workflow's current phase.
type Planner interface {
	Plan(ctx context.Context, w *core.Workflow, project *core.Project) ([]*core.Task, error)
}

// Budget is the reservation surface of the cost governor. Planning calls
// spend real money and pass the same check as task execution.
type Budget interface {
	Reserve(workflowID core.WorkflowID, projectID core.ProjectID, estimatedUSD float64) (*budget.Reservation, error)
	Settle(res *budget.Reservation, actualUSD float64) error
}

// plannerEstimatedUSD is the reservation placed before each planning call.
const plannerEstimatedUSD = 0.05

// phaseRole maps each phase to the agent role that owns its tasks.
var phaseRole = map[core.Phase]core.AgentRole{
	core.PhaseRequirements:   core.RoleResearch,
	core.PhaseDesign:         core.RoleArchitect,
	core.PhaseImplementation: core.RoleBackend,
	core.PhaseTesting:        core.RoleTest,
	core.PhaseCodeReview:     core.RoleReviewer,
	core.PhaseSecurityAudit:  core.RoleSecurity,
	core.PhaseDocumentation:  core.RoleDocumentation,
	core.PhaseDeployment:     core.RoleDevops,
	core.PhaseMonitoring:     core.RoleDevops,
}

// LLMPlanner asks a planning model to decompose the current phase into
// tasks. An unusable plan degrades to a single task covering the whole
// phase so the workflow always makes progress.
type LLMPlanner struct {
	client core.LLMClient
	model  string
	budget Budget // nil disables cost control
	log    *logging.Logger
}

// NewLLMPlanner creates a planner using the given model.
func NewLLMPlanner(client core.LLMClient, model string, b Budget, log *logging.Logger) *LLMPlanner {
	return &LLMPlanner{client: client, model: model, budget: b, log: log}
}

// plannedTask is the wire shape the planning model replies with.
type plannedTask struct {
	Ref             string   `json:"ref"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Role            string   `json:"role"`
	Complexity      int      `json:"complexity"`
	EstimatedTokens int      `json:"estimated_tokens"`
	FilePaths       []string `json:"file_paths"`
	DependsOn       []string `json:"depends_on"`
	Criteria        []string `json:"criteria"`
}

// Plan decomposes the workflow's current phase into tasks. The model call
// runs under a budget reservation; a paused or exhausted budget refuses
// planning the same way it refuses execution.
func (p *LLMPlanner) Plan(ctx context.Context, w *core.Workflow, project *core.Project) ([]*core.Task, error) {
	var settle func(float64) error
	if p.budget != nil {
		res, err := p.budget.Reserve(w.ID, project.ID, plannerEstimatedUSD)
		if err != nil {
			return nil, err
		}
		settle = func(actual float64) error { return p.budget.Settle(res, actual) }
	}

	result, err := p.client.Complete(ctx, core.CompletionRequest{
		Model:     p.model,
		Prompt:    p.prompt(w, project),
		MaxTokens: 4096,
	})
	if settle != nil {
		actual := 0.0
		if result != nil {
			actual = result.CostUSD
		}
		if serr := settle(actual); serr != nil {
			p.log.WithWorkflow(string(w.ID)).Warn("budget settle failed", "error", serr.Error())
		}
	}
	if err != nil {
		return nil, err
	}

	tasks, err := p.decode(w, result.Output)
	if err != nil {
		p.log.WithWorkflow(string(w.ID)).WithPhase(string(w.Phase)).
			Warn("unusable plan, falling back to a single phase task", "error", err.Error())
		return []*core.Task{fallbackTask(w, project)}, nil
	}
	return tasks, nil
}

func (p *LLMPlanner) prompt(w *core.Workflow, project *core.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", project.Description)
	fmt.Fprintf(&b, "Current phase: %s (%s)\n\n", w.Phase, w.Phase.Description())

	if len(w.PhaseResults) > 0 {
		b.WriteString("Completed phases:\n")
		for _, phase := range core.AllPhases() {
			if r, ok := w.PhaseResults[phase]; ok && r.Summary != "" {
				fmt.Fprintf(&b, "- %s: %s\n", phase, r.Summary)
			}
		}
		b.WriteString("\n")
	}
	if w.ReworkComments != "" {
		fmt.Fprintf(&b, "Reviewer feedback to address:\n%s\n\n", w.ReworkComments)
	}

	fmt.Fprintf(&b, "Decompose this phase into tasks for %s agents. ", phaseRole[w.Phase])
	b.WriteString("Reply with a JSON array of objects with fields ref, title, description, " +
		"role, complexity (1-10), estimated_tokens, file_paths, depends_on (refs) and criteria. " +
		"Tasks writing the same file must depend on each other.")
	return b.String()
}

// decode parses the plan and resolves ref-based dependencies to task IDs.
// Tasks arrive in an order where dependencies precede dependents.
func (p *LLMPlanner) decode(w *core.Workflow, output string) ([]*core.Task, error) {
	payload := extractJSONArray(output)
	if payload == "" {
		return nil, fmt.Errorf("plan contains no JSON array")
	}
	var planned []plannedTask
	if err := json.Unmarshal([]byte(payload), &planned); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("plan is empty")
	}

	ids := make(map[string]core.TaskID, len(planned))
	tasks := make([]*core.Task, 0, len(planned))
	for i, pt := range planned {
		if pt.Title == "" {
			return nil, fmt.Errorf("planned task %d has no title", i)
		}
		id := core.TaskID(uuid.NewString())
		if pt.Ref != "" {
			if _, dup := ids[pt.Ref]; dup {
				return nil, fmt.Errorf("duplicate task ref %q", pt.Ref)
			}
			ids[pt.Ref] = id
		}

		role := core.AgentRole(pt.Role)
		if !core.ValidRole(role) {
			role = phaseRole[w.Phase]
		}
		deps := make([]core.TaskID, 0, len(pt.DependsOn))
		for _, ref := range pt.DependsOn {
			dep, ok := ids[ref]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown ref %q", pt.Title, ref)
			}
			deps = append(deps, dep)
		}

		t := core.NewTask(id, pt.Title, w.Phase).
			WithDescription(withRework(pt.Description, w.ReworkComments)).
			WithRole(role).
			WithCriteria(pt.Criteria...).
			WithFilePaths(pt.FilePaths...).
			WithHardDeps(deps...)
		if pt.Complexity > 0 {
			t.WithComplexity(pt.Complexity)
		}
		if pt.EstimatedTokens > 0 {
			t.WithEstimatedTokens(pt.EstimatedTokens)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// fallbackTask covers the whole phase with one task when planning fails.
func fallbackTask(w *core.Workflow, project *core.Project) *core.Task {
	desc := fmt.Sprintf("%s for project: %s", w.Phase.Description(), project.Description)
	return core.NewTask(core.TaskID(uuid.NewString()), fmt.Sprintf("%s phase", w.Phase), w.Phase).
		WithDescription(withRework(desc, w.ReworkComments)).
		WithRole(phaseRole[w.Phase])
}

// withRework threads rejected-approval comments into the task context so
// the re-entered phase sees the reviewer's words verbatim.
func withRework(desc, comments string) string {
	if comments == "" {
		return desc
	}
	return desc + "\n\nReviewer feedback: " + comments
}

func extractJSONArray(output string) string {
	if idx := strings.Index(output, "```json"); idx >= 0 {
		rest := output[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.IndexByte(output, '[')
	end := strings.LastIndexByte(output, ']')
	if start >= 0 && end > start {
		return output[start : end+1]
	}
	return ""
}
