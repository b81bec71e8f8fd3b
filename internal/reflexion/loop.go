package reflexion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aurora-dev/aurora/internal/agent"
	"github.com/aurora-dev/aurora/internal/budget"
	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/memory"
)

// DefaultMaxAttempts bounds the self-correction loop.
const DefaultMaxAttempts = 5

// recallLimit and recallBudgetTokens size the memory injection per attempt.
const (
	recallLimit        = 5
	recallBudgetTokens = 2000
)

// estimatedUSDPerKToken drives budget reservations before each invocation.
// Settled with the provider-reported actual afterwards.
const estimatedUSDPerKToken = 0.01

// Memory is the slice of hierarchical memory the loop needs.
type Memory interface {
	RecallLessons(ctx context.Context, query string, projectID core.ProjectID, k int) ([]memory.Match, error)
	StoreReflection(ctx context.Context, projectID core.ProjectID, r *core.Reflection) error
	Episodes(ctx context.Context, taskID core.TaskID) ([]*core.Reflection, error)
}

// Budget is the reservation surface of the cost governor.
type Budget interface {
	Reserve(workflowID core.WorkflowID, projectID core.ProjectID, estimatedUSD float64) (*budget.Reservation, error)
	Settle(res *budget.Reservation, actualUSD float64) error
}

// Loop is the per-task self-correction driver.
type Loop struct {
	capability  agent.Capability
	mem         Memory
	budget      Budget // nil disables cost control
	workspace   *Workspace
	gates       []Gate
	log         *logging.Logger
	maxAttempts int

	// heartbeat pings the health monitor between stages. Optional.
	heartbeat func(core.TaskID)
}

// Option configures the loop.
type Option func(*Loop)

// WithMaxAttempts overrides the attempt cap.
func WithMaxAttempts(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithBudget wires the cost governor.
func WithBudget(b Budget) Option {
	return func(l *Loop) { l.budget = b }
}

// WithHeartbeat wires the health monitor ping.
func WithHeartbeat(beat func(core.TaskID)) Option {
	return func(l *Loop) { l.heartbeat = beat }
}

// NewLoop creates a self-correction loop. Gates run in the given order;
// the first failure ends the attempt.
func NewLoop(capability agent.Capability, mem Memory, workspace *Workspace, gates []Gate, log *logging.Logger, opts ...Option) *Loop {
	l := &Loop{
		capability:  capability,
		mem:         mem,
		workspace:   workspace,
		gates:       gates,
		log:         log,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the task until a gated attempt succeeds or attempts run
// out. Infrastructure errors (budget, sandbox, provider) abort the loop
// without consuming the remaining attempts; the scheduler's retry policy
// owns those.
func (l *Loop) Run(ctx context.Context, workflowID core.WorkflowID, projectID core.ProjectID, ag *core.Agent, task *core.Task) (*core.TaskResult, error) {
	log := l.log.WithWorkflow(string(workflowID)).WithTask(string(task.ID)).WithAgent(string(ag.ID))

	var totalCost float64
	var tokensIn, tokensOut int
	var reflections []*core.Reflection

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, core.ErrCancelled("task execution cancelled").WithCause(err)
		}
		l.beat(task.ID)

		recalled, err := l.recall(ctx, projectID, task)
		if err != nil {
			log.Warn("memory recall failed, continuing without", "error", err.Error())
		}

		req, err := l.capability.PrepareContext(ctx, ag, agent.TaskContext{
			Task:          task,
			Recalled:      recalled,
			PriorFailures: reflections,
		})
		if err != nil {
			return nil, err
		}

		result, err := l.invoke(ctx, workflowID, projectID, task, req)
		if err != nil {
			return nil, err
		}
		totalCost += result.CostUSD
		tokensIn += result.TokensIn
		tokensOut += result.TokensOut
		l.beat(task.ID)

		feedback, gateCost, err := l.evaluate(ctx, workflowID, projectID, task, attempt, result)
		totalCost += gateCost
		if err != nil {
			return nil, err
		}
		if feedback == "" {
			log.Info("task attempt succeeded", "attempt", attempt, "cost_usd", totalCost)
			return &core.TaskResult{
				Output:    result.Output,
				Artifacts: artifactPaths(result.Files),
				TokensIn:  tokensIn,
				TokensOut: tokensOut,
				CostUSD:   totalCost,
				Attempts:  attempt,
				EndedAt:   time.Now(),
			}, nil
		}

		log.Info("task attempt failed gate", "attempt", attempt)
		reflection, cost, err := l.reflect(ctx, workflowID, projectID, ag, task, attempt, feedback)
		totalCost += cost
		if err != nil {
			log.Warn("reflection failed, retrying without", "error", err.Error())
			reflection = &core.Reflection{
				TaskID:    task.ID,
				Attempt:   attempt,
				RootCause: feedback,
			}
		}
		reflections = append(reflections, reflection)
		if err := l.mem.StoreReflection(ctx, projectID, reflection); err != nil {
			log.Warn("storing reflection failed", "error", err.Error())
		}
	}

	return nil, core.ErrTaskExhausted(string(task.ID), l.maxAttempts).
		WithDetail("cost_usd", totalCost)
}

func (l *Loop) beat(id core.TaskID) {
	if l.heartbeat != nil {
		l.heartbeat(id)
	}
}

// recall fetches lessons relevant to the task and packs them into the
// prompt budget, least relevant first.
func (l *Loop) recall(ctx context.Context, projectID core.ProjectID, task *core.Task) ([]string, error) {
	query := task.Title
	if task.Description != "" {
		query += " " + task.Description
	}
	matches, err := l.mem.RecallLessons(ctx, query, projectID, recallLimit)
	if err != nil {
		return nil, err
	}
	return memory.Pack(matches, recallBudgetTokens), nil
}

// invoke runs one model call under a budget reservation.
func (l *Loop) invoke(ctx context.Context, workflowID core.WorkflowID, projectID core.ProjectID, task *core.Task, req core.CompletionRequest) (*core.CompletionResult, error) {
	var settle func(float64) error
	if l.budget != nil {
		est := float64(task.EstimatedTokens) / 1000 * estimatedUSDPerKToken
		if est < estimatedUSDPerKToken {
			est = estimatedUSDPerKToken
		}
		res, err := l.budget.Reserve(workflowID, projectID, est)
		if err != nil {
			return nil, err
		}
		settle = func(actual float64) error { return l.budget.Settle(res, actual) }
	}

	result, err := l.capability.Invoke(ctx, req)
	if settle != nil {
		actual := 0.0
		if result != nil {
			actual = result.CostUSD
		}
		if serr := settle(actual); serr != nil {
			l.log.Warn("budget settle failed", "error", serr.Error())
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// evaluate post-processes the result, materializes files and runs the
// gates. Empty feedback means the attempt passed.
func (l *Loop) evaluate(ctx context.Context, workflowID core.WorkflowID, projectID core.ProjectID, task *core.Task, attempt int, result *core.CompletionResult) (feedback string, costUSD float64, err error) {
	processed, err := l.capability.PostProcess(ctx, task, result)
	if err != nil {
		if core.IsCategory(err, core.ErrCatValidation) {
			return "output validation failed: " + err.Error(), 0, nil
		}
		return "", 0, err
	}
	*result = *processed

	workdir := ""
	if len(result.Files) > 0 {
		workdir, err = l.workspace.Materialize(task.ID, attempt, result.Files)
		if err != nil {
			if core.IsCategory(err, core.ErrCatValidation) {
				return "materialization failed: " + err.Error(), 0, nil
			}
			return "", 0, err
		}
	}

	for _, gate := range l.gates {
		l.beat(task.ID)
		gr, err := l.checkGate(ctx, workflowID, projectID, gate, workdir, task, result)
		costUSD += gr.CostUSD
		if err != nil {
			return "", costUSD, err
		}
		if !gr.Passed {
			return gr.Feedback, costUSD, nil
		}
	}
	return "", costUSD, nil
}

// checkGate runs one gate under a budget reservation. LLM-judged gates
// spend like any other model call and must pass the same check.
func (l *Loop) checkGate(ctx context.Context, workflowID core.WorkflowID, projectID core.ProjectID, gate Gate, workdir string, task *core.Task, result *core.CompletionResult) (GateResult, error) {
	var settle func(float64) error
	if l.budget != nil {
		res, err := l.budget.Reserve(workflowID, projectID, estimatedUSDPerKToken)
		if err != nil {
			return GateResult{}, err
		}
		settle = func(actual float64) error { return l.budget.Settle(res, actual) }
	}

	gr, err := gate.Check(ctx, workdir, task, result)
	if settle != nil {
		if serr := settle(gr.CostUSD); serr != nil {
			l.log.Warn("budget settle failed", "error", serr.Error())
		}
	}
	return gr, err
}

// reflect asks the model for a structured self-critique of the failure.
func (l *Loop) reflect(ctx context.Context, workflowID core.WorkflowID, projectID core.ProjectID, ag *core.Agent, task *core.Task, attempt int, feedback string) (*core.Reflection, float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Your attempt %d at task %q failed.\nFailure detail:\n%s\n\n", attempt, task.Title, feedback)
	b.WriteString("Produce a JSON object with fields root_cause, incorrect_assumptions, " +
		"improved_strategy, generalizable_lesson and lesson_tag (a short kebab-case " +
		"identifier for the lesson).")

	req := core.CompletionRequest{
		AgentID:   ag.ID,
		Model:     ag.Model,
		Prompt:    b.String(),
		MaxTokens: 1024,
	}
	result, err := l.invoke(ctx, workflowID, projectID, task, req)
	if err != nil {
		return nil, 0, err
	}

	var r core.Reflection
	payload := extractJSON(result.Output)
	if payload == "" {
		return nil, result.CostUSD, fmt.Errorf("reflection output contains no JSON")
	}
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, result.CostUSD, fmt.Errorf("decoding reflection: %w", err)
	}
	r.TaskID = task.ID
	r.Attempt = attempt
	return &r, result.CostUSD, nil
}

// extractJSON returns the first top-level JSON object in the output,
// fenced or bare.
func extractJSON(output string) string {
	if idx := strings.Index(output, "```json"); idx >= 0 {
		rest := output[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.IndexByte(output, '{')
	end := strings.LastIndexByte(output, '}')
	if start >= 0 && end > start {
		return output[start : end+1]
	}
	return ""
}

func artifactPaths(files []core.GeneratedFile) []string {
	if len(files) == 0 {
		return nil
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}
