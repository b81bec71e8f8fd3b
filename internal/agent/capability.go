package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
)

// TaskContext is everything PrepareContext folds into the prompt.
type TaskContext struct {
	Task           *core.Task
	Recalled       []string // packed memory, least relevant first
	PriorFailures  []*core.Reflection
	ReworkComments string
}

// Capability is the three-stage pipeline an agent runs a task through.
type Capability interface {
	// PrepareContext builds the completion request from the task and its
	// recalled context.
	PrepareContext(ctx context.Context, agent *core.Agent, tc TaskContext) (core.CompletionRequest, error)

	// Invoke runs the model.
	Invoke(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error)

	// PostProcess extracts structured output from the raw completion.
	PostProcess(ctx context.Context, task *core.Task, result *core.CompletionResult) (*core.CompletionResult, error)
}

// LLMCapability is the production capability backed by the model provider.
type LLMCapability struct {
	client core.LLMClient
	models map[core.ModelTier]string
	log    *logging.Logger
}

// NewLLMCapability creates the capability. models maps each tier to a
// provider model identifier.
func NewLLMCapability(client core.LLMClient, models map[core.ModelTier]string, log *logging.Logger) *LLMCapability {
	return &LLMCapability{client: client, models: models, log: log}
}

// PrepareContext assembles the prompt: role framing, recalled memory in
// tail-critical order, prior failure reflections, the task itself, then
// reviewer comments when re-entering after a rejection.
func (c *LLMCapability) PrepareContext(_ context.Context, agent *core.Agent, tc TaskContext) (core.CompletionRequest, error) {
	task := tc.Task

	var b strings.Builder
	if len(tc.Recalled) > 0 {
		b.WriteString("Relevant prior knowledge, most relevant last:\n")
		for _, item := range tc.Recalled {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	for _, r := range tc.PriorFailures {
		fmt.Fprintf(&b, "Previous attempt %d failed.\nRoot cause: %s\nStrategy: %s\n\n",
			r.Attempt, r.RootCause, r.ImprovedStrategy)
	}

	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", task.Description)
	}
	if len(task.Criteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, crit := range task.Criteria {
			fmt.Fprintf(&b, "- %s\n", crit)
		}
	}
	if len(task.FilePaths) > 0 {
		fmt.Fprintf(&b, "Write only these paths: %s\n", strings.Join(task.FilePaths, ", "))
	}
	if tc.ReworkComments != "" {
		fmt.Fprintf(&b, "\nReviewer feedback to address:\n%s\n", tc.ReworkComments)
	}

	model, ok := c.models[task.Tier]
	if !ok {
		model = agent.Model
	}

	return core.CompletionRequest{
		AgentID:      agent.ID,
		Model:        model,
		Tier:         task.Tier,
		SystemPrompt: systemPrompt(agent.Role),
		Prompt:       b.String(),
		MaxTokens:    maxOutputTokens(task),
	}, nil
}

// Invoke runs the model with the prepared request.
func (c *LLMCapability) Invoke(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
	result, err := c.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	c.log.WithAgent(string(req.AgentID)).Debug("completion finished",
		"model", result.Model,
		"tokens_in", result.TokensIn,
		"tokens_out", result.TokensOut,
		"cost_usd", result.CostUSD)
	return result, nil
}

// filesEnvelope is the structured output contract for code-producing tasks.
type filesEnvelope struct {
	Files []core.GeneratedFile `json:"files"`
}

// PostProcess extracts generated files from a fenced JSON envelope when
// present. Output without an envelope passes through untouched; not every
// phase produces files.
func (c *LLMCapability) PostProcess(_ context.Context, task *core.Task, result *core.CompletionResult) (*core.CompletionResult, error) {
	payload, ok := extractJSONBlock(result.Output)
	if !ok {
		return result, nil
	}

	var envelope filesEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return result, nil
	}

	allowed := make(map[string]bool, len(task.FilePaths))
	for _, p := range task.FilePaths {
		allowed[p] = true
	}
	for _, f := range envelope.Files {
		if f.Path == "" {
			return nil, core.ErrValidation("EMPTY_FILE_PATH", "generated file has no path")
		}
		if len(allowed) > 0 && !allowed[f.Path] {
			return nil, core.ErrValidation("UNDECLARED_FILE_PATH",
				fmt.Sprintf("generated file %s outside declared paths", f.Path))
		}
	}
	result.Files = envelope.Files
	return result, nil
}

// extractJSONBlock returns the contents of the first ```json fence.
func extractJSONBlock(output string) (string, bool) {
	const fence = "```json"
	start := strings.Index(output, fence)
	if start < 0 {
		return "", false
	}
	rest := output[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func systemPrompt(role core.AgentRole) string {
	return fmt.Sprintf(
		"You are a %s engineer on an automated development team. "+
			"Produce complete, working output. When generating code, reply with "+
			"a ```json fence containing {\"files\": [{\"path\": ..., \"content\": ...}]}.",
		role)
}

func maxOutputTokens(task *core.Task) int {
	// Output budget scales with complexity; generation-heavy tasks need
	// more room than review tasks.
	return 2048 + task.Complexity*1024
}
