package reflexion

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/sandbox"
)

// GateResult is one gate's verdict on an attempt.
type GateResult struct {
	Passed   bool
	Feedback string  // failure detail fed into the next attempt
	Score    float64 // set by scoring gates
	CostUSD  float64 // spend incurred by the gate itself
}

// Gate validates a materialized attempt. An error return means the gate
// infrastructure failed, not the attempt; infra failures retry without
// consuming an attempt.
type Gate interface {
	Name() string
	Check(ctx context.Context, workdir string, task *core.Task, result *core.CompletionResult) (GateResult, error)
}

// SandboxGate runs a command in the sandbox against the attempt directory.
// Used for both the syntax gate (build/vet) and the test gate.
type SandboxGate struct {
	name    string
	exec    *sandbox.Executor
	command []string
}

// NewSandboxGate creates a command gate.
func NewSandboxGate(name string, exec *sandbox.Executor, command ...string) *SandboxGate {
	return &SandboxGate{name: name, exec: exec, command: command}
}

// Name identifies the gate in logs and reflections.
func (g *SandboxGate) Name() string { return g.name }

// Check executes the gate command. A non-zero exit fails the attempt with
// the command output as feedback.
func (g *SandboxGate) Check(ctx context.Context, workdir string, _ *core.Task, _ *core.CompletionResult) (GateResult, error) {
	result, err := g.exec.Execute(ctx, sandbox.ExecSpec{
		WorkDir: workdir,
		Command: g.command,
	})
	if err != nil {
		return GateResult{}, err
	}
	if result.Success() {
		return GateResult{Passed: true, Score: 1}, nil
	}

	feedback := result.Stderr
	if feedback == "" {
		feedback = result.Stdout
	}
	if result.TimedOut {
		feedback = fmt.Sprintf("command timed out after %s\n%s", result.Duration, feedback)
	}
	return GateResult{
		Passed:   false,
		Feedback: fmt.Sprintf("%s failed (exit %d):\n%s", g.name, result.ExitCode, feedback),
	}, nil
}

var scoreRe = regexp.MustCompile(`(?m)^SCORE:\s*([01](?:\.\d+)?)`)

// QualityGate asks a reviewer model to score the attempt in [0,1] against
// the task's acceptance criteria.
type QualityGate struct {
	client    core.LLMClient
	model     string
	threshold float64
}

// NewQualityGate creates a quality gate with the given pass threshold.
func NewQualityGate(client core.LLMClient, model string, threshold float64) *QualityGate {
	return &QualityGate{client: client, model: model, threshold: threshold}
}

// Name identifies the gate.
func (g *QualityGate) Name() string { return "quality" }

// Check scores the attempt output. An unparseable review fails the gate
// rather than passing unreviewed work.
func (g *QualityGate) Check(ctx context.Context, _ string, task *core.Task, result *core.CompletionResult) (GateResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Review this output for the task %q.\n", task.Title)
	if len(task.Criteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range task.Criteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\nOutput:\n")
	b.WriteString(result.Output)
	b.WriteString("\n\nReply with 'SCORE: <0..1>' on its own line, then your findings.")

	review, err := g.client.Complete(ctx, core.CompletionRequest{
		Model:       g.model,
		Prompt:      b.String(),
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		return GateResult{}, err
	}

	m := scoreRe.FindStringSubmatch(review.Output)
	if m == nil {
		return GateResult{
			Passed:   false,
			Feedback: "quality review produced no score:\n" + review.Output,
			CostUSD:  review.CostUSD,
		}, nil
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil || score < 0 || score > 1 {
		return GateResult{
			Passed:   false,
			Feedback: "quality review score out of range:\n" + review.Output,
			CostUSD:  review.CostUSD,
		}, nil
	}

	gr := GateResult{Score: score, CostUSD: review.CostUSD}
	if score >= g.threshold {
		gr.Passed = true
	} else {
		gr.Feedback = fmt.Sprintf("quality score %.2f below threshold %.2f:\n%s",
			score, g.threshold, review.Output)
	}
	return gr, nil
}
