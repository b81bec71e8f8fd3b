package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/config"
	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/testutil"
)

func TestRegistry_FromConfig(t *testing.T) {
	r, err := NewRegistry([]config.AgentConfig{
		{ID: "backend-1", Role: "backend", Model: "model-s", ContextLimit: 128000, MaxTasks: 3},
		{ID: "test-1", Role: "test", Model: "model-c", ContextLimit: 32000, Tier: "cheap"},
	})
	require.NoError(t, err)

	a, ok := r.Get("backend-1")
	require.True(t, ok)
	assert.Equal(t, core.RoleBackend, a.Role)
	assert.Equal(t, 3, a.MaxTasks)

	tester, ok := r.Get("test-1")
	require.True(t, ok)
	assert.Equal(t, core.TierCheap, tester.Tier)

	assert.Len(t, r.ByRole(core.RoleBackend), 1)
	assert.Len(t, r.All(), 2)
}

func TestRegistry_RejectsUnknownRole(t *testing.T) {
	_, err := NewRegistry([]config.AgentConfig{{ID: "x", Role: "wizard", Model: "m"}})
	require.Error(t, err)
}

func TestRegistry_RejectsDuplicateID(t *testing.T) {
	_, err := NewRegistry([]config.AgentConfig{
		{ID: "a", Role: "backend", Model: "m"},
		{ID: "a", Role: "test", Model: "m"},
	})
	require.Error(t, err)
}

func newCapability(client core.LLMClient) *LLMCapability {
	return NewLLMCapability(client, map[core.ModelTier]string{
		core.TierCheap:    "model-c",
		core.TierStandard: "model-s",
		core.TierHigh:     "model-h",
	}, logging.NewNop())
}

func TestPrepareContext_PromptAssembly(t *testing.T) {
	c := newCapability(&testutil.ScriptedLLM{})
	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)

	task := core.NewTask("t1", "implement the store", core.PhaseImplementation).
		WithDescription("sqlite-backed store").
		WithCriteria("all tests pass").
		WithFilePaths("internal/store/store.go")

	req, err := c.PrepareContext(context.Background(), ag, TaskContext{
		Task:     task,
		Recalled: []string{"older lesson", "most relevant lesson"},
		PriorFailures: []*core.Reflection{{
			Attempt:          1,
			RootCause:        "nil map write",
			ImprovedStrategy: "initialize maps in constructor",
		}},
		ReworkComments: "use WAL mode",
	})
	require.NoError(t, err)

	assert.Equal(t, "model-s", req.Model)
	assert.Contains(t, req.SystemPrompt, "backend")
	assert.Contains(t, req.Prompt, "implement the store")
	assert.Contains(t, req.Prompt, "all tests pass")
	assert.Contains(t, req.Prompt, "internal/store/store.go")
	assert.Contains(t, req.Prompt, "nil map write")
	assert.Contains(t, req.Prompt, "use WAL mode")

	// Tail-critical ordering survives assembly.
	older := strings.Index(req.Prompt, "older lesson")
	relevant := strings.Index(req.Prompt, "most relevant lesson")
	assert.Less(t, older, relevant)
}

func TestPrepareContext_TierRoutesModel(t *testing.T) {
	c := newCapability(&testutil.ScriptedLLM{})
	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)

	task := core.NewTask("t1", "hard task", core.PhaseImplementation)
	task.Tier = core.TierHigh
	req, err := c.PrepareContext(context.Background(), ag, TaskContext{Task: task})
	require.NoError(t, err)
	assert.Equal(t, "model-h", req.Model)
}

func TestPostProcess_ExtractsFilesEnvelope(t *testing.T) {
	c := newCapability(&testutil.ScriptedLLM{})
	task := core.NewTask("t1", "t", core.PhaseImplementation).
		WithFilePaths("main.go")

	result := &core.CompletionResult{Output: "Here you go:\n```json\n" +
		`{"files": [{"path": "main.go", "content": "package main"}]}` +
		"\n```\ndone"}
	processed, err := c.PostProcess(context.Background(), task, result)
	require.NoError(t, err)
	require.Len(t, processed.Files, 1)
	assert.Equal(t, "main.go", processed.Files[0].Path)
}

func TestPostProcess_RejectsUndeclaredPath(t *testing.T) {
	c := newCapability(&testutil.ScriptedLLM{})
	task := core.NewTask("t1", "t", core.PhaseImplementation).
		WithFilePaths("main.go")

	result := &core.CompletionResult{Output: "```json\n" +
		`{"files": [{"path": "../../etc/passwd", "content": "x"}]}` +
		"\n```"}
	_, err := c.PostProcess(context.Background(), task, result)
	require.Error(t, err)
}

func TestPostProcess_PlainOutputPassesThrough(t *testing.T) {
	c := newCapability(&testutil.ScriptedLLM{})
	task := core.NewTask("t1", "review", core.PhaseCodeReview)

	result := &core.CompletionResult{Output: "The design looks sound."}
	processed, err := c.PostProcess(context.Background(), task, result)
	require.NoError(t, err)
	assert.Empty(t, processed.Files)
	assert.Equal(t, "The design looks sound.", processed.Output)
}
