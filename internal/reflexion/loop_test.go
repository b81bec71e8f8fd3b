package reflexion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/agent"
	"github.com/aurora-dev/aurora/internal/budget"
	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/memory"
	"github.com/aurora-dev/aurora/internal/testutil"
)

// scriptedGate passes or fails per call in order, repeating the last verdict.
type scriptedGate struct {
	verdicts []GateResult
	calls    int
}

func (g *scriptedGate) Name() string { return "scripted" }

func (g *scriptedGate) Check(context.Context, string, *core.Task, *core.CompletionResult) (GateResult, error) {
	idx := g.calls
	if idx >= len(g.verdicts) {
		idx = len(g.verdicts) - 1
	}
	g.calls++
	return g.verdicts[idx], nil
}

func newTestMemory(t *testing.T) *memory.Hierarchical {
	t.Helper()
	store, err := memory.OpenStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return memory.NewHierarchical(store, memory.NewHashEmbedder(64), nil, logging.NewNop(), memory.Config{})
}

func newTestLoop(t *testing.T, llm *testutil.ScriptedLLM, gates []Gate, opts ...Option) *Loop {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	capability := agent.NewLLMCapability(llm, map[core.ModelTier]string{
		core.TierStandard: "model-s",
	}, logging.NewNop())
	return NewLoop(capability, newTestMemory(t), ws, gates, logging.NewNop(), opts...)
}

const reflectionJSON = "```json\n" +
	`{"root_cause": "off by one in loop", "incorrect_assumptions": "assumed inclusive bound",
	  "improved_strategy": "iterate half-open ranges", "generalizable_lesson": "prefer half-open ranges",
	  "lesson_tag": "half-open-ranges"}` + "\n```"

func TestLoop_FirstAttemptSucceeds(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).Respond("done", 0.05)
	gate := &scriptedGate{verdicts: []GateResult{{Passed: true}}}
	loop := newTestLoop(t, llm, []Gate{gate})

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "implement parser", core.PhaseImplementation)

	result, err := loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.InDelta(t, 0.05, result.CostUSD, 1e-9)
	assert.Equal(t, 1, gate.calls)
}

func TestLoop_ReflectsAndRetries(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).
		Respond("first try", 0.05).   // attempt 1 generation
		Respond(reflectionJSON, 0.01). // reflection after gate failure
		Respond("second try", 0.05)    // attempt 2 generation
	gate := &scriptedGate{verdicts: []GateResult{
		{Passed: false, Feedback: "test failed: want 3, got 2"},
		{Passed: true},
	}}
	loop := newTestLoop(t, llm, []Gate{gate})

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "implement parser", core.PhaseImplementation)

	result, err := loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)

	// The second generation saw the reflection from the first failure.
	calls := llm.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[2].Prompt, "off by one in loop")
	assert.Contains(t, calls[2].Prompt, "iterate half-open ranges")
}

func TestLoop_ReflectionPersistedToEpisodicLog(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).
		Respond("first try", 0.05).
		Respond(reflectionJSON, 0.01).
		Respond("second try", 0.05)
	gate := &scriptedGate{verdicts: []GateResult{
		{Passed: false, Feedback: "boom"},
		{Passed: true},
	}}

	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	mem := newTestMemory(t)
	capability := agent.NewLLMCapability(llm, nil, logging.NewNop())
	loop := NewLoop(capability, mem, ws, []Gate{gate}, logging.NewNop())

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "implement parser", core.PhaseImplementation)
	_, err = loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.NoError(t, err)

	episodes, err := mem.Episodes(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "off by one in loop", episodes[0].RootCause)
	assert.Equal(t, 1, episodes[0].Attempt)
}

func TestLoop_ExhaustsAttempts(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).Respond(reflectionJSON, 0.01)
	gate := &scriptedGate{verdicts: []GateResult{{Passed: false, Feedback: "always fails"}}}
	loop := newTestLoop(t, llm, []Gate{gate}, WithMaxAttempts(2))

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "impossible", core.PhaseImplementation)

	_, err := loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.Error(t, err)
	assert.Equal(t, core.CodeTaskExhausted, core.GetCode(err))
	assert.False(t, core.IsRetryable(err))
	assert.Equal(t, 2, gate.calls)
}

func TestLoop_BudgetExhaustionAborts(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).Respond("never reached", 0)
	gov := budget.NewGovernor(budget.Caps{DailyUSD: 0.001, PauseThreshold: 0.95}, nil)
	loop := newTestLoop(t, llm, []Gate{&scriptedGate{verdicts: []GateResult{{Passed: true}}}},
		WithBudget(gov))

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "t", core.PhaseImplementation).WithEstimatedTokens(100000)

	_, err := loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.Error(t, err)
	assert.Equal(t, core.CodeBudgetExceeded, core.GetCode(err))
	assert.Empty(t, llm.Calls(), "no invocation without a reservation")
}

func TestLoop_GateSpendRecordedInLedger(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).Respond("done", 0.05)
	gov := budget.NewGovernor(budget.Caps{DailyUSD: 10, PauseThreshold: 0.95}, nil)
	gate := &scriptedGate{verdicts: []GateResult{{Passed: true, CostUSD: 0.4}}}
	loop := newTestLoop(t, llm, []Gate{gate}, WithBudget(gov))

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "t", core.PhaseImplementation)

	result, err := loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, result.CostUSD, 1e-9)

	// Generation and gate spend both land in the governor's ledger.
	assert.InDelta(t, 0.45, gov.Spent("daily"), 1e-9)
}

func TestLoop_ExhaustedBudgetStopsGates(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).Respond("done", 0.9)
	gov := budget.NewGovernor(budget.Caps{DailyUSD: 1, PauseThreshold: 0.95}, nil)
	gate := &scriptedGate{verdicts: []GateResult{{Passed: true, CostUSD: 0.4}}}
	loop := newTestLoop(t, llm, []Gate{gate}, WithBudget(gov))

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "t", core.PhaseImplementation)

	// The generation settles at $0.90; the gate's reservation then crosses
	// the pause threshold and the check never runs.
	_, err := loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.Error(t, err)
	assert.Equal(t, core.CodeBudgetExceeded, core.GetCode(err))
	assert.Zero(t, gate.calls)
}

func TestLoop_HeartbeatsBetweenStages(t *testing.T) {
	llm := (&testutil.ScriptedLLM{}).Respond("done", 0)
	var beats int
	loop := newTestLoop(t, llm, []Gate{&scriptedGate{verdicts: []GateResult{{Passed: true}}}},
		WithHeartbeat(func(core.TaskID) { beats++ }))

	ag := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	task := core.NewTask("t1", "t", core.PhaseImplementation)
	_, err := loop.Run(context.Background(), "wf1", "p1", ag, task)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, beats, 2)
}

func TestWorkspace_MaterializeAndCleanup(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root)
	require.NoError(t, err)

	dir, err := ws.Materialize("t1", 1, []core.GeneratedFile{
		{Path: "pkg/util/util.go", Content: "package util"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "pkg/util/util.go"))
	require.NoError(t, err)
	assert.Equal(t, "package util", string(data))

	require.NoError(t, ws.Cleanup("t1"))
	_, err = os.Stat(filepath.Join(root, "t1"))
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_RejectsEscapingPaths(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	for _, path := range []string{"../outside.go", "/etc/passwd", "a/../../b"} {
		_, err := ws.Materialize("t1", 1, []core.GeneratedFile{{Path: path, Content: "x"}})
		require.Error(t, err, "path %s must be rejected", path)
	}
}
