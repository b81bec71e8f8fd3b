package assign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/core"
)

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, core.TierCheap, TierFor(1))
	assert.Equal(t, core.TierCheap, TierFor(3))
	assert.Equal(t, core.TierStandard, TierFor(4))
	assert.Equal(t, core.TierStandard, TierFor(7))
	assert.Equal(t, core.TierHigh, TierFor(8))
	assert.Equal(t, core.TierHigh, TierFor(10))
}

func TestPick_RoleMatchWins(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	backend := core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)
	tester := core.NewAgent("test-1", core.RoleTest, "model-s", 128000)

	task := core.NewTask("t1", "write store", core.PhaseImplementation).
		WithRole(core.RoleBackend)
	picked, err := a.Pick(task, []*core.Agent{tester, backend})
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("backend-1"), picked.ID)
}

func TestPick_RoleMismatchStillEligible(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	// Nobody carries the declared role; the task is still served rather
	// than cycling AGENT_NOT_FOUND forever.
	docs := core.NewAgent("docs-1", core.RoleDocumentation, "model-s", 128000)

	task := core.NewTask("t1", "write store", core.PhaseImplementation).
		WithRole(core.RoleBackend)
	picked, err := a.Pick(task, []*core.Agent{docs})
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("docs-1"), picked.ID)
}

func TestPick_WorkloadBreaksRoleTie(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	busy := core.NewAgent("busy", core.RoleBackend, "model-s", 128000).WithMaxTasks(2)
	idle := core.NewAgent("idle", core.RoleBackend, "model-s", 128000).WithMaxTasks(2)
	require.True(t, busy.Acquire(now))

	task := core.NewTask("t1", "write store", core.PhaseImplementation).
		WithRole(core.RoleBackend)
	picked, err := a.Pick(task, []*core.Agent{busy, idle})
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("idle"), picked.ID)
}

func TestPick_SuccessRateMatters(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	strong := core.NewAgent("strong", core.RoleBackend, "model-s", 128000).WithMaxTasks(4)
	weak := core.NewAgent("weak", core.RoleBackend, "model-s", 128000).WithMaxTasks(4)
	for i := 0; i < 4; i++ {
		require.True(t, strong.Acquire(now.Add(-time.Hour)))
		strong.Release(true)
		require.True(t, weak.Acquire(now.Add(-time.Hour)))
		weak.Release(false)
	}

	task := core.NewTask("t1", "t", core.PhaseImplementation).WithRole(core.RoleBackend)
	picked, err := a.Pick(task, []*core.Agent{weak, strong})
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("strong"), picked.ID)
}

func TestPick_LeastRecentlyAssignedBreaksTies(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	older := core.NewAgent("older", core.RoleBackend, "model-s", 128000).WithMaxTasks(2)
	newer := core.NewAgent("newer", core.RoleBackend, "model-s", 128000).WithMaxTasks(2)
	// Equal history two hours or more in the past: rotation saturates and
	// all score terms tie.
	require.True(t, older.Acquire(now.Add(-3*time.Hour)))
	older.Release(true)
	require.True(t, newer.Acquire(now.Add(-2*time.Hour)))
	newer.Release(true)

	task := core.NewTask("t1", "t", core.PhaseImplementation).WithRole(core.RoleBackend)
	picked, err := a.Pick(task, []*core.Agent{newer, older})
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("older"), picked.ID)
}

func TestPick_ContextWindowFilter(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	small := core.NewAgent("small", core.RoleBackend, "model-c", 10000)
	big := core.NewAgent("big", core.RoleBackend, "model-h", 200000)

	// 9000 tokens exceeds 80% of the 10k window but fits the 200k one.
	task := core.NewTask("t1", "t", core.PhaseImplementation).
		WithRole(core.RoleBackend).WithEstimatedTokens(9000)
	picked, err := a.Pick(task, []*core.Agent{small, big})
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("big"), picked.ID)
}

func TestPick_NoWindowFits(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	agent := core.NewAgent("a1", core.RoleBackend, "model-s", 10000)
	task := core.NewTask("t1", "t", core.PhaseImplementation).
		WithRole(core.RoleBackend).WithEstimatedTokens(50000)

	_, err := a.Pick(task, []*core.Agent{agent})
	require.Error(t, err)
	assert.Equal(t, core.CodeContextTooLarge, core.GetCode(err))
	assert.False(t, core.IsRetryable(err))
}

func TestPick_QuarantinedAgentSkipped(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	bad := core.NewAgent("bad", core.RoleBackend, "model-s", 128000)
	for i := 0; i < 3; i++ {
		bad.RecordStuck(now, 10*time.Minute)
	}
	require.True(t, bad.Quarantined(now))
	good := core.NewAgent("good", core.RoleBackend, "model-s", 128000)

	task := core.NewTask("t1", "t", core.PhaseImplementation).WithRole(core.RoleBackend)
	picked, err := a.Pick(task, []*core.Agent{bad, good})
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("good"), picked.ID)
}

func TestPick_AllBusy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := New(fixedClock(now))

	busy := core.NewAgent("busy", core.RoleBackend, "model-s", 128000).WithMaxTasks(1)
	require.True(t, busy.Acquire(now))

	task := core.NewTask("t1", "t", core.PhaseImplementation).WithRole(core.RoleBackend)
	_, err := a.Pick(task, []*core.Agent{busy})
	require.Error(t, err)
	assert.Equal(t, core.CodeAgentNotFound, core.GetCode(err))
}
