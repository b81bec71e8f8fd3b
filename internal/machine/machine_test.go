package machine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/testutil"
)

func newTestMachine(t *testing.T) (*Machine, *testutil.MemoryState, *events.Bus) {
	t.Helper()
	state := testutil.NewMemoryState()
	bus := events.New(64)
	t.Cleanup(bus.Close)
	return New(state, bus, logging.NewNop()), state, bus
}

func startWorkflow(t *testing.T, m *Machine, mode core.Mode) *core.Workflow {
	t.Helper()
	project := core.NewProject("p1", "demo service", mode)
	w, err := m.Start(context.Background(), project, mode)
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusRunning, w.Status)
	require.Equal(t, core.PhaseRequirements, w.Phase)
	return w
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestShouldBreak(t *testing.T) {
	tests := []struct {
		mode  core.Mode
		phase core.Phase
		want  bool
	}{
		{core.ModeCollaborative, core.PhaseDesign, true},
		{core.ModeCollaborative, core.PhaseSecurityAudit, true},
		{core.ModeCollaborative, core.PhaseImplementation, false},
		{core.ModeCollaborative, core.PhaseRequirements, false},
		{core.ModeAutonomous, core.PhaseDesign, false},
		{core.ModeAutonomous, core.PhaseSecurityAudit, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldBreak(tt.mode, tt.phase),
			"mode=%s phase=%s", tt.mode, tt.phase)
	}
}

func TestMachine_CollaborativeSuspendsAfterDesign(t *testing.T) {
	m, state, bus := newTestMachine(t)
	approvals := bus.SubscribePriority()
	w := startWorkflow(t, m, core.ModeCollaborative)
	ctx := context.Background()

	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{Summary: "requirements done"}))
	require.Equal(t, core.PhaseDesign, w.Phase)

	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{Summary: "design done", CostUSD: 0.4}))
	assert.Equal(t, core.WorkflowStatusAwaitingApproval, w.Status)
	require.NotNil(t, w.Breakpoint)
	assert.Equal(t, "after_design", w.Breakpoint.Checkpoint)
	assert.Equal(t, core.PhaseDesign, w.Breakpoint.Phase)

	// The durable snapshot already carries the breakpoint when the
	// approval_required event arrives.
	ev := <-approvals
	required, ok := ev.(events.ApprovalRequiredEvent)
	require.True(t, ok, "got %T", ev)
	stored, err := state.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Breakpoint)
	assert.Equal(t, required.ApprovalID, stored.Breakpoint.ID)
	assert.Equal(t, core.WorkflowStatusAwaitingApproval, stored.Status)
}

func TestMachine_ApproveAdvancesPastBreakpoint(t *testing.T) {
	m, state, _ := newTestMachine(t)
	w := startWorkflow(t, m, core.ModeCollaborative)
	ctx := context.Background()

	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))
	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))
	approvalID := w.Breakpoint.ID

	err := m.ResolveApproval(ctx, w, core.ApprovalRecord{
		ApprovalID: approvalID,
		Approved:   true,
		ReviewerID: "u1",
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusRunning, w.Status)
	assert.Equal(t, core.PhaseImplementation, w.Phase)
	assert.Nil(t, w.Breakpoint)

	stored, err := state.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseImplementation, stored.Phase)
	require.Len(t, stored.Approvals, 1)
	assert.True(t, stored.Approvals[0].Approved)
}

func TestMachine_RejectReentersPhaseWithComments(t *testing.T) {
	m, _, _ := newTestMachine(t)
	w := startWorkflow(t, m, core.ModeCollaborative)
	ctx := context.Background()

	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))
	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))

	err := m.ResolveApproval(ctx, w, core.ApprovalRecord{
		ApprovalID: w.Breakpoint.ID,
		Approved:   false,
		ReviewerID: "u1",
		Comments:   "use monolith",
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.PhaseDesign, w.Phase)
	assert.Equal(t, core.WorkflowStatusRunning, w.Status)
	assert.Equal(t, "use monolith", w.ReworkComments)
}

func TestMachine_DuplicateApprovalIsNoOp(t *testing.T) {
	m, _, _ := newTestMachine(t)
	w := startWorkflow(t, m, core.ModeCollaborative)
	ctx := context.Background()

	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))
	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))
	record := core.ApprovalRecord{
		ApprovalID: w.Breakpoint.ID,
		Approved:   true,
		ReviewerID: "u1",
		DecidedAt:  time.Now(),
	}

	require.NoError(t, m.ResolveApproval(ctx, w, record))
	version := w.Version

	// Redelivery applies nothing.
	require.NoError(t, m.ResolveApproval(ctx, w, record))
	assert.Equal(t, version, w.Version)
	assert.Len(t, w.Approvals, 1)
	assert.Equal(t, core.PhaseImplementation, w.Phase)
}

func TestMachine_UnknownApprovalRejected(t *testing.T) {
	m, _, _ := newTestMachine(t)
	w := startWorkflow(t, m, core.ModeCollaborative)
	ctx := context.Background()

	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))
	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))

	err := m.ResolveApproval(ctx, w, core.ApprovalRecord{
		ApprovalID: "never-issued",
		Approved:   true,
		ReviewerID: "u1",
		DecidedAt:  time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeApprovalResolved, core.GetCode(err))
	assert.Equal(t, core.WorkflowStatusAwaitingApproval, w.Status)
}

func TestMachine_AutonomousRunsToCompletion(t *testing.T) {
	m, state, _ := newTestMachine(t)
	w := startWorkflow(t, m, core.ModeAutonomous)
	ctx := context.Background()

	for w.Status == core.WorkflowStatusRunning {
		require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{CostUSD: 0.1}))
	}

	assert.Equal(t, core.WorkflowStatusCompleted, w.Status)
	assert.Equal(t, core.PhaseCompleted, w.Phase)
	assert.Equal(t, 1.0, w.Progress)
	assert.InDelta(t, 1.0, w.TotalCostUSD, 1e-9)
	assert.Empty(t, w.Approvals)

	stored, err := state.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusCompleted, stored.Status)
}

func TestMachine_GateFailureSuspendsAutonomous(t *testing.T) {
	m, _, bus := newTestMachine(t)
	approvals := bus.SubscribePriority()
	w := startWorkflow(t, m, core.ModeAutonomous)
	ctx := context.Background()

	require.NoError(t, m.SuspendForGateFailure(ctx, w, "quality gate failed after 5 attempts"))
	assert.Equal(t, core.WorkflowStatusAwaitingApproval, w.Status)
	require.NotNil(t, w.Breakpoint)
	assert.Equal(t, "gate_failure", w.Breakpoint.Checkpoint)
	assert.Equal(t, core.PhaseRequirements, w.Breakpoint.Phase)

	ev := <-approvals
	required, ok := ev.(events.ApprovalRequiredEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "quality gate failed after 5 attempts", required.Reason)
}

func TestMachine_PauseResumeRoundTrip(t *testing.T) {
	m, state, _ := newTestMachine(t)
	w := startWorkflow(t, m, core.ModeAutonomous)
	ctx := context.Background()

	require.NoError(t, m.Pause(ctx, w, "budget threshold reached"))
	assert.Equal(t, core.WorkflowStatusPaused, w.Status)

	stored, err := state.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusPaused, stored.Status)
	assert.Equal(t, "budget threshold reached", stored.PauseReason)

	// Resume from the persisted snapshot, as after a process restart.
	require.NoError(t, m.Resume(ctx, stored))
	assert.Equal(t, core.WorkflowStatusRunning, stored.Status)
	assert.Empty(t, stored.PauseReason)
}

func TestMachine_CancelIsTerminal(t *testing.T) {
	m, _, bus := newTestMachine(t)
	cancelled := bus.Subscribe(events.TypeWorkflowCancelled)
	w := startWorkflow(t, m, core.ModeAutonomous)
	ctx := context.Background()

	require.NoError(t, m.Cancel(ctx, w, "operator abort"))
	assert.Equal(t, core.WorkflowStatusCancelled, w.Status)
	assert.True(t, w.IsTerminal())

	evs := drainEvents(cancelled)
	require.Len(t, evs, 1)

	err := m.Cancel(ctx, w, "again")
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidState, core.GetCode(err))
}

func TestMachine_TransitionsAppendToEventLog(t *testing.T) {
	m, state, _ := newTestMachine(t)
	w := startWorkflow(t, m, core.ModeAutonomous)
	ctx := context.Background()

	require.NoError(t, m.CompletePhase(ctx, w, &core.PhaseResult{}))
	require.NoError(t, m.Pause(ctx, w, "x"))

	recs, err := state.LoadEvents(ctx, w.ID, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recs), 3)
	assert.Equal(t, events.TypeWorkflowStarted, recs[0].Type)
	for i, rec := range recs {
		assert.Equal(t, int64(i+1), rec.Seq)
	}
}
