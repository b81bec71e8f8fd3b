package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/assign"
	"github.com/aurora-dev/aurora/internal/budget"
	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/machine"
	"github.com/aurora-dev/aurora/internal/testutil"
)

// stubPlanner emits one task per phase and records what it saw.
type stubPlanner struct {
	mu     sync.Mutex
	rework []string
}

func (p *stubPlanner) Plan(_ context.Context, w *core.Workflow, project *core.Project) ([]*core.Task, error) {
	p.mu.Lock()
	if w.ReworkComments != "" {
		p.rework = append(p.rework, w.ReworkComments)
	}
	p.mu.Unlock()
	return []*core.Task{fallbackTask(w, project)}, nil
}

func (p *stubPlanner) reworkSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.rework...)
}

// stubExecutor succeeds instantly unless a phase is marked failing.
type stubExecutor struct {
	mu       sync.Mutex
	failures map[core.Phase]error
	runs     int
}

func (e *stubExecutor) Run(_ context.Context, _ core.WorkflowID, _ core.ProjectID, _ *core.Agent, task *core.Task) (*core.TaskResult, error) {
	e.mu.Lock()
	e.runs++
	err := e.failures[task.Phase]
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &core.TaskResult{Output: "done", CostUSD: 0.01, Attempts: 1, EndedAt: time.Now()}, nil
}

type fixture struct {
	orch    *Orchestrator
	state   *testutil.MemoryState
	bus     *events.Bus
	planner *stubPlanner
	exec    *stubExecutor
	gov     *budget.Governor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := testutil.NewMemoryState()
	bus := events.New(256)
	t.Cleanup(bus.Close)
	log := logging.NewNop()

	planner := &stubPlanner{}
	exec := &stubExecutor{failures: make(map[core.Phase]error)}
	pool := agentPool{core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000).WithMaxTasks(4)}
	gov := budget.NewGovernor(budget.DefaultCaps(), nil)

	orch := New(state, bus, machine.New(state, bus, log), pool,
		assign.New(), exec, planner, log, nil, WithMaxParallel(2), WithBudget(gov))
	return &fixture{orch: orch, state: state, bus: bus, planner: planner, exec: exec, gov: gov}
}

type agentPool []*core.Agent

func (p agentPool) All() []*core.Agent { return p }

func (p agentPool) Get(id core.AgentID) (*core.Agent, bool) {
	for _, a := range p {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

func waitForStatus(t *testing.T, f *fixture, id core.WorkflowID, want core.WorkflowStatus) *core.Workflow {
	t.Helper()
	var w *core.Workflow
	require.Eventually(t, func() bool {
		var err error
		w, err = f.state.LoadWorkflow(context.Background(), id)
		return err == nil && w.Status == want
	}, 10*time.Second, 10*time.Millisecond, "workflow never reached %s", want)
	return w
}

func TestOrchestrator_AutonomousRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	project := core.NewProject(core.ProjectID(uuid.NewString()), "todo CRUD API", core.ModeAutonomous)

	w, err := f.orch.StartWorkflow(context.Background(), project, core.ModeAutonomous)
	require.NoError(t, err)

	stored := waitForStatus(t, f, w.ID, core.WorkflowStatusCompleted)
	assert.Equal(t, core.PhaseCompleted, stored.Phase)
	assert.Empty(t, stored.Approvals)
	// One task per phase, nine phases.
	assert.Equal(t, 9, f.exec.runs)
	assert.InDelta(t, 0.09, stored.TotalCostUSD, 1e-9)
}

func TestOrchestrator_CollaborativeAwaitsDesignApproval(t *testing.T) {
	f := newFixture(t)
	project := core.NewProject(core.ProjectID(uuid.NewString()), "todo CRUD API", core.ModeCollaborative)

	w, err := f.orch.StartWorkflow(context.Background(), project, core.ModeCollaborative)
	require.NoError(t, err)

	stored := waitForStatus(t, f, w.ID, core.WorkflowStatusAwaitingApproval)
	require.NotNil(t, stored.Breakpoint)
	assert.Equal(t, "after_design", stored.Breakpoint.Checkpoint)

	pending, err := f.state.ListAwaitingApproval(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.orch.ResolveApproval(context.Background(), w.ID, core.ApprovalRecord{
		ApprovalID: stored.Breakpoint.ID,
		Approved:   true,
		ReviewerID: "u1",
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)

	// Execution continues to the security audit breakpoint.
	stored = waitForStatus(t, f, w.ID, core.WorkflowStatusAwaitingApproval)
	require.Eventually(t, func() bool {
		stored, _ = f.state.LoadWorkflow(context.Background(), w.ID)
		return stored.Breakpoint != nil && stored.Breakpoint.Checkpoint == "after_security_audit"
	}, 10*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_RejectionFeedsReworkIntoNextPlan(t *testing.T) {
	f := newFixture(t)
	project := core.NewProject(core.ProjectID(uuid.NewString()), "todo CRUD API", core.ModeCollaborative)

	w, err := f.orch.StartWorkflow(context.Background(), project, core.ModeCollaborative)
	require.NoError(t, err)
	stored := waitForStatus(t, f, w.ID, core.WorkflowStatusAwaitingApproval)

	_, err = f.orch.ResolveApproval(context.Background(), w.ID, core.ApprovalRecord{
		ApprovalID: stored.Breakpoint.ID,
		Approved:   false,
		ReviewerID: "u1",
		Comments:   "use monolith",
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)

	// Design re-runs with the reviewer's words, then suspends again.
	require.Eventually(t, func() bool {
		for _, c := range f.planner.reworkSeen() {
			if c == "use monolith" {
				return true
			}
		}
		return false
	}, 10*time.Second, 10*time.Millisecond)
	waitForStatus(t, f, w.ID, core.WorkflowStatusAwaitingApproval)
}

func TestOrchestrator_ExhaustedTaskSuspendsWorkflow(t *testing.T) {
	f := newFixture(t)
	f.exec.failures[core.PhaseRequirements] = core.ErrTaskExhausted("t", 5)
	project := core.NewProject(core.ProjectID(uuid.NewString()), "todo CRUD API", core.ModeAutonomous)

	w, err := f.orch.StartWorkflow(context.Background(), project, core.ModeAutonomous)
	require.NoError(t, err)

	stored := waitForStatus(t, f, w.ID, core.WorkflowStatusAwaitingApproval)
	require.NotNil(t, stored.Breakpoint)
	assert.Equal(t, "gate_failure", stored.Breakpoint.Checkpoint)
	assert.Equal(t, core.PhaseRequirements, stored.Breakpoint.Phase)
}

func TestOrchestrator_BudgetExhaustionPausesLiveWorkflows(t *testing.T) {
	f := newFixture(t)
	// Stall execution so the workflow is live when the event arrives.
	blocker := make(chan struct{})
	f.exec.failures = nil
	f.orch.executor = executorFunc(func(ctx context.Context) (*core.TaskResult, error) {
		select {
		case <-blocker:
			return &core.TaskResult{Output: "done"}, nil
		case <-ctx.Done():
			return nil, core.ErrCancelled("cancelled").WithCause(ctx.Err())
		}
	})
	defer close(blocker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.orch.Run(ctx)

	project := core.NewProject(core.ProjectID(uuid.NewString()), "todo CRUD API", core.ModeAutonomous)
	w, err := f.orch.StartWorkflow(context.Background(), project, core.ModeAutonomous)
	require.NoError(t, err)

	f.bus.PublishPriority(events.NewBudgetExceededEvent("", "daily", 95, 100))

	stored := waitForStatus(t, f, w.ID, core.WorkflowStatusPaused)
	assert.Equal(t, "budget_exceeded", stored.PauseReason)
}

type executorFunc func(ctx context.Context) (*core.TaskResult, error)

func (f executorFunc) Run(ctx context.Context, _ core.WorkflowID, _ core.ProjectID, _ *core.Agent, _ *core.Task) (*core.TaskResult, error) {
	return f(ctx)
}

func TestOrchestrator_StartRegistersProjectCap(t *testing.T) {
	f := newFixture(t)
	project := core.NewProject(core.ProjectID(uuid.NewString()), "todo CRUD API", core.ModeAutonomous).
		WithBudgetCap(0.02)

	w, err := f.orch.StartWorkflow(context.Background(), project, core.ModeAutonomous)
	require.NoError(t, err)

	// The project's cap is live in the governor from the moment the
	// workflow starts: an oversized reservation is refused.
	_, err = f.gov.Reserve(w.ID, project.ID, 1.0)
	require.Error(t, err)
	assert.Equal(t, core.CodeBudgetExceeded, core.GetCode(err))
}

func TestOrchestrator_PauseResumeRoundTrip(t *testing.T) {
	f := newFixture(t)
	project := core.NewProject(core.ProjectID(uuid.NewString()), "todo CRUD API", core.ModeCollaborative)

	w, err := f.orch.StartWorkflow(context.Background(), project, core.ModeCollaborative)
	require.NoError(t, err)
	waitForStatus(t, f, w.ID, core.WorkflowStatusAwaitingApproval)

	// Simulate a restart: a fresh orchestrator over the same state leaves
	// the suspended workflow parked with its breakpoint intact.
	log := logging.NewNop()
	orch2 := New(f.state, f.bus, machine.New(f.state, f.bus, log),
		agentPool{core.NewAgent("backend-1", core.RoleBackend, "model-s", 128000)},
		assign.New(), f.exec, f.planner, log, nil)
	require.NoError(t, orch2.ResumeFromDisk(context.Background()))

	stored, err := f.state.LoadWorkflow(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusAwaitingApproval, stored.Status)
	require.NotNil(t, stored.Breakpoint)

	// Approval through the new instance resumes execution.
	_, err = orch2.ResolveApproval(context.Background(), w.ID, core.ApprovalRecord{
		ApprovalID: stored.Breakpoint.ID,
		Approved:   true,
		ReviewerID: "u1",
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)
	waitForStatus(t, f, w.ID, core.WorkflowStatusAwaitingApproval)
}
