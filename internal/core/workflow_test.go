package core

import (
	"testing"
	"time"
)

func newRunningWorkflow(t *testing.T) *Workflow {
	t.Helper()
	w := NewWorkflow("wf1", "p1", ModeCollaborative)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w
}

func TestWorkflow_StartSetsFirstPhase(t *testing.T) {
	w := newRunningWorkflow(t)
	if w.Phase != PhaseRequirements {
		t.Errorf("phase after start = %s, want requirements", w.Phase)
	}
	if w.Status != WorkflowStatusRunning {
		t.Errorf("status = %s, want running", w.Status)
	}
}

func TestWorkflow_VersionMonotonic(t *testing.T) {
	w := NewWorkflow("wf1", "p1", ModeAutonomous)
	v := w.Version

	steps := []func() error{
		w.Start,
		func() error { return w.EnterPhase(PhaseDesign) },
		func() error { return w.CompletePhase(&PhaseResult{CostUSD: 0.5}) },
		func() error { return w.Pause("manual") },
		w.Resume,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if w.Version <= v {
			t.Fatalf("step %d: version %d not greater than %d", i, w.Version, v)
		}
		v = w.Version
	}
}

func TestWorkflow_SuspendAndApprove(t *testing.T) {
	w := newRunningWorkflow(t)
	if err := w.EnterPhase(PhaseDesign); err != nil {
		t.Fatal(err)
	}

	bp := NewBreakpoint("bp1", "post_design_review", PhaseDesign, "collaborative design gate")
	if err := w.Suspend(bp); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if w.Status != WorkflowStatusAwaitingApproval {
		t.Fatalf("status = %s, want awaiting_approval", w.Status)
	}

	rec := ApprovalRecord{ApprovalID: "bp1", Approved: true, ReviewerID: "u1", DecidedAt: time.Now()}
	if err := w.Resolve(rec); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if w.Phase != PhaseImplementation {
		t.Errorf("phase after approval = %s, want implementation", w.Phase)
	}
	if w.Breakpoint != nil {
		t.Error("breakpoint should be cleared")
	}
	if len(w.Approvals) != 1 {
		t.Errorf("approvals len = %d, want 1", len(w.Approvals))
	}
}

func TestWorkflow_RejectReentersPhaseWithComments(t *testing.T) {
	w := newRunningWorkflow(t)
	if err := w.EnterPhase(PhaseDesign); err != nil {
		t.Fatal(err)
	}
	if err := w.Suspend(NewBreakpoint("bp1", "post_design_review", PhaseDesign, "gate")); err != nil {
		t.Fatal(err)
	}

	rec := ApprovalRecord{ApprovalID: "bp1", Approved: false, ReviewerID: "u1", Comments: "use monolith"}
	if err := w.Resolve(rec); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if w.Phase != PhaseDesign {
		t.Errorf("rejected workflow should re-enter design, got %s", w.Phase)
	}
	if w.ReworkComments != "use monolith" {
		t.Errorf("rework comments = %q", w.ReworkComments)
	}
	if w.Status != WorkflowStatusRunning {
		t.Errorf("status = %s, want running", w.Status)
	}
}

func TestWorkflow_ResolveWithoutBreakpoint(t *testing.T) {
	w := newRunningWorkflow(t)
	err := w.Resolve(ApprovalRecord{ApprovalID: "x", Approved: true, ReviewerID: "u1"})
	if err == nil {
		t.Error("Resolve on running workflow should fail")
	}
}

func TestWorkflow_PauseResume(t *testing.T) {
	w := newRunningWorkflow(t)
	if err := w.Pause("budget_exceeded"); err != nil {
		t.Fatal(err)
	}
	if w.PauseReason != "budget_exceeded" {
		t.Errorf("pause reason = %q", w.PauseReason)
	}
	if err := w.Resume(); err != nil {
		t.Fatal(err)
	}
	if w.PauseReason != "" {
		t.Error("pause reason should clear on resume")
	}
}

func TestWorkflow_TerminalStates(t *testing.T) {
	w := newRunningWorkflow(t)
	if err := w.Complete(); err != nil {
		t.Fatal(err)
	}
	if !w.IsTerminal() || w.Phase != PhaseCompleted || w.Progress != 1.0 {
		t.Errorf("completed workflow: terminal=%v phase=%s progress=%v",
			w.IsTerminal(), w.Phase, w.Progress)
	}
	if err := w.Cancel("late"); err == nil {
		t.Error("cancel of terminal workflow should fail")
	}
}

func TestWorkflow_CompletePhaseAccumulatesCost(t *testing.T) {
	w := newRunningWorkflow(t)
	if err := w.CompletePhase(&PhaseResult{CostUSD: 1.25}); err != nil {
		t.Fatal(err)
	}
	if err := w.EnterPhase(PhaseDesign); err != nil {
		t.Fatal(err)
	}
	if err := w.CompletePhase(&PhaseResult{CostUSD: 0.75}); err != nil {
		t.Fatal(err)
	}
	if w.TotalCostUSD != 2.0 {
		t.Errorf("TotalCostUSD = %v, want 2.0", w.TotalCostUSD)
	}
	if w.PhaseResults[PhaseDesign] == nil {
		t.Error("design phase result not recorded")
	}
}
