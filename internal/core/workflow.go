package core

import (
	"fmt"
	"time"
)

// WorkflowID uniquely identifies a workflow run.
type WorkflowID string

// WorkflowStatus represents the current state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusStarting         WorkflowStatus = "starting"
	WorkflowStatusRunning          WorkflowStatus = "running"
	WorkflowStatusPaused           WorkflowStatus = "paused"
	WorkflowStatusAwaitingApproval WorkflowStatus = "awaiting_approval"
	WorkflowStatusCompleted        WorkflowStatus = "completed"
	WorkflowStatusFailed           WorkflowStatus = "failed"
	WorkflowStatusCancelled        WorkflowStatus = "cancelled"
)

// Mode selects the gating behavior of the workflow state machine.
type Mode string

const (
	// ModeAutonomous runs end-to-end; breakpoints fire only on quality-gate
	// failure or budget exhaustion.
	ModeAutonomous Mode = "autonomous"

	// ModeCollaborative pauses for human approval after designated phases.
	ModeCollaborative Mode = "collaborative"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAutonomous, ModeCollaborative:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode: %s", s)
	}
}

// PhaseResult records the outcome of a completed phase.
type PhaseResult struct {
	Phase       Phase     `json:"phase"`
	Summary     string    `json:"summary,omitempty"`
	Artifacts   []string  `json:"artifacts,omitempty"`
	CostUSD     float64   `json:"cost_usd"`
	CompletedAt time.Time `json:"completed_at"`
}

// Workflow is one execution of a project through the phase lifecycle.
// The record is append-only history: it is updated on every transition and
// retained forever.
type Workflow struct {
	ID        WorkflowID
	ProjectID ProjectID
	Mode      Mode
	Phase     Phase
	Status    WorkflowStatus

	// Version increases monotonically on every persisted transition.
	Version int64

	Progress     float64 // completion fraction in [0,1]
	PauseReason  string
	Breakpoint   *Breakpoint      // non-nil while awaiting approval
	Approvals    []ApprovalRecord // append-only decision history
	PhaseResults map[Phase]*PhaseResult

	// ReworkComments carries reviewer feedback into the re-entered phase
	// after a rejected approval.
	ReworkComments string

	TotalCostUSD float64
	StartedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	Error        string
}

// NewWorkflow creates a workflow in the starting state.
func NewWorkflow(id WorkflowID, projectID ProjectID, mode Mode) *Workflow {
	now := time.Now()
	return &Workflow{
		ID:           id,
		ProjectID:    projectID,
		Mode:         mode,
		Phase:        PhaseIdle,
		Status:       WorkflowStatusStarting,
		PhaseResults: make(map[Phase]*PhaseResult),
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

func (w *Workflow) touch() {
	w.Version++
	w.UpdatedAt = time.Now()
}

// Start transitions the workflow to running.
func (w *Workflow) Start() error {
	if w.Status != WorkflowStatusStarting {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot start workflow in %s state", w.Status))
	}
	w.Status = WorkflowStatusRunning
	w.Phase = PhaseRequirements
	w.touch()
	return nil
}

// EnterPhase records a serial phase transition.
func (w *Workflow) EnterPhase(p Phase) error {
	if w.Status != WorkflowStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot change phase in %s state", w.Status))
	}
	if !ValidPhase(p) {
		return ErrValidation("INVALID_PHASE", fmt.Sprintf("unknown phase %q", p))
	}
	w.Phase = p
	w.touch()
	return nil
}

// CompletePhase records the result of the current phase.
func (w *Workflow) CompletePhase(result *PhaseResult) error {
	if w.Status != WorkflowStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot complete phase in %s state", w.Status))
	}
	result.Phase = w.Phase
	result.CompletedAt = time.Now()
	w.PhaseResults[w.Phase] = result
	w.TotalCostUSD += result.CostUSD
	w.Progress = float64(PhaseOrder(w.Phase)) / float64(PhaseOrder(PhaseCompleted))
	w.touch()
	return nil
}

// Suspend parks the workflow at a breakpoint. The originating phase is
// remembered on the breakpoint so approval can resume past it.
func (w *Workflow) Suspend(bp *Breakpoint) error {
	if w.Status != WorkflowStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot suspend workflow in %s state", w.Status))
	}
	w.Status = WorkflowStatusAwaitingApproval
	w.Breakpoint = bp
	w.touch()
	return nil
}

// Resolve applies an approval decision to a suspended workflow.
// Approval advances past the breakpoint phase; rejection re-enters the
// originating phase with the reviewer's comments attached.
func (w *Workflow) Resolve(record ApprovalRecord) error {
	if w.Status != WorkflowStatusAwaitingApproval {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot resolve approval in %s state", w.Status))
	}
	if w.Breakpoint == nil {
		return ErrState(CodeStateCorrupted, "awaiting approval without a breakpoint")
	}
	w.Approvals = append(w.Approvals, record)
	origin := w.Breakpoint.Phase
	w.Breakpoint = nil
	w.Status = WorkflowStatusRunning
	if record.Approved {
		w.Phase = NextPhase(origin)
		w.ReworkComments = ""
	} else {
		w.Phase = origin
		w.ReworkComments = record.Comments
	}
	w.touch()
	return nil
}

// Pause transitions the workflow to paused with a reason.
func (w *Workflow) Pause(reason string) error {
	if w.Status != WorkflowStatusRunning && w.Status != WorkflowStatusStarting {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot pause workflow in %s state", w.Status))
	}
	w.Status = WorkflowStatusPaused
	w.PauseReason = reason
	w.touch()
	return nil
}

// Resume transitions the workflow from paused back to running.
func (w *Workflow) Resume() error {
	if w.Status != WorkflowStatusPaused {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot resume workflow in %s state", w.Status))
	}
	w.Status = WorkflowStatusRunning
	w.PauseReason = ""
	w.touch()
	return nil
}

// Complete marks the workflow finished.
func (w *Workflow) Complete() error {
	if w.Status != WorkflowStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot complete workflow in %s state", w.Status))
	}
	w.Status = WorkflowStatusCompleted
	w.Phase = PhaseCompleted
	w.Progress = 1.0
	now := time.Now()
	w.CompletedAt = &now
	w.touch()
	return nil
}

// Fail marks the workflow failed.
func (w *Workflow) Fail(err error) {
	w.Status = WorkflowStatusFailed
	if err != nil {
		w.Error = err.Error()
	}
	now := time.Now()
	w.CompletedAt = &now
	w.touch()
}

// Cancel marks the workflow cancelled.
func (w *Workflow) Cancel(reason string) error {
	if w.IsTerminal() {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot cancel workflow in %s state", w.Status))
	}
	w.Status = WorkflowStatusCancelled
	w.Error = reason
	now := time.Now()
	w.CompletedAt = &now
	w.touch()
	return nil
}

// IsTerminal returns true if the workflow is in a terminal state.
func (w *Workflow) IsTerminal() bool {
	return w.Status == WorkflowStatusCompleted ||
		w.Status == WorkflowStatusFailed ||
		w.Status == WorkflowStatusCancelled
}

// Suspended reports whether the workflow is parked (pause or breakpoint).
func (w *Workflow) Suspended() bool {
	return w.Status == WorkflowStatusPaused || w.Status == WorkflowStatusAwaitingApproval
}

// Duration returns the workflow execution duration.
func (w *Workflow) Duration() time.Duration {
	end := time.Now()
	if w.CompletedAt != nil {
		end = *w.CompletedAt
	}
	return end.Sub(w.StartedAt)
}

// Validate checks workflow invariants.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrValidation("WORKFLOW_ID_REQUIRED", "workflow ID cannot be empty")
	}
	if w.ProjectID == "" {
		return ErrValidation("WORKFLOW_PROJECT_REQUIRED", "workflow project reference cannot be empty")
	}
	if _, err := ParseMode(string(w.Mode)); err != nil {
		return ErrValidation("WORKFLOW_MODE_INVALID", err.Error())
	}
	return nil
}
