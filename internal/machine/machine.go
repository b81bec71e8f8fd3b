// Package machine drives workflows through the phase lifecycle.
//
// Transitions are persisted before they are acknowledged: a breakpoint is
// durable the moment approval_required is published, and an approval is
// applied at most once however many times the decision is delivered.
package machine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/logging"
)

// ShouldBreak reports whether a completed phase parks the workflow for
// human approval. Collaborative workflows stop after design and after
// security_audit; autonomous workflows never stop here (their breakpoints
// come from gate failures and budget exhaustion).
func ShouldBreak(mode core.Mode, completed core.Phase) bool {
	if mode != core.ModeCollaborative {
		return false
	}
	return completed == core.PhaseDesign || completed == core.PhaseSecurityAudit
}

// Machine owns workflow lifecycle transitions and their persistence.
type Machine struct {
	state core.StateManager
	bus   *events.Bus
	log   *logging.Logger
}

// New creates a workflow machine.
func New(state core.StateManager, bus *events.Bus, log *logging.Logger) *Machine {
	return &Machine{state: state, bus: bus, log: log}
}

// Start creates and starts a workflow for a project.
func (m *Machine) Start(ctx context.Context, project *core.Project, mode core.Mode) (*core.Workflow, error) {
	w := core.NewWorkflow(core.WorkflowID(uuid.NewString()), project.ID, mode)
	if err := w.Start(); err != nil {
		return nil, err
	}
	if err := m.persist(ctx, w, events.NewWorkflowStartedEvent(
		string(w.ID), string(project.ID), string(mode))); err != nil {
		return nil, err
	}
	m.bus.Publish(events.NewWorkflowStartedEvent(string(w.ID), string(project.ID), string(mode)))
	m.publishStateChange(w, string(core.PhaseIdle))
	return w, nil
}

// CompletePhase records a phase result and advances: suspend at a
// breakpoint, move to the next phase, or finish the workflow.
func (m *Machine) CompletePhase(ctx context.Context, w *core.Workflow, result *core.PhaseResult) error {
	completed := w.Phase
	if err := w.CompletePhase(result); err != nil {
		return err
	}

	if ShouldBreak(w.Mode, completed) {
		return m.suspend(ctx, w, completed, result)
	}

	next := core.NextPhase(completed)
	if next == core.PhaseCompleted {
		return m.complete(ctx, w)
	}
	if err := w.EnterPhase(next); err != nil {
		return err
	}
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.publishStateChange(w, string(completed))
	return nil
}

// suspend parks the workflow at a post-phase breakpoint. The snapshot is
// committed before approval_required goes out.
func (m *Machine) suspend(ctx context.Context, w *core.Workflow, completed core.Phase, result *core.PhaseResult) error {
	bp := core.NewBreakpoint(uuid.NewString(),
		fmt.Sprintf("after_%s", completed), completed,
		fmt.Sprintf("%s phase requires review", completed))
	if result != nil {
		bp.WithPayload(result)
	}

	if err := w.Suspend(bp); err != nil {
		return err
	}
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}

	m.log.WithWorkflow(string(w.ID)).WithPhase(string(completed)).
		Info("workflow awaiting approval", "checkpoint", bp.Checkpoint)
	m.bus.PublishPriority(events.NewApprovalRequiredEvent(
		string(w.ID), bp.ID, bp.Checkpoint, string(completed), bp.Reason))
	return nil
}

// SuspendForGateFailure parks an autonomous workflow when a quality gate
// fails terminally and a human must decide how to proceed.
func (m *Machine) SuspendForGateFailure(ctx context.Context, w *core.Workflow, reason string) error {
	bp := core.NewBreakpoint(uuid.NewString(), "gate_failure", w.Phase, reason)
	if err := w.Suspend(bp); err != nil {
		return err
	}
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.bus.PublishPriority(events.NewApprovalRequiredEvent(
		string(w.ID), bp.ID, bp.Checkpoint, string(w.Phase), reason))
	return nil
}

// ResolveApproval applies a reviewer decision. Idempotent: re-delivering
// a decision already in the approval history is a no-op with the stored
// outcome, and a decision for an unknown approval ID is rejected.
func (m *Machine) ResolveApproval(ctx context.Context, w *core.Workflow, record core.ApprovalRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	for _, prior := range w.Approvals {
		if prior.ApprovalID == record.ApprovalID {
			return nil
		}
	}
	if w.Breakpoint == nil || w.Breakpoint.ID != record.ApprovalID {
		return core.ErrState(core.CodeApprovalResolved,
			fmt.Sprintf("approval %s does not match the pending breakpoint", record.ApprovalID))
	}

	origin := w.Breakpoint.Phase
	if err := w.Resolve(record); err != nil {
		return err
	}

	// A workflow approved past the final phase completes immediately.
	if record.Approved && w.Phase == core.PhaseCompleted {
		return m.complete(ctx, w)
	}

	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.log.WithWorkflow(string(w.ID)).Info("approval resolved",
		"approval_id", record.ApprovalID,
		"approved", record.Approved,
		"reviewer", record.ReviewerID)
	m.bus.Publish(events.NewApprovalResolvedEvent(
		string(w.ID), record.ApprovalID, record.Approved, record.ReviewerID))
	m.publishStateChange(w, string(origin))
	return nil
}

// Pause suspends a running workflow, recording the reason.
func (m *Machine) Pause(ctx context.Context, w *core.Workflow, reason string) error {
	if err := w.Pause(reason); err != nil {
		return err
	}
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.bus.Publish(events.NewWorkflowPausedEvent(string(w.ID), string(w.Phase), reason))
	return nil
}

// Resume returns a paused workflow to running.
func (m *Machine) Resume(ctx context.Context, w *core.Workflow) error {
	if err := w.Resume(); err != nil {
		return err
	}
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.bus.Publish(events.NewWorkflowResumedEvent(string(w.ID), string(w.Phase)))
	return nil
}

// Fail marks the workflow failed and persists the terminal snapshot.
func (m *Machine) Fail(ctx context.Context, w *core.Workflow, cause error) error {
	phase := w.Phase
	w.Fail(cause)
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.bus.PublishPriority(events.NewWorkflowFailedEvent(
		string(w.ID), string(phase), core.GetCode(cause), cause))
	return nil
}

// Cancel cancels a non-terminal workflow.
func (m *Machine) Cancel(ctx context.Context, w *core.Workflow, reason string) error {
	if err := w.Cancel(reason); err != nil {
		return err
	}
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.bus.Publish(events.NewWorkflowCancelledEvent(string(w.ID), reason))
	return nil
}

func (m *Machine) complete(ctx context.Context, w *core.Workflow) error {
	if err := w.Complete(); err != nil {
		return err
	}
	if err := m.persist(ctx, w, nil); err != nil {
		return err
	}
	m.log.WithWorkflow(string(w.ID)).Info("workflow completed",
		"duration", w.Duration().String(), "total_cost_usd", w.TotalCostUSD)
	m.bus.Publish(events.NewWorkflowCompletedEvent(string(w.ID), w.Duration(), w.TotalCostUSD))
	return nil
}

// persist writes the snapshot and appends the transition to the event
// log. The snapshot write is the commit point.
func (m *Machine) persist(ctx context.Context, w *core.Workflow, ev events.Event) error {
	if err := m.state.SaveWorkflow(ctx, w); err != nil {
		return fmt.Errorf("persisting workflow %s: %w", w.ID, err)
	}

	rec := &core.EventRecord{
		WorkflowID: w.ID,
		Type:       events.TypeStateChange,
	}
	if ev != nil {
		rec.Type = ev.EventType()
		if payload, err := json.Marshal(ev); err == nil {
			rec.Payload = payload
		}
	} else {
		payload, err := json.Marshal(map[string]interface{}{
			"status":  w.Status,
			"phase":   w.Phase,
			"version": w.Version,
		})
		if err == nil {
			rec.Payload = payload
		}
	}
	if _, err := m.state.AppendEvent(ctx, rec); err != nil {
		m.log.WithWorkflow(string(w.ID)).Warn("event log append failed", "error", err.Error())
	}
	return nil
}

func (m *Machine) publishStateChange(w *core.Workflow, previousPhase string) {
	m.bus.Publish(events.NewStateChangeEvent(
		string(w.ID), string(w.Phase), previousPhase, string(w.Status), w.Version))
}
