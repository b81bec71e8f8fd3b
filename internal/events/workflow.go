package events

import "time"

// Event type constants for workflow events.
const (
	TypeWorkflowStarted      = "workflow_started"
	TypeStateChange          = "state_change"
	TypeApprovalRequired     = "approval_required"
	TypeApprovalResolved     = "approval_resolved"
	TypeWorkflowPaused       = "workflow_paused"
	TypeWorkflowResumed      = "workflow_resumed"
	TypeWorkflowCompleted    = "workflow_completed"
	TypeWorkflowFailed       = "workflow_failed"
	TypeWorkflowCancelled    = "workflow_cancelled"
)

// WorkflowStartedEvent is emitted when a workflow begins execution.
type WorkflowStartedEvent struct {
	BaseEvent
	ProjectID string `json:"project_id"`
	Mode      string `json:"mode"`
}

// NewWorkflowStartedEvent creates a new workflow started event.
func NewWorkflowStartedEvent(workflowID, projectID, mode string) WorkflowStartedEvent {
	return WorkflowStartedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowStarted, workflowID),
		ProjectID: projectID,
		Mode:      mode,
	}
}

// StateChangeEvent is emitted on every phase or status transition.
type StateChangeEvent struct {
	BaseEvent
	Phase         string `json:"phase,omitempty"`
	PreviousPhase string `json:"previous_phase,omitempty"`
	Status        string `json:"status"`
	Version       int64  `json:"version"`
}

// NewStateChangeEvent creates a new state change event.
func NewStateChangeEvent(workflowID, phase, previousPhase, status string, version int64) StateChangeEvent {
	return StateChangeEvent{
		BaseEvent:     NewBaseEvent(TypeStateChange, workflowID),
		Phase:         phase,
		PreviousPhase: previousPhase,
		Status:        status,
		Version:       version,
	}
}

// ApprovalRequiredEvent is emitted when a workflow parks at a breakpoint.
// This is a PRIORITY event - never dropped.
type ApprovalRequiredEvent struct {
	BaseEvent
	ApprovalID string `json:"approval_id"`
	Checkpoint string `json:"checkpoint"`
	Phase      string `json:"phase"`
	Reason     string `json:"reason"`
}

// NewApprovalRequiredEvent creates a new approval required event.
func NewApprovalRequiredEvent(workflowID, approvalID, checkpoint, phase, reason string) ApprovalRequiredEvent {
	return ApprovalRequiredEvent{
		BaseEvent:  NewBaseEvent(TypeApprovalRequired, workflowID),
		ApprovalID: approvalID,
		Checkpoint: checkpoint,
		Phase:      phase,
		Reason:     reason,
	}
}

// ApprovalResolvedEvent is emitted when a reviewer decides a breakpoint.
type ApprovalResolvedEvent struct {
	BaseEvent
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	ReviewerID string `json:"reviewer_id"`
}

// NewApprovalResolvedEvent creates a new approval resolved event.
func NewApprovalResolvedEvent(workflowID, approvalID string, approved bool, reviewerID string) ApprovalResolvedEvent {
	return ApprovalResolvedEvent{
		BaseEvent:  NewBaseEvent(TypeApprovalResolved, workflowID),
		ApprovalID: approvalID,
		Approved:   approved,
		ReviewerID: reviewerID,
	}
}

// WorkflowPausedEvent is emitted when a workflow is paused.
type WorkflowPausedEvent struct {
	BaseEvent
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
}

// NewWorkflowPausedEvent creates a new workflow paused event.
func NewWorkflowPausedEvent(workflowID, phase, reason string) WorkflowPausedEvent {
	return WorkflowPausedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowPaused, workflowID),
		Phase:     phase,
		Reason:    reason,
	}
}

// WorkflowResumedEvent is emitted when a workflow resumes.
type WorkflowResumedEvent struct {
	BaseEvent
	FromPhase string `json:"from_phase"`
}

// NewWorkflowResumedEvent creates a new workflow resumed event.
func NewWorkflowResumedEvent(workflowID, fromPhase string) WorkflowResumedEvent {
	return WorkflowResumedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowResumed, workflowID),
		FromPhase: fromPhase,
	}
}

// WorkflowCompletedEvent is emitted once when a workflow finishes.
type WorkflowCompletedEvent struct {
	BaseEvent
	Duration  time.Duration `json:"duration"`
	TotalCost float64       `json:"total_cost"`
}

// NewWorkflowCompletedEvent creates a new workflow completed event.
func NewWorkflowCompletedEvent(workflowID string, duration time.Duration, totalCost float64) WorkflowCompletedEvent {
	return WorkflowCompletedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowCompleted, workflowID),
		Duration:  duration,
		TotalCost: totalCost,
	}
}

// WorkflowFailedEvent is emitted when a workflow fails.
// This is a PRIORITY event - never dropped.
type WorkflowFailedEvent struct {
	BaseEvent
	Phase string `json:"phase"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// NewWorkflowFailedEvent creates a new workflow failed event.
func NewWorkflowFailedEvent(workflowID, phase, kind string, err error) WorkflowFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return WorkflowFailedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowFailed, workflowID),
		Phase:     phase,
		Kind:      kind,
		Error:     errStr,
	}
}

// WorkflowCancelledEvent is emitted on cancellation.
type WorkflowCancelledEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewWorkflowCancelledEvent creates a new workflow cancelled event.
func NewWorkflowCancelledEvent(workflowID, reason string) WorkflowCancelledEvent {
	return WorkflowCancelledEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowCancelled, workflowID),
		Reason:    reason,
	}
}
