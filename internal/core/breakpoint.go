package core

import (
	"encoding/json"
	"time"
)

// Breakpoint is a suspend-and-await-human marker attached to a workflow.
// The payload is persisted inline with the workflow snapshot so resumption
// does not depend on event replay.
type Breakpoint struct {
	ID               string          `json:"id"`
	Checkpoint       string          `json:"checkpoint"`
	Phase            Phase           `json:"phase"` // originating phase
	Reason           string          `json:"reason"`
	Payload          json.RawMessage `json:"payload,omitempty"` // what the agents produced
	RequiresApproval bool            `json:"requires_approval"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewBreakpoint creates a breakpoint for the given originating phase.
func NewBreakpoint(id, checkpoint string, phase Phase, reason string) *Breakpoint {
	return &Breakpoint{
		ID:               id,
		Checkpoint:       checkpoint,
		Phase:            phase,
		Reason:           reason,
		RequiresApproval: true,
		CreatedAt:        time.Now(),
	}
}

// WithPayload attaches the contextual payload produced by the agents.
func (b *Breakpoint) WithPayload(payload interface{}) *Breakpoint {
	if payload == nil {
		return b
	}
	data, err := json.Marshal(payload)
	if err == nil {
		b.Payload = data
	}
	return b
}

// ApprovalRecord is an immutable decision record for a breakpoint.
type ApprovalRecord struct {
	ApprovalID    string          `json:"approval_id"`
	Approved      bool            `json:"approved"`
	ReviewerID    string          `json:"reviewer_id"`
	Comments      string          `json:"comments,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	DecidedAt     time.Time       `json:"decided_at"`
}

// Validate checks the decision record.
func (r *ApprovalRecord) Validate() error {
	if r.ApprovalID == "" {
		return ErrValidation("APPROVAL_ID_REQUIRED", "approval ID cannot be empty")
	}
	if r.ReviewerID == "" {
		return ErrValidation("REVIEWER_ID_REQUIRED", "reviewer ID cannot be empty")
	}
	return nil
}
