package core

import "time"

// ProjectID uniquely identifies a project.
type ProjectID string

// ProjectStatus represents the high-level state of a project.
type ProjectStatus string

const (
	ProjectStatusSubmitted ProjectStatus = "submitted"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusFailed    ProjectStatus = "failed"
	ProjectStatusDeleted   ProjectStatus = "deleted"
)

// Project is the aggregate root. It is created on submission, mutated only
// by the workflow state machine, and destroyed only on explicit user request.
type Project struct {
	ID          ProjectID
	Description string
	Status      ProjectStatus
	Phase       Phase
	Mode        Mode

	// BudgetCapUSD is the per-project daily spend cap. Zero means the
	// global cap alone applies.
	BudgetCapUSD float64
	ActualCost   float64

	PhaseResults map[Phase]*PhaseResult
	CreatedAt    time.Time
}

// NewProject creates a project from a submission.
func NewProject(id ProjectID, description string, mode Mode) *Project {
	return &Project{
		ID:           id,
		Description:  description,
		Status:       ProjectStatusSubmitted,
		Phase:        PhaseIdle,
		Mode:         mode,
		PhaseResults: make(map[Phase]*PhaseResult),
		CreatedAt:    time.Now(),
	}
}

// WithBudgetCap sets the per-project daily cap.
func (p *Project) WithBudgetCap(usd float64) *Project {
	p.BudgetCapUSD = usd
	return p
}

// Validate checks project invariants.
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrValidation("PROJECT_ID_REQUIRED", "project ID cannot be empty")
	}
	if p.Description == "" {
		return ErrValidation("PROJECT_DESCRIPTION_REQUIRED", "project description cannot be empty")
	}
	if len(p.Description) > MaxDescriptionLength {
		return ErrValidation("PROJECT_DESCRIPTION_TOO_LONG", "project description exceeds maximum length")
	}
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return ErrValidation("PROJECT_MODE_INVALID", err.Error())
	}
	return nil
}

// MaxDescriptionLength is the maximum allowed project description length.
const MaxDescriptionLength = 100000
