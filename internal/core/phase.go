package core

import "fmt"

// Phase represents a stage in the project lifecycle.
type Phase string

const (
	// PhaseIdle is the initial state before execution begins.
	PhaseIdle Phase = "idle"

	// PhaseRequirements gathers and structures the project requirements.
	PhaseRequirements Phase = "requirements"

	// PhaseDesign produces the architecture and interface design.
	PhaseDesign Phase = "design"

	// PhaseImplementation generates the source code.
	PhaseImplementation Phase = "implementation"

	// PhaseTesting generates and runs the test suite.
	PhaseTesting Phase = "testing"

	// PhaseCodeReview runs the reviewer agents over the produced code.
	PhaseCodeReview Phase = "code_review"

	// PhaseSecurityAudit runs security-focused analysis.
	PhaseSecurityAudit Phase = "security_audit"

	// PhaseDocumentation produces user and API documentation.
	PhaseDocumentation Phase = "documentation"

	// PhaseDeployment produces deployment configuration and runs it.
	PhaseDeployment Phase = "deployment"

	// PhaseMonitoring sets up observability for the generated system.
	PhaseMonitoring Phase = "monitoring"

	// PhaseCompleted is the terminal state after all phases complete.
	// It is NOT an executable phase — it signals "workflow fully done".
	PhaseCompleted Phase = "completed"
)

// AllPhases returns the executable phases in execution order.
func AllPhases() []Phase {
	return []Phase{
		PhaseRequirements,
		PhaseDesign,
		PhaseImplementation,
		PhaseTesting,
		PhaseCodeReview,
		PhaseSecurityAudit,
		PhaseDocumentation,
		PhaseDeployment,
		PhaseMonitoring,
	}
}

var phaseOrder = map[Phase]int{
	PhaseIdle:           0,
	PhaseRequirements:   1,
	PhaseDesign:         2,
	PhaseImplementation: 3,
	PhaseTesting:        4,
	PhaseCodeReview:     5,
	PhaseSecurityAudit:  6,
	PhaseDocumentation:  7,
	PhaseDeployment:     8,
	PhaseMonitoring:     9,
	PhaseCompleted:      10,
}

// PhaseOrder returns the numeric order of a phase (0-indexed).
// Returns -1 for unknown phases.
func PhaseOrder(p Phase) int {
	if ord, ok := phaseOrder[p]; ok {
		return ord
	}
	return -1
}

// NextPhase returns the phase following the given phase.
// Returns empty string if the phase is terminal or unknown.
func NextPhase(p Phase) Phase {
	switch p {
	case PhaseIdle:
		return PhaseRequirements
	case PhaseRequirements:
		return PhaseDesign
	case PhaseDesign:
		return PhaseImplementation
	case PhaseImplementation:
		return PhaseTesting
	case PhaseTesting:
		return PhaseCodeReview
	case PhaseCodeReview:
		return PhaseSecurityAudit
	case PhaseSecurityAudit:
		return PhaseDocumentation
	case PhaseDocumentation:
		return PhaseDeployment
	case PhaseDeployment:
		return PhaseMonitoring
	case PhaseMonitoring:
		return PhaseCompleted
	default:
		return ""
	}
}

// PrevPhase returns the phase preceding the given phase.
// Returns empty string if the phase is the first or unknown.
func PrevPhase(p Phase) Phase {
	for cur, next := PhaseIdle, NextPhase(PhaseIdle); next != ""; cur, next = next, NextPhase(next) {
		if next == p {
			return cur
		}
	}
	return ""
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	_, ok := phaseOrder[p]
	return ok
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseIdle:
		return "Waiting for execution to begin"
	case PhaseRequirements:
		return "Gather and structure project requirements"
	case PhaseDesign:
		return "Produce architecture and interface design"
	case PhaseImplementation:
		return "Generate source code"
	case PhaseTesting:
		return "Generate and run tests"
	case PhaseCodeReview:
		return "Review the produced code"
	case PhaseSecurityAudit:
		return "Audit the code for security issues"
	case PhaseDocumentation:
		return "Produce documentation"
	case PhaseDeployment:
		return "Produce and apply deployment configuration"
	case PhaseMonitoring:
		return "Set up observability"
	case PhaseCompleted:
		return "All phases completed"
	default:
		return "Unknown phase"
	}
}
