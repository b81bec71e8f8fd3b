package events

// Event type constants for budget and health events.
const (
	TypeBudgetAlert     = "budget_alert"
	TypeBudgetExceeded  = "budget_exceeded"
	TypeAgentQuarantine = "agent_quarantined"
)

// BudgetAlertEvent is emitted when spend crosses the alert threshold.
// Execution continues.
type BudgetAlertEvent struct {
	BaseEvent
	Scope    string  `json:"scope"` // "daily", "monthly" or a project ID
	Spent    float64 `json:"spent"`
	Cap      float64 `json:"cap"`
	Fraction float64 `json:"fraction"`
}

// NewBudgetAlertEvent creates a new budget alert event.
func NewBudgetAlertEvent(scope string, spent, cap, fraction float64) BudgetAlertEvent {
	return BudgetAlertEvent{
		BaseEvent: NewBaseEvent(TypeBudgetAlert, ""),
		Scope:     scope,
		Spent:     spent,
		Cap:       cap,
		Fraction:  fraction,
	}
}

// BudgetExceededEvent is emitted when spend crosses the pause threshold.
// Affected workflows transition to paused. PRIORITY event.
type BudgetExceededEvent struct {
	BaseEvent
	Scope string  `json:"scope"`
	Spent float64 `json:"spent"`
	Cap   float64 `json:"cap"`
}

// NewBudgetExceededEvent creates a new budget exceeded event.
func NewBudgetExceededEvent(workflowID, scope string, spent, cap float64) BudgetExceededEvent {
	return BudgetExceededEvent{
		BaseEvent: NewBaseEvent(TypeBudgetExceeded, workflowID),
		Scope:     scope,
		Spent:     spent,
		Cap:       cap,
	}
}

// AgentQuarantinedEvent is emitted after three consecutive stuck
// detections on the same agent.
type AgentQuarantinedEvent struct {
	BaseEvent
	AgentID string `json:"agent"`
	Until   string `json:"until"`
}

// NewAgentQuarantinedEvent creates a new agent quarantined event.
func NewAgentQuarantinedEvent(agentID, until string) AgentQuarantinedEvent {
	return AgentQuarantinedEvent{
		BaseEvent: NewBaseEvent(TypeAgentQuarantine, ""),
		AgentID:   agentID,
		Until:     until,
	}
}
