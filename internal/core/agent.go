package core

import (
	"sync"
	"time"
)

// AgentID uniquely identifies a registered agent.
type AgentID string

// AgentRole tags an agent's specialization.
type AgentRole string

const (
	RoleArchitect     AgentRole = "architect"
	RoleBackend       AgentRole = "backend"
	RoleFrontend      AgentRole = "frontend"
	RoleDatabase      AgentRole = "database"
	RoleTest          AgentRole = "test"
	RoleSecurity      AgentRole = "security"
	RoleReviewer      AgentRole = "reviewer"
	RoleDevops        AgentRole = "devops"
	RoleIntegration   AgentRole = "integration"
	RoleResearch      AgentRole = "research"
	RoleDocumentation AgentRole = "documentation"
)

// ValidRole checks whether a role tag is known.
func ValidRole(r AgentRole) bool {
	switch r {
	case RoleArchitect, RoleBackend, RoleFrontend, RoleDatabase, RoleTest,
		RoleSecurity, RoleReviewer, RoleDevops, RoleIntegration,
		RoleResearch, RoleDocumentation:
		return true
	default:
		return false
	}
}

// Agent is a long-lived, role-specialized worker capability. Created at
// process start from configuration, destroyed at shutdown. Counters are
// safe for concurrent use; the scheduler and health monitor both touch them.
type Agent struct {
	ID           AgentID
	Role         AgentRole
	Model        string
	ContextLimit int // model context window in tokens
	Tier         ModelTier
	MaxTasks     int // max concurrent running tasks

	mu           sync.Mutex
	running      int
	successes    int
	failures     int
	assignments  int
	lastAssigned time.Time
	quarantined  time.Time // zero when not quarantined
	stuckStreak  int
}

// NewAgent creates an agent from configuration.
func NewAgent(id AgentID, role AgentRole, model string, contextLimit int) *Agent {
	return &Agent{
		ID:           id,
		Role:         role,
		Model:        model,
		ContextLimit: contextLimit,
		Tier:         TierStandard,
		MaxTasks:     2,
	}
}

// WithTier sets the agent's model tier.
func (a *Agent) WithTier(tier ModelTier) *Agent {
	a.Tier = tier
	return a
}

// WithMaxTasks sets the concurrent task cap.
func (a *Agent) WithMaxTasks(n int) *Agent {
	if n > 0 {
		a.MaxTasks = n
	}
	return a
}

// Acquire records a task assignment. Returns false when the agent is at
// its workload cap or quarantined.
func (a *Agent) Acquire(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running >= a.MaxTasks {
		return false
	}
	if !a.quarantined.IsZero() && now.Before(a.quarantined) {
		return false
	}
	a.running++
	a.assignments++
	a.lastAssigned = now
	return true
}

// Release records a task completion.
func (a *Agent) Release(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running > 0 {
		a.running--
	}
	if success {
		a.successes++
		a.stuckStreak = 0
	} else {
		a.failures++
	}
}

// RecordStuck increments the consecutive stuck counter and quarantines the
// agent for the given duration after three strikes. The workload slot and
// the success/failure tally stay untouched: the executor still holds the
// lease and settles both through Release when it returns.
func (a *Agent) RecordStuck(now time.Time, quarantine time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stuckStreak++
	if a.stuckStreak >= 3 {
		a.quarantined = now.Add(quarantine)
		a.stuckStreak = 0
		return true
	}
	return false
}

// Quarantined reports whether the agent is currently quarantined.
func (a *Agent) Quarantined(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.quarantined.IsZero() && now.Before(a.quarantined)
}

// Running returns the current workload.
func (a *Agent) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// SuccessRate returns historical successes/(successes+failures),
// defaulting to 0.5 with no history.
func (a *Agent) SuccessRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := a.successes + a.failures
	if total == 0 {
		return 0.5
	}
	return float64(a.successes) / float64(total)
}

// Assignments returns the lifetime assignment count.
func (a *Agent) Assignments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assignments
}

// LastAssigned returns the time of the most recent assignment.
func (a *Agent) LastAssigned() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAssigned
}

// Snapshot returns a point-in-time copy of the mutable counters.
func (a *Agent) Snapshot() AgentStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AgentStats{
		ID:          a.ID,
		Role:        a.Role,
		Model:       a.Model,
		Running:     a.running,
		Successes:   a.successes,
		Failures:    a.failures,
		Assignments: a.assignments,
		Quarantined: !a.quarantined.IsZero() && time.Now().Before(a.quarantined),
	}
}

// AgentStats is an immutable view of agent counters.
type AgentStats struct {
	ID          AgentID   `json:"id"`
	Role        AgentRole `json:"role"`
	Model       string    `json:"model"`
	Running     int       `json:"running"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	Assignments int       `json:"assignments"`
	Quarantined bool      `json:"quarantined"`
}
