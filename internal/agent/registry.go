// Package agent hosts the registry of long-lived role-specialized agents
// and the capability pipeline an agent runs a task through.
package agent

import (
	"fmt"

	"github.com/aurora-dev/aurora/internal/config"
	"github.com/aurora-dev/aurora/internal/core"
)

// Registry indexes the process's agents. Agents are created at startup
// from configuration and live until shutdown.
type Registry struct {
	agents  map[core.AgentID]*core.Agent
	ordered []*core.Agent
}

// NewRegistry builds a registry from agent configuration.
func NewRegistry(cfgs []config.AgentConfig) (*Registry, error) {
	r := &Registry{agents: make(map[core.AgentID]*core.Agent)}
	for _, c := range cfgs {
		role := core.AgentRole(c.Role)
		if !core.ValidRole(role) {
			return nil, core.ErrValidation("INVALID_AGENT_ROLE",
				fmt.Sprintf("agent %s has unknown role %q", c.ID, c.Role))
		}
		id := core.AgentID(c.ID)
		if _, dup := r.agents[id]; dup {
			return nil, core.ErrValidation("DUPLICATE_AGENT",
				fmt.Sprintf("agent %s configured twice", c.ID))
		}

		a := core.NewAgent(id, role, c.Model, c.ContextLimit)
		if c.Tier != "" {
			a.WithTier(core.ModelTier(c.Tier))
		}
		if c.MaxTasks > 0 {
			a.WithMaxTasks(c.MaxTasks)
		}
		r.agents[id] = a
		r.ordered = append(r.ordered, a)
	}
	return r, nil
}

// Get returns an agent by ID.
func (r *Registry) Get(id core.AgentID) (*core.Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

// All returns every registered agent in configuration order.
func (r *Registry) All() []*core.Agent {
	return r.ordered
}

// ByRole returns agents with the given role.
func (r *Registry) ByRole(role core.AgentRole) []*core.Agent {
	var out []*core.Agent
	for _, a := range r.ordered {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// Stats returns a snapshot of every agent's counters.
func (r *Registry) Stats() []core.AgentStats {
	out := make([]core.AgentStats, 0, len(r.ordered))
	for _, a := range r.ordered {
		out = append(out, a.Snapshot())
	}
	return out
}
