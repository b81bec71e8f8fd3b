// Package assign picks an agent for a ready task with weighted scoring.
//
// Candidates are filtered before scoring: not quarantined, under their
// workload cap, and with a context window whose usable portion fits the
// task's estimate. The survivors are ranked on specialization, current
// workload, historical success, fairness and rotation. Role affinity is a
// score term, not a filter: a pool without the declared role still serves
// the task, at a specialization discount.
package assign

import (
	"sort"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
)

// Scoring weights. They sum to 1.
const (
	weightSpecialization = 0.35
	weightWorkload       = 0.25
	weightSuccess        = 0.20
	weightFairness       = 0.10
	weightRotation       = 0.10

	// usableContextFraction reserves headroom for system prompt and
	// response; only this fraction of the window counts for the fit filter.
	usableContextFraction = 0.80

	// charsPerToken is the estimation ratio for raw text.
	charsPerToken = 4
)

// EstimateTokens approximates the token count of raw text.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TierFor routes a complexity score to a model tier: 1-3 cheap, 4-7
// standard, 8-10 high.
func TierFor(complexity int) core.ModelTier {
	switch {
	case complexity <= 3:
		return core.TierCheap
	case complexity <= 7:
		return core.TierStandard
	default:
		return core.TierHigh
	}
}

// Assigner scores agents for tasks.
type Assigner struct {
	now func() time.Time
}

// Option configures the assigner.
type Option func(*Assigner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assigner) { a.now = now }
}

// New creates an assigner.
func New(opts ...Option) *Assigner {
	a := &Assigner{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Pick selects the best agent for the task. Returns CONTEXT_TOO_LARGE when
// the task's estimate exceeds every agent's usable window, and
// AGENT_NOT_FOUND when agents exist but none is currently available.
func (a *Assigner) Pick(task *core.Task, agents []*core.Agent) (*core.Agent, error) {
	now := a.now()

	fits := false
	for _, ag := range agents {
		if a.contextFits(task, ag) {
			fits = true
			break
		}
	}
	if len(agents) > 0 && !fits {
		return nil, core.ErrContextTooLarge(string(task.ID), task.EstimatedTokens)
	}

	candidates := make([]*core.Agent, 0, len(agents))
	for _, ag := range agents {
		if ag.Quarantined(now) || ag.Running() >= ag.MaxTasks {
			continue
		}
		if !a.contextFits(task, ag) {
			continue
		}
		candidates = append(candidates, ag)
	}
	if len(candidates) == 0 {
		return nil, core.ErrState(core.CodeAgentNotFound, "no agent available for task")
	}

	maxAssignments := 0
	for _, ag := range candidates {
		if n := ag.Assignments(); n > maxAssignments {
			maxAssignments = n
		}
	}

	// Stable sort keeps the least-recently-assigned candidate first among
	// equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		si := a.score(task, candidates[i], maxAssignments, now)
		sj := a.score(task, candidates[j], maxAssignments, now)
		if si != sj {
			return si > sj
		}
		return candidates[i].LastAssigned().Before(candidates[j].LastAssigned())
	})
	return candidates[0], nil
}

func (a *Assigner) contextFits(task *core.Task, ag *core.Agent) bool {
	if task.EstimatedTokens <= 0 {
		return true
	}
	return float64(task.EstimatedTokens) <= float64(ag.ContextLimit)*usableContextFraction
}

func (a *Assigner) score(task *core.Task, ag *core.Agent, maxAssignments int, now time.Time) float64 {
	specialization := 0.3
	if task.Role == "" || ag.Role == task.Role {
		specialization = 1.0
	}

	workload := 1.0 - float64(ag.Running())/float64(ag.MaxTasks)

	fairness := 1.0
	if maxAssignments > 0 {
		fairness = 1.0 - float64(ag.Assignments())/float64(maxAssignments)
	}

	rotation := 1.0
	if last := ag.LastAssigned(); !last.IsZero() {
		idle := now.Sub(last)
		if idle < time.Hour {
			rotation = float64(idle) / float64(time.Hour)
		}
	}

	return weightSpecialization*specialization +
		weightWorkload*workload +
		weightSuccess*ag.SuccessRate() +
		weightFairness*fairness +
		weightRotation*rotation
}
