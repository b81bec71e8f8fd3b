// Package budget enforces spend caps with a reservation ledger.
//
// Before invoking a model, a worker reserves the task's estimated cost
// against the daily, monthly and per-project scopes. After the invocation
// the reservation is settled with the actual cost, which is counted even
// when the invocation itself failed. Reserve-then-settle keeps concurrent
// workers from racing past a cap between check and spend.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
)

// Caps are the configured spend limits. A zero cap disables that scope.
type Caps struct {
	DailyUSD   float64
	MonthlyUSD float64

	// AlertThreshold and PauseThreshold are fractions of each cap.
	AlertThreshold float64
	PauseThreshold float64
}

// DefaultCaps returns the stock thresholds with no spend limits.
func DefaultCaps() Caps {
	return Caps{AlertThreshold: 0.80, PauseThreshold: 0.95}
}

type scope struct {
	name     string
	cap      float64
	spent    float64
	reserved float64
	alerted  bool
}

func (s *scope) committed() float64 { return s.spent + s.reserved }

// Reservation is an outstanding claim against the ledger. Settle or Release
// exactly once.
type Reservation struct {
	projectID core.ProjectID
	amount    float64
	settled   bool
}

// Governor is the cost ledger. All methods are safe for concurrent use.
type Governor struct {
	mu    sync.Mutex
	caps  Caps
	bus   *events.Bus
	now   func() time.Time
	day   scope
	month scope

	// Per-project ledgers, keyed by project ID. Project caps come from the
	// project record, not the global config.
	projects map[core.ProjectID]*scope
	dayStamp string
	monStamp string
}

// Option configures the governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// NewGovernor creates a budget governor publishing to the given bus.
func NewGovernor(caps Caps, bus *events.Bus, opts ...Option) *Governor {
	if caps.AlertThreshold <= 0 {
		caps.AlertThreshold = 0.80
	}
	if caps.PauseThreshold <= 0 {
		caps.PauseThreshold = 0.95
	}
	g := &Governor{
		caps:     caps,
		bus:      bus,
		now:      time.Now,
		day:      scope{name: "daily", cap: caps.DailyUSD},
		month:    scope{name: "monthly", cap: caps.MonthlyUSD},
		projects: make(map[core.ProjectID]*scope),
	}
	for _, opt := range opts {
		opt(g)
	}
	now := g.now().UTC()
	g.dayStamp = now.Format("2006-01-02")
	g.monStamp = now.Format("2006-01")
	return g
}

// SetCaps replaces the global caps, used by config hot reload. Existing
// spend is kept; alerts re-fire if the new caps are already crossed on the
// next reservation.
func (g *Governor) SetCaps(caps Caps) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.caps = caps
	g.day.cap = caps.DailyUSD
	g.day.alerted = false
	g.month.cap = caps.MonthlyUSD
	g.month.alerted = false
}

// RegisterProject installs a per-project cap. Zero means the global caps
// alone apply. Re-registering keeps accumulated spend and updates the cap,
// so a resumed workflow does not reset the ledger.
func (g *Governor) RegisterProject(id core.ProjectID, capUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ps, ok := g.projects[id]; ok {
		ps.cap = capUSD
		ps.alerted = false
		return
	}
	g.projects[id] = &scope{name: string(id), cap: capUSD}
}

// Reserve claims estimated spend for a task. It fails with BUDGET_EXCEEDED
// when any scope would cross its pause threshold; the caller pauses the
// workflow rather than failing it. Crossing the alert threshold emits a
// warning event once per scope per period and does not block.
func (g *Governor) Reserve(workflowID core.WorkflowID, projectID core.ProjectID, estimatedUSD float64) (*Reservation, error) {
	if estimatedUSD < 0 {
		return nil, core.ErrValidation("NEGATIVE_ESTIMATE", "estimated cost cannot be negative")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetExpiredLocked()

	scopes := []*scope{&g.day, &g.month}
	if ps, ok := g.projects[projectID]; ok {
		scopes = append(scopes, ps)
	}

	for _, s := range scopes {
		if s.cap <= 0 {
			continue
		}
		if s.committed()+estimatedUSD > s.cap*g.caps.PauseThreshold {
			if g.bus != nil {
				g.bus.PublishPriority(events.NewBudgetExceededEvent(
					string(workflowID), s.name, s.committed(), s.cap))
			}
			return nil, core.ErrBudgetExceeded(s.name, s.committed()+estimatedUSD, s.cap)
		}
	}

	for _, s := range scopes {
		s.reserved += estimatedUSD
		if s.cap > 0 && !s.alerted && s.committed() >= s.cap*g.caps.AlertThreshold {
			s.alerted = true
			if g.bus != nil {
				g.bus.Publish(events.NewBudgetAlertEvent(
					s.name, s.committed(), s.cap, s.committed()/s.cap))
			}
		}
	}

	return &Reservation{projectID: projectID, amount: estimatedUSD}, nil
}

// Settle replaces the reservation with the actual spend. Actual cost is
// recorded even when the invocation failed.
func (g *Governor) Settle(res *Reservation, actualUSD float64) error {
	if res == nil {
		return core.ErrValidation("NIL_RESERVATION", "reservation is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if res.settled {
		return core.ErrState(core.CodeInvalidState, "reservation already settled")
	}
	res.settled = true

	scopes := []*scope{&g.day, &g.month}
	if ps, ok := g.projects[res.projectID]; ok {
		scopes = append(scopes, ps)
	}
	for _, s := range scopes {
		s.reserved -= res.amount
		if s.reserved < 0 {
			s.reserved = 0
		}
		s.spent += actualUSD
	}
	return nil
}

// Release drops a reservation with no spend, for invocations that never
// reached the provider.
func (g *Governor) Release(res *Reservation) error {
	return g.Settle(res, 0)
}

// Spent reports committed spend for a scope name ("daily", "monthly" or a
// project ID).
func (g *Governor) Spent(name string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch name {
	case "daily":
		return g.day.spent
	case "monthly":
		return g.month.spent
	}
	if ps, ok := g.projects[core.ProjectID(name)]; ok {
		return ps.spent
	}
	return 0
}

// Snapshot reports ledger state for the dashboard.
type Snapshot struct {
	DailySpentUSD   float64 `json:"daily_spent_usd"`
	DailyCapUSD     float64 `json:"daily_cap_usd"`
	MonthlySpentUSD float64 `json:"monthly_spent_usd"`
	MonthlyCapUSD   float64 `json:"monthly_cap_usd"`
	ReservedUSD     float64 `json:"reserved_usd"`
}

// Stats returns the current ledger snapshot.
func (g *Governor) Stats() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		DailySpentUSD:   g.day.spent,
		DailyCapUSD:     g.day.cap,
		MonthlySpentUSD: g.month.spent,
		MonthlyCapUSD:   g.month.cap,
		ReservedUSD:     g.day.reserved,
	}
}

// resetExpiredLocked rolls the daily and monthly windows at UTC boundaries.
// Outstanding reservations carry across the boundary.
func (g *Governor) resetExpiredLocked() {
	now := g.now().UTC()
	if day := now.Format("2006-01-02"); day != g.dayStamp {
		g.dayStamp = day
		g.day.spent = 0
		g.day.alerted = false
	}
	if mon := now.Format("2006-01"); mon != g.monStamp {
		g.monStamp = mon
		g.month.spent = 0
		g.month.alerted = false
	}
}

// String describes the ledger for logs.
func (g *Governor) String() string {
	s := g.Stats()
	return fmt.Sprintf("budget daily=$%.4f/%.2f monthly=$%.4f/%.2f reserved=$%.4f",
		s.DailySpentUSD, s.DailyCapUSD, s.MonthlySpentUSD, s.MonthlyCapUSD, s.ReservedUSD)
}
