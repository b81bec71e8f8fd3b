// Package health detects stuck agents through heartbeats.
//
// Every running task holds a lease that its worker refreshes on each
// heartbeat. The monitor sweeps the lease table on a fixed interval; a
// lease silent past the stuck threshold is revoked, the task is handed
// back to the scheduler, and the agent takes a strike. Three consecutive
// strikes quarantine the agent.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/logging"
)

// Defaults per configuration.
const (
	DefaultInterval       = 30 * time.Second
	DefaultStuckThreshold = 15 * time.Minute
	DefaultQuarantine     = 10 * time.Minute
)

// StuckHandler is invoked when a lease expires. The handler returns the
// task to the ready queue; a requeue counts as an attempt.
type StuckHandler func(workflowID core.WorkflowID, taskID core.TaskID, agentID core.AgentID)

type lease struct {
	workflowID core.WorkflowID
	taskID     core.TaskID
	agent      *core.Agent
	lastBeat   time.Time
}

// Monitor is the heartbeat watchdog. All methods are safe for concurrent use.
type Monitor struct {
	interval       time.Duration
	stuckThreshold time.Duration
	quarantine     time.Duration
	bus            *events.Bus
	log            *logging.Logger
	onStuck        StuckHandler
	now            func() time.Time

	mu     sync.Mutex
	leases map[core.TaskID]*lease
}

// Option configures the monitor.
type Option func(*Monitor)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithStuckThreshold sets the heartbeat silence threshold.
func WithStuckThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.stuckThreshold = d }
}

// WithQuarantine sets the quarantine duration after three strikes.
func WithQuarantine(d time.Duration) Option {
	return func(m *Monitor) { m.quarantine = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a heartbeat monitor. onStuck receives revoked leases.
func NewMonitor(bus *events.Bus, log *logging.Logger, onStuck StuckHandler, opts ...Option) *Monitor {
	m := &Monitor{
		interval:       DefaultInterval,
		stuckThreshold: DefaultStuckThreshold,
		quarantine:     DefaultQuarantine,
		bus:            bus,
		log:            log,
		onStuck:        onStuck,
		now:            time.Now,
		leases:         make(map[core.TaskID]*lease),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track opens a lease for a task the scheduler just handed to an agent.
func (m *Monitor) Track(workflowID core.WorkflowID, taskID core.TaskID, agent *core.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[taskID] = &lease{
		workflowID: workflowID,
		taskID:     taskID,
		agent:      agent,
		lastBeat:   m.now(),
	}
}

// Heartbeat refreshes a task's lease. Workers call this on tool
// invocations and model responses. Unknown leases are ignored: the sweep
// may have already revoked them.
func (m *Monitor) Heartbeat(taskID core.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[taskID]; ok {
		l.lastBeat = m.now()
	}
}

// Untrack closes a lease on task completion or failure.
func (m *Monitor) Untrack(taskID core.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, taskID)
}

// Tracked returns the number of open leases.
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

// Run sweeps leases until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep revokes every lease silent past the stuck threshold.
func (m *Monitor) Sweep() {
	now := m.now()

	m.mu.Lock()
	var expired []*lease
	for id, l := range m.leases {
		if now.Sub(l.lastBeat) >= m.stuckThreshold {
			expired = append(expired, l)
			delete(m.leases, id)
		}
	}
	m.mu.Unlock()

	for _, l := range expired {
		m.log.WithWorkflow(string(l.workflowID)).WithTask(string(l.taskID)).
			Warn("heartbeat lost, requeueing task",
				"agent_id", l.agent.ID,
				"silent_for", now.Sub(l.lastBeat).String())

		if m.bus != nil {
			m.bus.Publish(events.NewTaskStuckEvent(
				string(l.workflowID), string(l.taskID), string(l.agent.ID)))
		}

		if l.agent.RecordStuck(now, m.quarantine) {
			until := now.Add(m.quarantine)
			m.log.WithAgent(string(l.agent.ID)).
				Warn("agent quarantined after repeated stuck detections",
					"until", until.Format(time.RFC3339))
			if m.bus != nil {
				m.bus.Publish(events.NewAgentQuarantinedEvent(
					string(l.agent.ID), until.Format(time.RFC3339)))
			}
		}

		if m.onStuck != nil {
			m.onStuck(l.workflowID, l.taskID, l.agent.ID)
		}
	}
}
