package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/logging"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMonitor(t *testing.T, clock *fakeClock, onStuck StuckHandler) (*Monitor, *events.Bus) {
	t.Helper()
	bus := events.New(32)
	t.Cleanup(bus.Close)
	m := NewMonitor(bus, logging.NewNop(), onStuck,
		WithClock(clock.Now),
		WithStuckThreshold(15*time.Minute),
		WithQuarantine(10*time.Minute))
	return m, bus
}

func TestMonitor_HeartbeatKeepsLeaseAlive(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	var stuck []core.TaskID
	m, _ := newTestMonitor(t, clock, func(_ core.WorkflowID, taskID core.TaskID, _ core.AgentID) {
		stuck = append(stuck, taskID)
	})

	agent := core.NewAgent("a1", core.RoleBackend, "model-s", 128000)
	m.Track("wf1", "t1", agent)

	// Beat every 10 minutes for an hour: never silent past the threshold.
	for i := 0; i < 6; i++ {
		clock.Advance(10 * time.Minute)
		m.Heartbeat("t1")
		m.Sweep()
	}

	assert.Empty(t, stuck)
	assert.Equal(t, 1, m.Tracked())
}

func TestMonitor_SilentLeaseIsRevoked(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	var stuck []core.TaskID
	m, bus := newTestMonitor(t, clock, func(_ core.WorkflowID, taskID core.TaskID, _ core.AgentID) {
		stuck = append(stuck, taskID)
	})
	ch := bus.Subscribe(events.TypeTaskStuck)

	agent := core.NewAgent("a1", core.RoleBackend, "model-s", 128000)
	require.True(t, agent.Acquire(clock.Now()))
	m.Track("wf1", "t1", agent)

	clock.Advance(16 * time.Minute)
	m.Sweep()

	require.Equal(t, []core.TaskID{"t1"}, stuck)
	assert.Equal(t, 0, m.Tracked())

	// The executor still holds the workload slot; it frees on Release.
	assert.Equal(t, 1, agent.Running())
	agent.Release(false)
	assert.Equal(t, 0, agent.Running())

	ev := <-ch
	assert.Equal(t, events.TypeTaskStuck, ev.EventType())
	assert.Equal(t, "wf1", ev.WorkflowID())
}

func TestMonitor_ThreeStrikesQuarantine(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	m, bus := newTestMonitor(t, clock, nil)
	ch := bus.Subscribe(events.TypeAgentQuarantine)

	agent := core.NewAgent("a1", core.RoleBackend, "model-s", 128000)

	for i := 0; i < 3; i++ {
		require.True(t, agent.Acquire(clock.Now()), "strike %d", i)
		m.Track("wf1", core.TaskID("t"+string(rune('1'+i))), agent)
		clock.Advance(16 * time.Minute)
		m.Sweep()
		agent.Release(false)
	}

	assert.True(t, agent.Quarantined(clock.Now()))
	ev := <-ch
	assert.Equal(t, events.TypeAgentQuarantine, ev.EventType())

	// Quarantine expires after its duration.
	clock.Advance(11 * time.Minute)
	assert.False(t, agent.Quarantined(clock.Now()))
	assert.True(t, agent.Acquire(clock.Now()))
}

func TestMonitor_SuccessResetsStrikes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	m, _ := newTestMonitor(t, clock, nil)

	agent := core.NewAgent("a1", core.RoleBackend, "model-s", 128000)

	// Two strikes, then a success, then two more strikes: no quarantine.
	for i := 0; i < 2; i++ {
		require.True(t, agent.Acquire(clock.Now()))
		m.Track("wf1", core.TaskID("s"+string(rune('1'+i))), agent)
		clock.Advance(16 * time.Minute)
		m.Sweep()
		agent.Release(false)
	}
	require.True(t, agent.Acquire(clock.Now()))
	agent.Release(true)

	for i := 0; i < 2; i++ {
		require.True(t, agent.Acquire(clock.Now()))
		m.Track("wf1", core.TaskID("u"+string(rune('1'+i))), agent)
		clock.Advance(16 * time.Minute)
		m.Sweep()
		agent.Release(false)
	}

	assert.False(t, agent.Quarantined(clock.Now()))
}

func TestMonitor_UntrackStopsSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	var stuck int
	m, _ := newTestMonitor(t, clock, func(core.WorkflowID, core.TaskID, core.AgentID) { stuck++ })

	agent := core.NewAgent("a1", core.RoleBackend, "model-s", 128000)
	m.Track("wf1", "t1", agent)
	m.Untrack("t1")

	clock.Advance(time.Hour)
	m.Sweep()
	assert.Zero(t, stuck)
}
