package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
)

func TestGovernor_ReserveAndSettle(t *testing.T) {
	g := NewGovernor(Caps{DailyUSD: 10, AlertThreshold: 0.80, PauseThreshold: 0.95}, nil)

	res, err := g.Reserve("wf1", "p1", 2.0)
	require.NoError(t, err)
	require.NoError(t, g.Settle(res, 1.5))

	assert.InDelta(t, 1.5, g.Spent("daily"), 1e-9)
	assert.InDelta(t, 0, g.Stats().ReservedUSD, 1e-9)
}

func TestGovernor_SettleTwiceFails(t *testing.T) {
	g := NewGovernor(DefaultCaps(), nil)

	res, err := g.Reserve("wf1", "p1", 1.0)
	require.NoError(t, err)
	require.NoError(t, g.Settle(res, 1.0))
	require.Error(t, g.Settle(res, 1.0))
}

func TestGovernor_PauseThresholdBlocks(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	prio := bus.SubscribePriority()

	g := NewGovernor(Caps{DailyUSD: 10, AlertThreshold: 0.80, PauseThreshold: 0.95}, bus)

	res, err := g.Reserve("wf1", "p1", 9.0)
	require.NoError(t, err)
	require.NoError(t, g.Settle(res, 9.0))

	// 9.0 + 1.0 > 10 * 0.95: blocked, and a priority event is published.
	_, err = g.Reserve("wf1", "p1", 1.0)
	require.Error(t, err)
	assert.Equal(t, core.CodeBudgetExceeded, core.GetCode(err))
	assert.False(t, core.IsRetryable(err))

	ev := <-prio
	assert.Equal(t, events.TypeBudgetExceeded, ev.EventType())
}

func TestGovernor_AlertThresholdWarnsOnce(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeBudgetAlert)

	g := NewGovernor(Caps{DailyUSD: 10, AlertThreshold: 0.80, PauseThreshold: 0.95}, bus)

	res, err := g.Reserve("wf1", "p1", 8.5)
	require.NoError(t, err)
	require.NoError(t, g.Settle(res, 8.5))

	ev := <-ch
	assert.Equal(t, events.TypeBudgetAlert, ev.EventType())

	// Further spend in the same window does not re-alert.
	res2, err := g.Reserve("wf1", "p1", 0.5)
	require.NoError(t, err)
	require.NoError(t, g.Settle(res2, 0.5))

	select {
	case <-ch:
		t.Fatal("alert fired twice in one window")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGovernor_ConcurrentReservationsRespectCap(t *testing.T) {
	g := NewGovernor(Caps{DailyUSD: 10, PauseThreshold: 0.95}, nil)

	// Two in-flight reservations of 5.0: the second must be rejected even
	// though nothing has settled yet.
	_, err := g.Reserve("wf1", "p1", 5.0)
	require.NoError(t, err)
	_, err = g.Reserve("wf2", "p1", 5.0)
	require.Error(t, err)
	assert.Equal(t, core.CodeBudgetExceeded, core.GetCode(err))
}

func TestGovernor_ProjectCap(t *testing.T) {
	g := NewGovernor(Caps{DailyUSD: 100, PauseThreshold: 0.95}, nil)
	g.RegisterProject("p1", 1.0)

	_, err := g.Reserve("wf1", "p1", 2.0)
	require.Error(t, err)
	assert.Equal(t, core.CodeBudgetExceeded, core.GetCode(err))

	// A project without a cap uses the global scopes only.
	_, err = g.Reserve("wf2", "p2", 2.0)
	require.NoError(t, err)
}

func TestGovernor_ReRegisterKeepsSpend(t *testing.T) {
	g := NewGovernor(Caps{DailyUSD: 100, PauseThreshold: 0.95}, nil)
	g.RegisterProject("p1", 5.0)

	res, err := g.Reserve("wf1", "p1", 3.0)
	require.NoError(t, err)
	require.NoError(t, g.Settle(res, 3.0))

	// A resumed workflow re-registers; the ledger must not reset.
	g.RegisterProject("p1", 5.0)
	assert.InDelta(t, 3.0, g.Spent("p1"), 1e-9)

	_, err = g.Reserve("wf1", "p1", 3.0)
	require.Error(t, err)
	assert.Equal(t, core.CodeBudgetExceeded, core.GetCode(err))
}

func TestGovernor_DailyResetAtUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	g := NewGovernor(Caps{DailyUSD: 10, PauseThreshold: 0.95}, nil,
		WithClock(func() time.Time { return now }))

	res, err := g.Reserve("wf1", "p1", 9.0)
	require.NoError(t, err)
	require.NoError(t, g.Settle(res, 9.0))

	_, err = g.Reserve("wf1", "p1", 5.0)
	require.Error(t, err)

	// Cross midnight: daily window resets, monthly keeps accumulating.
	now = now.Add(2 * time.Hour)
	_, err = g.Reserve("wf1", "p1", 5.0)
	require.NoError(t, err)
	assert.InDelta(t, 0, g.Spent("daily"), 1e-9)
}

func TestGovernor_ReleaseReturnsReservation(t *testing.T) {
	g := NewGovernor(Caps{DailyUSD: 10, PauseThreshold: 0.95}, nil)

	res, err := g.Reserve("wf1", "p1", 9.0)
	require.NoError(t, err)
	require.NoError(t, g.Release(res))

	_, err = g.Reserve("wf1", "p1", 9.0)
	require.NoError(t, err)
}
