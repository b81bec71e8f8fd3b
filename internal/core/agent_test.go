package core

import (
	"testing"
	"time"
)

func TestAgent_AcquireHonorsWorkloadCap(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := NewAgent("a1", RoleBackend, "model-s", 128000) // MaxTasks defaults to 2

	if !a.Acquire(now) || !a.Acquire(now) {
		t.Fatal("two acquisitions should fit the default cap")
	}
	if a.Acquire(now) {
		t.Error("third acquisition exceeds the workload cap")
	}

	a.Release(true)
	if got := a.Running(); got != 1 {
		t.Errorf("Running() = %d, want 1", got)
	}
	if !a.Acquire(now) {
		t.Error("released slot should be reusable")
	}
}

func TestAgent_StuckStrikeKeepsSlotUntilRelease(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := NewAgent("a1", RoleBackend, "model-s", 128000)

	if !a.Acquire(now) || !a.Acquire(now) {
		t.Fatal("setup: two acquisitions")
	}

	// A revoked lease takes a strike but the slot stays with the
	// executor until it returns.
	a.RecordStuck(now, 10*time.Minute)
	if got := a.Running(); got != 2 {
		t.Fatalf("Running() after strike = %d, want 2", got)
	}

	a.Release(false)
	if got := a.Running(); got != 1 {
		t.Errorf("Running() after one release = %d, want 1", got)
	}
}

func TestAgent_ThreeStrikesQuarantine(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := NewAgent("a1", RoleBackend, "model-s", 128000)

	if a.RecordStuck(now, 10*time.Minute) || a.RecordStuck(now, 10*time.Minute) {
		t.Fatal("first two strikes must not quarantine")
	}
	if !a.RecordStuck(now, 10*time.Minute) {
		t.Fatal("third strike must quarantine")
	}
	if !a.Quarantined(now) {
		t.Error("agent should be quarantined")
	}
	if a.Acquire(now) {
		t.Error("quarantined agent must refuse work")
	}
	if a.Quarantined(now.Add(11 * time.Minute)) {
		t.Error("quarantine should expire")
	}
}

func TestAgent_SuccessResetsStuckStreak(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := NewAgent("a1", RoleBackend, "model-s", 128000)

	a.RecordStuck(now, 10*time.Minute)
	a.RecordStuck(now, 10*time.Minute)
	if !a.Acquire(now) {
		t.Fatal("setup: acquire")
	}
	a.Release(true)

	if a.RecordStuck(now, 10*time.Minute) {
		t.Error("streak should have been reset by the success")
	}
}
