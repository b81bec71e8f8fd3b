package core

import "testing"

func TestNextPhase_Chain(t *testing.T) {
	want := []Phase{
		PhaseRequirements, PhaseDesign, PhaseImplementation, PhaseTesting,
		PhaseCodeReview, PhaseSecurityAudit, PhaseDocumentation,
		PhaseDeployment, PhaseMonitoring, PhaseCompleted,
	}

	p := PhaseIdle
	for i, expected := range want {
		p = NextPhase(p)
		if p != expected {
			t.Fatalf("step %d: NextPhase() = %q, want %q", i, p, expected)
		}
	}

	if next := NextPhase(PhaseCompleted); next != "" {
		t.Errorf("NextPhase(completed) = %q, want empty", next)
	}
}

func TestPrevPhase(t *testing.T) {
	tests := []struct {
		phase Phase
		want  Phase
	}{
		{PhaseDesign, PhaseRequirements},
		{PhaseImplementation, PhaseDesign},
		{PhaseCompleted, PhaseMonitoring},
		{PhaseRequirements, PhaseIdle},
		{PhaseIdle, ""},
	}

	for _, tt := range tests {
		if got := PrevPhase(tt.phase); got != tt.want {
			t.Errorf("PrevPhase(%q) = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestPhaseOrder_Monotonic(t *testing.T) {
	prev := PhaseOrder(PhaseIdle)
	for _, p := range AllPhases() {
		ord := PhaseOrder(p)
		if ord <= prev {
			t.Errorf("PhaseOrder(%q) = %d, not greater than %d", p, ord, prev)
		}
		prev = ord
	}
	if PhaseOrder("bogus") != -1 {
		t.Error("PhaseOrder(bogus) should be -1")
	}
}

func TestParsePhase(t *testing.T) {
	if _, err := ParsePhase("security_audit"); err != nil {
		t.Errorf("ParsePhase(security_audit) returned error: %v", err)
	}
	if _, err := ParsePhase("nonsense"); err == nil {
		t.Error("ParsePhase(nonsense) should fail")
	}
}
