package curve

import "testing"

func TestLockedTokenReserves(t *testing.T) {
	if got := LockedTokenReserves(1_000_000, 2_000); got != 200_000 {
		t.Errorf("LockedTokenReserves = %d, want 200000", got)
	}
	if got := LockedTokenReserves(1_000_000, 0); got != 0 {
		t.Errorf("zero lockedBps = %d, want 0", got)
	}
}

func TestCompletionBps(t *testing.T) {
	// Initial 1_000_000, 20% locked: the sellable range is 800_000 tokens.
	tests := []struct {
		name    string
		current int64
		want    int64
	}{
		{"untouched", 1_000_000, 0},
		{"half sold", 600_000, 5_000},
		{"at lock boundary", 200_000, 10_000},
		{"past lock boundary clamps", 150_000, 10_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompletionBps(1_000_000, tt.current, 2_000); got != tt.want {
				t.Errorf("CompletionBps(current=%d) = %d, want %d", tt.current, got, tt.want)
			}
		})
	}
}

func TestProjectStateGraduation(t *testing.T) {
	// Completion alone graduates.
	s := ProjectState(10_000, 1_000_000, 2_000, 60_000, 200_000, false)
	if !s.IsGraduated {
		t.Error("state at lock boundary should be graduated")
	}

	// The carried flag survives reserves that compute below the threshold.
	s = ProjectState(10_000, 1_000_000, 2_000, 20_000, 700_000, true)
	if !s.IsGraduated {
		t.Error("carried graduation flag was dropped")
	}
	if s.CompletionBps >= BpsDenominator {
		t.Fatalf("test setup: completion %d should be below threshold", s.CompletionBps)
	}
}

func TestBandOf(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Band
	}{
		{"fresh curve", State{CompletionBps: 0}, BandEarly},
		{"just below near", State{CompletionBps: 4_999}, BandEarly},
		{"at near floor", State{CompletionBps: 5_000}, BandNear},
		{"graduated wins", State{CompletionBps: 5_000, IsGraduated: true}, BandGraduated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.BandOf(); got != tt.want {
				t.Errorf("BandOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBandString(t *testing.T) {
	if got := BandNear.String(); got != "near" {
		t.Errorf("BandNear.String() = %q", got)
	}
	if got := BandGraduated.String(); got != "graduated" {
		t.Errorf("BandGraduated.String() = %q", got)
	}
	if got := BandEarly.String(); got != "early" {
		t.Errorf("BandEarly.String() = %q", got)
	}
}

func TestCompletionPct(t *testing.T) {
	s := State{CompletionBps: 5_712}
	if got := s.CompletionPct(); got != 57.12 {
		t.Errorf("CompletionPct = %v, want 57.12", got)
	}
}
