package sky

import (
	"strings"
	"testing"
)

var allConditions = []Condition{
	ConditionClear, ConditionCloudy, ConditionOvercast,
	ConditionRain, ConditionSnow, ConditionThunder, ConditionFog,
}

// TestPaletteTablesValid re-runs the construction-time validation over every
// authored table so a bad edit is caught even if init ordering changes.
func TestPaletteTablesValid(t *testing.T) {
	for _, cond := range allConditions {
		frames, ok := palettes[cond]
		if !ok {
			t.Fatalf("no palette table for %q", cond)
		}
		if err := validateKeyframes(frames); err != nil {
			t.Errorf("palette %q: %v", cond, err)
		}
	}
}

// TestGradientForBoundaries verifies zero interpolation error at the phase
// extremes: phase 0 must be the first keyframe exactly, phase 1 the last.
func TestGradientForBoundaries(t *testing.T) {
	for _, cond := range allConditions {
		frames := palettes[cond]

		got := GradientFor(cond, 0)
		if got.Colors != frames[0].Colors {
			t.Errorf("%q at phase 0: got %v, want first keyframe %v", cond, got.Colors, frames[0].Colors)
		}

		got = GradientFor(cond, 1)
		last := frames[len(frames)-1]
		if got.Colors != last.Colors {
			t.Errorf("%q at phase 1: got %v, want last keyframe %v", cond, got.Colors, last.Colors)
		}
	}
}

// TestGradientForClampsPhase verifies out-of-range phases clamp to the
// boundary keyframes instead of extrapolating.
func TestGradientForClampsPhase(t *testing.T) {
	below := GradientFor(ConditionClear, -0.5)
	atZero := GradientFor(ConditionClear, 0)
	if below != atZero {
		t.Errorf("phase -0.5 should clamp to phase 0")
	}

	above := GradientFor(ConditionClear, 1.7)
	atOne := GradientFor(ConditionClear, 1)
	if above != atOne {
		t.Errorf("phase 1.7 should clamp to phase 1")
	}
}

// TestGradientForExactKeyframe verifies landing on an interior keyframe
// returns its colors without interpolation artifacts.
func TestGradientForExactKeyframe(t *testing.T) {
	frames := palettes[ConditionClear]
	mid := frames[2]
	got := GradientFor(ConditionClear, mid.Phase)
	if got.Colors != mid.Colors {
		t.Errorf("at keyframe phase %v: got %v, want %v", mid.Phase, got.Colors, mid.Colors)
	}
}

// TestGradientForInterpolatesChannels checks a midpoint between two keyframes
// lerps each channel of each stop independently.
func TestGradientForInterpolatesChannels(t *testing.T) {
	frames := palettes[ConditionOvercast]
	lower, upper := frames[0], frames[1]
	mid := (lower.Phase + upper.Phase) / 2

	got := GradientFor(ConditionOvercast, mid)
	for i := 0; i < 4; i++ {
		wantR := lerpChannel(lower.Colors[i].R, upper.Colors[i].R, 0.5)
		if got.Colors[i].R != wantR {
			t.Errorf("stop %d R channel = %d, want %d", i, got.Colors[i].R, wantR)
		}
	}
}

// TestGradientForUnknownCondition verifies fallback to the clear table.
func TestGradientForUnknownCondition(t *testing.T) {
	got := GradientFor(Condition("sharknado"), 0.5)
	want := GradientFor(ConditionClear, 0.5)
	if got != want {
		t.Errorf("unknown condition should use the clear table")
	}
}

// TestGradientCSS verifies the emitted CSS shape and the fixed stop layout.
func TestGradientCSS(t *testing.T) {
	g := GradientFor(ConditionClear, 0)
	css := g.CSS()
	if !strings.HasPrefix(css, "linear-gradient(to bottom, ") {
		t.Errorf("unexpected CSS prefix: %s", css)
	}
	for _, stop := range []string{" 0%", " 30%", " 65%", " 100%)"} {
		if !strings.Contains(css, stop) {
			t.Errorf("CSS missing stop %q: %s", stop, css)
		}
	}
	if g.Stops != [4]int{0, 30, 65, 100} {
		t.Errorf("stops = %v, want [0 30 65 100]", g.Stops)
	}
}

// TestValidateKeyframes exercises the rejection paths.
func TestValidateKeyframes(t *testing.T) {
	tests := []struct {
		name   string
		frames []Keyframe
	}{
		{
			name:   "too few frames",
			frames: []Keyframe{{Phase: 0}},
		},
		{
			name:   "first phase nonzero",
			frames: []Keyframe{{Phase: 0.1}, {Phase: 1}},
		},
		{
			name:   "last phase not one",
			frames: []Keyframe{{Phase: 0}, {Phase: 0.9}},
		},
		{
			name:   "descending phases",
			frames: []Keyframe{{Phase: 0}, {Phase: 0.6}, {Phase: 0.4}, {Phase: 1}},
		},
		{
			name:   "duplicate phases",
			frames: []Keyframe{{Phase: 0}, {Phase: 0.5}, {Phase: 0.5}, {Phase: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateKeyframes(tt.frames); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}

	if err := validateKeyframes([]Keyframe{{Phase: 0}, {Phase: 0.5}, {Phase: 1}}); err != nil {
		t.Errorf("valid frames rejected: %v", err)
	}
}
