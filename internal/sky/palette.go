package sky

import (
	"fmt"
	"math"
)

// RGB is an 8-bit-per-channel color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// String renders the color as a CSS rgb() function.
func (c RGB) String() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// Keyframe anchors a 4-stop gradient at a sky phase. Intermediate phases are
// linearly interpolated between the two nearest keyframes.
type Keyframe struct {
	Phase  float64
	Colors [4]RGB
}

// gradientStops are the fixed top-to-bottom stop positions, in percent.
var gradientStops = [4]int{0, 30, 65, 100}

// Gradient is a resolved 4-stop vertical gradient.
type Gradient struct {
	Colors [4]RGB `json:"colors"`
	Stops  [4]int `json:"stops"`
}

// CSS renders the gradient as a CSS linear-gradient string, top to bottom.
func (g Gradient) CSS() string {
	return fmt.Sprintf("linear-gradient(to bottom, %s %d%%, %s %d%%, %s %d%%, %s %d%%)",
		g.Colors[0], g.Stops[0], g.Colors[1], g.Stops[1], g.Colors[2], g.Stops[2], g.Colors[3], g.Stops[3])
}

// palettes holds the hand-authored keyframe table per condition, spanning
// night, dawn, golden hour and midday. Tables are authored by hand rather than
// derived from a base gradient so that conditions stay visually distinct at
// the same time of day. Ordering invariants are enforced in init.
var palettes = map[Condition][]Keyframe{
	ConditionClear: {
		{Phase: 0, Colors: [4]RGB{{6, 9, 26}, {13, 18, 44}, {24, 33, 68}, {38, 48, 88}}},
		{Phase: 0.18, Colors: [4]RGB{{26, 26, 62}, {62, 42, 88}, {122, 72, 92}, {182, 112, 92}}},
		{Phase: 0.38, Colors: [4]RGB{{72, 106, 176}, {136, 160, 200}, {234, 162, 122}, {250, 196, 132}}},
		{Phase: 0.65, Colors: [4]RGB{{88, 156, 220}, {124, 184, 234}, {174, 214, 244}, {224, 238, 250}}},
		{Phase: 1, Colors: [4]RGB{{64, 140, 224}, {110, 174, 234}, {160, 204, 244}, {210, 234, 250}}},
	},
	ConditionCloudy: {
		{Phase: 0, Colors: [4]RGB{{12, 15, 28}, {20, 25, 42}, {34, 40, 60}, {50, 56, 76}}},
		{Phase: 0.2, Colors: [4]RGB{{40, 42, 66}, {72, 64, 88}, {118, 92, 102}, {158, 122, 110}}},
		{Phase: 0.4, Colors: [4]RGB{{96, 118, 160}, {136, 152, 184}, {190, 172, 158}, {222, 198, 168}}},
		{Phase: 0.7, Colors: [4]RGB{{118, 152, 196}, {150, 178, 212}, {186, 204, 226}, {218, 228, 238}}},
		{Phase: 1, Colors: [4]RGB{{108, 146, 192}, {142, 172, 208}, {180, 200, 224}, {214, 224, 236}}},
	},
	ConditionOvercast: {
		{Phase: 0, Colors: [4]RGB{{16, 18, 24}, {24, 26, 34}, {36, 39, 48}, {50, 53, 62}}},
		{Phase: 0.25, Colors: [4]RGB{{52, 54, 66}, {72, 74, 86}, {98, 98, 108}, {124, 122, 128}}},
		{Phase: 0.55, Colors: [4]RGB{{110, 116, 130}, {134, 140, 152}, {160, 164, 174}, {186, 188, 196}}},
		{Phase: 1, Colors: [4]RGB{{138, 146, 158}, {160, 166, 178}, {184, 188, 198}, {206, 210, 218}}},
	},
	ConditionRain: {
		{Phase: 0, Colors: [4]RGB{{10, 12, 20}, {16, 20, 30}, {26, 32, 44}, {38, 44, 58}}},
		{Phase: 0.25, Colors: [4]RGB{{38, 44, 60}, {54, 62, 80}, {74, 84, 102}, {96, 106, 122}}},
		{Phase: 0.55, Colors: [4]RGB{{78, 92, 114}, {100, 114, 136}, {126, 140, 160}, {152, 166, 182}}},
		{Phase: 1, Colors: [4]RGB{{98, 114, 138}, {122, 138, 160}, {148, 164, 184}, {176, 190, 206}}},
	},
	ConditionSnow: {
		{Phase: 0, Colors: [4]RGB{{18, 22, 34}, {28, 34, 50}, {44, 52, 70}, {62, 72, 92}}},
		{Phase: 0.25, Colors: [4]RGB{{64, 72, 96}, {88, 98, 122}, {118, 130, 152}, {150, 162, 182}}},
		{Phase: 0.55, Colors: [4]RGB{{132, 146, 170}, {160, 174, 194}, {190, 200, 216}, {216, 224, 234}}},
		{Phase: 1, Colors: [4]RGB{{164, 178, 198}, {188, 200, 216}, {212, 220, 232}, {234, 240, 246}}},
	},
	ConditionThunder: {
		{Phase: 0, Colors: [4]RGB{{7, 6, 14}, {12, 10, 24}, {20, 16, 36}, {30, 24, 48}}},
		{Phase: 0.3, Colors: [4]RGB{{26, 24, 44}, {40, 34, 60}, {58, 48, 76}, {76, 62, 90}}},
		{Phase: 0.6, Colors: [4]RGB{{52, 52, 76}, {70, 68, 94}, {92, 88, 114}, {114, 108, 132}}},
		{Phase: 1, Colors: [4]RGB{{68, 70, 96}, {88, 88, 114}, {110, 108, 134}, {132, 128, 152}}},
	},
	ConditionFog: {
		{Phase: 0, Colors: [4]RGB{{22, 24, 30}, {32, 34, 40}, {46, 48, 54}, {60, 62, 68}}},
		{Phase: 0.3, Colors: [4]RGB{{76, 78, 86}, {96, 98, 104}, {118, 120, 124}, {140, 140, 144}}},
		{Phase: 0.6, Colors: [4]RGB{{140, 142, 148}, {160, 162, 166}, {180, 180, 184}, {198, 198, 200}}},
		{Phase: 1, Colors: [4]RGB{{168, 170, 176}, {186, 188, 192}, {202, 202, 206}, {216, 216, 220}}},
	},
}

func init() {
	for cond, frames := range palettes {
		if err := validateKeyframes(frames); err != nil {
			panic(fmt.Sprintf("sky: palette table for %q: %v", cond, err))
		}
	}
}

// validateKeyframes enforces the table invariants: non-empty, first phase 0,
// last phase 1, strictly ascending phases. Violations are programmer errors
// in the literal tables, so callers of GradientFor never re-check.
func validateKeyframes(frames []Keyframe) error {
	if len(frames) < 2 {
		return fmt.Errorf("need at least 2 keyframes, got %d", len(frames))
	}
	if frames[0].Phase != 0 {
		return fmt.Errorf("first keyframe phase must be 0, got %v", frames[0].Phase)
	}
	if frames[len(frames)-1].Phase != 1 {
		return fmt.Errorf("last keyframe phase must be 1, got %v", frames[len(frames)-1].Phase)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Phase <= frames[i-1].Phase {
			return fmt.Errorf("phases must ascend: frame %d phase %v <= %v", i, frames[i].Phase, frames[i-1].Phase)
		}
	}
	return nil
}

// GradientFor interpolates the condition's keyframe table at the given sky
// phase. The phase is clamped to [0,1], the bracketing keyframe pair located,
// and each channel of each of the 4 stops lerped independently with rounding.
// Unknown conditions use the clear table.
func GradientFor(condition Condition, skyPhase float64) Gradient {
	frames, ok := palettes[condition]
	if !ok {
		frames = palettes[ConditionClear]
	}

	phase := skyPhase
	if phase < 0 {
		phase = 0
	} else if phase > 1 {
		phase = 1
	}

	// After clamping, phase always sits between the first (0) and last (1)
	// keyframe, so a bracketing pair always exists.
	lower, upper := frames[0], frames[len(frames)-1]
	for i := 1; i < len(frames); i++ {
		if phase <= frames[i].Phase {
			lower, upper = frames[i-1], frames[i]
			break
		}
	}

	t := 0.0
	if span := upper.Phase - lower.Phase; span > 0 {
		t = (phase - lower.Phase) / span
	}

	var g Gradient
	g.Stops = gradientStops
	for i := 0; i < 4; i++ {
		g.Colors[i] = lerpRGB(lower.Colors[i], upper.Colors[i], t)
	}
	return g
}

// lerpRGB interpolates each channel independently, rounding to the nearest
// integer and clamping to the 8-bit range.
func lerpRGB(a, b RGB, t float64) RGB {
	return RGB{
		R: lerpChannel(a.R, b.R, t),
		G: lerpChannel(a.G, b.G, t),
		B: lerpChannel(a.B, b.B, t),
	}
}

func lerpChannel(a, b uint8, t float64) uint8 {
	v := math.Round(float64(a) + (float64(b)-float64(a))*t)
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return uint8(v)
}
