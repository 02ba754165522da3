package sky

// Overlays holds the per-effect overlay opacities for one rendered frame.
// Zero means the effect layer is not drawn.
type Overlays struct {
	Stars float64 `json:"stars"`
	Rain  float64 `json:"rain"`
	Snow  float64 `json:"snow"`
	Fog   float64 `json:"fog"`
}

// RainAnimation carries the animation periods, in seconds, for the two
// parallax rain layers. The tier boundaries at 2mm and 5mm are user-visible
// and must not drift.
type RainAnimation struct {
	PrimaryLayerPeriodSec   float64 `json:"primaryLayerPeriodSec"`
	SecondaryLayerPeriodSec float64 `json:"secondaryLayerPeriodSec"`
}

const (
	starsBaseOpacity   = 0.6
	starsFadeOutPhase  = 0.25 // stars fully gone once past early dawn
	rainOpacityRain    = 0.35
	rainOpacityThunder = 0.45
	snowOpacity        = 0.4
	fogOpacity         = 0.35
)

// OverlaysFor derives the overlay opacities from condition, sky phase and
// precipitation. The rain layer only trusts the precipitation signal when the
// classified condition agrees; snow and fog are condition-driven alone.
func OverlaysFor(condition Condition, skyPhase, precipitationMm float64) Overlays {
	var o Overlays

	if condition == ConditionClear {
		fade := 1 - skyPhase/starsFadeOutPhase
		if fade < 0 {
			fade = 0
		}
		o.Stars = starsBaseOpacity * fade
	}

	if precipitationMm > 0 {
		switch condition {
		case ConditionRain:
			o.Rain = rainOpacityRain
		case ConditionThunder:
			o.Rain = rainOpacityThunder
		}
	}

	if condition == ConditionSnow {
		o.Snow = snowOpacity
	}
	if condition == ConditionFog {
		o.Fog = fogOpacity
	}
	return o
}

// RainSpeed maps precipitation intensity to the animation tier. Boundaries
// are exclusive above: exactly 2mm is the slow tier, exactly 5mm the medium.
func RainSpeed(precipitationMm float64) RainAnimation {
	switch {
	case precipitationMm > 5:
		return RainAnimation{PrimaryLayerPeriodSec: 0.12, SecondaryLayerPeriodSec: 0.17}
	case precipitationMm > 2:
		return RainAnimation{PrimaryLayerPeriodSec: 0.25, SecondaryLayerPeriodSec: 0.35}
	default:
		return RainAnimation{PrimaryLayerPeriodSec: 0.5, SecondaryLayerPeriodSec: 0.7}
	}
}
