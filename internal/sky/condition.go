package sky

// Condition is one of the coarse weather-visual categories that select a
// color palette and effect set. Derived, never stored.
type Condition string

const (
	ConditionClear    Condition = "clear"
	ConditionCloudy   Condition = "cloudy"
	ConditionOvercast Condition = "overcast"
	ConditionRain     Condition = "rain"
	ConditionSnow     Condition = "snow"
	ConditionThunder  Condition = "thunder"
	ConditionFog      Condition = "fog"
)

// Classify maps a WMO weather code to a Condition. A nil or unrecognized code
// degrades to clear rather than erroring; upstream data quality is not this
// layer's problem.
func Classify(weatherCode *int) Condition {
	if weatherCode == nil {
		return ConditionClear
	}
	code := *weatherCode
	switch {
	case code <= 1:
		return ConditionClear
	case code == 2:
		return ConditionCloudy
	case code == 3:
		return ConditionOvercast
	case code >= 45 && code <= 48:
		return ConditionFog
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case code >= 71 && code <= 77:
		return ConditionSnow
	case code >= 95:
		return ConditionThunder
	default:
		return ConditionClear
	}
}

// AdjustByCloudCover refines a classified condition with the live cloud-cover
// percentage. Precipitation, fog and thunder are direct observations and are
// never overridden by inferred cover. For the cloudiness family the weather
// code is a coarse daily summary, so the finer live signal wins in both
// directions: 80%+ forces overcast, 20%+ cloudy, below that clear.
func AdjustByCloudCover(condition Condition, cloudCoverPct float64) Condition {
	switch condition {
	case ConditionRain, ConditionSnow, ConditionThunder, ConditionFog:
		return condition
	}
	switch {
	case cloudCoverPct >= 80:
		return ConditionOvercast
	case cloudCoverPct >= 20:
		return ConditionCloudy
	default:
		return ConditionClear
	}
}
