package adaptive

import (
	"time"

	"scalper/types"
)

// BucketForTime classifies a clock time into one of the five session windows.
func BucketForTime(t time.Time) types.TimeBucket {
	h, m, _ := t.Clock()
	mins := h*60 + m
	switch {
	case mins < 9*60+45:
		return types.TimeOpening
	case mins < 11*60+30:
		return types.TimeMorning
	case mins < 13*60:
		return types.TimeLunch
	case mins < 15*60:
		return types.TimeAfternoon
	default:
		return types.TimeClosing
	}
}

// BucketForBias classifies a 0-100 bias confidence into a strength bucket.
func BucketForBias(confidence float64) types.BiasStrengthBucket {
	switch {
	case confidence < 50:
		return types.BiasStrengthLow
	case confidence < 70:
		return types.BiasStrengthMedium
	case confidence < 90:
		return types.BiasStrengthHigh
	default:
		return types.BiasStrengthExtreme
	}
}

// BucketForGreeks classifies a (gamma, theta) pair into a regime bucket.
// High gamma takes precedence over high theta when both apply.
func BucketForGreeks(gamma, theta float64) types.GreeksRegimeBucket {
	switch {
	case gamma >= 0.004:
		return types.GreeksRegimeHighGamma
	case theta <= -40:
		return types.GreeksRegimeHighTheta
	default:
		return types.GreeksRegimeNeutral
	}
}

// BucketForOI maps a smart-money OI conviction label onto the learning bucket.
func BucketForOI(conviction string) types.OIConvictionBucket {
	switch conviction {
	case "STRONG":
		return types.OIConvictionStrong
	case "WEAK":
		return types.OIConvictionWeak
	default:
		return types.OIConvictionMedium
	}
}

// BucketForVolatility classifies an India VIX reading into a volatility bucket.
func BucketForVolatility(vix float64) types.VolatilityBucket {
	switch {
	case vix < 13:
		return types.VolatilityLow
	case vix <= 20:
		return types.VolatilityNormal
	default:
		return types.VolatilityHigh
	}
}

// SignalInputs is what a caller has on hand when asking the Adaptive
// Controller to evaluate a candidate signal, before sizing or order
// placement. It mirrors the entry context plus a few market-wide readings
// the Entry Engine doesn't carry.
type SignalInputs struct {
	Time           time.Time
	BiasConfidence float64
	Gamma          float64
	Theta          float64
	OIConviction   string
	VIX            float64
}

// Buckets extracts the five-dimension FeatureTuple from a SignalInputs.
func (s SignalInputs) Buckets() types.FeatureTuple {
	return types.FeatureTuple{
		Time:       BucketForTime(s.Time),
		Strength:   BucketForBias(s.BiasConfidence),
		Regime:     BucketForGreeks(s.Gamma, s.Theta),
		OI:         BucketForOI(s.OIConviction),
		Volatility: BucketForVolatility(s.VIX),
	}
}
