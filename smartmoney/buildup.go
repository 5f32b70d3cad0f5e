package smartmoney

import "math"

// classifyBuildUp derives OI build-up type from the sign of
// price/OI/volume deltas, with confidence from the magnitude of each.
func classifyBuildUp(s Sample) (BuildUpType, float64) {
	priceUp := s.DeltaPrice > 0
	oiUp := s.DeltaOI > 0

	var kind BuildUpType
	switch {
	case priceUp && oiUp:
		kind = LongBuildUp
	case !priceUp && oiUp:
		kind = ShortBuildUp
	case priceUp && !oiUp:
		kind = ShortCovering
	default:
		kind = LongUnwinding
	}
	if s.DeltaOI == 0 {
		return NeutralBuildUp, 0
	}

	magnitude := math.Min(1.0, (math.Abs(s.DeltaOI)+math.Abs(s.DeltaVolume))/2)
	return kind, magnitude
}
