package smartmoney

// truthTable cross-validates delta/OI/volume/gamma/theta movement against
// the spec §4.4 OI x Greeks truth table.
func truthTable(s Sample) (label string, confidence float64, block bool) {
	deltaUp := s.DeltaPrice > 0 // proxy: rising underlying price drives rising delta for calls
	oiUp := s.DeltaOI > 0
	volUp := s.DeltaVolume > 0
	gammaUp := s.Gamma > s.PrevGamma
	aggressiveTheta := s.Theta < -5 && s.MinutesToExpiry <= 120

	switch {
	case deltaUp && oiUp && volUp:
		return "smart_entry", 0.95, false
	case deltaUp && !oiUp && volUp:
		return "trap", 0.05, true
	case gammaUp && s.DeltaOI > 0:
		return "explosive", 0.9, false
	case aggressiveTheta:
		return "theta_trap", 0.1, true
	default:
		return "neutral", 0.5, false
	}
}
