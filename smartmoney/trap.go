package smartmoney

// trapScore combines five independent trap indicators into a cumulative
// probability via a probabilistic OR (1 - product of non-occurrence),
// since spec §4.4 specifies each indicator's individual contribution but
// not a combination formula; treating them as independent false-signals
// matches the "cumulative probability" wording without inventing weights.
// reversal reports whether DeltaPrice's sign flipped against the prior
// tick for this instrument; it is derived across ticks by the caller
// (Detector.reversalSinceLastTick), never from this single Sample alone.
func trapScore(s Sample, vol VolumeState, reversal bool) float64 {
	combined := 1.0

	// (low OI + volume surge)
	lowOI := s.OI > 0 && s.PrevOI > 0 && s.OI < s.PrevOI*1.02 // OI barely moved
	volumeSurge := vol == VolumeSpike || vol == VolumeBurst || vol == VolumeAggressive
	if lowOI && volumeSurge {
		combined *= (1 - 0.35)
	}

	// (flat gamma + volume surge)
	flatGamma := s.PrevGamma > 0 && absf(s.Gamma-s.PrevGamma)/s.PrevGamma < 0.05
	if flatGamma && volumeSurge {
		combined *= (1 - 0.30)
	}

	// (aggressive theta near expiry)
	nearExpiry := s.MinutesToExpiry > 0 && s.MinutesToExpiry <= 60
	aggressiveTheta := s.Theta < -5
	if nearExpiry && aggressiveTheta {
		combined *= (1 - 0.25)
	}

	// (reversal with declining volume)
	decliningVolume := vol == VolumeNormal && s.DeltaVolume < 0
	if reversal && decliningVolume {
		combined *= (1 - 0.20)
	}

	// (extreme OTM + low OI)
	extremeOTM := s.StrikeOffsetATM >= 4
	if extremeOTM && s.OI < s.RollingMeanVolume {
		combined *= (1 - 0.20)
	}

	return 1 - combined
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
