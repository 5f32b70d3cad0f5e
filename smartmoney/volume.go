package smartmoney

// classifyVolume buckets current volume against its rolling mean.
func classifyVolume(s Sample) VolumeState {
	if s.RollingMeanVolume <= 0 {
		return VolumeNormal
	}
	ratio := s.Volume / s.RollingMeanVolume
	switch {
	case ratio >= 3.5:
		return VolumeAggressive
	case ratio >= 2.5:
		return VolumeBurst
	case ratio >= 1.5:
		return VolumeSpike
	default:
		return VolumeNormal
	}
}
