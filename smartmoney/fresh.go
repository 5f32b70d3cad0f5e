package smartmoney

import (
	"math"
	"time"
)

const freshHalfLife = 30 * time.Minute

// freshScore scores a freshly-built position: full strength when OI jumps
// >=10% on >=2x volume, or on first significance crossing; decays
// exponentially afterwards per a fixed half-life.
func freshScore(s Sample, now, firstSeenAt time.Time) float64 {
	oiJump := s.PrevOI > 0 && (s.OI-s.PrevOI)/s.PrevOI >= 0.10
	volumeDouble := s.RollingMeanVolume > 0 && s.Volume >= 2*s.RollingMeanVolume

	if !(oiJump && volumeDouble) && !s.FirstSeenOI {
		return 0
	}

	if firstSeenAt.IsZero() || now.Before(firstSeenAt) {
		return 1.0
	}

	elapsed := now.Sub(firstSeenAt)
	decay := math.Exp(-math.Ln2 * elapsed.Minutes() / freshHalfLife.Minutes())
	return decay
}
