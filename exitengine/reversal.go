package exitengine

import (
	"time"

	"scalper/types"
)

// ReversalInput is the OI-reversal detector's per-tick input: current and
// previous open interest on both legs of the option pair the trade is
// taken against, grounded on
// original_source/src/utils/phase7_reversal_exhaustion.py's
// OIReversalDetector_Engine.detect_reversal.
type ReversalInput struct {
	OICECurrent float64
	OICEPrev    float64
	OIPECurrent float64
	OIPEPrev    float64

	PositionType types.OptionType
}

// ExhaustionInput is the exhaustion detector's per-tick input, grounded on
// the same source's ExhaustionDetector_Engine.detect_exhaustion.
type ExhaustionInput struct {
	Price     float64
	PricePrev float64

	Delta     float64
	DeltaPrev float64

	Gamma     float64
	GammaPrev float64

	Volume     float64
	VolumePrev float64
}

const (
	reversalOIUnwinding     = "OI_UNWINDING"
	reversalCEPEFlip        = "CE_PE_FLIP"
	reversalOIBuildOpposite = "OI_BUILD_OPPOSITE"

	exhaustionGammaSpikeCollapse = "GAMMA_SPIKE_COLLAPSE"
	exhaustionVolumeClimax       = "VOLUME_CLIMAX"
	exhaustionDeltaDivergence    = "DELTA_DIVERGENCE"
	exhaustionCandleReversal     = "CANDLE_REVERSAL"

	bothReversalAndExhaustion = "BOTH_OI_EXHAUSTION"
)

// detectReversal checks OI unwinding, CE/PE dominance flip, and OI building
// against the held position, in that order, first match wins.
func detectReversal(cfg Config, in ReversalInput) (bool, string, float64) {
	totalPrev := in.OICEPrev + in.OIPEPrev
	if totalPrev > 0 {
		totalCurr := in.OICECurrent + in.OIPECurrent
		unwindPct := (totalPrev - totalCurr) / totalPrev * 100
		if unwindPct > cfg.OIReversalThresholdPercent {
			return true, reversalOIUnwinding, 0.85
		}
	}

	wasCE := in.OICEPrev > in.OIPEPrev
	isCE := in.OICECurrent > in.OIPECurrent
	if wasCE != isCE {
		return true, reversalCEPEFlip, 0.75
	}

	if in.PositionType == types.CallOption {
		if in.OIPEPrev > 0 && (in.OIPECurrent-in.OIPEPrev)/in.OIPEPrev*100 > 20 {
			return true, reversalOIBuildOpposite, 0.70
		}
	} else if in.OICEPrev > 0 && (in.OICECurrent-in.OICEPrev)/in.OICEPrev*100 > 20 {
		return true, reversalOIBuildOpposite, 0.70
	}

	return false, "", 0
}

// detectExhaustion checks gamma collapse, volume climax, delta divergence,
// and a weak-delta candle reversal, in that order, first match wins.
func detectExhaustion(cfg Config, in ExhaustionInput) (bool, string, float64) {
	if in.GammaPrev > 0.015 && in.Gamma < cfg.GammaCollapseThreshold {
		return true, exhaustionGammaSpikeCollapse, 0.90
	}

	if in.VolumePrev > 0 && in.Volume > in.VolumePrev*cfg.VolumeSpikeMultiplier && in.Gamma < 0.01 {
		return true, exhaustionVolumeClimax, 0.85
	}

	if absf(in.Price-in.PricePrev) > 2.0 && absf(in.Delta-in.DeltaPrev) < 0.1 {
		return true, exhaustionDeltaDivergence, 0.75
	}

	if in.PricePrev > in.Price && absf(in.Delta) < 0.3 {
		return true, exhaustionCandleReversal, 0.70
	}

	return false, "", 0
}

// CheckReversalExhaustion runs the reversal/exhaustion family (spec §1's
// trade-management scope), meant to be consulted only after Check's nine
// ordered triggers return NoExit — the source's
// ReversalAndExhaustionManager.check_should_exit combines both detectors:
// either alone above 0.75 confidence exits outright, and both firing
// together exits at their combined confidence even if individually below
// that bar.
func (e *Engine) CheckReversalExhaustion(rev ReversalInput, exh ExhaustionInput, ltp float64, now time.Time) Snapshot {
	reversed, rSignal, rConf := detectReversal(e.cfg, rev)
	exhausted, eSignal, eConf := detectExhaustion(e.cfg, exh)

	base := func(trig Trigger, detail string, conf float64) Snapshot {
		return Snapshot{
			Trigger:      trig,
			ExitPrice:    ltp,
			ExitTime:     now,
			SignalDetail: detail,
			Confidence:   conf,
		}
	}

	if reversed && rConf > 0.75 {
		return base(OIReversal, rSignal, rConf)
	}
	if exhausted && eConf > 0.75 {
		return base(Exhaustion, eSignal, eConf)
	}
	if reversed && exhausted {
		combined := rConf + eConf
		if combined > 0.99 {
			combined = 0.99
		}
		return base(OIReversal, bothReversalAndExhaustion, combined)
	}

	return Snapshot{Trigger: NoExit}
}
