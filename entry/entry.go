// Package entry implements the Entry Engine (spec §4.6): consumes the
// current BiasState, a candidate leg's current+previous GreeksSnapshot,
// and the smart-money context, and emits an EntryContext or NO_SIGNAL.
// The engine never opens positions itself.
package entry

import (
	"math"
	"time"

	"scalper/smartmoney"
	"scalper/types"
)

// Config holds the Entry Engine's thresholds, grounded on config.Filters.
type Config struct {
	MinBiasConfidence float64
	MaxSpreadPercent  float64
	FreshnessTolerance time.Duration
	ChoppyDeltaEpsilon float64
	IdealGammaMin      float64
	RejectFlatOIMove   float64
	RejectIVDrop       float64
	RejectSpreadWiden  float64
	RejectDeltaSpike   float64
	TrapThreshold      float64
}

// DefaultConfig mirrors config.Filters' defaults.
func DefaultConfig() Config {
	return Config{
		MinBiasConfidence:  60,
		MaxSpreadPercent:   3.0,
		FreshnessTolerance: 5 * time.Second,
		ChoppyDeltaEpsilon: 0.02,
		IdealGammaMin:      0.002,
		RejectFlatOIMove:   0.3,
		RejectIVDrop:       5.0,
		RejectSpreadWiden:  2.0,
		RejectDeltaSpike:   0.2,
		TrapThreshold:      0.6,
	}
}

// Engine evaluates entry conditions for one candidate leg per tick.
type Engine struct {
	cfg Config
}

// NewEngine builds an Engine with the given Config.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate runs the full §4.6 gate and returns an EntryContext (NoSignal
// when any condition fails).
func (e *Engine) Evaluate(
	b types.BiasState,
	optionType types.OptionType,
	strike float64,
	cur, prev types.GreeksSnapshot,
	now time.Time,
	smartEval smartmoney.Evaluation,
) types.EntryContext {
	noSignal := types.EntryContext{Signal: types.NoSignal}

	// 1. Bias state and confidence.
	if (b.State != types.BiasBullish && b.State != types.BiasBearish) || b.Confidence < e.cfg.MinBiasConfidence {
		return noSignal
	}

	// 2. Spread% <= max.
	if cur.LTP <= 0 {
		return noSignal
	}
	spreadPct := (cur.Ask - cur.Bid) / cur.LTP * 100
	if spreadPct > e.cfg.MaxSpreadPercent {
		return noSignal
	}

	// 3. Bid/ask/ltp positive and fresh.
	if cur.Bid <= 0 || cur.Ask <= 0 || cur.LTP <= 0 {
		return noSignal
	}
	if now.Sub(cur.Timestamp) > e.cfg.FreshnessTolerance {
		return noSignal
	}

	// 4. Not choppy: small delta-LTP combined with oscillating delta.
	deltaLTP := cur.LTP - prev.LTP
	oscillatingDelta := math.Abs(cur.Delta-prev.Delta) > e.cfg.ChoppyDeltaEpsilon &&
		((cur.Delta-prev.Delta > 0) != (deltaLTP > 0))
	if math.Abs(deltaLTP) < 0.01*cur.LTP && oscillatingDelta {
		return noSignal
	}

	// 5. LTP rising, volume rising, OI rising, gamma rising and above floor.
	ltpRising := cur.LTP > prev.LTP
	volRising := cur.Volume > prev.Volume
	oiRising := cur.OI > prev.OI
	gammaRising := cur.Gamma >= prev.Gamma
	if !(ltpRising && volRising && oiRising && gammaRising && cur.Gamma > e.cfg.IdealGammaMin) {
		return noSignal
	}

	// 6. Delta in the directionally correct power zone.
	var reasonTags []string
	var signal types.Signal
	switch b.State {
	case types.BiasBullish:
		if cur.Delta < 0.45 || cur.Delta > 0.75 {
			return noSignal
		}
		signal = types.CallBuy
		reasonTags = append(reasonTags, "bullish_bias", "delta_power_zone")
	case types.BiasBearish:
		if cur.Delta > -0.45 || cur.Delta < -0.75 {
			return noSignal
		}
		signal = types.PutBuy
		reasonTags = append(reasonTags, "bearish_bias", "delta_power_zone")
	}

	// 7. Rejection rules.
	oiMoveFrac := 0.0
	if prev.OI > 0 {
		oiMoveFrac = math.Abs(cur.OI-prev.OI) / prev.OI
	}
	flatOIAtMove := oiMoveFrac < e.cfg.RejectFlatOIMove && math.Abs(deltaLTP) > 0.01*cur.LTP
	ivDrop := prev.IV - cur.IV
	spreadWidening := spreadPct > e.cfg.RejectSpreadWiden && spreadPct > (prev.Ask-prev.Bid)/prev.LTP*100
	deltaSpikeCollapse := math.Abs(cur.Delta-prev.Delta) > e.cfg.RejectDeltaSpike

	if flatOIAtMove || ivDrop > e.cfg.RejectIVDrop || spreadWidening || deltaSpikeCollapse {
		return noSignal
	}

	// 8. Trap probability.
	if smartEval.TrapScore >= e.cfg.TrapThreshold || smartEval.ShouldBlock {
		return noSignal
	}

	reasonTags = append(reasonTags, "ltp_rising", "vol_rising", "oi_rising", "gamma_rising")

	return types.EntryContext{
		Signal:     signal,
		OptionType: optionType,
		Strike:     strike,
		EntryPrice: cur.LTP,
		EntryDelta: cur.Delta,
		EntryGamma: cur.Gamma,
		EntryTheta: cur.Theta,
		EntryIV:    cur.IV,
		ReasonTags: reasonTags,
		Confidence: b.Confidence,
	}
}
