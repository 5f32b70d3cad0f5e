// Package exitengine implements the Smart Exit Engine (spec §4.12): nine
// exit triggers evaluated in order, first match wins. The Smart Exit
// Engine's original source has duplicated branches for DELTA_WEAKNESS,
// GAMMA_ROLLOVER, IV_CRUSH and EXPIRY_RUSH (confirmed against
// original_source/src/engines/smart_exit_engine.py); this package keeps
// only the first occurrence of each, per spec §9 open question 3.
package exitengine

import (
	"sync"
	"time"

	"scalper/types"
)

// Trigger identifies which of the nine rules fired.
type Trigger string

const (
	HardSL        Trigger = "HARD_SL"
	ProfitTarget  Trigger = "PROFIT_TARGET"
	TrailingSL    Trigger = "TRAILING_SL"
	ProfitLadder  Trigger = "PROFIT_LADDER"
	TimeBased     Trigger = "TIME_BASED"
	DeltaWeakness Trigger = "DELTA_WEAKNESS"
	GammaRollover Trigger = "GAMMA_ROLLOVER"
	IVCrush       Trigger = "IV_CRUSH"
	ExpiryRush    Trigger = "EXPIRY_RUSH"
	OIReversal    Trigger = "OI_REVERSAL"
	Exhaustion    Trigger = "EXHAUSTION"
	NoExit        Trigger = ""
)

// Rung is one profit-ladder step.
type Rung struct {
	TargetPercent float64
	QtyFraction   float64
}

// Config holds the exit thresholds, grounded on spec §4.12's listed
// defaults (ExitConfiguration in original_source/src/engines/smart_exit_engine.py).
type Config struct {
	TrailingActivatePct float64       // pnl% to start trailing, default 0.5
	TrailingPercent     float64       // trail distance %, e.g. 2
	Rungs               []Rung        // default [(1.0,0.25),(2.0,0.5),(3.0,0.25)]
	MaxHoldDuration     time.Duration // TIME_BASED cap
	DeltaWeaknessPct    float64       // default 0.15
	GammaRolloverRatio  float64       // default 0.8
	IVCrushPoints       float64       // default 5
	ExpiryRushMinutes   float64       // default 5

	// Reversal/exhaustion family (spec §1's trade-management scope),
	// grounded on original_source's ReversalAndExhaustionManager.
	OIReversalThresholdPercent float64 // total-OI unwind %, default 15
	GammaCollapseThreshold     float64 // absolute gamma floor, default 0.008
	VolumeSpikeMultiplier      float64 // default 2.0
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		TrailingActivatePct: 0.5,
		TrailingPercent:     2.0,
		Rungs: []Rung{
			{TargetPercent: 1.0, QtyFraction: 0.25},
			{TargetPercent: 2.0, QtyFraction: 0.5},
			{TargetPercent: 3.0, QtyFraction: 0.25},
		},
		MaxHoldDuration:    4 * time.Hour,
		DeltaWeaknessPct:   0.15,
		GammaRolloverRatio: 0.8,
		IVCrushPoints:      5,
		ExpiryRushMinutes:  5,

		OIReversalThresholdPercent: 15,
		GammaCollapseThreshold:     0.008,
		VolumeSpikeMultiplier:      2.0,
	}
}

// Snapshot is the structured result of a triggered exit.
type Snapshot struct {
	Trigger        Trigger
	ExitPrice      float64
	ExitTime       time.Time
	Delta          float64
	Gamma          float64
	Theta          float64
	IV             float64
	HoldingSeconds float64
	PnLPercent     float64
	PartialExit    bool
	QtyExited      int
	QtyRemaining   int
	PeakPrice      float64
	TrailDistance  float64

	// SignalDetail/Confidence are only populated by CheckReversalExhaustion,
	// naming which of its sub-signals fired.
	SignalDetail string
	Confidence   float64
}

// tradeState is the per-trade internal bookkeeping (peaks, filled rungs).
type tradeState struct {
	peak        float64
	rungsFilled []bool
}

// Engine evaluates the nine triggers and owns per-trade internal state,
// keyed by trade id, removed on Cleanup.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*tradeState
}

// NewEngine builds an Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, states: make(map[string]*tradeState)}
}

// Cleanup removes a trade's internal state once it is fully closed.
func (e *Engine) Cleanup(tradeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, tradeID)
}

func (e *Engine) stateFor(tradeID string) *tradeState {
	st, ok := e.states[tradeID]
	if !ok {
		st = &tradeState{rungsFilled: make([]bool, len(e.cfg.Rungs))}
		e.states[tradeID] = st
	}
	return st
}

// Check evaluates the nine triggers in order against the current trade
// state and returns NoExit (empty Trigger) when none fire.
func (e *Engine) Check(t *types.Trade, now time.Time, minutesToExpiry float64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(t.ID)
	ltp := t.CurrentPrice
	signed := 1.0
	if t.OptionType == types.PutOption {
		signed = -1.0
	}
	pnlPct := (ltp - t.EntryPrice) / t.EntryPrice * 100 * signed
	holding := now.Sub(t.EntryTime)

	base := func(trig Trigger) Snapshot {
		return Snapshot{
			Trigger:        trig,
			ExitPrice:      ltp,
			ExitTime:       now,
			Delta:          t.CurrentDelta,
			Gamma:          t.CurrentGamma,
			Theta:          t.CurrentTheta,
			IV:             t.CurrentIV,
			HoldingSeconds: holding.Seconds(),
			PnLPercent:     pnlPct,
		}
	}

	// 1. HARD_SL
	if (t.OptionType == types.CallOption && ltp <= t.SLPrice) ||
		(t.OptionType == types.PutOption && ltp >= t.SLPrice) {
		return base(HardSL)
	}

	// 2. PROFIT_TARGET
	if (t.OptionType == types.CallOption && ltp >= t.TargetPrice) ||
		(t.OptionType == types.PutOption && ltp <= t.TargetPrice) {
		return base(ProfitTarget)
	}

	// 3. TRAILING_SL
	if pnlPct >= e.cfg.TrailingActivatePct {
		if ltp > st.peak {
			st.peak = ltp
		}
		if st.peak > 0 {
			trail := st.peak * e.cfg.TrailingPercent / 100
			if ltp < st.peak-trail {
				snap := base(TrailingSL)
				snap.PeakPrice = st.peak
				snap.TrailDistance = trail
				return snap
			}
		}
	}

	// 4. PROFIT_LADDER
	for i, rung := range e.cfg.Rungs {
		if st.rungsFilled[i] {
			continue
		}
		if pnlPct >= rung.TargetPercent {
			st.rungsFilled[i] = true
			qtyExited := int(float64(t.Quantity) * rung.QtyFraction)
			snap := base(ProfitLadder)
			snap.PartialExit = true
			snap.QtyExited = qtyExited
			snap.QtyRemaining = t.Quantity - qtyExited
			return snap
		}
	}

	// 5. TIME_BASED
	if e.cfg.MaxHoldDuration > 0 && holding > e.cfg.MaxHoldDuration {
		return base(TimeBased)
	}

	// 6. DELTA_WEAKNESS
	if t.EntryDelta != 0 {
		drop := absf(t.EntryDelta-t.CurrentDelta) / absf(t.EntryDelta)
		if drop > e.cfg.DeltaWeaknessPct {
			return base(DeltaWeakness)
		}
	}

	// 7. GAMMA_ROLLOVER
	if t.EntryGamma != 0 && t.CurrentGamma/t.EntryGamma < e.cfg.GammaRolloverRatio {
		return base(GammaRollover)
	}

	// 8. IV_CRUSH
	if t.EntryIV-t.CurrentIV > e.cfg.IVCrushPoints {
		return base(IVCrush)
	}

	// 9. EXPIRY_RUSH
	if minutesToExpiry <= e.cfg.ExpiryRushMinutes {
		return base(ExpiryRush)
	}

	return Snapshot{Trigger: NoExit}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
