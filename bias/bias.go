// Package bias implements the Market-State Engine (spec §4.3): a strict
// gate, not an optimiser — any single failing factor forces NO_TRADE.
package bias

import (
	"sync"
	"time"

	"scalper/types"
)

const (
	historyLimit      = 100
	deltaThreshold    = 0.45
	gammaEpsilon      = 1e-5
	alignmentStrong   = 0.5
	ivHealthFloor     = -0.3
	ivSafeLow         = 15.0
	ivSafeHigh        = 40.0
	ivCrushThreshold  = -5.0
)

// sample is one rolling-history point.
type sample struct {
	Price    float64
	Delta    float64
	Gamma    float64
	OI       float64
	OIChange float64
	Volume   float64
	IV       float64
}

// Engine computes BiasState from the current GreeksSnapshot plus a rolling
// history, grounded on the teacher's vwap_collector.go mutex-guarded
// rolling-bar pattern.
type Engine struct {
	mu      sync.Mutex
	history []sample
	state   types.BiasState
}

// NewEngine returns an Engine whose state starts UNKNOWN, per spec §3's
// lifecycle ("UNKNOWN at boot -> updated per tick").
func NewEngine() *Engine {
	return &Engine{
		state: types.BiasState{State: types.BiasUnknown},
	}
}

// Current returns the last computed BiasState.
func (e *Engine) Current() types.BiasState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Update recomputes BiasState from the current snapshot and appends it to
// the rolling history, truncating to the last 100 samples.
func (e *Engine) Update(cur types.GreeksSnapshot, prevOI float64, now time.Time) types.BiasState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := sample{
		Price:    cur.LTP,
		Delta:    cur.Delta,
		Gamma:    cur.Gamma,
		OI:       cur.OI,
		OIChange: cur.OI - prevOI,
		Volume:   cur.Volume,
		IV:       cur.IV,
	}
	e.history = append(e.history, s)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}

	deltaSignal := deltaSignalOf(cur.Delta)
	gammaRising := e.gammaRisingLocked()
	alignment := e.alignmentLocked()
	ivHealth := ivHealthOf(cur.IV, e.ivChangeLocked())
	structure := e.structureLocked()

	state, confidence := decide(deltaSignal, gammaRising, alignment, ivHealth, structure)

	e.state = types.BiasState{
		State:      state,
		Confidence: confidence,
		Metrics: types.BiasMetrics{
			DeltaSignal: deltaSignal,
			GammaRising: gammaRising,
			Alignment:   alignment,
			IVHealth:    ivHealth,
			Structure:   structure,
		},
		UpdatedAt: now,
	}
	return e.state
}

func deltaSignalOf(delta float64) int {
	switch {
	case delta >= deltaThreshold:
		return 1
	case delta <= -deltaThreshold:
		return -1
	default:
		return 0
	}
}

// gammaRisingLocked checks the last 3 history points when available.
func (e *Engine) gammaRisingLocked() bool {
	n := len(e.history)
	if n < 2 {
		return false
	}
	window := 3
	if n < window {
		window = n
	}
	recent := e.history[n-window:]
	return recent[len(recent)-1].Gamma >= recent[0].Gamma-gammaEpsilon
}

// alignmentLocked scores OI/volume/price alignment in [-1, 1].
func (e *Engine) alignmentLocked() float64 {
	n := len(e.history)
	if n < 2 {
		return 0
	}
	cur, prev := e.history[n-1], e.history[n-2]

	oiUp := cur.OI > prev.OI
	priceUp := cur.Price > prev.Price
	volUp := cur.Volume > prev.Volume

	if !oiUp {
		return 0
	}
	switch {
	case priceUp && volUp:
		return 1.0
	case priceUp || volUp:
		return 0.5
	default:
		return -1.0 // trap: OI rising without price/volume follow-through
	}
}

// ivChangeLocked is the percentage-point IV change over the rolling window.
func (e *Engine) ivChangeLocked() float64 {
	n := len(e.history)
	if n < 2 {
		return 0
	}
	return e.history[n-1].IV - e.history[0].IV
}

func ivHealthOf(iv, ivChange float64) float64 {
	health := 0.0
	if iv >= ivSafeLow && iv <= ivSafeHigh {
		health += 0.5
	} else {
		// Smooth penalty the further outside the safe band.
		dist := 0.0
		if iv < ivSafeLow {
			dist = ivSafeLow - iv
		} else {
			dist = iv - ivSafeHigh
		}
		health -= dist / 100.0
	}
	if ivChange < ivCrushThreshold {
		health -= 0.5
	}
	return health
}

// structureLocked classifies last 5 vs previous 5 price samples.
func (e *Engine) structureLocked() string {
	n := len(e.history)
	if n < 10 {
		return "SIDEWAYS"
	}
	prev5 := e.history[n-10 : n-5]
	last5 := e.history[n-5:]

	prevHigh, prevLow := extent(prev5)
	lastHigh, lastLow := extent(last5)

	higherHigh := lastHigh > prevHigh
	higherLow := lastLow > prevLow
	lowerHigh := lastHigh < prevHigh
	lowerLow := lastLow < prevLow

	switch {
	case higherHigh && higherLow:
		return "HH-HL"
	case lowerLow && lowerHigh:
		return "LL-LH"
	default:
		return "SIDEWAYS"
	}
}

func extent(s []sample) (high, low float64) {
	high, low = s[0].Price, s[0].Price
	for _, v := range s {
		if v.Price > high {
			high = v.Price
		}
		if v.Price < low {
			low = v.Price
		}
	}
	return
}

// decide implements the §4.3 decision table exactly.
func decide(deltaSignal int, gammaRising bool, alignment, ivHealth float64, structure string) (types.BiasKind, float64) {
	if structure == "SIDEWAYS" {
		return types.BiasNoTrade, 0
	}
	strongSetup := gammaRising && alignment >= alignmentStrong

	switch deltaSignal {
	case 1:
		if !strongSetup {
			return types.BiasNoTrade, 0
		}
		if ivHealth >= ivHealthFloor {
			return types.BiasBullish, 85
		}
		return types.BiasBullish, 60
	case -1:
		if !strongSetup {
			return types.BiasNoTrade, 0
		}
		if ivHealth >= ivHealthFloor {
			return types.BiasBearish, 85
		}
		return types.BiasBearish, 60
	default:
		return types.BiasNoTrade, 0
	}
}
