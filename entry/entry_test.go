package entry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scalper/smartmoney"
	"scalper/types"
)

func goldenBullishQuotes(now time.Time) (types.GreeksSnapshot, types.GreeksSnapshot) {
	prev := types.GreeksSnapshot{
		LTP: 100, Bid: 99, Ask: 101, Volume: 1000, OI: 5000,
		Delta: 0.5, Gamma: 0.003, Theta: -10, IV: 20, Timestamp: now.Add(-3 * time.Second),
	}
	cur := types.GreeksSnapshot{
		LTP: 102, Bid: 101, Ask: 103, Volume: 1200, OI: 7000,
		Delta: 0.55, Gamma: 0.0035, Theta: -9, IV: 19, Timestamp: now,
	}
	return cur, prev
}

func bullishBias(conf float64, now time.Time) types.BiasState {
	return types.BiasState{State: types.BiasBullish, Confidence: conf, UpdatedAt: now}
}

func TestEvaluate_GoldenBullishPathEmitsCallBuy(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)

	ec := e.Evaluate(bullishBias(75, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{})

	assert.Equal(t, types.CallBuy, ec.Signal)
	assert.Equal(t, cur.LTP, ec.EntryPrice)
	assert.Equal(t, cur.Delta, ec.EntryDelta)
	assert.NotEmpty(t, ec.ReasonTags)
}

func TestEvaluate_RejectsBelowMinConfidence(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)

	ec := e.Evaluate(bullishBias(50, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{})
	assert.Equal(t, types.NoSignal, ec.Signal)
}

func TestEvaluate_RejectsWideSpread(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)
	cur.Bid, cur.Ask = 90, 115

	ec := e.Evaluate(bullishBias(75, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{})
	assert.Equal(t, types.NoSignal, ec.Signal)
}

func TestEvaluate_RejectsStaleQuote(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)
	cur.Timestamp = now.Add(-30 * time.Second)

	ec := e.Evaluate(bullishBias(75, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{})
	assert.Equal(t, types.NoSignal, ec.Signal)
}

func TestEvaluate_RejectsDeltaOutsidePowerZone(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)
	cur.Delta = 0.9
	prev.Delta = 0.85

	ec := e.Evaluate(bullishBias(75, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{})
	assert.Equal(t, types.NoSignal, ec.Signal)
}

func TestEvaluate_RejectsWhenSmartMoneyBlocks(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)

	ec := e.Evaluate(bullishBias(75, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{ShouldBlock: true})
	assert.Equal(t, types.NoSignal, ec.Signal)
}

func TestEvaluate_RejectsWhenTrapScoreAboveThreshold(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)

	ec := e.Evaluate(bullishBias(75, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{TrapScore: 0.9})
	assert.Equal(t, types.NoSignal, ec.Signal)
}

func TestEvaluate_RejectsFlatOIAtPriceMove(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)
	cur.OI = 5050 // barely moved relative to a 2-point price jump

	ec := e.Evaluate(bullishBias(75, now), types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{})
	assert.Equal(t, types.NoSignal, ec.Signal)
}

func TestEvaluate_RejectsNonDirectionalBias(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	cur, prev := goldenBullishQuotes(now)

	ec := e.Evaluate(types.BiasState{State: types.BiasNoTrade, Confidence: 90}, types.CallOption, 24000, cur, prev, now, smartmoney.Evaluation{})
	assert.Equal(t, types.NoSignal, ec.Signal)
}
