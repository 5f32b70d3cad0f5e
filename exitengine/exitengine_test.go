package exitengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scalper/types"
)

func baseTrade() *types.Trade {
	return &types.Trade{
		ID:           "t1",
		OptionType:   types.CallOption,
		Quantity:     150,
		EntryPrice:   100,
		EntryTime:    time.Now().Add(-10 * time.Minute),
		EntryDelta:   0.5,
		EntryGamma:   0.004,
		EntryTheta:   -10,
		EntryIV:      20,
		SLPrice:      90,
		TargetPrice:  130,
		CurrentPrice: 100,
		CurrentDelta: 0.5,
		CurrentGamma: 0.004,
		CurrentTheta: -10,
		CurrentIV:    20,
	}
}

func TestCheck_HardSLFiresFirst(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentPrice = 89

	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, HardSL, snap.Trigger)
}

func TestCheck_ProfitTargetFires(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentPrice = 131

	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, ProfitTarget, snap.Trigger)
}

func TestCheck_ProfitLadderPartialExitThenSkipsFilledRung(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentPrice = 101.5 // +1.5% clears the first rung (1.0%) but not the second (2.0%)

	first := e.Check(tr, time.Now(), 999)
	assert.Equal(t, ProfitLadder, first.Trigger)
	assert.True(t, first.PartialExit)
	assert.Equal(t, 37, first.QtyExited) // 150 * 0.25

	tr.Quantity = first.QtyRemaining
	second := e.Check(tr, time.Now(), 999)
	assert.NotEqual(t, ProfitLadder, second.Trigger, "first rung already filled, should not refire at the same pnl%%")
}

func TestCheck_TrailingSLFiresAfterPeakRetrace(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.TargetPrice = 999 // keep PROFIT_TARGET from intercepting this scenario
	tr.CurrentPrice = 104
	e.Check(tr, time.Now(), 999) // records the 104 peak; this call itself returns a PROFIT_LADDER partial exit

	tr.CurrentPrice = 101 // retrace more than 2% off the 104 peak
	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, TrailingSL, snap.Trigger)
}

func TestCheck_TimeBasedFiresPastMaxHold(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.EntryTime = time.Now().Add(-5 * time.Hour)

	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, TimeBased, snap.Trigger)
}

func TestCheck_DeltaWeaknessFiresOnSharpDrop(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentDelta = 0.3 // 40% drop from entry delta 0.5, past the 15% threshold

	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, DeltaWeakness, snap.Trigger)
}

func TestCheck_GammaRolloverFires(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentDelta = tr.EntryDelta // keep DELTA_WEAKNESS from intercepting
	tr.CurrentGamma = 0.003 // ratio 0.75 < 0.8 threshold

	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, GammaRollover, snap.Trigger)
}

func TestCheck_IVCrushFires(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentDelta = tr.EntryDelta
	tr.CurrentGamma = tr.EntryGamma
	tr.CurrentIV = 14 // 6pt drop past the 5pt threshold

	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, IVCrush, snap.Trigger)
}

func TestCheck_ExpiryRushFires(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentDelta = tr.EntryDelta
	tr.CurrentGamma = tr.EntryGamma

	snap := e.Check(tr, time.Now(), 3)
	assert.Equal(t, ExpiryRush, snap.Trigger)
}

func TestCheck_NoExitWhenNothingTriggers(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentDelta = tr.EntryDelta
	tr.CurrentGamma = tr.EntryGamma

	snap := e.Check(tr, time.Now(), 999)
	assert.Equal(t, NoExit, snap.Trigger)
}

func TestCleanup_RemovesTradeState(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade()
	tr.CurrentPrice = 101.5
	e.Check(tr, time.Now(), 999)

	e.Cleanup(tr.ID)
	_, exists := e.states[tr.ID]
	assert.False(t, exists)
}
