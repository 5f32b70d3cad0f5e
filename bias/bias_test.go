package bias

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scalper/types"
)

func TestUpdate_StartsUnknownBeforeFirstUpdate(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, types.BiasUnknown, e.Current().State)
}

func TestUpdate_NoTradeWhenHistoryTooShortForStructure(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	st := e.Update(types.GreeksSnapshot{LTP: 100, Delta: 0.6, Gamma: 0.003, OI: 1000, Volume: 500, IV: 20}, 990, now)
	assert.Equal(t, types.BiasNoTrade, st.State)
}

func TestUpdate_BullishHighConfidenceOnStrongHigherHighsSetup(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	prices := []float64{100, 101, 99, 102, 98, 103, 104, 105, 106, 107}
	oi := []float64{1000, 1010, 1020, 1030, 1040, 1050, 1060, 1070, 1080, 1090}
	vol := []float64{500, 510, 520, 530, 540, 550, 560, 570, 580, 590}
	gamma := []float64{0.0025, 0.0026, 0.0027, 0.0028, 0.0029, 0.0030, 0.0031, 0.0032, 0.0033, 0.0034}

	var st types.BiasState
	prevOI := 990.0
	for i := range prices {
		st = e.Update(types.GreeksSnapshot{
			LTP: prices[i], Delta: 0.6, Gamma: gamma[i], OI: oi[i], Volume: vol[i], IV: 20,
		}, prevOI, now.Add(time.Duration(i)*time.Second))
		prevOI = oi[i]
	}

	assert.Equal(t, types.BiasBullish, st.State)
	assert.Equal(t, 85.0, st.Confidence)
	assert.Equal(t, "HH-HL", st.Metrics.Structure)
	assert.True(t, st.Metrics.GammaRising)
}

func TestUpdate_NoTradeWhenDeltaBelowThreshold(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	prices := []float64{100, 101, 99, 102, 98, 103, 104, 105, 106, 107}
	oi := []float64{1000, 1010, 1020, 1030, 1040, 1050, 1060, 1070, 1080, 1090}
	vol := []float64{500, 510, 520, 530, 540, 550, 560, 570, 580, 590}

	var st types.BiasState
	prevOI := 990.0
	for i := range prices {
		st = e.Update(types.GreeksSnapshot{
			LTP: prices[i], Delta: 0.1, Gamma: 0.003, OI: oi[i], Volume: vol[i], IV: 20,
		}, prevOI, now.Add(time.Duration(i)*time.Second))
		prevOI = oi[i]
	}

	assert.Equal(t, types.BiasNoTrade, st.State)
	assert.Equal(t, 0.0, st.Confidence)
}

func TestUpdate_TruncatesHistoryAtLimit(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	for i := 0; i < historyLimit+20; i++ {
		e.Update(types.GreeksSnapshot{LTP: float64(100 + i), Delta: 0.6, Gamma: 0.003, OI: float64(1000 + i), Volume: 500, IV: 20}, float64(999+i), now)
	}
	assert.Len(t, e.history, historyLimit)
}
