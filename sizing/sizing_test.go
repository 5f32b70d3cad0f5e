package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseConfig() Config {
	return Config{
		RiskPercentMin:   1.0,
		RiskPercentMax:   3.0,
		HardSLPercentCap: 10.0,
		LotSize:          75,
		MaxQuantity:      1800,
		KellyEnabled:     true,
		KellyFraction:    0.25,
	}
}

func TestCalculate_RejectsWhenSLTooWide(t *testing.T) {
	in := Input{EntryPrice: 100, SLPrice: 80, TargetPrice: 120, RiskPercent: 2, Capital: 100000}
	ps := Calculate(baseConfig(), in)

	assert.False(t, ps.SizingValid)
	assert.Equal(t, "SL too wide", ps.RejectionReason)
}

func TestCalculate_RejectsWhenLessThanOneLot(t *testing.T) {
	cfg := baseConfig()
	cfg.RiskPercentMin = 0.001
	cfg.RiskPercentMax = 0.001
	in := Input{EntryPrice: 100, SLPrice: 98, TargetPrice: 106, RiskPercent: 0.001, Capital: 1000}
	ps := Calculate(cfg, in)

	assert.False(t, ps.SizingValid)
	assert.Equal(t, "less than 1 lot", ps.RejectionReason)
}

func TestCalculate_AlignsQuantityToLotSize(t *testing.T) {
	in := Input{EntryPrice: 100, SLPrice: 98, TargetPrice: 106, RiskPercent: 2, Capital: 500000}
	ps := Calculate(baseConfig(), in)

	assert.True(t, ps.SizingValid)
	assert.Equal(t, 0, ps.Quantity%75, "quantity must be a whole multiple of lot size")
	assert.Equal(t, ps.NumLots*75, ps.Quantity)
}

func TestCalculate_CapsAtMaxQuantity(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxQuantity = 150
	in := Input{EntryPrice: 100, SLPrice: 99, TargetPrice: 108, RiskPercent: 3, Capital: 10000000}
	ps := Calculate(cfg, in)

	assert.True(t, ps.SizingValid)
	assert.LessOrEqual(t, ps.Quantity, cfg.MaxQuantity)
}

func TestCalculate_KellyRaisesRiskPercentWhenConfident(t *testing.T) {
	delta, gamma, iv, bias := 0.75, 0.01, 20.0, 80.0
	in := Input{
		EntryPrice: 100, SLPrice: 98, TargetPrice: 110, RiskPercent: 1, Capital: 100000,
		Delta: &delta, Gamma: &gamma, IV: &iv, BiasConfidence: &bias,
	}
	withKelly := Calculate(baseConfig(), in)

	cfgNoKelly := baseConfig()
	cfgNoKelly.KellyEnabled = false
	withoutKelly := Calculate(cfgNoKelly, in)

	assert.True(t, withKelly.SizingValid)
	assert.True(t, withoutKelly.SizingValid)
	assert.Greater(t, withKelly.MaxLossAmount, 0.0)
	// Kelly lifts risk from 1% to the 3% cap: 1500 units against 450, both
	// below MaxQuantity.
	assert.Greater(t, withKelly.Quantity, withoutKelly.Quantity)
}

func TestEstimateWinProbability_BoundedToRange(t *testing.T) {
	delta, gamma, iv, bias, oi := 0.95, 0.05, 50.0, 100.0, 1.0
	in := Input{Delta: &delta, Gamma: &gamma, IV: &iv, BiasConfidence: &bias, OIChange: &oi}

	p := estimateWinProbability(in)
	assert.LessOrEqual(t, p, 0.80)
	assert.GreaterOrEqual(t, p, 0.30)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, clamp(0.5, 1.0, 3.0))
	assert.Equal(t, 3.0, clamp(5.0, 1.0, 3.0))
	assert.Equal(t, 2.0, clamp(2.0, 1.0, 3.0))
}
