package smartmoney

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBuildUp_LongBuildUpOnRisingPriceAndOI(t *testing.T) {
	kind, conf := classifyBuildUp(Sample{DeltaPrice: 2, DeltaOI: 500, DeltaVolume: 300})
	assert.Equal(t, LongBuildUp, kind)
	assert.Greater(t, conf, 0.0)
}

func TestClassifyBuildUp_ShortCoveringOnRisingPriceFallingOI(t *testing.T) {
	kind, _ := classifyBuildUp(Sample{DeltaPrice: 2, DeltaOI: -500, DeltaVolume: 300})
	assert.Equal(t, ShortCovering, kind)
}

func TestClassifyBuildUp_NeutralWhenOIUnchanged(t *testing.T) {
	kind, conf := classifyBuildUp(Sample{DeltaPrice: 2, DeltaOI: 0, DeltaVolume: 300})
	assert.Equal(t, NeutralBuildUp, kind)
	assert.Equal(t, 0.0, conf)
}

func TestClassifyVolume_BucketsByRatioToRollingMean(t *testing.T) {
	assert.Equal(t, VolumeNormal, classifyVolume(Sample{Volume: 100, RollingMeanVolume: 100}))
	assert.Equal(t, VolumeSpike, classifyVolume(Sample{Volume: 160, RollingMeanVolume: 100}))
	assert.Equal(t, VolumeBurst, classifyVolume(Sample{Volume: 260, RollingMeanVolume: 100}))
	assert.Equal(t, VolumeAggressive, classifyVolume(Sample{Volume: 360, RollingMeanVolume: 100}))
}

func TestTrapScore_RisesWithLowOIAndVolumeSurge(t *testing.T) {
	quiet := trapScore(Sample{OI: 1000, PrevOI: 1000, Gamma: 0.003, PrevGamma: 0.003}, VolumeNormal, false)
	surging := trapScore(Sample{OI: 1005, PrevOI: 1000, Gamma: 0.003, PrevGamma: 0.003}, VolumeBurst, false)
	assert.Greater(t, surging, quiet)
}

func TestTrapScore_RisesOnReversalWithDecliningVolume(t *testing.T) {
	noReversal := trapScore(Sample{DeltaVolume: -50}, VolumeNormal, false)
	withReversal := trapScore(Sample{DeltaVolume: -50}, VolumeNormal, true)
	assert.Greater(t, withReversal, noReversal)
}

func TestTrapScore_ReversalAloneDoesNothingWithoutDecliningVolume(t *testing.T) {
	score := trapScore(Sample{DeltaVolume: 50}, VolumeNormal, true)
	assert.Equal(t, 0.0, score)
}

func TestEvaluateBattlefield_BullishOnAlignedSkew(t *testing.T) {
	result := EvaluateBattlefield(8000, 2000, 900, 300, 0.6, -0.2)
	assert.Equal(t, BullishControl, result)
}

func TestEvaluateBattlefield_NeutralChopWhenNoSkewCrossesThreshold(t *testing.T) {
	result := EvaluateBattlefield(5000, 5000, 500, 500, 0.5, -0.5)
	assert.Equal(t, NeutralChop, result)
}

func TestDetector_Evaluate_BlocksOnHighTrapScore(t *testing.T) {
	d := NewDetector()
	now := time.Now()
	eval := d.Evaluate(Sample{
		OI: 1005, PrevOI: 1000, Gamma: 0.003, PrevGamma: 0.003,
		Volume: 400, RollingMeanVolume: 100,
		DeltaPrice: 1,
		Theta: -10, MinutesToExpiry: 30,
	}, now, now)

	// 1 - 0.65*0.70*0.75 = 0.659, past the 0.6 block threshold.
	assert.True(t, eval.TrapScore > 0)
	assert.True(t, eval.ShouldBlock)
}

func TestDetector_Evaluate_DetectsReversalAcrossTwoTicks(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	// First tick: price rising. No prior sign recorded yet, so no reversal.
	first := d.Evaluate(Sample{Key: "NIFTY24000CE", DeltaPrice: 2, DeltaVolume: -10}, now, now)
	assert.Equal(t, 0.0, first.TrapScore)

	// Second tick: price now falling against the recorded rising sign, with
	// volume still declining — the reversal-plus-declining-volume indicator
	// fires only now that there are two ticks to compare.
	second := d.Evaluate(Sample{Key: "NIFTY24000CE", DeltaPrice: -2, DeltaVolume: -10}, now, now)
	assert.Greater(t, second.TrapScore, 0.0)
}

func TestDetector_Evaluate_NoReversalWhenPriceKeepsTrending(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	d.Evaluate(Sample{Key: "NIFTY24000PE", DeltaPrice: 2, DeltaVolume: -10}, now, now)
	second := d.Evaluate(Sample{Key: "NIFTY24000PE", DeltaPrice: 3, DeltaVolume: -10}, now, now)
	assert.Equal(t, 0.0, second.TrapScore)
}

func TestConvictionLabel_Strong(t *testing.T) {
	eval := Evaluation{BuildUpConfidence: 0.8, TrapScore: 0.1}
	assert.Equal(t, "STRONG", eval.ConvictionLabel())
}

func TestConvictionLabel_MediumBetweenThresholds(t *testing.T) {
	eval := Evaluation{BuildUpConfidence: 0.5, TrapScore: 0.1}
	assert.Equal(t, "MEDIUM", eval.ConvictionLabel())
}

func TestConvictionLabel_WeakOnLowConfidence(t *testing.T) {
	eval := Evaluation{BuildUpConfidence: 0.1, TrapScore: 0.1}
	assert.Equal(t, "WEAK", eval.ConvictionLabel())
}

func TestConvictionLabel_HighTrapScoreDemotesToWeak(t *testing.T) {
	eval := Evaluation{BuildUpConfidence: 0.9, TrapScore: 0.6}
	assert.Equal(t, "WEAK", eval.ConvictionLabel())
}

func TestDetector_Evaluate_SmartEntryTruthLabel(t *testing.T) {
	d := NewDetector()
	now := time.Now()
	eval := d.Evaluate(Sample{
		DeltaPrice: 2, DeltaOI: 500, DeltaVolume: 300, Gamma: 0.004, PrevGamma: 0.003,
	}, now, now)

	assert.Equal(t, "smart_entry", eval.TruthLabel)
	assert.False(t, eval.TruthBlock)
}
