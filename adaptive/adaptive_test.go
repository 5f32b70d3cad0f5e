package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scalper/types"
)

func TestWeightAdjuster_ApplyAmplifyRaisesWeight(t *testing.T) {
	w := NewWeightAdjuster()
	before := w.Multiplier(types.RuleOIConviction, "OI_STRONG")

	applied := w.Apply([]types.LearningInsight{
		{Type: types.InsightAmplify, RuleType: types.RuleOIConviction, Bucket: "OI_STRONG", Confidence: 0.8, Reason: "strong historical win rate"},
	})

	assert.Len(t, applied, 1)
	after := w.Multiplier(types.RuleOIConviction, "OI_STRONG")
	assert.Greater(t, after, before)
}

func TestWeightAdjuster_ApplyRestrictLowersWeight(t *testing.T) {
	w := NewWeightAdjuster()
	before := w.Multiplier(types.RuleTimeFilter, "TIME_LUNCH")

	w.Apply([]types.LearningInsight{
		{Type: types.InsightRestrict, RuleType: types.RuleTimeFilter, Bucket: "TIME_LUNCH", Confidence: 0.9, Reason: "poor lunch-hour performance"},
	})

	after := w.Multiplier(types.RuleTimeFilter, "TIME_LUNCH")
	assert.Less(t, after, before)
}

func TestWeightAdjuster_ApplyBlockZeroesWeight(t *testing.T) {
	w := NewWeightAdjuster()
	w.Apply([]types.LearningInsight{
		{Type: types.InsightBlock, RuleType: types.RuleVolatility, Bucket: "VOL_HIGH", Confidence: 1.0, Reason: "repeated loss pattern"},
	})

	assert.Equal(t, 0.0, w.Multiplier(types.RuleVolatility, "VOL_HIGH"))
}

func TestWeightAdjuster_ApplyCapsDeltaPerAdjustment(t *testing.T) {
	w := NewWeightAdjuster()
	w.Apply([]types.LearningInsight{
		{Type: types.InsightAmplify, RuleType: types.RuleBiasStrength, Bucket: "BIAS_HIGH", Confidence: 1.0, Reason: "huge swing"},
	})

	after := w.Multiplier(types.RuleBiasStrength, "BIAS_HIGH")
	assert.LessOrEqual(t, after, 1.0+maxWeightChangePerAdjustment)
}

func TestWeightAdjuster_ApplyIgnoresUnknownBucket(t *testing.T) {
	w := NewWeightAdjuster()
	applied := w.Apply([]types.LearningInsight{
		{Type: types.InsightAmplify, RuleType: types.RuleTimeFilter, Bucket: "TIME_NOT_REAL", Confidence: 0.5},
	})
	assert.Empty(t, applied)
}

func TestWeightAdjuster_ResetAllRevertsToBase(t *testing.T) {
	w := NewWeightAdjuster()
	w.Apply([]types.LearningInsight{
		{Type: types.InsightBlock, RuleType: types.RuleVolatility, Bucket: "VOL_HIGH", Confidence: 1.0},
	})
	w.ResetAll()
	assert.Equal(t, 1.0, w.Multiplier(types.RuleVolatility, "VOL_HIGH"))
}

func TestSafetyGuard_CheckLearningAllowedRejectsWithinInterval(t *testing.T) {
	g := NewSafetyGuard()
	now := time.Now()
	g.approveLocked(types.LearningProposal{ID: "p1"}, now)

	check := g.CheckLearningAllowed(now.Add(1 * time.Hour))
	assert.False(t, check.Passed)
	assert.Equal(t, ViolationSameDayApplication, check.Violation)
}

func TestSafetyGuard_CheckLearningAllowedPassesAfterInterval(t *testing.T) {
	g := NewSafetyGuard()
	now := time.Now()
	g.approveLocked(types.LearningProposal{ID: "p1"}, now)

	check := g.CheckLearningAllowed(now.Add(25 * time.Hour))
	assert.True(t, check.Passed)
}

func TestSafetyGuard_AutoReviewApprovesAgedHighConfidenceProposal(t *testing.T) {
	g := NewSafetyGuard()
	created := time.Now().Add(-48 * time.Hour)
	p := g.Propose("WEIGHT_ADJUSTMENT", types.LearningInsight{
		Type: types.InsightAmplify, RuleType: types.RuleOIConviction, Bucket: "OI_STRONG", Confidence: 0.9,
	}, 0.9, created)

	history := []types.TradeFeatures{
		{Tuple: types.FeatureTuple{OI: types.OIConvictionStrong}, Won: true},
		{Tuple: types.FeatureTuple{OI: types.OIConvictionStrong}, Won: true},
	}
	g.ShadowTest(p.ID, history)
	g.AutoReview(time.Now())

	approved := g.ApprovedToday(time.Now())
	assert.Len(t, approved, 1)
	assert.Equal(t, p.ID, approved[0].ID)
}

func TestSafetyGuard_AutoReviewRejectsLowConfidence(t *testing.T) {
	g := NewSafetyGuard()
	created := time.Now().Add(-48 * time.Hour)
	p := g.Propose("WEIGHT_ADJUSTMENT", types.LearningInsight{
		Type: types.InsightRestrict, RuleType: types.RuleTimeFilter, Bucket: "TIME_LUNCH", Confidence: 0.1,
	}, 0.1, created)
	g.ShadowTest(p.ID, nil)
	g.AutoReview(time.Now())

	assert.Empty(t, g.ApprovedToday(time.Now()))
}

func TestSafetyGuard_MarkAppliedDrainsApprovedSet(t *testing.T) {
	g := NewSafetyGuard()
	now := time.Now()
	g.approveLocked(types.LearningProposal{ID: "p1", ApprovedAt: &now}, now)

	assert.Len(t, g.ApprovedToday(now), 1)
	g.MarkApplied([]string{"p1"})
	assert.Empty(t, g.ApprovedToday(now))
}

func TestController_Evaluate_DisabledReturnsPermissiveDefault(t *testing.T) {
	c := NewController(false)
	d := c.Evaluate(SignalInputs{Time: time.Now(), BiasConfidence: 10, Gamma: 0.01, Theta: -5, OIConviction: "WEAK", VIX: 12}, time.Now())

	assert.True(t, d.ShouldTrade)
	assert.Equal(t, 1.0, d.RecommendedSize)
}

func TestController_RunDailyLearning_AppliesAgedApprovedProposalsToWeights(t *testing.T) {
	c := NewController(true)

	// 45 trades: confidence 0.5+(45-20)/100 = 0.75 and win rate 33/45, so
	// the first cycle's proposals pass auto-review once they are 24h old.
	for i := 0; i < 45; i++ {
		won := i%4 != 0
		c.RecordOutcome(types.TradeFeatures{
			Tuple: types.FeatureTuple{OI: types.OIConvictionStrong}, Won: won, PnL: 100, EntryDelta: 0.6,
		})
	}

	before := c.weights.Multiplier(types.RuleOIConviction, "OI_STRONG")
	first := c.RunDailyLearning(time.Now())
	assert.True(t, first.Success)

	result := c.RunDailyLearning(time.Now().Add(25 * time.Hour))
	assert.True(t, result.Success)
	assert.Greater(t, result.WeightsApplied, 0)
	after := c.weights.Multiplier(types.RuleOIConviction, "OI_STRONG")
	assert.NotEqual(t, before, after)
}

func TestController_EmergencyReset_ClearsWeightsAndSafetyState(t *testing.T) {
	c := NewController(true)
	c.weights.Apply([]types.LearningInsight{
		{Type: types.InsightBlock, RuleType: types.RuleVolatility, Bucket: "VOL_HIGH", Confidence: 1.0},
	})
	c.EmergencyReset()

	assert.Equal(t, 1.0, c.weights.Multiplier(types.RuleVolatility, "VOL_HIGH"))
}
