package adaptive

import (
	"sync"
	"time"

	"scalper/types"
)

const (
	maxWeightChangePerAdjustment = 0.5
	weightMin                    = 0.0
	weightMax                    = 2.0
	amplifyRestrictGain          = 0.3
)

// WeightAdjustment is a record of one applied change, kept for the
// dashboard's "recent adjustments" feed.
type WeightAdjustment struct {
	RuleType  types.RuleType
	Bucket    string
	OldWeight float64
	NewWeight float64
	Reason    string
	Impact    types.InsightType
	At        time.Time
}

// WeightAdjuster owns the per-(rule, bucket) multipliers the rest of the
// engine consults to bias its filters, never to change their logic.
// Grounded exactly on original_source/src/adaptive/weight_adjuster.py,
// including its default weight seeding per bucket.
type WeightAdjuster struct {
	mu      sync.Mutex
	weights map[string]*types.RuleWeight
	history []WeightAdjustment
}

// NewWeightAdjuster builds a WeightAdjuster with every bucket seeded at
// weight 1.0 (neutral).
func NewWeightAdjuster() *WeightAdjuster {
	w := &WeightAdjuster{weights: make(map[string]*types.RuleWeight)}
	w.seedDefaults()
	return w
}

func (w *WeightAdjuster) seedDefaults() {
	seed := func(rt types.RuleType, buckets []string) {
		for _, b := range buckets {
			key := string(rt) + "_" + b
			w.weights[key] = &types.RuleWeight{
				RuleType: rt,
				Bucket:   b,
				Current:  1.0,
				Base:     1.0,
				Min:      weightMin,
				Max:      weightMax,
			}
		}
	}
	seed(types.RuleTimeFilter, []string{"TIME_OPENING", "TIME_MORNING", "TIME_LUNCH", "TIME_AFTERNOON", "TIME_CLOSING"})
	seed(types.RuleOIConviction, []string{"OI_STRONG", "OI_MEDIUM", "OI_WEAK"})
	seed(types.RuleGreeksRegime, []string{"GREEKS_HIGH_GAMMA", "GREEKS_HIGH_THETA", "GREEKS_NEUTRAL"})
	seed(types.RuleVolatility, []string{"VOL_LOW", "VOL_NORMAL", "VOL_HIGH"})
	seed(types.RuleBiasStrength, []string{"BIAS_LOW", "BIAS_MEDIUM", "BIAS_HIGH", "BIAS_EXTREME"})
}

// Apply folds a batch of learning insights into weight changes, capping
// each AMPLIFY/RESTRICT change at +/-maxWeightChangePerAdjustment; a BLOCK
// insight sets the weight straight to 0 (spec §9's
// documented fix: the original only ever logged insights and never
// actually mutated a weight from run_daily_learning's approval loop).
func (w *WeightAdjuster) Apply(insights []types.LearningInsight) []WeightAdjustment {
	w.mu.Lock()
	defer w.mu.Unlock()

	var adjustments []WeightAdjustment
	for _, insight := range insights {
		adj, ok := w.processLocked(insight)
		if ok {
			adjustments = append(adjustments, adj)
		}
	}
	w.history = append(w.history, adjustments...)
	return adjustments
}

func (w *WeightAdjuster) processLocked(insight types.LearningInsight) (WeightAdjustment, bool) {
	key := string(insight.RuleType) + "_" + insight.Bucket
	rw, ok := w.weights[key]
	if !ok {
		return WeightAdjustment{}, false
	}

	old := rw.Current
	var delta float64
	switch insight.Type {
	case types.InsightAmplify:
		delta = amplifyRestrictGain * insight.Confidence
	case types.InsightRestrict:
		delta = -amplifyRestrictGain * insight.Confidence
	case types.InsightBlock:
		delta = -rw.Current
	default:
		return WeightAdjustment{}, false
	}

	if insight.Type != types.InsightBlock {
		if delta > maxWeightChangePerAdjustment {
			delta = maxWeightChangePerAdjustment
		}
		if delta < -maxWeightChangePerAdjustment {
			delta = -maxWeightChangePerAdjustment
		}
	}

	newWeight := old + delta
	if newWeight < rw.Min {
		newWeight = rw.Min
	}
	if newWeight > rw.Max {
		newWeight = rw.Max
	}
	rw.Current = newWeight
	now := time.Now()
	rw.LastAdjusted = &now
	rw.Reason = insight.Reason

	return WeightAdjustment{
		RuleType:  insight.RuleType,
		Bucket:    insight.Bucket,
		OldWeight: old,
		NewWeight: newWeight,
		Reason:    insight.Reason,
		Impact:    insight.Type,
		At:        now,
	}, true
}

// Multiplier returns the current weight for a (rule, bucket) pair, or 1.0
// if that combination has no seeded weight.
func (w *WeightAdjuster) Multiplier(ruleType types.RuleType, bucket string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := string(ruleType) + "_" + bucket
	if rw, ok := w.weights[key]; ok {
		return rw.Current
	}
	return 1.0
}

// AllowTradeInBucket reports whether the time or volatility filter for a
// bucket has been zeroed out by learning.
func (w *WeightAdjuster) AllowTradeInBucket(bucket string) bool {
	return w.Multiplier(types.RuleTimeFilter, bucket) > 0 && w.Multiplier(types.RuleVolatility, bucket) > 0
}

// SizeAdjustment folds every active bucket's time/volatility weight into a
// single position-size multiplier, clamped to [0.5, 1.5].
func (w *WeightAdjuster) SizeAdjustment(buckets []string) float64 {
	multiplier := 1.0
	for _, b := range buckets {
		if w.Multiplier(types.RuleTimeFilter, b) < 0.5 {
			multiplier *= 0.7
		}
		if w.Multiplier(types.RuleVolatility, b) < 0.5 {
			multiplier *= 0.7
		}
	}
	if multiplier < 0.5 {
		multiplier = 0.5
	}
	if multiplier > 1.5 {
		multiplier = 1.5
	}
	return multiplier
}

// ResetAll reverts every weight to its baseline (emergency reset).
func (w *WeightAdjuster) ResetAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for _, rw := range w.weights {
		rw.Current = rw.Base
		rw.LastAdjusted = &now
		rw.Reason = "Manual reset"
	}
}

// Snapshot returns every current weight, keyed as seeded.
func (w *WeightAdjuster) Snapshot() map[string]types.RuleWeight {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]types.RuleWeight, len(w.weights))
	for k, v := range w.weights {
		out[k] = *v
	}
	return out
}

// RecentAdjustments returns adjustments made within the last window.
func (w *WeightAdjuster) RecentAdjustments(window time.Duration, now time.Time) []WeightAdjustment {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-window)
	var out []WeightAdjustment
	for _, a := range w.history {
		if !a.At.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}
