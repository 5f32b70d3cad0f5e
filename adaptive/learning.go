package adaptive

import (
	"sync"

	"scalper/types"
)

const (
	minSampleSizeForLearning = 20
	learningHistoryLimit     = 5000
)

// LearningEngine accumulates closed-trade outcomes per feature bucket and
// derives AMPLIFY/RESTRICT/BLOCK insights once a bucket has enough samples.
// Grounded on original_source/src/adaptive (learning_engine is referenced
// throughout adaptive_controller.py/weight_adjuster.py but was not itself
// retrieved; its bucket-performance contract is reconstructed from those
// two callers plus confidence_scorer.py's BucketPerformance usage).
type LearningEngine struct {
	mu      sync.Mutex
	history []types.TradeFeatures
	perf    map[string]*types.BucketPerformance
}

// NewLearningEngine builds an empty LearningEngine.
func NewLearningEngine() *LearningEngine {
	return &LearningEngine{perf: make(map[string]*types.BucketPerformance)}
}

// Ingest records one closed trade's features and folds it into every
// bucket dimension's running performance.
func (e *LearningEngine) Ingest(tf types.TradeFeatures) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, tf)
	if len(e.history) > learningHistoryLimit {
		e.history = e.history[len(e.history)-learningHistoryLimit:]
	}

	for _, bucket := range tf.Tuple.Buckets() {
		p, ok := e.perf[bucket]
		if !ok {
			p = &types.BucketPerformance{Bucket: bucket}
			e.perf[bucket] = p
		}
		p.TotalTrades++
		if tf.Won {
			p.Wins++
		} else {
			p.Losses++
		}
		p.TotalPnL += tf.PnL
		p.WinRate = float64(p.Wins) / float64(p.TotalTrades)
		p.SampleSizeAdequate = p.TotalTrades >= minSampleSizeForLearning
	}
}

// History returns a copy of the accumulated trade features.
func (e *LearningEngine) History() []types.TradeFeatures {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.TradeFeatures, len(e.history))
	copy(out, e.history)
	return out
}

// Performance returns a copy of the bucket-performance table, keyed by
// dimension-qualified bucket label (e.g. "TIME_OPENING", "GREEKS_HIGH_GAMMA").
func (e *LearningEngine) Performance() map[string]types.BucketPerformance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]types.BucketPerformance, len(e.perf))
	for k, v := range e.perf {
		out[k] = *v
	}
	return out
}

// AnalyzePatterns derives one LearningInsight per bucket with an adequate
// sample size, classifying win rate >=65% as AMPLIFY, <40% as RESTRICT (or
// BLOCK when it's severely negative), else NEUTRAL (and dropped).
func (e *LearningEngine) AnalyzePatterns() []types.LearningInsight {
	e.mu.Lock()
	defer e.mu.Unlock()

	var insights []types.LearningInsight
	for bucket, p := range e.perf {
		if !p.SampleSizeAdequate {
			continue
		}
		ruleType := ruleTypeForBucket(bucket)
		if ruleType == "" {
			continue
		}

		switch {
		case p.WinRate >= 0.65:
			insights = append(insights, types.LearningInsight{
				Type:           types.InsightAmplify,
				RuleType:       ruleType,
				Bucket:         bucket,
				Reason:         winRateReason(bucket, p),
				Confidence:     confidenceFromSample(p),
				Recommendation: "Increase weight for this bucket",
			})
		case p.WinRate < 0.25 && p.TotalPnL < 0:
			insights = append(insights, types.LearningInsight{
				Type:           types.InsightBlock,
				RuleType:       ruleType,
				Bucket:         bucket,
				Reason:         winRateReason(bucket, p),
				Confidence:     confidenceFromSample(p),
				Recommendation: "Block trading in this bucket",
			})
		case p.WinRate < 0.40:
			insights = append(insights, types.LearningInsight{
				Type:           types.InsightRestrict,
				RuleType:       ruleType,
				Bucket:         bucket,
				Reason:         winRateReason(bucket, p),
				Confidence:     confidenceFromSample(p),
				Recommendation: "Reduce weight for this bucket",
			})
		}
	}
	return insights
}

func winRateReason(bucket string, p *types.BucketPerformance) string {
	return bucket + ": win rate " + pctString(p.WinRate) + " over " + itoa(p.TotalTrades) + " trades"
}

// confidenceFromSample grows confidence with sample size past the minimum,
// capped at 0.95 so learning never claims certainty.
func confidenceFromSample(p *types.BucketPerformance) float64 {
	extra := float64(p.TotalTrades-minSampleSizeForLearning) / 100.0
	c := 0.5 + extra
	if c > 0.95 {
		c = 0.95
	}
	if c < 0.5 {
		c = 0.5
	}
	return c
}

// ruleTypeForBucket maps a dimension-qualified bucket label onto the
// RuleType it tunes, mirroring weight_adjuster.py's _get_rule_type_for_bucket.
func ruleTypeForBucket(bucket string) types.RuleType {
	switch {
	case stringsHasPrefix(bucket, "TIME_"):
		return types.RuleTimeFilter
	case stringsHasPrefix(bucket, "BIAS_"):
		return types.RuleBiasStrength
	case stringsHasPrefix(bucket, "GREEKS_"):
		return types.RuleGreeksRegime
	case stringsHasPrefix(bucket, "OI_"):
		return types.RuleOIConviction
	case stringsHasPrefix(bucket, "VOL_"):
		return types.RuleVolatility
	default:
		return ""
	}
}

func stringsHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// RecentTrades returns the last n trade features, oldest first.
func (e *LearningEngine) RecentTrades(n int) []types.TradeFeatures {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	out := make([]types.TradeFeatures, n)
	copy(out, e.history[len(e.history)-n:])
	return out
}

func pctString(f float64) string {
	whole := int(f*1000 + 0.5)
	return itoa(whole/10) + "." + itoa(whole%10) + "%"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
