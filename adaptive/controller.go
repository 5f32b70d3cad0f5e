// Package adaptive implements the Adaptive Learning Engine (spec §4.7):
// regime detection, bucketed outcome learning, confidence scoring, loss
// pattern blocking, and a safety-gated weight adjuster. Grounded on
// original_source/src/adaptive/adaptive_controller.py as the orchestration
// shape, with its documented gap fixed: run_daily_learning's approved-
// proposal loop is a no-op (`pass`) in the original — here RunDailyLearning
// actually turns each approved LearningInsight into a weight change via
// WeightAdjuster.Apply.
package adaptive

import (
	"sync"
	"time"

	"scalper/types"
)

// Decision is the Controller's single output shape for a candidate signal.
type Decision = types.AdaptiveDecision

// Controller is the Adaptive Controller: the master brain coordinating
// every adaptive subcomponent behind one Evaluate/RecordOutcome/
// RunDailyLearning surface.
type Controller struct {
	enabled bool

	learning   *LearningEngine
	regime     *Detector
	weights    *WeightAdjuster
	confidence *ConfidenceScorer
	patterns   *PatternDetector
	safety     *SafetyGuard

	mu                 sync.Mutex
	lastDailyLearning *time.Time
}

// NewController builds a fully-wired Controller. enabled=false makes
// Evaluate always return a permissive default decision, matching
// adaptive_controller.py's ADAPTIVE_ENABLED=false fallback.
func NewController(enabled bool) *Controller {
	return &Controller{
		enabled:    enabled,
		learning:   NewLearningEngine(),
		regime:     NewDetector(),
		weights:    NewWeightAdjuster(),
		confidence: NewConfidenceScorer(),
		patterns:   NewPatternDetector(),
		safety:     NewSafetyGuard(),
	}
}

// UpdateRegime re-classifies the live market regime; callers should do
// this once per tick before Evaluate.
func (c *Controller) UpdateRegime(s RegimeSignals, now time.Time) Classification {
	return c.regime.Detect(s, now)
}

// Evaluate scores a candidate signal end to end: regime, bucket
// extraction, pattern blocks, confidence, and combined size/frequency
// recommendation.
func (c *Controller) Evaluate(inputs SignalInputs, now time.Time) Decision {
	if !c.enabled {
		return Decision{
			ShouldTrade:         true,
			RecommendedSize:     1.0,
			RecommendedFrequency: 1.0,
			Explanation:         "adaptive learning disabled — using defaults",
		}
	}

	tuple := inputs.Buckets()
	buckets := tuple.Buckets()
	regime := c.regime.Current()

	for _, b := range buckets {
		if blocked, reason := c.patterns.IsBlocked(b, now); blocked {
			return Decision{
				ShouldTrade: false,
				BlockReason: reason,
				Regime:      string(regime.Regime),
				Explanation: "BLOCKED: " + reason,
				ContributingFactors: []string{"block_reason:" + reason},
			}
		}
	}

	perf := c.learning.Performance()
	recent := c.learning.RecentTrades(5)
	conf := c.confidence.Score(buckets, perf, regime.Regime, recent)

	sizeMult := conf.RecommendedSizePct * c.regime.SizeMultiplier() * c.weights.SizeAdjustment(buckets)
	if sizeMult < 0 {
		sizeMult = 0
	}
	if sizeMult > 1.5 {
		sizeMult = 1.5
	}

	freqMult := c.regime.FrequencyMultiplier() * c.weights.Multiplier(types.RuleTimeFilter, "TIME_"+string(tuple.Time))

	shouldTrade := conf.ShouldTrade

	return Decision{
		ShouldTrade:          shouldTrade,
		RecommendedSize:      sizeMult,
		RecommendedFrequency: freqMult,
		Confidence:           conf.Score,
		Regime:               string(regime.Regime),
		ContributingFactors: []string{
			"regime:" + string(regime.Regime),
			"confidence:" + pctString(conf.Score),
			"historical_win_rate:" + pctString(conf.Historical),
		},
		Explanation: conf.Explanation,
	}
}

// RecordOutcome ingests a closed trade's features into the learning
// engine. Satisfies trademgr.OutcomeRecorder.
func (c *Controller) RecordOutcome(tf types.TradeFeatures) {
	c.learning.Ingest(tf)
}

// DailyLearningResult summarizes one EOD learning cycle.
type DailyLearningResult struct {
	Success            bool
	Reason             string
	InsightsGenerated  int
	LossPatterns       int
	ProposalsCreated   int
	ProposalsApproved  int
	WeightsApplied     int
	Timestamp          time.Time
}

// RunDailyLearning runs the full EOD cycle: safety gate, pattern
// analysis, insight generation, proposal creation, shadow testing,
// auto-review, and — the fix for the original's unwired approval path —
// actually applying every approved proposal's insight to live weights.
func (c *Controller) RunDailyLearning(now time.Time) DailyLearningResult {
	check := c.safety.CheckLearningAllowed(now)
	if !check.Passed {
		c.safety.LogViolation(check)
		return DailyLearningResult{Success: false, Reason: check.Reason, Timestamp: now}
	}

	insights := c.learning.AnalyzePatterns()
	history := c.learning.History()
	lossPatterns := c.patterns.Analyze(history, now)

	var proposalIDs []string
	insightByID := make(map[string]types.LearningInsight, len(insights))
	for _, insight := range insights {
		p := c.safety.Propose("WEIGHT_ADJUSTMENT", insight, insight.Confidence, now)
		c.safety.ShadowTest(p.ID, history)
		proposalIDs = append(proposalIDs, p.ID)
		insightByID[p.ID] = insight
	}

	c.safety.AutoReview(now)

	approved := c.safety.ApprovedToday(now)
	var applyIDs []string
	var toApply []types.LearningInsight
	for _, p := range approved {
		toApply = append(toApply, p.Insight)
		applyIDs = append(applyIDs, p.ID)
	}
	applied := c.weights.Apply(toApply)
	c.safety.MarkApplied(applyIDs)

	c.mu.Lock()
	t := now
	c.lastDailyLearning = &t
	c.mu.Unlock()

	return DailyLearningResult{
		Success:           true,
		InsightsGenerated: len(insights),
		LossPatterns:      len(lossPatterns),
		ProposalsCreated:  len(proposalIDs),
		ProposalsApproved: len(approved),
		WeightsApplied:    len(applied),
		Timestamp:         now,
	}
}

// Status is the full adaptive-system snapshot for the dashboard.
type Status struct {
	Enabled           bool
	LastDailyLearning *time.Time
	Regime            Classification
	Safety            SafetyStatus
	Patterns          []types.LossPattern
	Blocks            []types.PatternBlock
	Weights           map[string]types.RuleWeight
}

// GetStatus returns a full snapshot for the dashboard.
func (c *Controller) GetStatus(now time.Time) Status {
	patterns, blocks := c.patterns.Summary()
	c.mu.Lock()
	last := c.lastDailyLearning
	c.mu.Unlock()

	return Status{
		Enabled:           c.enabled,
		LastDailyLearning: last,
		Regime:            c.regime.Current(),
		Safety:            c.safety.Status(now),
		Patterns:          patterns,
		Blocks:            blocks,
		Weights:           c.weights.Snapshot(),
	}
}

// EmergencyReset reverts every learned weight and clears pending learning
// state, for operator-triggered rollback.
func (c *Controller) EmergencyReset() {
	c.weights.ResetAll()
	c.safety.EmergencyReset()
}
