package adaptive

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"scalper/types"
)

const (
	minLearningIntervalHours    = 24
	maxAdjustmentsPerDay        = 5
	minSampleSizeForSafety      = 20
	maxConsecutiveWinsCaution   = 5
	autoReviewMinAgeHours       = 24
	autoReviewApproveConfidence = 0.70
	autoReviewApproveShadowWin  = 0.60
	autoReviewRejectConfidence  = 0.40
)

// SafetyViolation enumerates the guard rails the Safety Guard enforces.
type SafetyViolation string

const (
	ViolationSameDayApplication   SafetyViolation = "SAME_DAY_APPLICATION"
	ViolationExcessiveAdjustments SafetyViolation = "EXCESSIVE_ADJUSTMENTS"
	ViolationLargeWeightChange    SafetyViolation = "LARGE_WEIGHT_CHANGE"
	ViolationWinningStreak        SafetyViolation = "WINNING_STREAK_AGGRESSION"
	ViolationInsufficientSample   SafetyViolation = "INSUFFICIENT_SAMPLE"
)

// SafetyCheck is the result of one guard-rail check.
type SafetyCheck struct {
	Passed         bool
	Violation      SafetyViolation
	Reason         string
	Recommendation string
	At             time.Time
}

// SafetyGuard enforces the "stability over intelligence" constraints on
// learning: at most one application per day, a hard cap on adjustments,
// and bounded weight deltas. Grounded exactly on
// original_source/src/adaptive/safety_guard.py, including its constants.
type SafetyGuard struct {
	mu sync.Mutex

	lastUpdate       *time.Time
	adjustmentsToday int

	pending  []types.LearningProposal
	approved []types.LearningProposal
	rejected []types.LearningProposal

	violations []SafetyCheck
}

// NewSafetyGuard builds an empty SafetyGuard.
func NewSafetyGuard() *SafetyGuard {
	return &SafetyGuard{}
}

// CheckLearningAllowed is the main gate run before any daily learning
// cycle is permitted to touch live weights.
func (g *SafetyGuard) CheckLearningAllowed(now time.Time) SafetyCheck {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastUpdate != nil {
		hoursSince := now.Sub(*g.lastUpdate).Hours()
		if hoursSince < minLearningIntervalHours {
			return SafetyCheck{
				Passed:         false,
				Violation:      ViolationSameDayApplication,
				Reason:         "last update too recent for another application",
				Recommendation: "wait for the next daily learning cycle",
				At:             now,
			}
		}
	}
	if g.lastUpdate != nil && !sameDay(*g.lastUpdate, now) {
		g.adjustmentsToday = 0
	}
	if g.adjustmentsToday >= maxAdjustmentsPerDay {
		return SafetyCheck{
			Passed:         false,
			Violation:      ViolationExcessiveAdjustments,
			Reason:         "daily adjustment cap already reached",
			Recommendation: "wait for next day",
			At:             now,
		}
	}
	return SafetyCheck{Passed: true, Reason: "safety checks passed", Recommendation: "proceed", At: now}
}

// ValidateWeightChange rejects a proposed delta larger than the daily cap.
func (g *SafetyGuard) ValidateWeightChange(old, proposed float64, now time.Time) SafetyCheck {
	change := absf(proposed - old)
	if change > maxWeightChangePerAdjustment {
		return SafetyCheck{
			Passed:         false,
			Violation:      ViolationLargeWeightChange,
			Reason:         "weight change exceeds the per-adjustment cap",
			Recommendation: "cap the change and resubmit",
			At:             now,
		}
	}
	return SafetyCheck{Passed: true, Reason: "weight change within limits", At: now}
}

// CheckSampleSize guards against learning from too few trades.
func (g *SafetyGuard) CheckSampleSize(n int, now time.Time) SafetyCheck {
	if n < minSampleSizeForSafety {
		return SafetyCheck{
			Passed:         false,
			Violation:      ViolationInsufficientSample,
			Reason:         "sample size below the learning minimum",
			Recommendation: "collect more trades before learning",
			At:             now,
		}
	}
	return SafetyCheck{Passed: true, Reason: "sample size adequate", At: now}
}

// CheckWinningStreak flags overconfidence risk after a long win streak.
func (g *SafetyGuard) CheckWinningStreak(consecutiveWins int, now time.Time) SafetyCheck {
	if consecutiveWins >= maxConsecutiveWinsCaution {
		return SafetyCheck{
			Passed:         false,
			Violation:      ViolationWinningStreak,
			Reason:         "consecutive win streak risks over-confidence",
			Recommendation: "maintain conservative posture despite wins",
			At:             now,
		}
	}
	return SafetyCheck{Passed: true, Reason: "no streak risk", At: now}
}

// Propose files a new pending LearningProposal.
func (g *SafetyGuard) Propose(kind string, insight types.LearningInsight, confidence float64, now time.Time) types.LearningProposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := types.LearningProposal{
		ID:         uuid.NewString(),
		Kind:       kind,
		Insight:    insight,
		Confidence: confidence,
		CreatedAt:  now,
	}
	g.pending = append(g.pending, p)
	return p
}

// ShadowTest marks a proposal as tested against historical data and
// attaches its hypothetical results. This implementation replays the
// proposal's bucket against the actual trade history instead of the
// source's placeholder mock numbers.
func (g *SafetyGuard) ShadowTest(proposalID string, history []types.TradeFeatures) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.pending {
		if g.pending[i].ID != proposalID {
			continue
		}
		wins, total := 0, 0
		for _, t := range history {
			for _, b := range t.Tuple.Buckets() {
				if b == g.pending[i].Insight.Bucket {
					total++
					if t.Won {
						wins++
					}
					break
				}
			}
		}
		winRate := 0.0
		if total > 0 {
			winRate = float64(wins) / float64(total)
		}
		g.pending[i].ShadowTested = true
		g.pending[i].ShadowResults = map[string]float64{
			"trades_affected":      float64(total),
			"hypothetical_win_rate": winRate,
		}
		return
	}
}

// AutoReview approves high-confidence, well-shadow-tested proposals and
// rejects low-confidence ones, exactly per safety_guard.py's thresholds.
func (g *SafetyGuard) AutoReview(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var stillPending []types.LearningProposal
	for _, p := range g.pending {
		ageHours := now.Sub(p.CreatedAt).Hours()
		if ageHours < autoReviewMinAgeHours || !p.ShadowTested {
			stillPending = append(stillPending, p)
			continue
		}

		if p.Confidence >= autoReviewApproveConfidence && p.ShadowResults["hypothetical_win_rate"] >= autoReviewApproveShadowWin {
			g.approveLocked(p, now)
			continue
		}
		if p.Confidence < autoReviewRejectConfidence {
			p.RejectedReason = "auto-rejected: low confidence"
			g.rejected = append(g.rejected, p)
			continue
		}
		stillPending = append(stillPending, p)
	}
	g.pending = stillPending
}

func (g *SafetyGuard) approveLocked(p types.LearningProposal, now time.Time) {
	approvedAt := now
	p.ApprovedAt = &approvedAt
	g.approved = append(g.approved, p)
	g.lastUpdate = &approvedAt
	g.adjustmentsToday++
}

// ApprovedToday returns approved proposals from today that have not yet
// been drained by MarkApplied.
func (g *SafetyGuard) ApprovedToday(now time.Time) []types.LearningProposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.LearningProposal
	for _, p := range g.approved {
		if p.ApprovedAt != nil && sameDay(*p.ApprovedAt, now) {
			out = append(out, p)
		}
	}
	return out
}

// MarkApplied drops the given proposal ids from the approved set once the
// controller has translated them into live weight adjustments, so a
// restart or repeated cycle never re-applies the same proposal twice.
func (g *SafetyGuard) MarkApplied(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	applied := make(map[string]bool, len(ids))
	for _, id := range ids {
		applied[id] = true
	}
	var remaining []types.LearningProposal
	for _, p := range g.approved {
		if !applied[p.ID] {
			remaining = append(remaining, p)
		}
	}
	g.approved = remaining
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DailyReset clears the daily adjustment counter at once. CheckLearningAllowed
// also clears it when the last update falls on an earlier day.
func (g *SafetyGuard) DailyReset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adjustmentsToday = 0
}

// EmergencyReset clears all pending learning state.
func (g *SafetyGuard) EmergencyReset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
	g.lastUpdate = nil
	g.adjustmentsToday = 0
}

// LogViolation appends a failed check to the violation log.
func (g *SafetyGuard) LogViolation(check SafetyCheck) {
	if check.Passed {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.violations = append(g.violations, check)
}

// SafetyStatus is the Safety Guard's dashboard-facing snapshot.
type SafetyStatus struct {
	LearningAllowed  bool
	LastUpdate       *time.Time
	HoursSinceUpdate float64
	AdjustmentsToday int
	MaxAdjustments   int
	PendingCount     int
	ApprovedToday    int
}

// Status returns the current safety status.
func (g *SafetyGuard) Status(now time.Time) SafetyStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	hours := 0.0
	if g.lastUpdate != nil {
		hours = now.Sub(*g.lastUpdate).Hours()
	}
	approvedToday := 0
	for _, p := range g.approved {
		if p.ApprovedAt != nil && sameDay(*p.ApprovedAt, now) {
			approvedToday++
		}
	}

	return SafetyStatus{
		LearningAllowed:  g.lastUpdate == nil || now.Sub(*g.lastUpdate).Hours() >= minLearningIntervalHours,
		LastUpdate:       g.lastUpdate,
		HoursSinceUpdate: hours,
		AdjustmentsToday: g.adjustmentsToday,
		MaxAdjustments:   maxAdjustmentsPerDay,
		PendingCount:     len(g.pending),
		ApprovedToday:    approvedToday,
	}
}
