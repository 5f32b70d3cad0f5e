package adaptive

import (
	"sort"
	"sync"
	"time"

	"scalper/types"
)

const (
	minOccurrencesForPattern = 3
	patternLookbackDays      = 30
)

// PatternDetector groups recent losses by bucket dimension and exit
// reason, flags repeating failure clusters, and converts HIGH/CRITICAL
// clusters into active PatternBlocks. Grounded exactly on
// original_source/src/adaptive/pattern_detector.py.
type PatternDetector struct {
	mu       sync.Mutex
	detected []types.LossPattern
	blocks   []types.PatternBlock
}

// NewPatternDetector builds an empty PatternDetector.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

// Analyze re-derives loss patterns from the full trade history and
// refreshes the set of active blocks.
func (d *PatternDetector) Analyze(history []types.TradeFeatures, now time.Time) []types.LossPattern {
	cutoff := now.AddDate(0, 0, -patternLookbackDays)
	var losses []types.TradeFeatures
	for _, t := range history {
		if !t.Won && !t.Timestamp.Before(cutoff) {
			losses = append(losses, t)
		}
	}

	var patterns []types.LossPattern
	patterns = append(patterns, groupPattern(losses, "TEMPORAL", func(t types.TradeFeatures) string { return string(t.Tuple.Time) })...)
	patterns = append(patterns, groupPattern(losses, "GREEKS_SETUP", func(t types.TradeFeatures) string { return string(t.Tuple.Regime) })...)
	patterns = append(patterns, groupPattern(losses, "EXIT_REASON", func(t types.TradeFeatures) string { return t.ExitReason })...)
	patterns = append(patterns, groupPattern(losses, "MARKET_CONDITION", func(t types.TradeFeatures) string { return string(t.Tuple.Volatility) })...)

	var significant []types.LossPattern
	for _, p := range patterns {
		if p.Occurrences >= minOccurrencesForPattern {
			significant = append(significant, p)
		}
	}

	d.mu.Lock()
	d.detected = significant
	d.updateBlocksLocked(significant, now)
	d.mu.Unlock()

	return significant
}

func groupPattern(losses []types.TradeFeatures, patternType string, key func(types.TradeFeatures) string) []types.LossPattern {
	groups := make(map[string][]types.TradeFeatures)
	for _, l := range losses {
		k := key(l)
		groups[k] = append(groups[k], l)
	}

	var out []types.LossPattern
	for characteristic, group := range groups {
		if len(group) < minOccurrencesForPattern {
			continue
		}
		var total float64
		first, last := group[0].Timestamp, group[0].Timestamp
		for _, t := range group {
			total += absf(t.PnL)
			if t.Timestamp.Before(first) {
				first = t.Timestamp
			}
			if t.Timestamp.After(last) {
				last = t.Timestamp
			}
		}
		severity := classifySeverity(len(group))
		out = append(out, types.LossPattern{
			PatternType:       patternType,
			Severity:          severity,
			Characteristic:    characteristic,
			Occurrences:       len(group),
			TotalLoss:         total,
			FirstOccurrence:   first,
			LastOccurrence:    last,
			RecommendedAction: recommendedAction(patternType, severity),
			BlockDuration:     blockDuration(patternType, severity),
		})
	}
	return out
}

func classifySeverity(occurrences int) types.PatternSeverity {
	switch {
	case occurrences >= 10:
		return types.SeverityCritical
	case occurrences >= 6:
		return types.SeverityHigh
	case occurrences >= 4:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func recommendedAction(patternType string, sev types.PatternSeverity) string {
	if patternType == "EXIT_REASON" {
		return "MONITOR"
	}
	if sev == types.SeverityHigh || sev == types.SeverityCritical {
		return "BLOCK"
	}
	return "REDUCE"
}

func blockDuration(patternType string, sev types.PatternSeverity) time.Duration {
	if patternType == "EXIT_REASON" {
		return 0
	}
	switch sev {
	case types.SeverityCritical:
		return 168 * time.Hour
	case types.SeverityHigh:
		return 72 * time.Hour
	case types.SeverityMedium:
		return 48 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// shouldBlock reports whether a pattern's severity is high enough to enforce.
func shouldBlock(p types.LossPattern) bool {
	return p.Severity == types.SeverityHigh || p.Severity == types.SeverityCritical
}

// updateBlocksLocked drops expired blocks and opens new ones for any
// newly-significant HIGH/CRITICAL pattern not already blocked. Caller
// must hold d.mu.
func (d *PatternDetector) updateBlocksLocked(patterns []types.LossPattern, now time.Time) {
	active := d.blocks[:0]
	for _, b := range d.blocks {
		if now.Before(b.End) {
			active = append(active, b)
		}
	}
	d.blocks = active

	for _, p := range patterns {
		if !shouldBlock(p) {
			continue
		}
		bucket := bucketLabelForCharacteristic(p)
		if bucket == "" {
			continue
		}
		alreadyBlocked := false
		for _, b := range d.blocks {
			if b.Bucket == bucket {
				alreadyBlocked = true
				break
			}
		}
		if alreadyBlocked {
			continue
		}
		d.blocks = append(d.blocks, types.PatternBlock{
			Bucket: bucket,
			Start:  now,
			End:    now.Add(p.BlockDuration),
			Reason: p.PatternType + ": " + itoa(p.Occurrences) + " losses",
		})
	}
}

// bucketLabelForCharacteristic maps a detected characteristic back onto a
// dimension-qualified bucket label, when the pattern dimension maps to a
// learning bucket at all (EXIT_REASON patterns never do).
func bucketLabelForCharacteristic(p types.LossPattern) string {
	switch p.PatternType {
	case "TEMPORAL":
		return "TIME_" + p.Characteristic
	case "GREEKS_SETUP":
		return "GREEKS_" + p.Characteristic
	case "MARKET_CONDITION":
		return "VOL_" + p.Characteristic
	default:
		return ""
	}
}

// IsBlocked reports whether a dimension-qualified bucket is currently
// under an active pattern block.
func (d *PatternDetector) IsBlocked(bucket string, now time.Time) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.blocks {
		if b.Covers(bucket, now) {
			remaining := b.End.Sub(now)
			return true, b.Reason + " (blocked for " + remaining.Round(time.Minute).String() + " more)"
		}
	}
	return false, ""
}

// Summary returns the current detected patterns and active blocks for the
// dashboard.
func (d *PatternDetector) Summary() (patterns []types.LossPattern, blocks []types.PatternBlock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	patterns = append(patterns, d.detected...)
	blocks = append(blocks, d.blocks...)
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].TotalLoss > patterns[j].TotalLoss })
	return
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
