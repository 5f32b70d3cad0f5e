// Package strike implements the Strike Selector (spec §4.5): builds an
// ATM +/- N ladder and scores each candidate on Greeks, liquidity and IV.
package strike

import (
	"math"

	"scalper/types"
)

// Candidate is one strike on the ladder with its current quote.
type Candidate struct {
	Strike   float64
	Offset   int // signed multiple of the strike interval from ATM
	Quote    types.GreeksSnapshot
}

// Scored is a Candidate plus its computed score.
type Scored struct {
	Candidate Candidate
	Score     float64
	Greeks    float64
	Liquidity float64
	IV        float64
}

// Selector picks the best leg from a ladder of candidates.
type Selector struct {
	StrikeInterval float64
	MaxSpreadPct   float64
	IdealGammaMin  float64
	ThetaCap       float64
}

// NewSelector returns a Selector with the spec's suggested defaults.
func NewSelector(strikeInterval float64) *Selector {
	return &Selector{
		StrikeInterval: strikeInterval,
		MaxSpreadPct:   3.0,
		IdealGammaMin:  0.002,
		ThetaCap:       -15.0,
	}
}

// BuildLadder returns ATM +/- n candidates around spot, n strikes either
// side, at the configured strike interval.
func (sel *Selector) BuildLadder(spot float64, n int, quotes map[float64]types.GreeksSnapshot) []Candidate {
	atm := math.Round(spot/sel.StrikeInterval) * sel.StrikeInterval
	var ladder []Candidate
	for offset := -n; offset <= n; offset++ {
		k := atm + float64(offset)*sel.StrikeInterval
		q, ok := quotes[k]
		if !ok {
			continue
		}
		ladder = append(ladder, Candidate{Strike: k, Offset: offset, Quote: q})
	}
	return ladder
}

// Select scores every candidate and returns the highest-scoring one, ties
// broken toward ATM (smallest |offset|).
func (sel *Selector) Select(ladder []Candidate) (Scored, bool) {
	var best Scored
	found := false
	for _, c := range ladder {
		s := sel.score(c)
		if !found || s.Score > best.Score ||
			(s.Score == best.Score && absInt(c.Offset) < absInt(best.Candidate.Offset)) {
			best = s
			found = true
		}
	}
	return best, found
}

func (sel *Selector) score(c Candidate) Scored {
	g := greeksScore(c.Quote, sel.IdealGammaMin, sel.ThetaCap)
	l := liquidityScore(c.Quote, sel.MaxSpreadPct)
	iv := ivScore(c.Quote.IV)
	return Scored{
		Candidate: c,
		Greeks:    g,
		Liquidity: l,
		IV:        iv,
		Score:     g + l + iv,
	}
}

// greeksScore rewards delta in [0.45, 0.65], gamma above the floor, theta
// no worse than the cap, vega in a mid range.
func greeksScore(q types.GreeksSnapshot, gammaMin, thetaCap float64) float64 {
	score := 0.0
	absDelta := math.Abs(q.Delta)
	switch {
	case absDelta >= 0.45 && absDelta <= 0.65:
		score += 1.0
	case absDelta >= 0.35 && absDelta < 0.45:
		score += 0.5
	case absDelta > 0.65 && absDelta <= 0.75:
		score += 0.5
	}
	if q.Gamma >= gammaMin {
		score += 1.0
	}
	if q.Theta >= thetaCap {
		score += 0.5
	}
	if q.Vega >= 2 && q.Vega <= 15 {
		score += 0.5
	}
	return score
}

// liquidityScore rewards tight spreads and healthy volume/OI.
func liquidityScore(q types.GreeksSnapshot, maxSpreadPct float64) float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.LTP <= 0 {
		return 0
	}
	spreadPct := (q.Ask - q.Bid) / q.LTP * 100
	if spreadPct > maxSpreadPct {
		return 0
	}
	score := 1.0 - spreadPct/maxSpreadPct
	if q.Volume >= 500 {
		score += 0.5
	}
	if q.OI >= 100000 {
		score += 0.5
	}
	return score
}

// ivScore prefers 15-25% IV, penalised smoothly outside.
func ivScore(iv float64) float64 {
	const lo, hi = 15.0, 25.0
	if iv >= lo && iv <= hi {
		return 1.0
	}
	dist := lo - iv
	if iv > hi {
		dist = iv - hi
	}
	score := 1.0 - dist/50.0
	if score < 0 {
		return 0
	}
	return score
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
