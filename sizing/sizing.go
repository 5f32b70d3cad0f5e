// Package sizing implements Position Sizing (spec §4.8): risk-first,
// Kelly-adjusted, lot-aligned quantity computation. Grounded on
// original_source/src/core/position_sizing.py's exact formula chain
// (estimate_win_probability, calculate_kelly_size, calculate_position_size,
// align_to_lot_size).
package sizing

import (
	"math"

	"scalper/types"
)

// Config holds the sizing caps, grounded on config.Risk.
type Config struct {
	RiskPercentMin   float64
	RiskPercentMax   float64
	HardSLPercentCap float64 // e.g. 10
	LotSize          int
	MaxQuantity      int
	KellyEnabled     bool
	KellyFraction    float64 // fractional-Kelly factor, default 0.25
}

// Input is everything the engine needs for one sizing decision.
type Input struct {
	EntryPrice     float64
	SLPrice        float64
	TargetPrice    float64
	RiskPercent    float64
	Capital        float64
	Delta          *float64
	Gamma          *float64
	IV             *float64
	BiasConfidence *float64 // 0-100
	OIChange       *float64
}

// Calculate implements §4.8 steps 1-7.
func Calculate(cfg Config, in Input) types.PositionSize {
	slPct := math.Abs(in.EntryPrice-in.SLPrice) / in.EntryPrice * 100

	if slPct > cfg.HardSLPercentCap {
		return types.PositionSize{
			SizingValid:     false,
			RejectionReason: "SL too wide",
			HardSLPercent:   slPct,
		}
	}

	riskPct := clamp(in.RiskPercent, cfg.RiskPercentMin, cfg.RiskPercentMax)

	var winProb float64
	var kellyFraction float64
	haveGreeks := in.Delta != nil
	if haveGreeks {
		winProb = estimateWinProbability(in)
		if cfg.KellyEnabled && winProb > 0.60 {
			lossPerUnit := math.Abs(in.EntryPrice - in.SLPrice)
			gainPerUnit := math.Abs(in.TargetPrice - in.EntryPrice)
			if lossPerUnit > 0 && gainPerUnit > 0 {
				b := gainPerUnit / lossPerUnit
				p := winProb
				q := 1 - p
				kelly := (p*b - q) / b
				kellyFraction = clamp(kelly*cfg.KellyFraction, 0, 0.20) * 100
				if kellyFraction > riskPct {
					riskPct = kellyFraction
				}
			}
		}
	}
	riskPct = clamp(riskPct, cfg.RiskPercentMin, cfg.RiskPercentMax)

	maxLoss := in.Capital * riskPct / 100
	perUnitLoss := math.Abs(in.EntryPrice - in.SLPrice)
	if perUnitLoss <= 0 || cfg.LotSize <= 0 {
		return types.PositionSize{SizingValid: false, RejectionReason: "invalid SL/lot size"}
	}
	rawQty := maxLoss / perUnitLoss
	lots := int(math.Floor(rawQty / float64(cfg.LotSize)))
	quantity := lots * cfg.LotSize

	if lots < 1 {
		return types.PositionSize{
			SizingValid:     false,
			RejectionReason: "less than 1 lot",
			HardSLPercent:   slPct,
		}
	}

	if cfg.MaxQuantity > 0 && quantity > cfg.MaxQuantity {
		quantity = (cfg.MaxQuantity / cfg.LotSize) * cfg.LotSize
		lots = quantity / cfg.LotSize
	}

	capitalAllocated := float64(quantity) * in.EntryPrice
	maxLossAmount := float64(quantity) * perUnitLoss
	rr := 0.0
	if perUnitLoss > 0 {
		rr = math.Abs(in.TargetPrice-in.EntryPrice) / perUnitLoss
	}

	ps := types.PositionSize{
		Quantity:         quantity,
		LotSize:          cfg.LotSize,
		NumLots:          lots,
		CapitalAllocated: capitalAllocated,
		MaxLossAmount:    maxLossAmount,
		HardSLPercent:    slPct,
		HardSLPrice:      in.SLPrice,
		TargetPrice:      in.TargetPrice,
		RiskRewardRatio:  rr,
		SizingValid:      true,
	}
	if haveGreeks {
		ps.WinProbability = winProb
		ps.KellyFraction = kellyFraction
	}
	return ps
}

// estimateWinProbability sums bounded contributions around a 0.50 base,
// clamped to [0.30, 0.80].
func estimateWinProbability(in Input) float64 {
	p := 0.50

	if in.Delta != nil {
		// Stronger directional delta (|delta| above 0.5, reaching the cap
		// at 0.75) adds confidence, capped contribution +/-0.10.
		strength := math.Abs(*in.Delta) - 0.5
		p += clamp(strength*0.4, -0.10, 0.10)
	}
	if in.Gamma != nil {
		// Higher gamma means faster favorable moves near the strike.
		p += clamp(*in.Gamma*10, 0, 0.05)
	}
	if in.IV != nil {
		// Sweet spot around 18-25% IV; penalise outside.
		const lo, hi = 18.0, 25.0
		if *in.IV >= lo && *in.IV <= hi {
			p += 0.05
		} else {
			dist := lo - *in.IV
			if *in.IV > hi {
				dist = *in.IV - hi
			}
			p -= clamp(dist/200, 0, 0.05)
		}
	}
	if in.BiasConfidence != nil {
		p += clamp((*in.BiasConfidence-50)/500, -0.05, 0.05)
	}
	if in.OIChange != nil && *in.OIChange > 0 {
		p += 0.05
	}

	return clamp(p, 0.30, 0.80)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
