// Package market is the per-bot facade over the shared cache and on-chain
// reads: eligibility filtering, scoring, and active-bin resolution. It mirrors
// polybot's internal/domain scoring functions in shape — small pure
// functions over plain numbers — generalised from Polymarket reward-farming
// metrics to DLMM pool metrics.
package market

import (
	"math"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

// Score weights and the threshold that separates ENTER from WAIT are
// hand-tuned parameters, not part of the contract. They are unexported
// package variables rather than constants; nothing outside this package
// sets them, so changing them takes a rebuild.
var (
	weightVolume    = 0.35
	weightLiquidity = 0.20
	weightFeePerTVL = 0.25
	weightMomentum  = 0.20

	enterThreshold = 150.0
	waitThreshold  = 80.0
)

// Score computes a pool's four sub-scores, each clamped into [0, 100], then
// weights and doubles them to place the admission threshold in the familiar
// "150" regime the rest of the system assumes.
func Score(p domain.Pool) domain.MarketScore {
	vol := volumeScore(p.Volume24h)
	liq := liquidityScore(p.Liquidity)
	fee := feePerTVLScore(p.Fees24h, p.Liquidity)
	mom := momentumScore(p.APR)

	total := (vol*weightVolume + liq*weightLiquidity + fee*weightFeePerTVL + mom*weightMomentum) * 2

	return domain.MarketScore{
		VolumeScore:    vol,
		LiquidityScore: liq,
		FeePerTVLScore: fee,
		MomentumScore:  mom,
		TotalScore:     total,
		Classification: classify(total),
	}
}

func classify(total float64) domain.ScoreClassification {
	switch {
	case total >= enterThreshold:
		return domain.ClassificationEnter
	case total >= waitThreshold:
		return domain.ClassificationWait
	default:
		return domain.ClassificationSkip
	}
}

// volumeScore rewards pools with meaningful 24h turnover, saturating at 100
// once daily volume reaches ~500k of the quote unit.
func volumeScore(volume24h float64) float64 {
	return clamp100(volume24h / 5000)
}

// liquidityScore favours mid-depth pools: too little liquidity means
// excessive slippage for our own deposit, too much dilutes our share of
// fees. Peaks around 200k, tapering on both sides.
func liquidityScore(liquidity float64) float64 {
	const sweetSpot = 200000.0
	if liquidity <= 0 {
		return 0
	}
	ratio := liquidity / sweetSpot
	if ratio <= 1 {
		return clamp100(ratio * 100)
	}
	// beyond the sweet spot, decay but never below a floor of 40
	decay := 100 - (ratio-1)*20
	if decay < 40 {
		decay = 40
	}
	return clamp100(decay)
}

// feePerTVLScore rewards pools that generate fees efficiently relative to
// their own size — a pool earning a lot of fees on a small TVL is a better
// capital-efficiency bet than a high-volume, high-TVL pool with thin margins.
func feePerTVLScore(fees24h, liquidity float64) float64 {
	if liquidity <= 0 {
		return 0
	}
	ratio := fees24h / liquidity
	return clamp100(ratio * 100 * 50)
}

// momentumScore is APR-based: higher reported APR implies the pool is
// currently in a favourable fee/volume regime.
func momentumScore(apr float64) float64 {
	return clamp100(apr)
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// wrappedSOLMint is the canonical mint address bots filter on when a
// BotConfig requires SOL-paired pools only.
const wrappedSOLMint = "So11111111111111111111111111111111111111112"

// IsEligible reports whether a pool passes the static filter criteria from
// a BotConfig, independent of its score.
func IsEligible(p domain.Pool, cfg domain.BotConfig) bool {
	if p.Blacklisted {
		return false
	}
	if cfg.SolPairsOnly && p.MintX != wrappedSOLMint && p.MintY != wrappedSOLMint {
		return false
	}
	if cfg.MintBlacklist[p.MintX] || cfg.MintBlacklist[p.MintY] {
		return false
	}
	if p.Volume24h < cfg.MinVolume24h {
		return false
	}
	if cfg.MinLiquidity > 0 && p.Liquidity < cfg.MinLiquidity {
		return false
	}
	if cfg.MaxLiquidity > 0 && p.Liquidity > cfg.MaxLiquidity {
		return false
	}
	return true
}

// SyntheticBinID derives an active-bin id from a reported price and bin
// step when no direct on-chain read is available.
func SyntheticBinID(price float64, binStep int) int {
	if price <= 0 || binStep <= 0 {
		return 0
	}
	step := 1 + float64(binStep)/10000
	return int(math.Round(math.Log(price) / math.Log(step)))
}
