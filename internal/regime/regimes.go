// Package regime provides market regime classification for equity index
// options: a volatility regime from IV rank, a gamma regime from net dealer
// GEX, and a trend regime from momentum and moving-average position, combined
// by a decision matrix and guarded by an anti-whiplash state machine.
package regime

import "github.com/atlas-desktop/options-engine/pkg/types"

// Gamma regime thresholds in dollars of net GEX.
const (
	gammaStrongThreshold = 2e9
	gammaThreshold       = 0.5e9
)

// ClassifyVolatility maps IV rank onto the 5-level volatility scale.
// Thresholds are inclusive lower bounds checked from the extreme inward.
func ClassifyVolatility(ivRank float64) types.VolatilityRegime {
	switch {
	case ivRank >= 80:
		return types.VolExtremeHigh
	case ivRank >= 60:
		return types.VolHigh
	case ivRank >= 40:
		return types.VolNormal
	case ivRank >= 20:
		return types.VolLow
	default:
		return types.VolExtremeLow
	}
}

// ClassifyGamma maps net GEX onto the 5-level gamma scale. Negative bounds
// are checked before positive bounds; anything strictly between -$0.5B and
// +$0.5B is neutral.
func ClassifyGamma(netGEX float64) types.GammaRegime {
	switch {
	case netGEX <= -gammaStrongThreshold:
		return types.GammaStrongNegative
	case netGEX <= -gammaThreshold:
		return types.GammaNegative
	case netGEX >= gammaStrongThreshold:
		return types.GammaStrongPositive
	case netGEX >= gammaThreshold:
		return types.GammaPositive
	default:
		return types.GammaNeutral
	}
}

// TrendInputs carries the features consumed by ClassifyTrend.
type TrendInputs struct {
	PctFromFlip float64 // (spot - flip) / flip * 100, 0 when flip <= 0
	Momentum4H  float64 // percent change over the 4h lookback
	Above20MA   bool
	Above50MA   bool
}

// PctFromFlip computes the spot's percent distance from the gamma flip
// point. A non-positive flip yields 0.
func PctFromFlip(spot, flip float64) float64 {
	if flip <= 0 {
		return 0
	}
	return (spot - flip) / flip * 100
}

// ClassifyTrend maps price-action features onto the 5-level trend scale.
// Rules are evaluated in priority order; the first match wins.
func ClassifyTrend(in TrendInputs) types.TrendRegime {
	switch {
	case in.PctFromFlip > 1 && in.Above20MA && in.Above50MA && in.Momentum4H > 0.5:
		return types.TrendStrongUptrend
	case in.PctFromFlip < -1 && !in.Above20MA && !in.Above50MA && in.Momentum4H < -0.5:
		return types.TrendStrongDowntrend
	case in.Momentum4H > 0.2 && (in.Above20MA || in.PctFromFlip > 0.5):
		return types.TrendUptrend
	case in.Momentum4H < -0.2 && (!in.Above20MA || in.PctFromFlip < -0.5):
		return types.TrendDowntrend
	default:
		return types.TrendRangeBound
	}
}
