// Package types provides shared type definitions for the options engine.
package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// VolatilityRegime classifies implied volatility by IV rank.
type VolatilityRegime string

const (
	VolExtremeLow  VolatilityRegime = "EXTREME_LOW"
	VolLow         VolatilityRegime = "LOW"
	VolNormal      VolatilityRegime = "NORMAL"
	VolHigh        VolatilityRegime = "HIGH"
	VolExtremeHigh VolatilityRegime = "EXTREME_HIGH"
)

// volatilityLevels is the ordered scale used for ordinal-distance checks.
var volatilityLevels = []VolatilityRegime{
	VolExtremeLow, VolLow, VolNormal, VolHigh, VolExtremeHigh,
}

// Ordinal returns the position of the regime on the 5-level scale, or -1
// for an unknown value.
func (v VolatilityRegime) Ordinal() int {
	for i, level := range volatilityLevels {
		if level == v {
			return i
		}
	}
	return -1
}

// Distance returns the absolute ordinal distance between two volatility
// regimes. Unknown values are treated as maximally distant.
func (v VolatilityRegime) Distance(other VolatilityRegime) int {
	a, b := v.Ordinal(), other.Ordinal()
	if a < 0 || b < 0 {
		return len(volatilityLevels)
	}
	if a > b {
		return a - b
	}
	return b - a
}

// GammaRegime classifies net dealer gamma exposure.
type GammaRegime string

const (
	GammaStrongNegative GammaRegime = "STRONG_NEGATIVE"
	GammaNegative       GammaRegime = "NEGATIVE"
	GammaNeutral        GammaRegime = "NEUTRAL"
	GammaPositive       GammaRegime = "POSITIVE"
	GammaStrongPositive GammaRegime = "STRONG_POSITIVE"
)

// IsPositive reports whether the regime is in the positive sign class.
func (g GammaRegime) IsPositive() bool {
	return g == GammaPositive || g == GammaStrongPositive
}

// IsNegative reports whether the regime is in the negative sign class.
func (g GammaRegime) IsNegative() bool {
	return g == GammaNegative || g == GammaStrongNegative
}

// TrendRegime classifies price action direction.
type TrendRegime string

const (
	TrendStrongDowntrend TrendRegime = "STRONG_DOWNTREND"
	TrendDowntrend       TrendRegime = "DOWNTREND"
	TrendRangeBound      TrendRegime = "RANGE_BOUND"
	TrendUptrend         TrendRegime = "UPTREND"
	TrendStrongUptrend   TrendRegime = "STRONG_UPTREND"
)

// IsUp reports whether the regime is in the uptrend direction class.
func (t TrendRegime) IsUp() bool {
	return t == TrendUptrend || t == TrendStrongUptrend
}

// IsDown reports whether the regime is in the downtrend direction class.
func (t TrendRegime) IsDown() bool {
	return t == TrendDowntrend || t == TrendStrongDowntrend
}

// Action is the recommended trading action for a bar.
type Action string

const (
	ActionSellPremium Action = "SELL_PREMIUM"
	ActionBuyCalls    Action = "BUY_CALLS"
	ActionBuyPuts     Action = "BUY_PUTS"
	ActionStayFlat    Action = "STAY_FLAT"
	ActionClose       Action = "CLOSE"
)

// OHLCV represents a single candlestick
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// VolSurfaceData is an optional enrichment input summarizing the volatility
// surface. Every field is independently nullable; the classifier produces a
// fully valid result when the struct or any field is absent.
type VolSurfaceData struct {
	SkewRegime          *string  `json:"skewRegime,omitempty"`          // "put_skew", "call_skew", "flat"
	Skew25D             *float64 `json:"skew25d,omitempty"`             // 25-delta skew
	TermStructureRegime *string  `json:"termStructureRegime,omitempty"` // "contango", "backwardation"
	DirectionalBias     *string  `json:"directionalBias,omitempty"`     // "bullish", "bearish", "neutral"
	RecommendedDTE      *int     `json:"recommendedDte,omitempty"`
	ShouldSellPremium   *bool    `json:"shouldSellPremium,omitempty"`
}

// MLPrediction is an optional enrichment input from an external pattern
// learner. The win probability is only consulted when ModelTrained is true.
type MLPrediction struct {
	WinProbability *float64 `json:"winProbability,omitempty"` // 0-1
	Recommendation *string  `json:"recommendation,omitempty"`
	ModelTrained   bool     `json:"modelTrained"`
}

// ClassifyInput carries the per-bar market snapshot consumed by
// Classifier.Classify. IVHistory is ordered oldest to newest.
type ClassifyInput struct {
	SpotPrice        float64         `json:"spotPrice"`
	NetGEX           float64         `json:"netGex"` // dollars
	FlipPoint        float64         `json:"flipPoint"`
	CurrentIV        float64         `json:"currentIv"`
	IVHistory        []float64       `json:"ivHistory"`
	HistoricalVol    float64         `json:"historicalVol"`
	VIX              float64         `json:"vix"`
	VIXTermStructure string          `json:"vixTermStructure"` // "contango", "backwardation"
	Momentum1H       float64         `json:"momentum1h"`
	Momentum4H       float64         `json:"momentum4h"`
	Above20MA        bool            `json:"above20ma"`
	Above50MA        bool            `json:"above50ma"`
	Timestamp        time.Time       `json:"timestamp"` // zero value defaults to wall clock
	VolSurface       *VolSurfaceData `json:"volSurface,omitempty"`
	MLPrediction     *MLPrediction   `json:"mlPrediction,omitempty"`
}

// RegimeClassification is the complete per-bar output record. It is immutable
// once returned by the classifier.
type RegimeClassification struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`

	// Regimes
	VolatilityRegime VolatilityRegime `json:"volatilityRegime"`
	GammaRegime      GammaRegime      `json:"gammaRegime"`
	TrendRegime      TrendRegime      `json:"trendRegime"`

	// Metrics
	IVRank            float64 `json:"ivRank"`
	IVPercentile      float64 `json:"ivPercentile"`
	CurrentIV         float64 `json:"currentIv"`
	HistoricalVol     float64 `json:"historicalVol"`
	IVHVRatio         float64 `json:"ivHvRatio"`
	NetGEX            float64 `json:"netGex"`
	FlipPoint         float64 `json:"flipPoint"`
	SpotPrice         float64 `json:"spotPrice"`
	DistanceToFlipPct float64 `json:"distanceToFlipPct"`
	VIX               float64 `json:"vix"`
	VIXTermStructure  string  `json:"vixTermStructure"`

	// Decision
	RecommendedAction Action  `json:"recommendedAction"`
	Confidence        float64 `json:"confidence"` // 0-100
	Reasoning         string  `json:"reasoning"`

	// Persistence
	RegimeStartTime time.Time `json:"regimeStartTime"`
	BarsInRegime    int       `json:"barsInRegime"`
	RegimeChanged   bool      `json:"regimeChanged"`
	PreviousAction  Action    `json:"previousAction,omitempty"`

	// Risk
	MaxPositionSizePct float64 `json:"maxPositionSizePct"`
	StopLossPct        float64 `json:"stopLossPct"`
	ProfitTargetPct    float64 `json:"profitTargetPct"`

	// Optional enrichment echoes
	VolSurface   *VolSurfaceData `json:"volSurface,omitempty"`
	MLPrediction *MLPrediction   `json:"mlPrediction,omitempty"`
}

// ToMap returns the display/serialization view of the classification:
// numeric fields rounded, enums as their string labels. Persistence and UI
// collaborators depend on this shape field for field.
func (rc *RegimeClassification) ToMap() map[string]any {
	return map[string]any{
		"timestamp":             rc.Timestamp.UTC().Format(time.RFC3339),
		"symbol":                rc.Symbol,
		"volatility_regime":     string(rc.VolatilityRegime),
		"gamma_regime":          string(rc.GammaRegime),
		"trend_regime":          string(rc.TrendRegime),
		"iv_rank":               round2(rc.IVRank),
		"iv_percentile":         round2(rc.IVPercentile),
		"current_iv":            round4(rc.CurrentIV),
		"historical_vol":        round4(rc.HistoricalVol),
		"iv_hv_ratio":           round2(rc.IVHVRatio),
		"net_gex":               rc.NetGEX,
		"flip_point":            round2(rc.FlipPoint),
		"spot_price":            round2(rc.SpotPrice),
		"distance_to_flip_pct":  round2(rc.DistanceToFlipPct),
		"vix":                   round2(rc.VIX),
		"vix_term_structure":    rc.VIXTermStructure,
		"recommended_action":    string(rc.RecommendedAction),
		"confidence":            round1(rc.Confidence),
		"reasoning":             rc.Reasoning,
		"regime_start_time":     rc.RegimeStartTime.UTC().Format(time.RFC3339),
		"bars_in_regime":        rc.BarsInRegime,
		"regime_changed":        rc.RegimeChanged,
		"previous_action":       string(rc.PreviousAction),
		"max_position_size_pct": round1(rc.MaxPositionSizePct),
		"stop_loss_pct":         round1(rc.StopLossPct),
		"profit_target_pct":     round1(rc.ProfitTargetPct),
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
