// Package indicators provides the metric calculations feeding regime
// classification: IV rank/percentile, realized volatility, momentum, and
// moving-average position. All functions are pure and degrade to documented
// defaults when history is insufficient, so a live feed never halts on a
// short lookback.
package indicators

import (
	"math"

	"github.com/atlas-desktop/options-engine/pkg/types"
)

const (
	// MinIVHistory is the number of IV observations required before rank and
	// percentile are meaningful. Below this both default to 50 (neutral).
	MinIVHistory = 20

	// DefaultHistoricalVol is returned when there are too few bars to
	// compute realized volatility (20% annualized).
	DefaultHistoricalVol = 0.20

	tradingDaysPerYear = 252
)

// IVRankAndPercentile computes where currentIV sits within its trailing
// history. Rank is position within the min/max range, percentile is position
// within the distribution, both on a 0-100 scale. With fewer than
// MinIVHistory points it returns the neutral (50, 50).
func IVRankAndPercentile(currentIV float64, ivHistory []float64) (rank, percentile float64) {
	if len(ivHistory) < MinIVHistory {
		return 50, 50
	}

	min, max := ivHistory[0], ivHistory[0]
	below := 0
	for _, iv := range ivHistory {
		if iv < min {
			min = iv
		}
		if iv > max {
			max = iv
		}
		if iv < currentIV {
			below++
		}
	}

	if max == min {
		rank = 50
	} else {
		rank = (currentIV - min) / (max - min) * 100
		if rank < 0 {
			rank = 0
		} else if rank > 100 {
			rank = 100
		}
	}

	percentile = float64(below) / float64(len(ivHistory)) * 100

	return rank, percentile
}

// HistoricalVolatility returns the annualized standard deviation of log
// returns over the trailing period bars. barsPerDay scales the annualization
// factor for intraday bars. Fewer than period+1 bars yields
// DefaultHistoricalVol.
func HistoricalVolatility(bars []types.OHLCV, period int, barsPerDay float64) float64 {
	if period <= 0 || len(bars) < period+1 {
		return DefaultHistoricalVol
	}

	window := bars[len(bars)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		prev, _ := window[i-1].Close.Float64()
		cur, _ := window[i].Close.Float64()
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}

	if len(returns) < 2 {
		return DefaultHistoricalVol
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(barsPerDay*tradingDaysPerYear)
}

// Momentum returns the percent change of the close price over lookback bars,
// or 0 when there is not enough history.
func Momentum(bars []types.OHLCV, lookback int) float64 {
	if lookback <= 0 || len(bars) < lookback+1 {
		return 0
	}

	past, _ := bars[len(bars)-lookback-1].Close.Float64()
	cur, _ := bars[len(bars)-1].Close.Float64()
	if past <= 0 {
		return 0
	}

	return (cur - past) / past * 100
}

// SMA returns the simple mean of the trailing period closes, or 0 when there
// is not enough history.
func SMA(bars []types.OHLCV, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	sum := 0.0
	for _, bar := range bars[len(bars)-period:] {
		close, _ := bar.Close.Float64()
		sum += close
	}

	return sum / float64(period)
}

// AboveSMA reports whether price sits above the period moving average. A
// zero moving average means there is no MA yet, which must not block trend
// classification, so it counts as above.
func AboveSMA(price float64, bars []types.OHLCV, period int) bool {
	ma := SMA(bars, period)
	if ma == 0 {
		return true
	}
	return price > ma
}
