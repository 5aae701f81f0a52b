// Package sizing provides Monte Carlo validated Kelly position sizing.
// The theoretical Kelly fraction assumes the win rate and payoff estimates
// are exact; the stress tester treats them as uncertain, simulates equity
// paths under parameter draws, and backs the fraction down until the ruin
// rate clears a survival target.
package sizing

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StressTester runs Monte Carlo Kelly stress tests
type StressTester struct {
	logger *zap.Logger
	config *SizerConfig
}

// SizerConfig configures the stress tester. NumSimulations and TradesPerSim
// are the only work-bounding knobs; everything else is a policy constant.
type SizerConfig struct {
	NumSimulations  int     // Monte Carlo paths per simulation
	TradesPerSim    int     // trades per path
	RuinThreshold   float64 // equity fraction treated as ruin
	TargetSurvival  float64 // survival probability for the safe fraction
	Seed            int64   // base RNG seed (0 for nondeterministic)
	ParallelWorkers int     // workers for the path loop
}

// DefaultSizerConfig returns sensible defaults
func DefaultSizerConfig() *SizerConfig {
	return &SizerConfig{
		NumSimulations:  1000,
		TradesPerSim:    100,
		RuinThreshold:   0.25,
		TargetSurvival:  0.95,
		Seed:            0,
		ParallelWorkers: 8,
	}
}

// NewStressTester creates a stress tester
func NewStressTester(logger *zap.Logger, config *SizerConfig) *StressTester {
	if config == nil {
		config = DefaultSizerConfig()
	}

	return &StressTester{
		logger: logger,
		config: config,
	}
}

// KellyEstimate carries win/payoff point estimates with their uncertainty,
// derived once per sizing request from raw trade statistics.
type KellyEstimate struct {
	WinRate    float64 `json:"winRate"`
	WinRateStd float64 `json:"winRateStd"`
	AvgWin     float64 `json:"avgWin"` // percent gained on the risked amount
	AvgWinStd  float64 `json:"avgWinStd"`
	AvgLoss    float64 `json:"avgLoss"` // percent lost on the risked amount
	AvgLossStd float64 `json:"avgLossStd"`
	SampleSize int     `json:"sampleSize"`
}

// CalculateKelly returns the theoretical optimal Kelly fraction
// f* = (b*p - q) / b with b = avgWin/avgLoss, clamped to [0, 1]. Invalid
// inputs (non-positive avgLoss, win rate outside (0,1)) and negative edge
// both return 0: no edge means no position, not an error.
func (st *StressTester) CalculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss <= 0 || winRate <= 0 || winRate >= 1 {
		return 0
	}

	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}

	p := winRate
	q := 1 - p
	kelly := (b*p - q) / b

	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		return 1
	}

	return kelly
}

const (
	winRateStdFloor    = 0.03 // binomial SE floor
	smallSampleStd     = 0.20 // win-rate std when the sample is tiny
	smallSampleCutoff  = 5
	payoffBaseCV       = 0.5 // payoff coefficient of variation at n=100
	payoffCVRefSamples = 100.0
)

// EstimateUncertainty derives a KellyEstimate from raw statistics. The win
// rate std is the binomial standard error floored at 3% and inflated to 20%
// for samples under 5 trades; payoff stds shrink with sample size from a
// base CV of 0.5 at 100 trades.
func (st *StressTester) EstimateUncertainty(winRate, avgWin, avgLoss float64, sampleSize int) *KellyEstimate {
	est := &KellyEstimate{
		WinRate:    winRate,
		AvgWin:     avgWin,
		AvgLoss:    avgLoss,
		SampleSize: sampleSize,
	}

	if sampleSize < smallSampleCutoff {
		est.WinRateStd = smallSampleStd
	} else {
		se := math.Sqrt(winRate * (1 - winRate) / float64(sampleSize))
		est.WinRateStd = math.Max(se, winRateStdFloor)
	}

	shrink := payoffBaseCV
	if sampleSize > 0 {
		shrink = payoffBaseCV / math.Sqrt(float64(sampleSize)/payoffCVRefSamples)
	}
	est.AvgWinStd = avgWin * shrink
	est.AvgLossStd = avgLoss * shrink

	return est
}

// pathResult is the outcome of one simulated equity path.
type pathResult struct {
	finalEquity float64
	maxDrawdown float64 // fraction of peak
	ruined      bool
}

// simulatePath runs one equity path at the given Kelly fraction. Equity
// starts at 1.0, each trade risks equity*fraction, and the path terminates
// early once equity falls below the ruin threshold.
func (st *StressTester) simulatePath(rng *rand.Rand, fraction, winRate, avgWin, avgLoss float64) pathResult {
	equity := 1.0
	peak := 1.0
	maxDD := 0.0

	for i := 0; i < st.config.TradesPerSim; i++ {
		risk := equity * fraction
		if rng.Float64() < winRate {
			equity += risk * avgWin / 100
		} else {
			equity -= risk * avgLoss / 100
		}

		if equity > peak {
			peak = equity
		} else if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}

		if equity < st.config.RuinThreshold {
			return pathResult{finalEquity: equity, maxDrawdown: maxDD, ruined: true}
		}
	}

	return pathResult{finalEquity: equity, maxDrawdown: maxDD, ruined: false}
}

// SimulationStats aggregates a batch of simulated paths.
type SimulationStats struct {
	KellyFraction     float64 `json:"kellyFraction"`
	NumPaths          int     `json:"numPaths"`
	RuinRate          float64 `json:"ruinRate"`          // fraction of paths hitting the ruin threshold
	ProbDrawdown50    float64 `json:"probDrawdown50"`    // fraction of paths with a 50%+ drawdown
	VaR95             float64 `json:"var95"`             // loss not exceeded in 95% of paths
	MeanFinalEquity   float64 `json:"meanFinalEquity"`
	MedianFinalEquity float64 `json:"medianFinalEquity"`
	MeanMaxDrawdown   float64 `json:"meanMaxDrawdown"`
}

// RunSimulation simulates NumSimulations paths at the given fraction. When
// varyParameters is set, each path draws its own win rate and payoffs from
// normal distributions centered on the estimate, capturing parameter
// uncertainty on top of path randomness. Paths are independent and run on a
// worker pool; per-path RNG seeding keeps the aggregate result reproducible
// for a fixed Seed regardless of scheduling.
func (st *StressTester) RunSimulation(fraction float64, est *KellyEstimate, varyParameters bool) *SimulationStats {
	n := st.config.NumSimulations
	results := make([]pathResult, n)

	baseSeed := st.config.Seed
	if baseSeed == 0 {
		baseSeed = rand.Int63()
	}

	workers := st.config.ParallelWorkers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int, n)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rng := rand.New(rand.NewSource(baseSeed + int64(i)))

				winRate, avgWin, avgLoss := est.WinRate, est.AvgWin, est.AvgLoss
				if varyParameters {
					winRate = clip(winRate+rng.NormFloat64()*est.WinRateStd, 0.2, 0.9)
					avgWin = math.Max(avgWin+rng.NormFloat64()*est.AvgWinStd, 1)
					avgLoss = math.Max(avgLoss+rng.NormFloat64()*est.AvgLossStd, 1)
				}

				results[i] = st.simulatePath(rng, fraction, winRate, avgWin, avgLoss)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return st.aggregate(fraction, results)
}

// aggregate reduces path results into summary statistics.
func (st *StressTester) aggregate(fraction float64, results []pathResult) *SimulationStats {
	stats := &SimulationStats{
		KellyFraction: fraction,
		NumPaths:      len(results),
	}
	if len(results) == 0 {
		return stats
	}

	finals := make([]float64, len(results))
	ruined := 0
	deepDD := 0
	sumFinal := 0.0
	sumDD := 0.0

	for i, r := range results {
		finals[i] = r.finalEquity
		sumFinal += r.finalEquity
		sumDD += r.maxDrawdown
		if r.ruined {
			ruined++
		}
		if r.maxDrawdown >= 0.5 {
			deepDD++
		}
	}

	sort.Float64s(finals)

	n := float64(len(results))
	stats.RuinRate = float64(ruined) / n
	stats.ProbDrawdown50 = float64(deepDD) / n
	stats.MeanFinalEquity = sumFinal / n
	stats.MedianFinalEquity = finals[len(finals)/2]
	stats.MeanMaxDrawdown = sumDD / n

	// 95% VaR: the loss relative to starting equity not exceeded on 95% of
	// paths. Positive values are losses.
	p5 := finals[int(0.05*float64(len(finals)-1))]
	stats.VaR95 = math.Max(0, 1-p5)

	return stats
}

// FindSafeKelly binary-searches [0.01, 0.50] for the largest fraction whose
// simulated ruin rate stays within 1-targetSurvival, with parameter
// variation on. The search never exceeds the theoretical optimum supplied as
// the upper bound by StressTest.
func (st *StressTester) FindSafeKelly(est *KellyEstimate, targetSurvival, upperBound float64) float64 {
	maxRuin := 1 - targetSurvival

	lo := 0.01
	hi := math.Min(0.50, upperBound)
	if hi <= lo {
		// Optimum at or below the search floor: never size above it.
		return hi
	}

	safe := lo
	for i := 0; i < 12; i++ {
		mid := (lo + hi) / 2
		stats := st.RunSimulation(mid, est, true)

		if stats.RuinRate <= maxRuin {
			safe = mid
			lo = mid
		} else {
			hi = mid
		}
	}

	return safe
}

// Uncertainty levels by win-rate standard deviation.
const (
	UncertaintyLow    = "low"
	UncertaintyMedium = "medium"
	UncertaintyHigh   = "high"
)

func uncertaintyLevel(winRateStd float64) string {
	switch {
	case winRateStd < 0.05:
		return UncertaintyLow
	case winRateStd < 0.10:
		return UncertaintyMedium
	default:
		return UncertaintyHigh
	}
}

// StressTestResult is the full stress-test report.
type StressTestResult struct {
	Estimate          *KellyEstimate   `json:"estimate"`
	KellyOptimal      float64          `json:"kellyOptimal"`
	KellySafe         float64          `json:"kellySafe"`
	KellyConservative float64          `json:"kellyConservative"`
	UncertaintyLevel  string           `json:"uncertaintyLevel"`
	OptimalStats      *SimulationStats `json:"optimalStats,omitempty"`
	SafeStats         *SimulationStats `json:"safeStats,omitempty"`
	Recommendation    string           `json:"recommendation"`
}

// StressTest computes the theoretical Kelly fraction, stress-tests it under
// parameter uncertainty, and reports a safe and a conservative fraction with
// a recommendation chosen by fixed priority.
func (st *StressTester) StressTest(winRate, avgWin, avgLoss float64, sampleSize int) *StressTestResult {
	est := st.EstimateUncertainty(winRate, avgWin, avgLoss, sampleSize)

	result := &StressTestResult{
		Estimate:         est,
		UncertaintyLevel: uncertaintyLevel(est.WinRateStd),
	}

	optimal := st.CalculateKelly(winRate, avgWin, avgLoss)
	result.KellyOptimal = optimal

	if optimal <= 0 {
		result.Recommendation = "Negative edge - do not trade"
		return result
	}

	safe := st.FindSafeKelly(est, st.config.TargetSurvival, optimal)
	result.KellySafe = safe
	result.KellyConservative = safe / 2

	result.OptimalStats = st.RunSimulation(optimal, est, true)
	result.SafeStats = st.RunSimulation(safe, est, true)

	switch {
	case result.SafeStats.RuinRate > 0.10:
		result.Recommendation = "Ruin risk remains high even at the safe fraction - use conservative Kelly or less"
	case result.UncertaintyLevel == UncertaintyHigh:
		result.Recommendation = "Estimates are highly uncertain - use conservative Kelly until more trades accumulate"
	default:
		result.Recommendation = "Use safe Kelly - the theoretical optimum is too aggressive under uncertainty"
	}

	st.logger.Info("Kelly stress test complete",
		zap.Float64("kellyOptimal", optimal),
		zap.Float64("kellySafe", safe),
		zap.String("uncertainty", result.UncertaintyLevel),
		zap.Float64("safeRuinRate", result.SafeStats.RuinRate),
	)

	return result
}

// PositionSizeResult is the externally consumed sizing recommendation.
type PositionSizeResult struct {
	PositionSizePct   float64         `json:"positionSizePct"` // % of account to risk
	PositionValue     decimal.Decimal `json:"positionValue"`   // dollar amount
	KellyOptimal      float64         `json:"kellyOptimal"`    // fractions of bankroll
	KellySafe         float64         `json:"kellySafe"`
	KellyConservative float64         `json:"kellyConservative"`
	ProbDrawdown50    float64         `json:"probDrawdown50"`
	ProbRuin          float64         `json:"probRuin"`
	VaR95             float64         `json:"var95"`
	UncertaintyLevel  string          `json:"uncertaintyLevel"`
	Recommendation    string          `json:"recommendation"`
}

// GetSafePositionSize runs the full stress test and converts the safe Kelly
// fraction into a position size, capped at the caller's maximum risk
// percentage.
func (st *StressTester) GetSafePositionSize(winRate, avgWin, avgLoss float64, sampleSize int, accountSize decimal.Decimal, maxRiskPct float64) (*PositionSizeResult, error) {
	if maxRiskPct < 0 {
		return nil, fmt.Errorf("max risk pct must be non-negative, got %v", maxRiskPct)
	}

	test := st.StressTest(winRate, avgWin, avgLoss, sampleSize)

	pct := math.Min(test.KellySafe*100, maxRiskPct)

	result := &PositionSizeResult{
		PositionSizePct:   pct,
		PositionValue:     accountSize.Mul(decimal.NewFromFloat(pct / 100)).Round(2),
		KellyOptimal:      test.KellyOptimal,
		KellySafe:         test.KellySafe,
		KellyConservative: test.KellyConservative,
		UncertaintyLevel:  test.UncertaintyLevel,
		Recommendation:    test.Recommendation,
	}

	if test.SafeStats != nil {
		result.ProbDrawdown50 = test.SafeStats.ProbDrawdown50
		result.ProbRuin = test.SafeStats.RuinRate
		result.VaR95 = test.SafeStats.VaR95
	}

	return result, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
