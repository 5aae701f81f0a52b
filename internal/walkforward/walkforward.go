// Package walkforward provides rolling train/test validation for strategy
// parameterizations. Parameters are selected on a training window and scored
// once on the strictly later test window; the degradation between the two
// measures overfitting.
package walkforward

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/pkg/types"
)

// StrategyResult is what a caller-supplied strategy reports for one slice of
// data under one parameter set.
type StrategyResult struct {
	WinRate   float64 `json:"winRate"` // 0-1
	Trades    int     `json:"trades"`
	NetReturn float64 `json:"netReturn,omitempty"` // optional, informational
}

// StrategyFunc evaluates a strategy over a data slice with one parameter
// set. The validator knows nothing about the strategy itself.
type StrategyFunc func(data []types.OHLCV, params map[string]float64) *StrategyResult

// ParamGrid maps parameter names to candidate values for the grid search.
type ParamGrid map[string][]float64

// Window is one walk-forward train/test split. The test segment always
// starts strictly after the training segment ends.
type Window struct {
	TrainStart time.Time `json:"trainStart"`
	TrainEnd   time.Time `json:"trainEnd"`
	TestStart  time.Time `json:"testStart"`
	TestEnd    time.Time `json:"testEnd"`
}

// WindowResult pairs a window with its in-sample winner and out-of-sample
// performance.
type WindowResult struct {
	Window           Window             `json:"window"`
	Params           map[string]float64 `json:"params"`
	InSampleWinRate  float64            `json:"inSampleWinRate"`
	InSampleTrades   int                `json:"inSampleTrades"`
	OutSampleWinRate float64            `json:"outSampleWinRate"`
	OutSampleTrades  int                `json:"outSampleTrades"`
	DegradationPct   float64            `json:"degradationPct"` // (IS - OOS) / IS * 100
}

// Result is the aggregate walk-forward report.
type Result struct {
	RunID              string             `json:"runId"`
	StrategyName       string             `json:"strategyName"`
	Windows            []WindowResult     `json:"windows"`
	MeanDegradationPct float64            `json:"meanDegradationPct"`
	MeanOOSWinRate     float64            `json:"meanOosWinRate"`
	Robust             bool               `json:"robust"`
	RecommendedParams  map[string]float64 `json:"recommendedParams,omitempty"`
	Message            string             `json:"message,omitempty"`
}

// Validator runs walk-forward analyses
type Validator struct {
	logger *zap.Logger
	config *Config
}

// Config configures window generation
type Config struct {
	TrainDays int
	TestDays  int
	StepDays  int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		TrainDays: 60,
		TestDays:  14,
		StepDays:  14,
	}
}

// NewValidator creates a walk-forward validator
func NewValidator(logger *zap.Logger, config *Config) *Validator {
	if config == nil {
		config = DefaultConfig()
	}

	return &Validator{
		logger: logger,
		config: config,
	}
}

// CreateWindows generates sequential train/test windows over [start, end],
// sliding the train start forward by stepDays each iteration and stopping
// once the test segment would run past end. For every i>0,
// windows[i].TestStart is strictly after windows[i-1].TrainEnd, so no test
// period ever looks back into its own training data.
func CreateWindows(start, end time.Time, trainDays, testDays, stepDays int) []Window {
	if trainDays <= 0 || testDays <= 0 || stepDays <= 0 || !end.After(start) {
		return nil
	}

	day := 24 * time.Hour
	var windows []Window

	for current := start; ; current = current.Add(time.Duration(stepDays) * day) {
		trainEnd := current.Add(time.Duration(trainDays) * day)
		testEnd := trainEnd.Add(time.Duration(testDays) * day)
		if testEnd.After(end) {
			break
		}

		windows = append(windows, Window{
			TrainStart: current,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		})
	}

	return windows
}

// sliceByTime returns the bars with Timestamp in [from, to).
func sliceByTime(bars []types.OHLCV, from, to time.Time) []types.OHLCV {
	var out []types.OHLCV
	for _, bar := range bars {
		if !bar.Timestamp.Before(from) && bar.Timestamp.Before(to) {
			out = append(out, bar)
		}
	}
	return out
}

// expandGrid produces the cartesian product of the parameter grid. Keys are
// iterated in sorted order so the expansion is deterministic.
func expandGrid(grid ParamGrid) []map[string]float64 {
	names := make([]string, 0, len(grid))
	for name, values := range grid {
		if len(values) == 0 {
			return nil
		}
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []map[string]float64{{}}
	for _, name := range names {
		var next []map[string]float64
		for _, combo := range combos {
			for _, value := range grid[name] {
				c := make(map[string]float64, len(combo)+1)
				for k, v := range combo {
					c[k] = v
				}
				c[name] = value
				next = append(next, c)
			}
		}
		combos = next
	}

	return combos
}

// paramKey canonicalizes a parameter set for mode counting.
func paramKey(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, params[name])
	}
	return strings.Join(parts, ",")
}

// OptimizeWindow grid-searches the parameter combinations on the training
// slice (score = winRate * trades) and evaluates the winner once on the test
// slice. Returns nil when no combination produces any training trades.
func (v *Validator) OptimizeWindow(window Window, bars []types.OHLCV, combos []map[string]float64, strategy StrategyFunc) *WindowResult {
	trainBars := sliceByTime(bars, window.TrainStart, window.TrainEnd)
	testBars := sliceByTime(bars, window.TestStart, window.TestEnd)

	var best *StrategyResult
	var bestParams map[string]float64
	bestScore := 0.0

	for _, params := range combos {
		res := strategy(trainBars, params)
		if res == nil || res.Trades <= 0 {
			continue
		}

		score := res.WinRate * float64(res.Trades)
		if best == nil || score > bestScore {
			best = res
			bestParams = params
			bestScore = score
		}
	}

	if best == nil {
		return nil
	}

	oos := strategy(testBars, bestParams)
	if oos == nil {
		oos = &StrategyResult{}
	}

	degradation := 0.0
	if best.WinRate > 0 {
		degradation = (best.WinRate - oos.WinRate) / best.WinRate * 100
	}

	return &WindowResult{
		Window:           window,
		Params:           bestParams,
		InSampleWinRate:  best.WinRate,
		InSampleTrades:   best.Trades,
		OutSampleWinRate: oos.WinRate,
		OutSampleTrades:  oos.Trades,
		DegradationPct:   degradation,
	}
}

// Robustness thresholds for the aggregate verdict.
const (
	maxMeanDegradationPct = 20.0
	minMeanOOSWinRate     = 0.50
)

// Run executes the full walk-forward analysis. Configuration problems
// (empty grid, empty date range, no generatable windows) yield an explicit
// not-robust zero-window result rather than an error, so batch calibration
// jobs continue past one bad strategy.
func (v *Validator) Run(strategyName string, strategy StrategyFunc, grid ParamGrid, start, end time.Time, bars []types.OHLCV) *Result {
	result := &Result{
		RunID:        uuid.New().String(),
		StrategyName: strategyName,
	}

	combos := expandGrid(grid)
	if len(combos) == 0 || len(grid) == 0 {
		result.Message = "empty or malformed parameter grid: not robust, zero windows"
		v.logger.Warn("walk-forward skipped", zap.String("strategy", strategyName), zap.String("reason", result.Message))
		return result
	}

	windows := CreateWindows(start, end, v.config.TrainDays, v.config.TestDays, v.config.StepDays)
	if len(windows) == 0 {
		result.Message = "date range produced no windows: not robust, zero windows"
		v.logger.Warn("walk-forward skipped", zap.String("strategy", strategyName), zap.String("reason", result.Message))
		return result
	}

	v.logger.Info("starting walk-forward analysis",
		zap.String("strategy", strategyName),
		zap.String("runId", result.RunID),
		zap.Int("windows", len(windows)),
		zap.Int("paramCombos", len(combos)),
	)

	paramCounts := make(map[string]int)
	paramSets := make(map[string]map[string]float64)

	var sumDegradation, sumOOSWinRate float64

	for i, window := range windows {
		wr := v.OptimizeWindow(window, bars, combos, strategy)
		if wr == nil {
			v.logger.Debug("window produced no trades", zap.Int("window", i))
			continue
		}

		result.Windows = append(result.Windows, *wr)
		sumDegradation += wr.DegradationPct
		sumOOSWinRate += wr.OutSampleWinRate

		key := paramKey(wr.Params)
		paramCounts[key]++
		paramSets[key] = wr.Params
	}

	if len(result.Windows) == 0 {
		result.Message = "no window produced trades: not robust, zero windows"
		return result
	}

	n := float64(len(result.Windows))
	result.MeanDegradationPct = sumDegradation / n
	result.MeanOOSWinRate = sumOOSWinRate / n
	result.Robust = result.MeanDegradationPct < maxMeanDegradationPct &&
		result.MeanOOSWinRate > minMeanOOSWinRate

	// Recommended parameters are the modal combination across windows, not a
	// mean: averaging tiered or categorical parameters produces values no
	// window ever selected.
	bestCount := 0
	for key, count := range paramCounts {
		if count > bestCount {
			bestCount = count
			result.RecommendedParams = paramSets[key]
		}
	}

	v.logger.Info("walk-forward analysis complete",
		zap.String("strategy", strategyName),
		zap.Int("windows", len(result.Windows)),
		zap.Float64("meanDegradationPct", result.MeanDegradationPct),
		zap.Float64("meanOosWinRate", result.MeanOOSWinRate),
		zap.Bool("robust", result.Robust),
	)

	return result
}
