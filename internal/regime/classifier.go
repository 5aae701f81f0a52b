package regime

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/indicators"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

// Classifier is the single entry point for per-bar regime classification. It
// owns all mutable session state for one symbol: the current regime, the
// bounded classification history, and the bar counters driving the
// anti-whiplash gates.
//
// A Classifier is intentionally not safe for concurrent use: one instance
// must be owned by exactly one symbol-processing timeline, and Classify must
// be called at most once per bar in strictly increasing timestamp order.
// Out-of-order calls leave the bars-in-regime bookkeeping undefined.
type Classifier struct {
	logger *zap.Logger
	config *types.EngineConfig
	symbol string

	current             *types.RegimeClassification
	barsInCurrentRegime int
	lastActionBar       int // bar index of the last non-flat action, -1 before any
	totalBars           int
	history             []*types.RegimeClassification
}

// SessionSnapshot is the serializable view of classifier session state used
// by the persistence side-channel. The freshness policy (how old a snapshot
// may be before it is ignored) belongs to the snapshot store, not here.
type SessionSnapshot struct {
	Symbol              string                      `json:"symbol"`
	SavedAt             time.Time                   `json:"savedAt"`
	Current             *types.RegimeClassification `json:"current,omitempty"`
	BarsInCurrentRegime int                         `json:"barsInCurrentRegime"`
	LastActionBar       int                         `json:"lastActionBar"`
	TotalBars           int                         `json:"totalBars"`
}

// NewClassifier creates a classifier for one symbol
func NewClassifier(logger *zap.Logger, symbol string, config *types.EngineConfig) *Classifier {
	if config == nil {
		config = types.DefaultEngineConfig()
	}

	return &Classifier{
		logger:        logger,
		config:        config,
		symbol:        symbol,
		lastActionBar: -1,
		history:       make([]*types.RegimeClassification, 0, config.HistoryCap),
	}
}

// Restore seeds session state from a persisted snapshot. Callers decide
// whether the snapshot is fresh enough to use before handing it over.
func (c *Classifier) Restore(snap *SessionSnapshot) {
	if snap == nil {
		return
	}

	c.current = snap.Current
	c.barsInCurrentRegime = snap.BarsInCurrentRegime
	c.lastActionBar = snap.LastActionBar
	c.totalBars = snap.TotalBars

	c.logger.Info("classifier state restored",
		zap.String("symbol", c.symbol),
		zap.Int("totalBars", c.totalBars),
		zap.Int("barsInRegime", c.barsInCurrentRegime),
	)
}

// Snapshot returns the serializable session state as of now.
func (c *Classifier) Snapshot() *SessionSnapshot {
	return &SessionSnapshot{
		Symbol:              c.symbol,
		SavedAt:             time.Now(),
		Current:             c.current,
		BarsInCurrentRegime: c.barsInCurrentRegime,
		LastActionBar:       c.lastActionBar,
		TotalBars:           c.totalBars,
	}
}

// Symbol returns the symbol this classifier is bound to.
func (c *Classifier) Symbol() string { return c.symbol }

// TotalBars returns the number of bars processed this session.
func (c *Classifier) TotalBars() int { return c.totalBars }

// CurrentRegime returns the most recent classification, or nil before the
// first bar.
func (c *Classifier) CurrentRegime() *types.RegimeClassification { return c.current }

// History returns up to limit recent classifications, oldest first. A
// non-positive limit returns the full retained history.
func (c *Classifier) History(limit int) []*types.RegimeClassification {
	if limit <= 0 || limit > len(c.history) {
		limit = len(c.history)
	}

	out := make([]*types.RegimeClassification, limit)
	copy(out, c.history[len(c.history)-limit:])
	return out
}

// Classify runs one bar through the full pipeline: metrics, the three regime
// classifiers, regime-change detection, the decision matrix, the optional ML
// confidence nudge, the anti-whiplash gates, and risk parameter derivation.
// The returned record is immutable and already appended to the session
// history.
func (c *Classifier) Classify(in types.ClassifyInput) *types.RegimeClassification {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.totalBars++

	ivRank, ivPercentile := indicators.IVRankAndPercentile(in.CurrentIV, in.IVHistory)

	volRegime := ClassifyVolatility(ivRank)
	gammaRegime := ClassifyGamma(in.NetGEX)
	pctFromFlip := PctFromFlip(in.SpotPrice, in.FlipPoint)
	trendRegime := ClassifyTrend(TrendInputs{
		PctFromFlip: pctFromFlip,
		Momentum4H:  in.Momentum4H,
		Above20MA:   in.Above20MA,
		Above50MA:   in.Above50MA,
	})

	changed := c.regimeChanged(volRegime, gammaRegime, trendRegime)

	regimeStart := ts
	if changed {
		c.barsInCurrentRegime = 1
	} else {
		c.barsInCurrentRegime++
		if c.current != nil {
			regimeStart = c.current.RegimeStartTime
		}
	}

	ivHVRatio := 0.0
	if in.HistoricalVol > 0 {
		ivHVRatio = in.CurrentIV / in.HistoricalVol
	}

	verdict := Decide(DecisionInput{
		Vol:               volRegime,
		Gamma:             gammaRegime,
		Trend:             trendRegime,
		IVHVRatio:         ivHVRatio,
		DistanceToFlipPct: pctFromFlip,
		VIX:               in.VIX,
		VolSurface:        in.VolSurface,
	})

	action := verdict.Action
	confidence := verdict.Confidence
	reasoning := verdict.Reasoning

	// ML confidence nudge, only when the external model reports itself
	// trained. The win probability is clamped into [0,1] before use.
	if in.MLPrediction != nil && in.MLPrediction.ModelTrained && in.MLPrediction.WinProbability != nil {
		wp := clamp(*in.MLPrediction.WinProbability, 0, 1)
		boost := (wp - 0.5) * 40 // +-20 at the extremes
		confidence = clamp(confidence+boost, 10, 95)
		reasoning = append(reasoning,
			fmt.Sprintf("ML model win probability %.0f%%: confidence adjusted %+.1f", wp*100, boost))
	}

	previousAction := types.Action("")
	if c.current != nil {
		previousAction = c.current.RecommendedAction
	}

	// Confirmation gate: a regime must persist before its action is
	// released. The original verdict stays in the reasoning trail.
	if c.barsInCurrentRegime < c.config.MinBarsForRegime {
		reasoning = append([]string{fmt.Sprintf(
			"WAITING FOR REGIME CONFIRMATION: %d/%d bars (pending action: %s)",
			c.barsInCurrentRegime, c.config.MinBarsForRegime, action)}, reasoning...)
		action = types.ActionStayFlat
		confidence = 20
	}

	// Cooldown gate: after a regime transition, recent actions block new
	// ones for a few bars.
	if changed && c.lastActionBar >= 0 && c.totalBars-c.lastActionBar < c.config.DecisionCooldownBars {
		reasoning = append([]string{fmt.Sprintf(
			"REGIME TRANSITION COOLDOWN: last action %d bar(s) ago, need %d",
			c.totalBars-c.lastActionBar, c.config.DecisionCooldownBars)}, reasoning...)
		action = types.ActionStayFlat
		confidence = 20
	}

	if action != types.ActionStayFlat {
		c.lastActionBar = c.totalBars
	}

	maxSize, stopLoss, profitTarget := riskParameters(confidence)

	rc := &types.RegimeClassification{
		Timestamp:          ts,
		Symbol:             c.symbol,
		VolatilityRegime:   volRegime,
		GammaRegime:        gammaRegime,
		TrendRegime:        trendRegime,
		IVRank:             ivRank,
		IVPercentile:       ivPercentile,
		CurrentIV:          in.CurrentIV,
		HistoricalVol:      in.HistoricalVol,
		IVHVRatio:          ivHVRatio,
		NetGEX:             in.NetGEX,
		FlipPoint:          in.FlipPoint,
		SpotPrice:          in.SpotPrice,
		DistanceToFlipPct:  pctFromFlip,
		VIX:                in.VIX,
		VIXTermStructure:   in.VIXTermStructure,
		RecommendedAction:  action,
		Confidence:         confidence,
		Reasoning:          strings.Join(reasoning, "\n"),
		RegimeStartTime:    regimeStart,
		BarsInRegime:       c.barsInCurrentRegime,
		RegimeChanged:      changed,
		PreviousAction:     previousAction,
		MaxPositionSizePct: maxSize,
		StopLossPct:        stopLoss,
		ProfitTargetPct:    profitTarget,
		VolSurface:         in.VolSurface,
		MLPrediction:       in.MLPrediction,
	}

	c.appendHistory(rc)
	c.current = rc

	c.logger.Debug("bar classified",
		zap.String("symbol", c.symbol),
		zap.String("volatility", string(volRegime)),
		zap.String("gamma", string(gammaRegime)),
		zap.String("trend", string(trendRegime)),
		zap.String("action", string(action)),
		zap.Float64("confidence", confidence),
		zap.Bool("regimeChanged", changed),
		zap.Int("barsInRegime", c.barsInCurrentRegime),
	)

	return rc
}

// regimeChanged reports whether this bar starts a new regime. A transition
// requires material movement, not any change: a 2+ level jump on the
// volatility scale, a gamma sign-class flip, or a trend direction reversal.
func (c *Classifier) regimeChanged(vol types.VolatilityRegime, gamma types.GammaRegime, trend types.TrendRegime) bool {
	if c.current == nil {
		return true // cold start
	}

	if c.current.VolatilityRegime.Distance(vol) >= 2 {
		return true
	}

	if (c.current.GammaRegime.IsPositive() && gamma.IsNegative()) ||
		(c.current.GammaRegime.IsNegative() && gamma.IsPositive()) {
		return true
	}

	if (c.current.TrendRegime.IsUp() && trend.IsDown()) ||
		(c.current.TrendRegime.IsDown() && trend.IsUp()) {
		return true
	}

	return false
}

// appendHistory appends a classification, truncating to the most recent
// HistoryKeep entries once HistoryCap is exceeded.
func (c *Classifier) appendHistory(rc *types.RegimeClassification) {
	c.history = append(c.history, rc)
	if len(c.history) > c.config.HistoryCap {
		kept := make([]*types.RegimeClassification, c.config.HistoryKeep)
		copy(kept, c.history[len(c.history)-c.config.HistoryKeep:])
		c.history = kept
	}
}

// riskParameters derives position sizing and exit parameters from the final
// confidence tier.
func riskParameters(confidence float64) (maxSizePct, stopLossPct, profitTargetPct float64) {
	switch {
	case confidence >= 80:
		return 15, 20, 50
	case confidence >= 60:
		return 10, 25, 40
	default:
		return 5, 30, 30
	}
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
