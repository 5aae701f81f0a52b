// Package api provides the HTTP/WebSocket surface and the per-symbol
// composition layer around the core classifier, sizer, and walk-forward
// validator.
package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/indicators"
	"github.com/atlas-desktop/options-engine/internal/persistence"
	"github.com/atlas-desktop/options-engine/internal/regime"
	"github.com/atlas-desktop/options-engine/internal/telemetry"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

// Momentum lookbacks in bars, matching the default 15-minute bar cadence.
const (
	momentum1HBars = 4
	momentum4HBars = 16
)

// symbolEngine serializes bars for one symbol. The classifier itself is not
// thread-safe; the engine mutex is what enforces the one-timeline-per-symbol
// contract at the API boundary.
type symbolEngine struct {
	mu         sync.Mutex
	classifier *regime.Classifier
}

// Registry owns one classifier per traded symbol, creating them on demand
// and rehydrating fresh persisted snapshots. It is the only component that
// knows about persistence and metrics; the classifier stays pure.
type Registry struct {
	logger         *zap.Logger
	config         *types.EngineConfig
	store          persistence.SnapshotStore // nil disables persistence
	metrics        *telemetry.MetricsRegistry
	maxSnapshotAge time.Duration

	mu      sync.Mutex
	engines map[string]*symbolEngine
}

// NewRegistry creates a classifier registry. store may be nil to disable
// snapshot persistence; metrics may be nil to disable instrumentation.
func NewRegistry(logger *zap.Logger, config *types.EngineConfig, store persistence.SnapshotStore, metrics *telemetry.MetricsRegistry, maxSnapshotAge time.Duration) *Registry {
	if config == nil {
		config = types.DefaultEngineConfig()
	}
	if maxSnapshotAge <= 0 {
		maxSnapshotAge = time.Hour
	}

	return &Registry{
		logger:         logger,
		config:         config,
		store:          store,
		metrics:        metrics,
		maxSnapshotAge: maxSnapshotAge,
		engines:        make(map[string]*symbolEngine),
	}
}

// engine returns the engine for symbol, creating and optionally rehydrating
// it on first use.
func (r *Registry) engine(ctx context.Context, symbol string) *symbolEngine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eng, ok := r.engines[symbol]; ok {
		return eng
	}

	classifier := regime.NewClassifier(r.logger, symbol, r.config)

	if r.store != nil {
		snap, err := r.store.LoadIfFresh(ctx, symbol, r.maxSnapshotAge)
		if err != nil {
			r.logger.Warn("failed to load classifier snapshot, starting cold",
				zap.String("symbol", symbol), zap.Error(err))
		} else if snap != nil {
			classifier.Restore(snap)
		}
	}

	eng := &symbolEngine{classifier: classifier}
	r.engines[symbol] = eng
	return eng
}

// Classify runs one bar for symbol through its classifier, persists the
// resulting snapshot best-effort, and records metrics. Persistence failures
// never prevent the classification from being returned.
func (r *Registry) Classify(ctx context.Context, symbol string, in types.ClassifyInput) *types.RegimeClassification {
	eng := r.engine(ctx, symbol)

	eng.mu.Lock()
	rc := eng.classifier.Classify(in)
	snap := eng.classifier.Snapshot()
	eng.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(ctx, snap); err != nil {
			r.logger.Warn("failed to persist classifier snapshot",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if r.metrics != nil {
		suppressed := strings.HasPrefix(rc.Reasoning, "WAITING FOR REGIME CONFIRMATION") ||
			strings.HasPrefix(rc.Reasoning, "REGIME TRANSITION COOLDOWN")
		r.metrics.ObserveClassification(symbol, string(rc.RecommendedAction),
			rc.Confidence, rc.BarsInRegime, rc.RegimeChanged, suppressed)
	}

	return rc
}

// Current returns the most recent classification for symbol, or nil when the
// symbol has no classifier or no bars yet.
func (r *Registry) Current(symbol string) *types.RegimeClassification {
	r.mu.Lock()
	eng, ok := r.engines[symbol]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.classifier.CurrentRegime()
}

// History returns up to limit recent classifications for symbol.
func (r *Registry) History(symbol string, limit int) []*types.RegimeClassification {
	r.mu.Lock()
	eng, ok := r.engines[symbol]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.classifier.History(limit)
}

// Symbols returns the symbols with live classifiers.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols := make([]string, 0, len(r.engines))
	for symbol := range r.engines {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// DeriveFromBars fills the history-derived fields of a ClassifyInput
// (historical vol, momentum, moving-average position) from raw bars, for
// callers that stream candles instead of precomputed features.
func (r *Registry) DeriveFromBars(in *types.ClassifyInput, bars []types.OHLCV) {
	if len(bars) == 0 {
		return
	}

	in.HistoricalVol = indicators.HistoricalVolatility(bars, 20, r.config.BarsPerTradingDay)
	in.Momentum1H = indicators.Momentum(bars, momentum1HBars)
	in.Momentum4H = indicators.Momentum(bars, momentum4HBars)
	in.Above20MA = indicators.AboveSMA(in.SpotPrice, bars, 20)
	in.Above50MA = indicators.AboveSMA(in.SpotPrice, bars, 50)
}
