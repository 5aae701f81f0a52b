// Package persistence_test provides tests for the snapshot stores.
package persistence_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/persistence"
	"github.com/atlas-desktop/options-engine/internal/regime"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

func sampleSnapshot(symbol string, savedAt time.Time) *regime.SessionSnapshot {
	return &regime.SessionSnapshot{
		Symbol:  symbol,
		SavedAt: savedAt,
		Current: &types.RegimeClassification{
			Symbol:            symbol,
			VolatilityRegime:  types.VolHigh,
			GammaRegime:       types.GammaPositive,
			TrendRegime:       types.TrendRangeBound,
			RecommendedAction: types.ActionSellPremium,
			Confidence:        90,
		},
		BarsInCurrentRegime: 4,
		LastActionBar:       3,
		TotalBars:           4,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := persistence.NewFileStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, sampleSnapshot("SPY", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap, err := store.LoadIfFresh(ctx, "SPY", time.Hour)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Expected a snapshot")
	}

	if snap.Symbol != "SPY" || snap.TotalBars != 4 || snap.LastActionBar != 3 {
		t.Errorf("Snapshot state lost in round trip: %+v", snap)
	}
	if snap.Current == nil || snap.Current.RecommendedAction != types.ActionSellPremium {
		t.Errorf("Current classification lost in round trip: %+v", snap.Current)
	}
}

func TestFileStoreIgnoresStaleSnapshot(t *testing.T) {
	store, err := persistence.NewFileStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, sampleSnapshot("SPY", time.Now().Add(-2*time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap, err := store.LoadIfFresh(ctx, "SPY", time.Hour)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap != nil {
		t.Errorf("Stale snapshot must be ignored, got %+v", snap)
	}
}

func TestFileStoreMissingSymbol(t *testing.T) {
	store, err := persistence.NewFileStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	snap, err := store.LoadIfFresh(context.Background(), "NONE", time.Hour)
	if err != nil {
		t.Fatalf("Missing snapshot must not be an error: %v", err)
	}
	if snap != nil {
		t.Errorf("Expected nil for a missing symbol, got %+v", snap)
	}
}

func TestFileStoreSanitizesSymbolPath(t *testing.T) {
	dir := t.TempDir()
	store, err := persistence.NewFileStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, sampleSnapshot("BRK/B", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "regime_brk_b.json")); err != nil {
		t.Errorf("Expected a sanitized snapshot file: %v", err)
	}

	snap, err := store.LoadIfFresh(ctx, "BRK/B", time.Hour)
	if err != nil || snap == nil {
		t.Fatalf("Expected the sanitized snapshot back, got %v, %v", snap, err)
	}
}

func TestFileStoreOverwrites(t *testing.T) {
	store, err := persistence.NewFileStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()

	first := sampleSnapshot("SPY", time.Now())
	first.TotalBars = 4
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := sampleSnapshot("SPY", time.Now())
	second.TotalBars = 9
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap, err := store.LoadIfFresh(ctx, "SPY", time.Hour)
	if err != nil || snap == nil {
		t.Fatalf("Load failed: %v, %v", snap, err)
	}
	if snap.TotalBars != 9 {
		t.Errorf("Expected the newer snapshot, got totalBars=%d", snap.TotalBars)
	}
}
