// Package persistence provides the snapshot side-channel for classifier
// session state. The classifier itself does no I/O: callers persist its
// snapshots here after a bar and may rehydrate a fresh-enough snapshot at
// startup. Failures in this package are logged by callers and never block
// the decision path.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/regime"
)

// SnapshotStore persists classifier session snapshots by symbol.
type SnapshotStore interface {
	Save(ctx context.Context, snap *regime.SessionSnapshot) error
	// LoadIfFresh returns the stored snapshot for symbol, or nil when no
	// snapshot exists or the stored one is older than maxAge. Stale
	// snapshots are not an error: a cold start is the correct fallback.
	LoadIfFresh(ctx context.Context, symbol string, maxAge time.Duration) (*regime.SessionSnapshot, error)
}

// FileStore keeps one JSON snapshot file per symbol under a data directory.
type FileStore struct {
	logger  *zap.Logger
	dataDir string
}

// NewFileStore creates a file-backed snapshot store
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &FileStore{
		logger:  logger,
		dataDir: dataDir,
	}, nil
}

func (fs *FileStore) path(symbol string) string {
	name := strings.ToLower(strings.ReplaceAll(symbol, "/", "_"))
	return filepath.Join(fs.dataDir, fmt.Sprintf("regime_%s.json", name))
}

// Save writes the snapshot for the symbol, replacing any previous one.
func (fs *FileStore) Save(_ context.Context, snap *regime.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(fs.path(snap.Symbol), data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	fs.logger.Debug("snapshot saved",
		zap.String("symbol", snap.Symbol),
		zap.Int("totalBars", snap.TotalBars),
	)

	return nil
}

// LoadIfFresh reads the stored snapshot for symbol, ignoring missing files
// and snapshots older than maxAge.
func (fs *FileStore) LoadIfFresh(_ context.Context, symbol string, maxAge time.Duration) (*regime.SessionSnapshot, error) {
	data, err := os.ReadFile(fs.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap regime.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	if time.Since(snap.SavedAt) > maxAge {
		fs.logger.Info("ignoring stale snapshot",
			zap.String("symbol", symbol),
			zap.Time("savedAt", snap.SavedAt),
			zap.Duration("maxAge", maxAge),
		)
		return nil, nil
	}

	return &snap, nil
}
