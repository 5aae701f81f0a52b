package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/regime"
)

// RedisStore keeps snapshots in Redis keyed by symbol. The key TTL bounds
// storage growth independently of the freshness check on load.
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig configures the Redis snapshot store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore creates a Redis-backed snapshot store
func NewRedisStore(logger *zap.Logger, cfg RedisConfig) *RedisStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStore{
		logger: logger,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

func snapshotKey(symbol string) string {
	return fmt.Sprintf("options-engine:regime:%s", symbol)
}

// Save writes the snapshot for the symbol with the configured TTL.
func (rs *RedisStore) Save(ctx context.Context, snap *regime.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := rs.client.Set(ctx, snapshotKey(snap.Symbol), data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}

	return nil
}

// LoadIfFresh reads the stored snapshot for symbol, ignoring missing keys
// and snapshots older than maxAge.
func (rs *RedisStore) LoadIfFresh(ctx context.Context, symbol string, maxAge time.Duration) (*regime.SessionSnapshot, error) {
	data, err := rs.client.Get(ctx, snapshotKey(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}

	var snap regime.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	if time.Since(snap.SavedAt) > maxAge {
		rs.logger.Info("ignoring stale snapshot",
			zap.String("symbol", symbol),
			zap.Time("savedAt", snap.SavedAt),
			zap.Duration("maxAge", maxAge),
		)
		return nil, nil
	}

	return &snap, nil
}

// Close releases the underlying Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
