// Package config loads engine configuration from a YAML file, environment
// variables, and defaults, in that order of precedence (env over file over
// defaults).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/options-engine/pkg/types"
)

// Config is the full engine configuration
type Config struct {
	Server      *types.ServerConfig      `json:"server"`
	Engine      *types.EngineConfig      `json:"engine"`
	Persistence *types.PersistenceConfig `json:"persistence"`
	LogLevel    string                   `json:"logLevel"`
	Symbols     []string                 `json:"symbols"`
}

// Load reads configuration from the given file (optional) with
// OPTIONS_ENGINE_* environment overrides on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	server := types.DefaultServerConfig()
	engine := types.DefaultEngineConfig()
	persistence := types.DefaultPersistenceConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("symbols", []string{"SPY"})

	v.SetDefault("server.host", server.Host)
	v.SetDefault("server.port", server.Port)
	v.SetDefault("server.websocket_path", server.WebSocketPath)
	v.SetDefault("server.read_timeout", server.ReadTimeout)
	v.SetDefault("server.write_timeout", server.WriteTimeout)
	v.SetDefault("server.max_connections", server.MaxConnections)
	v.SetDefault("server.enable_metrics", server.EnableMetrics)

	v.SetDefault("engine.min_bars_for_regime", engine.MinBarsForRegime)
	v.SetDefault("engine.decision_cooldown_bars", engine.DecisionCooldownBars)
	v.SetDefault("engine.history_cap", engine.HistoryCap)
	v.SetDefault("engine.history_keep", engine.HistoryKeep)
	v.SetDefault("engine.bars_per_trading_day", engine.BarsPerTradingDay)

	v.SetDefault("persistence.backend", persistence.Backend)
	v.SetDefault("persistence.data_dir", persistence.DataDir)
	v.SetDefault("persistence.redis_addr", persistence.RedisAddr)
	v.SetDefault("persistence.redis_db", persistence.RedisDB)
	v.SetDefault("persistence.snapshot_ttl", persistence.SnapshotTTL)
	v.SetDefault("persistence.max_snapshot_age", persistence.MaxSnapshotAge)

	v.SetEnvPrefix("OPTIONS_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		Symbols:  v.GetStringSlice("symbols"),
		Server: &types.ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			WebSocketPath:  v.GetString("server.websocket_path"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			MaxConnections: v.GetInt("server.max_connections"),
			EnableMetrics:  v.GetBool("server.enable_metrics"),
		},
		Engine: &types.EngineConfig{
			MinBarsForRegime:     v.GetInt("engine.min_bars_for_regime"),
			DecisionCooldownBars: v.GetInt("engine.decision_cooldown_bars"),
			HistoryCap:           v.GetInt("engine.history_cap"),
			HistoryKeep:          v.GetInt("engine.history_keep"),
			BarsPerTradingDay:    v.GetFloat64("engine.bars_per_trading_day"),
		},
		Persistence: &types.PersistenceConfig{
			Backend:        v.GetString("persistence.backend"),
			DataDir:        v.GetString("persistence.data_dir"),
			RedisAddr:      v.GetString("persistence.redis_addr"),
			RedisDB:        v.GetInt("persistence.redis_db"),
			SnapshotTTL:    v.GetDuration("persistence.snapshot_ttl"),
			MaxSnapshotAge: v.GetDuration("persistence.max_snapshot_age"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MinBarsForRegime < 1 {
		return fmt.Errorf("engine.min_bars_for_regime must be >= 1, got %d", c.Engine.MinBarsForRegime)
	}
	if c.Engine.HistoryKeep > c.Engine.HistoryCap {
		return fmt.Errorf("engine.history_keep (%d) must not exceed engine.history_cap (%d)",
			c.Engine.HistoryKeep, c.Engine.HistoryCap)
	}
	switch c.Persistence.Backend {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("persistence.backend must be file, redis, or none, got %q", c.Persistence.Backend)
	}
	return nil
}
