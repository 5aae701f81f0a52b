// Package types provides configuration types for the options engine.
package types

import "time"

// EngineConfig configures the regime classifier
type EngineConfig struct {
	MinBarsForRegime     int     `json:"minBarsForRegime"`     // bars before a regime is established
	DecisionCooldownBars int     `json:"decisionCooldownBars"` // bars between actions after a transition
	HistoryCap           int     `json:"historyCap"`           // history length triggering truncation
	HistoryKeep          int     `json:"historyKeep"`          // entries kept after truncation
	BarsPerTradingDay    float64 `json:"barsPerTradingDay"`    // HV annualization input
}

// DefaultEngineConfig returns sensible defaults
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MinBarsForRegime:     3,
		DecisionCooldownBars: 2,
		HistoryCap:           1000,
		HistoryKeep:          500,
		BarsPerTradingDay:    26, // 15-minute bars over a 6.5h session
	}
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "localhost",
		Port:           8090,
		WebSocketPath:  "/ws",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxConnections: 100,
		EnableMetrics:  true,
	}
}

// PersistenceConfig represents snapshot store configuration
type PersistenceConfig struct {
	Backend        string        `json:"backend"` // "file", "redis", "none"
	DataDir        string        `json:"dataDir"`
	RedisAddr      string        `json:"redisAddr"`
	RedisDB        int           `json:"redisDb"`
	SnapshotTTL    time.Duration `json:"snapshotTtl"`
	MaxSnapshotAge time.Duration `json:"maxSnapshotAge"` // snapshots older than this are ignored on restore
}

// DefaultPersistenceConfig returns sensible defaults
func DefaultPersistenceConfig() *PersistenceConfig {
	return &PersistenceConfig{
		Backend:        "file",
		DataDir:        "./data",
		RedisAddr:      "localhost:6379",
		SnapshotTTL:    24 * time.Hour,
		MaxSnapshotAge: 1 * time.Hour,
	}
}
