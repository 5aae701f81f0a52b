// Package main provides the entry point for the options regime engine:
// - Rule-based regime classification (volatility, gamma, trend)
// - Anti-whiplash decision persistence
// - Kelly Criterion stress testing via Monte Carlo
// - Walk-forward robustness validation
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/options-engine/internal/api"
	"github.com/atlas-desktop/options-engine/internal/config"
	"github.com/atlas-desktop/options-engine/internal/indicators"
	"github.com/atlas-desktop/options-engine/internal/persistence"
	"github.com/atlas-desktop/options-engine/internal/sizing"
	"github.com/atlas-desktop/options-engine/internal/telemetry"
	"github.com/atlas-desktop/options-engine/internal/walkforward"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Config file path (optional)")
	host := flag.String("host", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger not up yet
		panic(err)
	}

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting options regime engine",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("persistence", cfg.Persistence.Backend),
		zap.Strings("symbols", cfg.Symbols),
	)

	store, closeStore, err := buildStore(logger, cfg.Persistence)
	if err != nil {
		logger.Fatal("Failed to initialize snapshot store", zap.Error(err))
	}
	if closeStore != nil {
		defer closeStore()
	}

	metrics := telemetry.NewMetricsRegistry()

	registry := api.NewRegistry(logger, cfg.Engine, store, metrics, cfg.Persistence.MaxSnapshotAge)
	sizer := sizing.NewStressTester(logger, sizing.DefaultSizerConfig())
	validator := walkforward.NewValidator(logger, walkforward.DefaultConfig())

	server := api.NewServer(logger, cfg.Server, registry, sizer, validator, metrics)
	server.RegisterStrategy("sma-crossover", smaCrossoverStrategy)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// buildStore picks the snapshot backend from config. A nil store disables
// persistence entirely.
func buildStore(logger *zap.Logger, cfg *types.PersistenceConfig) (persistence.SnapshotStore, func(), error) {
	switch cfg.Backend {
	case "file":
		fs, err := persistence.NewFileStore(logger, cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	case "redis":
		rs := persistence.NewRedisStore(logger, persistence.RedisConfig{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
			TTL:  cfg.SnapshotTTL,
		})
		return rs, func() { rs.Close() }, nil
	default:
		return nil, nil, nil
	}
}

// smaCrossoverStrategy is the reference strategy exposed over the
// walk-forward API. Long when the fast SMA is above the slow SMA. Params:
// "fast" and "slow" (bar counts).
func smaCrossoverStrategy(data []types.OHLCV, params map[string]float64) *walkforward.StrategyResult {
	fast := int(params["fast"])
	slow := int(params["slow"])
	if fast <= 0 || slow <= fast || len(data) <= slow {
		return &walkforward.StrategyResult{}
	}

	result := &walkforward.StrategyResult{}
	inPosition := false
	entry := 0.0

	for i := slow; i < len(data); i++ {
		window := data[:i+1]
		fastMA := indicators.SMA(window, fast)
		slowMA := indicators.SMA(window, slow)
		px, _ := window[i].Close.Float64()

		switch {
		case !inPosition && fastMA > slowMA:
			inPosition = true
			entry = px
		case inPosition && fastMA < slowMA:
			inPosition = false
			ret := (px - entry) / entry
			result.Trades++
			result.NetReturn += ret
			if ret > 0 {
				result.WinRate++
			}
		}
	}

	if result.Trades > 0 {
		result.WinRate /= float64(result.Trades)
	}
	return result
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
