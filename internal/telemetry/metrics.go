// Package telemetry provides Prometheus metrics for the options engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds all Prometheus metrics for the engine
type MetricsRegistry struct {
	registry *prometheus.Registry

	Classifications  *prometheus.CounterVec
	RegimeChanges    *prometheus.CounterVec
	GateSuppressions *prometheus.CounterVec
	Confidence       *prometheus.GaugeVec
	BarsInRegime     *prometheus.GaugeVec
	StressTests      prometheus.Counter
	WalkForwardRuns  prometheus.Counter
	ActiveClients    prometheus.Gauge
}

// NewMetricsRegistry creates a registry with all engine metrics registered
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "options_engine_classifications_total",
				Help: "Classifications produced, by symbol and final action",
			},
			[]string{"symbol", "action"},
		),

		RegimeChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "options_engine_regime_changes_total",
				Help: "Regime transitions detected, by symbol",
			},
			[]string{"symbol"},
		),

		GateSuppressions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "options_engine_gate_suppressions_total",
				Help: "Actions suppressed by the anti-whiplash gates, by symbol",
			},
			[]string{"symbol"},
		),

		Confidence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "options_engine_confidence",
				Help: "Confidence of the most recent classification, by symbol",
			},
			[]string{"symbol"},
		),

		BarsInRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "options_engine_bars_in_regime",
				Help: "Bars the current regime has persisted, by symbol",
			},
			[]string{"symbol"},
		),

		StressTests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "options_engine_stress_tests_total",
				Help: "Kelly stress tests executed",
			},
		),

		WalkForwardRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "options_engine_walkforward_runs_total",
				Help: "Walk-forward analyses started",
			},
		),

		ActiveClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "options_engine_ws_clients",
				Help: "Connected WebSocket clients",
			},
		),
	}

	m.registry.MustRegister(
		m.Classifications,
		m.RegimeChanges,
		m.GateSuppressions,
		m.Confidence,
		m.BarsInRegime,
		m.StressTests,
		m.WalkForwardRuns,
		m.ActiveClients,
	)

	return m
}

// ObserveClassification records the metrics for one classification.
func (m *MetricsRegistry) ObserveClassification(symbol, action string, confidence float64, barsInRegime int, regimeChanged, suppressed bool) {
	m.Classifications.WithLabelValues(symbol, action).Inc()
	m.Confidence.WithLabelValues(symbol).Set(confidence)
	m.BarsInRegime.WithLabelValues(symbol).Set(float64(barsInRegime))
	if regimeChanged {
		m.RegimeChanges.WithLabelValues(symbol).Inc()
	}
	if suppressed {
		m.GateSuppressions.WithLabelValues(symbol).Inc()
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
