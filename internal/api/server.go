package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/sizing"
	"github.com/atlas-desktop/options-engine/internal/telemetry"
	"github.com/atlas-desktop/options-engine/internal/walkforward"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	registry  *Registry
	sizer     *sizing.StressTester
	validator *walkforward.Validator
	metrics   *telemetry.MetricsRegistry

	mu         sync.RWMutex
	strategies map[string]walkforward.StrategyFunc
	runs       map[string]*walkForwardRun
}

// walkForwardRun tracks an asynchronous walk-forward analysis.
type walkForwardRun struct {
	ID       string              `json:"id"`
	Strategy string              `json:"strategy"`
	Status   string              `json:"status"` // "running", "completed"
	Started  time.Time           `json:"started"`
	Result   *walkforward.Result `json:"result,omitempty"`
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, registry *Registry, sizer *sizing.StressTester, validator *walkforward.Validator, metrics *telemetry.MetricsRegistry) *Server {
	if config == nil {
		config = types.DefaultServerConfig()
	}

	s := &Server{
		logger:     logger,
		config:     config,
		router:     mux.NewRouter(),
		hub:        NewHub(logger, metrics),
		registry:   registry,
		sizer:      sizer,
		validator:  validator,
		metrics:    metrics,
		strategies: make(map[string]walkforward.StrategyFunc),
		runs:       make(map[string]*walkForwardRun),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// RegisterStrategy exposes a named strategy for walk-forward runs over the
// API. The core validator stays strategy-agnostic; this map is the only
// place names are bound to implementations.
func (s *Server) RegisterStrategy(name string, fn walkforward.StrategyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[name] = fn
}

// Router exposes the route table for embedding and tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/classify/{symbol}", s.handleClassify).Methods("POST")
	s.router.HandleFunc("/api/v1/regime/{symbol}", s.handleGetRegime).Methods("GET")
	s.router.HandleFunc("/api/v1/regime/{symbol}/history", s.handleGetRegimeHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/sizing/position", s.handlePositionSize).Methods("POST")

	s.router.HandleFunc("/api/v1/walkforward/run", s.handleRunWalkForward).Methods("POST")
	s.router.HandleFunc("/api/v1/walkforward/{id}", s.handleGetWalkForward).Methods("GET")

	if s.config.EnableMetrics && s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start starts the HTTP server and the WebSocket hub.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleGetSymbols returns symbols with live classifiers
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbols": s.registry.Symbols(),
	})
}

// ClassifyRequest is the classify endpoint request body. Bars are optional;
// when present the history-derived input fields are computed server-side.
type ClassifyRequest struct {
	types.ClassifyInput
	Bars []types.OHLCV `json:"bars,omitempty"`
}

// handleClassify runs one bar through the symbol's classifier
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Bars) > 0 {
		s.registry.DeriveFromBars(&req.ClassifyInput, req.Bars)
	}

	rc := s.registry.Classify(r.Context(), symbol, req.ClassifyInput)

	s.hub.BroadcastClassification(rc)

	s.writeJSON(w, http.StatusOK, rc.ToMap())
}

// handleGetRegime returns the current regime for a symbol
func (s *Server) handleGetRegime(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	rc := s.registry.Current(symbol)
	if rc == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no classification for %s", symbol))
		return
	}

	s.writeJSON(w, http.StatusOK, rc.ToMap())
}

// handleGetRegimeHistory returns recent classifications for a symbol
func (s *Server) handleGetRegimeHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	history := s.registry.History(symbol, limit)
	out := make([]map[string]any, len(history))
	for i, rc := range history {
		out[i] = rc.ToMap()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"history": out,
		"count":   len(out),
	})
}

// PositionSizeRequest is the sizing endpoint request body.
type PositionSizeRequest struct {
	WinRate     float64         `json:"winRate"`
	AvgWin      float64         `json:"avgWin"`
	AvgLoss     float64         `json:"avgLoss"`
	SampleSize  int             `json:"sampleSize"`
	AccountSize decimal.Decimal `json:"accountSize"`
	MaxRiskPct  float64         `json:"maxRiskPct"`
}

// handlePositionSize runs a Kelly stress test and returns the sizing
// recommendation
func (s *Server) handlePositionSize(w http.ResponseWriter, r *http.Request) {
	var req PositionSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.sizer.GetSafePositionSize(req.WinRate, req.AvgWin, req.AvgLoss,
		req.SampleSize, req.AccountSize, req.MaxRiskPct)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.metrics != nil {
		s.metrics.StressTests.Inc()
	}

	s.writeJSON(w, http.StatusOK, result)
}

// WalkForwardRequest is the walk-forward endpoint request body.
type WalkForwardRequest struct {
	Strategy  string                `json:"strategy"`
	ParamGrid walkforward.ParamGrid `json:"paramGrid"`
	Start     time.Time             `json:"start"`
	End       time.Time             `json:"end"`
	Bars      []types.OHLCV         `json:"bars"`
}

// handleRunWalkForward starts an asynchronous walk-forward analysis
func (s *Server) handleRunWalkForward(w http.ResponseWriter, r *http.Request) {
	var req WalkForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.RLock()
	strategy, ok := s.strategies[req.Strategy]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", req.Strategy))
		return
	}

	run := &walkForwardRun{
		ID:       uuid.New().String(),
		Strategy: req.Strategy,
		Status:   "running",
		Started:  time.Now(),
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.WalkForwardRuns.Inc()
	}

	go func() {
		result := s.validator.Run(req.Strategy, strategy, req.ParamGrid, req.Start, req.End, req.Bars)

		s.mu.Lock()
		run.Status = "completed"
		run.Result = result
		s.mu.Unlock()
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID, "status": "running"})
}

// handleGetWalkForward returns the state of a walk-forward run
func (s *Server) handleGetWalkForward(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Copy under the lock: the background goroutine mutates Status and
	// Result when the run completes.
	s.mu.RLock()
	run, ok := s.runs[id]
	var snapshot walkForwardRun
	if ok {
		snapshot = *run
	}
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown run id")
		return
	}

	s.writeJSON(w, http.StatusOK, &snapshot)
}

// handleWebSocket upgrades a connection and registers it with the hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
