// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/options-engine/internal/api"
	"github.com/atlas-desktop/options-engine/internal/persistence"
	"github.com/atlas-desktop/options-engine/internal/sizing"
	"github.com/atlas-desktop/options-engine/internal/walkforward"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

func decimalFrom(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func setupTestServer(t *testing.T, store persistence.SnapshotStore) (*api.Registry, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	registry := api.NewRegistry(logger, nil, store, nil, time.Hour)

	sizerConfig := sizing.DefaultSizerConfig()
	sizerConfig.NumSimulations = 200
	sizerConfig.Seed = 42
	sizer := sizing.NewStressTester(logger, sizerConfig)

	validator := walkforward.NewValidator(logger, nil)

	server := api.NewServer(logger, nil, registry, sizer, validator, nil)
	server.RegisterStrategy("always-wins", func(data []types.OHLCV, params map[string]float64) *walkforward.StrategyResult {
		return &walkforward.StrategyResult{WinRate: 0.6, Trades: len(data)}
	})

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return registry, ts
}

func classifyBody(t *testing.T) []byte {
	t.Helper()

	history := make([]float64, 20)
	for i := range history {
		history[i] = 0.11 + float64(i)*0.01
	}

	body, err := json.Marshal(api.ClassifyRequest{
		ClassifyInput: types.ClassifyInput{
			SpotPrice:     585,
			NetGEX:        1.5e9,
			FlipPoint:     583,
			CurrentIV:     0.25,
			IVHistory:     history,
			HistoricalVol: 0.20,
			VIX:           15,
			Momentum4H:    0.1,
			Above20MA:     true,
			Above50MA:     true,
			Timestamp:     time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", result["status"])
	}
}

func TestClassifyEndpoint(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/classify/SPY", "application/json", bytes.NewReader(classifyBody(t)))
	if err != nil {
		t.Fatalf("Classify request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	// Cold start: the confirmation gate holds the action back
	if result["recommended_action"] != string(types.ActionStayFlat) {
		t.Errorf("Expected STAY_FLAT on the first bar, got %v", result["recommended_action"])
	}
	if result["symbol"] != "SPY" {
		t.Errorf("Expected symbol SPY, got %v", result["symbol"])
	}
	if result["bars_in_regime"] != float64(1) {
		t.Errorf("Expected bars_in_regime 1, got %v", result["bars_in_regime"])
	}
}

func TestClassifyEndpointRejectsBadBody(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/classify/SPY", "application/json", bytes.NewReader([]byte("{broken")))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestRegimeEndpoints(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	// No classifier yet
	resp, err := http.Get(ts.URL + "/api/v1/regime/SPY")
	if err != nil {
		t.Fatalf("Regime request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before any classification, got %d", resp.StatusCode)
	}

	// Run two bars through
	for i := 0; i < 2; i++ {
		resp, err := http.Post(ts.URL+"/api/v1/classify/SPY", "application/json", bytes.NewReader(classifyBody(t)))
		if err != nil {
			t.Fatalf("Classify request failed: %v", err)
		}
		resp.Body.Close()
	}

	resp, err = http.Get(ts.URL + "/api/v1/regime/SPY")
	if err != nil {
		t.Fatalf("Regime request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	histResp, err := http.Get(ts.URL + "/api/v1/regime/SPY/history?limit=1")
	if err != nil {
		t.Fatalf("History request failed: %v", err)
	}
	defer histResp.Body.Close()

	var hist struct {
		Symbol  string           `json:"symbol"`
		History []map[string]any `json:"history"`
		Count   int              `json:"count"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&hist); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if hist.Count != 1 || len(hist.History) != 1 {
		t.Errorf("Expected one history entry with limit=1, got %d", hist.Count)
	}

	for _, limit := range []string{"abc", "-1"} {
		badResp, err := http.Get(ts.URL + "/api/v1/regime/SPY/history?limit=" + limit)
		if err != nil {
			t.Fatalf("History request failed: %v", err)
		}
		badResp.Body.Close()
		if badResp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for limit=%s, got %d", limit, badResp.StatusCode)
		}
	}
}

func TestPositionSizeEndpoint(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	body, _ := json.Marshal(map[string]any{
		"winRate":     0.65,
		"avgWin":      15,
		"avgLoss":     10,
		"sampleSize":  50,
		"accountSize": "10000",
		"maxRiskPct":  25,
	})

	resp, err := http.Post(ts.URL+"/api/v1/sizing/position", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Sizing request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result sizing.PositionSizeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if result.KellyOptimal <= 0 {
		t.Errorf("Expected a positive optimal Kelly, got %v", result.KellyOptimal)
	}
	if result.PositionSizePct > 25 {
		t.Errorf("Expected the 25%% cap respected, got %v", result.PositionSizePct)
	}
}

func TestWalkForwardEndpoints(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.OHLCV, 120)
	for i := range bars {
		bars[i] = types.OHLCV{Timestamp: start.Add(time.Duration(i) * 24 * time.Hour)}
	}

	body, _ := json.Marshal(api.WalkForwardRequest{
		Strategy:  "always-wins",
		ParamGrid: walkforward.ParamGrid{"x": {1, 2}},
		Start:     start,
		End:       start.Add(120 * 24 * time.Hour),
		Bars:      bars,
	})

	resp, err := http.Post(ts.URL+"/api/v1/walkforward/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Walk-forward request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if accepted["id"] == "" {
		t.Fatal("Expected a run ID")
	}

	// Poll until the background run completes
	deadline := time.Now().Add(5 * time.Second)
	for {
		pollResp, err := http.Get(ts.URL + "/api/v1/walkforward/" + accepted["id"])
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}

		var run struct {
			Status string              `json:"status"`
			Result *walkforward.Result `json:"result"`
		}
		err = json.NewDecoder(pollResp.Body).Decode(&run)
		pollResp.Body.Close()
		if err != nil {
			t.Fatalf("Failed to decode run: %v", err)
		}

		if run.Status == "completed" {
			if run.Result == nil {
				t.Fatal("Completed run must carry a result")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Walk-forward run did not complete in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWalkForwardPollDuringRun(t *testing.T) {
	logger := zap.NewNop()
	registry := api.NewRegistry(logger, nil, nil, nil, time.Hour)
	sizer := sizing.NewStressTester(logger, sizing.DefaultSizerConfig())
	validator := walkforward.NewValidator(logger, nil)

	server := api.NewServer(logger, nil, registry, sizer, validator, nil)
	server.RegisterStrategy("slow-wins", func(data []types.OHLCV, params map[string]float64) *walkforward.StrategyResult {
		time.Sleep(5 * time.Millisecond)
		return &walkforward.StrategyResult{WinRate: 0.6, Trades: len(data)}
	})

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.OHLCV, 120)
	for i := range bars {
		bars[i] = types.OHLCV{Timestamp: start.Add(time.Duration(i) * 24 * time.Hour)}
	}

	body, _ := json.Marshal(api.WalkForwardRequest{
		Strategy:  "slow-wins",
		ParamGrid: walkforward.ParamGrid{"x": {1, 2}},
		Start:     start,
		End:       start.Add(120 * 24 * time.Hour),
		Bars:      bars,
	})

	resp, err := http.Post(ts.URL+"/api/v1/walkforward/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Walk-forward request failed: %v", err)
	}
	var accepted map[string]string
	err = json.NewDecoder(resp.Body).Decode(&accepted)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	// Poll aggressively from several clients while the run is still
	// mutating its state in the background.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(5 * time.Second)
			for {
				pollResp, err := http.Get(ts.URL + "/api/v1/walkforward/" + accepted["id"])
				if err != nil {
					t.Errorf("Poll failed: %v", err)
					return
				}
				var run struct {
					Status string `json:"status"`
				}
				err = json.NewDecoder(pollResp.Body).Decode(&run)
				pollResp.Body.Close()
				if err != nil {
					t.Errorf("Failed to decode run: %v", err)
					return
				}
				if run.Status == "completed" {
					return
				}
				if time.Now().After(deadline) {
					t.Error("Walk-forward run did not complete in time")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestWalkForwardUnknownStrategy(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	body, _ := json.Marshal(api.WalkForwardRequest{Strategy: "nope"})

	resp, err := http.Post(ts.URL+"/api/v1/walkforward/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown strategy, got %d", resp.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/api/v1/walkforward/no-such-run")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown run, got %d", missing.StatusCode)
	}
}

func TestRegistryPersistsAndRehydrates(t *testing.T) {
	logger := zap.NewNop()
	dir := t.TempDir()

	store, err := persistence.NewFileStore(logger, dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	registry, ts := setupTestServer(t, store)

	for i := 0; i < 3; i++ {
		resp, err := http.Post(ts.URL+"/api/v1/classify/SPY", "application/json", bytes.NewReader(classifyBody(t)))
		if err != nil {
			t.Fatalf("Classify request failed: %v", err)
		}
		resp.Body.Close()
	}

	if rc := registry.Current("SPY"); rc == nil || rc.BarsInRegime != 3 {
		t.Fatalf("Expected 3 bars in regime, got %+v", rc)
	}

	// A fresh registry sharing the store picks the session back up
	rehydrated := api.NewRegistry(logger, nil, store, nil, time.Hour)
	rc := rehydrated.Classify(context.Background(), "SPY", func() types.ClassifyInput {
		var req api.ClassifyRequest
		if err := json.Unmarshal(classifyBody(t), &req); err != nil {
			t.Fatalf("Failed to unmarshal input: %v", err)
		}
		return req.ClassifyInput
	}())

	if rc.BarsInRegime != 4 {
		t.Errorf("Expected the restored session to continue at bar 4, got %d", rc.BarsInRegime)
	}
	if rc.RecommendedAction != types.ActionSellPremium {
		t.Errorf("Expected SELL_PREMIUM from the established regime, got %v", rc.RecommendedAction)
	}
}

func TestDeriveFromBars(t *testing.T) {
	registry := api.NewRegistry(zap.NewNop(), nil, nil, nil, time.Hour)

	start := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]types.OHLCV, 60)
	for i := range bars {
		bars[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			Close:     decimalFrom(580 + float64(i)*0.5),
		}
	}

	in := types.ClassifyInput{SpotPrice: 610}
	registry.DeriveFromBars(&in, bars)

	if in.HistoricalVol <= 0 {
		t.Errorf("Expected a derived historical vol, got %v", in.HistoricalVol)
	}
	if in.Momentum4H <= 0 {
		t.Errorf("Expected positive momentum on a rising tape, got %v", in.Momentum4H)
	}
	if !in.Above20MA || !in.Above50MA {
		t.Error("Spot above a rising tape must sit above both MAs")
	}
}
