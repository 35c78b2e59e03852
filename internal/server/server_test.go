package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/config"
	"github.com/mbd888/assetwatch/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminSecret = "s3cret"

var (
	reporter = common.HexToAddress("0x000000000000000000000000000000000000b0b1")
	tech     = common.HexToAddress("0x0000000000000000000000000000000000007ec4")
)

type fakePrices struct {
	mu    sync.Mutex
	price float64
}

func (f *fakePrices) CurrentPrice(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *fakePrices) set(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func testConfig() *config.Config {
	threshold := 60.0
	return &config.Config{
		Port:            "0",
		Env:             "development",
		LogLevel:        "error",
		LogFormat:       "text",
		StoreDriver:     config.StoreMemory,
		RPCURL:          config.DefaultRPCURL,
		ChainID:         config.DefaultChainID,
		LedgerTimeout:   time.Second,
		ConfirmTimeout:  time.Second,
		PriceCacheTTL:   time.Minute,
		Assets:          []config.Asset{{ID: 0, Name: "Lobby lamp", Threshold: &threshold}, {ID: 1}, {ID: 2}},
		IngestInterval:  time.Hour,
		CommitInterval:  time.Hour,
		Threshold:       70,
		TriggerCount:    3,
		IntegrityWindow: 3,
		BanThreshold:    3,
		BanCacheTTL:     time.Minute,
		WatcherPoll:     time.Hour,
		AdminSecret:     adminSecret,
	}
}

type testServer struct {
	*Server
	sim    *chain.Simulated
	prices *fakePrices
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	sim := chain.NewSimulated(3)
	prices := &fakePrices{price: 0.5}
	s, err := New(cfg,
		WithLedger(sim),
		WithPriceSource(prices),
		WithRateLimit(ratelimit.Config{
			Read:            ratelimit.Budget{RequestsPerMinute: 6000, BurstSize: 1000},
			Write:           ratelimit.Budget{RequestsPerMinute: 6000, BurstSize: 1000},
			CleanupInterval: time.Minute,
			IdleAfter:       time.Minute,
		}),
	)
	require.NoError(t, err)
	s.drainDelay = 0
	t.Cleanup(func() { _ = s.Shutdown() })
	return &testServer{Server: s, sim: sim, prices: prices}
}

func (ts *testServer) do(t *testing.T, method, path, body string, admin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if admin {
		req.Header.Set("X-Admin-Secret", adminSecret)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])

	checks := resp["checks"].([]interface{})
	require.Len(t, checks, 2, "no database and no breakers with a simulated ledger and injected prices")
	assert.Equal(t, "ledger", checks[0].(map[string]interface{})["name"])

	// The monitor has not been started; it is optional so the service stays healthy.
	monitor := checks[1].(map[string]interface{})
	assert.Equal(t, "monitor", monitor["name"])
	assert.Equal(t, false, monitor["healthy"])
	assert.Equal(t, true, monitor["optional"])
}

func TestHealthEndpoint_LedgerDown(t *testing.T) {
	ts := newTestServer(t)
	ts.sim.FailNext("ping", chain.ErrSimulatedOutage)

	w, resp := ts.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", resp["status"])
}

func TestLivenessAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/health/live", "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/health/ready", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready before Run")

	ts.ready.Store(true)
	w, _ = ts.do(t, http.MethodGet, "/health/ready", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "assetwatch_")
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestRequestIDMiddleware(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/v1/assets", "", false)
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)

	req := httptest.NewRequest(http.MethodGet, "/v1/assets", nil)
	req.Header.Set("X-Request-ID", "from-lb")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, "from-lb", rec.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(t, http.MethodGet, "/v1/assets", "", false)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, http.MethodPost, "/v1/gas-costs/reset", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", resp["error"])

	req := httptest.NewRequest(http.MethodPost, "/v1/gas-costs/reset", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	w, _ = ts.do(t, http.MethodPost, "/v1/gas-costs/reset", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenRoutesDoNotRequireSecret(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/v1/price", "/v1/assets/1", "/v1/gas-costs", "/v1/assets/1/readings"} {
		w, _ := ts.do(t, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg,
		WithLedger(chain.NewSimulated(3)),
		WithPriceSource(&fakePrices{price: 0.5}),
		WithRateLimit(ratelimit.Config{
			Read:            ratelimit.Budget{RequestsPerMinute: 1, BurstSize: 1},
			Write:           ratelimit.Budget{RequestsPerMinute: 1, BurstSize: 1},
			CleanupInterval: time.Minute,
			IdleAfter:       time.Minute,
		}),
	)
	require.NoError(t, err)
	s.drainDelay = 0
	t.Cleanup(func() { _ = s.Shutdown() })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/assets", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func TestListAssets_AppliesOverrides(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, http.MethodGet, "/v1/assets", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, resp["count"])

	assets := resp["assets"].([]interface{})
	lamp := assets[0].(map[string]interface{})
	assert.Equal(t, "Lobby lamp", lamp["name"])
	assert.EqualValues(t, 60, lamp["threshold"])
	assert.EqualValues(t, 3, lamp["triggerCount"])
	assert.EqualValues(t, 70, assets[1].(map[string]interface{})["threshold"])
}

func TestInfo(t *testing.T) {
	ts := newTestServer(t)
	w, resp := ts.do(t, http.MethodGet, "/v1/info", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ts.sim.Address().Hex(), resp["operator"])
	assert.Equal(t, true, resp["simulated"])
	assert.Equal(t, false, resp["monitorRunning"])
}

// TestFaultToSettlementFlow walks one asset from a user filing through
// maintenance to payment over the HTTP API.
func TestFaultToSettlementFlow(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, http.MethodGet, "/v1/assets/1/reportable?user="+reporter.Hex(), "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["reportable"])

	cost := big.NewInt(2_000_000_000_000_000)
	hash, err := ts.sim.FileFault(reporter, 1, "Flickering", cost)
	require.NoError(t, err)

	w, resp = ts.do(t, http.MethodPost, "/v1/assets/1/faults",
		`{"user":"`+reporter.Hex()+`","txHash":"`+hash+`"}`, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, resp["success"])

	w, resp = ts.do(t, http.MethodGet, "/v1/gas-costs", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp["count"])

	w, resp = ts.do(t, http.MethodGet, "/v1/assets/1", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Broken", resp["status"])

	require.NoError(t, ts.sim.StartMaintenance(tech, 1))
	require.NoError(t, ts.sim.CompleteMaintenance(1, true))

	// price halved since filing: the user gets twice the POL back
	ts.prices.set(0.25)

	w, resp = ts.do(t, http.MethodGet, "/v1/assets/1/settlement/quote", "", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "4000000000000000", resp["userWei"])

	w, resp = ts.do(t, http.MethodPost, "/v1/assets/1/settlement", `{"technicianAmount":"1.5"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, resp["alreadySettled"])
	assert.Equal(t, "1500000000000000000", resp["technicianWei"])
	assert.Equal(t, "4000000000000000", resp["userWei"])
	assert.Equal(t, true, resp["snapshotCleared"])

	w, resp = ts.do(t, http.MethodGet, "/v1/gas-costs", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, resp["count"])

	w, resp = ts.do(t, http.MethodPost, "/v1/assets/1/settlement", `{"technicianAmount":"1.5"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["alreadySettled"])
}

func TestCancelFaultFlow(t *testing.T) {
	ts := newTestServer(t)

	hash, err := ts.sim.FileFault(reporter, 2, "Noise", big.NewInt(1000))
	require.NoError(t, err)
	w, _ := ts.do(t, http.MethodPost, "/v1/assets/2/faults",
		`{"user":"`+reporter.Hex()+`","txHash":"`+hash+`"}`, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = ts.do(t, http.MethodPost, "/v1/assets/2/faults/cancel", `{"reason":"false alarm"}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp := ts.do(t, http.MethodPost, "/v1/assets/2/faults/cancel", `{"reason":"false alarm"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cancellation, ok := resp["cancellation"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	assert.Equal(t, true, cancellation["snapshotCleared"])

	w, resp = ts.do(t, http.MethodGet, "/v1/users/"+reporter.Hex()+"/eligibility", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp["count"])
}

func TestReconcileRoute(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPost, "/v1/admin/reconcile", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/v1/admin/reconcile", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := ts.do(t, http.MethodPost, "/v1/admin/reconcile", "", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 0, resp["checked"])
	assert.Empty(t, resp["stale"])

	w, _ = ts.do(t, http.MethodGet, "/v1/admin/reconcile", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

// ---------------------------------------------------------------------------
// Storage drivers
// ---------------------------------------------------------------------------

func TestNew_SQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetwatch.db")
	ts := newTestServer(t, func(c *config.Config) {
		c.StoreDriver = config.StoreSQLite
		c.SQLitePath = path
	})
	require.NotNil(t, ts.db)

	w, resp := ts.do(t, http.MethodPost, "/v1/gas-costs",
		`{"assetId":1,"user":"`+reporter.Hex()+`","costWei":"1000","polUsd":0.5}`, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, resp = ts.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	names := []string{}
	for _, c := range resp["checks"].([]interface{}) {
		names = append(names, c.(map[string]interface{})["name"].(string))
	}
	assert.ElementsMatch(t, []string{"database", "ledger", "monitor"}, names)
}

func TestNew_SimulatedLedgerCoversConfiguredAssets(t *testing.T) {
	cfg := testConfig()
	cfg.Assets = []config.Asset{{ID: 4}, {ID: 7}}
	s, err := New(cfg, WithPriceSource(&fakePrices{price: 1}))
	require.NoError(t, err)
	s.drainDelay = 0
	t.Cleanup(func() { _ = s.Shutdown() })

	next, err := s.ledger.NextAssetID(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 8, next)
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://app:hunter2@db:5432/assetwatch")
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "app:")
	assert.Equal(t, "postgres://db/assetwatch", maskDSN("postgres://db/assetwatch"))
	assert.Equal(t, "***", maskDSN("::bad"))
}
