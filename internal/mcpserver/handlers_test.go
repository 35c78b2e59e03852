package mcpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/assetwatch/internal/apiclient"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := apiclient.New(apiclient.Config{BaseURL: ts.URL, AdminSecret: "s3cret"})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func jsonHandler(t *testing.T, wantPath string, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

const reporter = "0x000000000000000000000000000000000000b0b1"

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetPrice(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/price", map[string]any{
		"price": 0.5, "symbol": "POL", "convert": "USD",
	}))
	defer cleanup()

	result, err := h.HandleGetPrice(t.Context(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "POL/USD: 0.500000", resultText(t, result))
}

func TestHandleGetPrice_UpstreamError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"price_unavailable","message":"oracle down"}`))
	}))
	defer cleanup()

	result, err := h.HandleGetPrice(t.Context(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "oracle down")
}

func TestHandleListAssets(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/assets", map[string]any{
		"assets": []map[string]any{
			{"id": 0, "name": "Lobby lamp", "threshold": 60, "triggerCount": 3},
			{"id": 1, "name": "", "threshold": 70, "triggerCount": 3},
		},
		"count": 2,
	}))
	defer cleanup()

	result, err := h.HandleListAssets(t.Context(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 asset(s)")
	assert.Contains(t, text, "#0 Lobby lamp")
	assert.Contains(t, text, "#1 (unnamed)")
	assert.Contains(t, text, "Threshold: 60.0, trigger after 3")
}

func TestHandleListAssets_Empty(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/assets", map[string]any{"assets": []any{}, "count": 0}))
	defer cleanup()

	result, err := h.HandleListAssets(t.Context(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No assets configured.", resultText(t, result))
}

func TestHandleGetAsset(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/assets/2", map[string]any{
		"assetId": 2, "status": "Broken", "allowedActions": []string{"startMaintenance", "cancelFault"},
	}))
	defer cleanup()

	result, err := h.HandleGetAsset(t.Context(), makeRequest(map[string]any{"asset_id": float64(2)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Status: Broken")
	assert.Contains(t, text, "startMaintenance, cancelFault")
}

func TestHandleGetAsset_MissingID(t *testing.T) {
	var calls atomic.Int32
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer cleanup()

	result, err := h.HandleGetAsset(t.Context(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "asset_id is required")
	assert.Equal(t, int32(0), calls.Load())
}

func TestHandleGetReadings(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets/1/readings", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"assetId":1,"count":2,"readings":[
			{"id":2,"assetId":1,"timestamp":"2026-03-01T10:00:05Z","temperature":72.25,"vibration":0.5},
			{"id":1,"assetId":1,"timestamp":"2026-03-01T10:00:00Z","temperature":68,"vibration":0.25}]}`))
	}))
	defer cleanup()

	result, err := h.HandleGetReadings(t.Context(), makeRequest(map[string]any{"asset_id": float64(1), "limit": float64(2)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 reading(s) for asset #1")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "2026-03-01T10:00:05Z")
	assert.Contains(t, lines[1], "temp=72.25")
}

func TestHandleGetReadings_NextPage(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"assetId":1,"count":1,"hasMore":true,"nextCursor":"def","readings":[
			{"id":4,"assetId":1,"timestamp":"2026-03-01T10:00:05Z","temperature":70,"vibration":0.5}]}`))
	}))
	defer cleanup()

	result, err := h.HandleGetReadings(t.Context(), makeRequest(map[string]any{"asset_id": float64(1), "cursor": "abc"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "pass cursor=def for the next page")
}

func TestHandleGetReadings_None(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/assets/5/readings", map[string]any{"assetId": 5, "readings": []any{}, "count": 0}))
	defer cleanup()

	result, err := h.HandleGetReadings(t.Context(), makeRequest(map[string]any{"asset_id": float64(5)}))
	require.NoError(t, err)
	assert.Equal(t, "No readings recorded for asset #5.", resultText(t, result))
}

func TestHandleGetIntegrity(t *testing.T) {
	t.Run("digest", func(t *testing.T) {
		h, cleanup := newTestSetup(jsonHandler(t, "/v1/assets/0/integrity", map[string]any{
			"assetId": 0, "window": 10, "hash": "0xabc123", "readings": 10,
		}))
		defer cleanup()

		result, err := h.HandleGetIntegrity(t.Context(), makeRequest(map[string]any{"asset_id": float64(0)}))
		require.NoError(t, err)
		text := resultText(t, result)
		assert.Contains(t, text, "over 10 reading(s) (window 10)")
		assert.Contains(t, text, "0xabc123")
	})

	t.Run("skipped", func(t *testing.T) {
		h, cleanup := newTestSetup(jsonHandler(t, "/v1/assets/0/integrity", map[string]any{
			"assetId": 0, "window": 10, "hash": "", "readings": 0, "skipReason": "no readings",
		}))
		defer cleanup()

		result, err := h.HandleGetIntegrity(t.Context(), makeRequest(map[string]any{"asset_id": float64(0)}))
		require.NoError(t, err)
		assert.Equal(t, "No digest for asset #0: no readings", resultText(t, result))
	})
}

func TestHandleCheckReportable(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, reporter, r.URL.Query().Get("user"))
		_, _ = w.Write([]byte(`{"assetId":3,"status":"Operational","reportable":true,
			"eligibility":{"user":"` + reporter + `","count":1,"eligible":true,"degraded":false}}`))
	}))
	defer cleanup()

	result, err := h.HandleCheckReportable(t.Context(), makeRequest(map[string]any{"asset_id": float64(3), "user": reporter}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Yes, "+reporter+" may report")
	assert.Contains(t, text, "Asset status: Operational")
	assert.Contains(t, text, "Cancelled reports: 1")
}

func TestHandleCheckReportable_InvalidUser(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleCheckReportable(t.Context(), makeRequest(map[string]any{"asset_id": float64(3), "user": "bob"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid address")
}

func TestHandleCheckEligibility_Banned(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/users/"+reporter+"/eligibility", map[string]any{
		"user": reporter, "count": 3, "eligible": false, "degraded": false, "threshold": 3,
	}))
	defer cleanup()

	result, err := h.HandleCheckEligibility(t.Context(), makeRequest(map[string]any{"user": reporter}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Cancelled reports: 3 (ban at 3)")
	assert.Contains(t, text, "Banned from reporting")
}

func TestHandleCheckEligibility_Degraded(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/users/"+reporter+"/eligibility", map[string]any{
		"user": reporter, "count": 0, "eligible": true, "degraded": true,
	}))
	defer cleanup()

	result, err := h.HandleCheckEligibility(t.Context(), makeRequest(map[string]any{"user": reporter}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "ledger unavailable")
}

func TestHandleListSnapshots(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/gas-costs", map[string]any{
		"snapshots": []map[string]any{
			{"assetId": 4, "user": reporter, "costWei": "2000000000000000", "polUsd": 0.5, "ts": 1767225600},
		},
		"count": 1,
	}))
	defer cleanup()

	result, err := h.HandleListSnapshots(t.Context(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Asset #4 reported by "+reporter)
	assert.Contains(t, text, "2000000000000000 wei at 0.500000 USD/POL")
	assert.Contains(t, text, "2026-01-01T00:00:00Z")
}

func TestHandleGetQuote(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cret", r.Header.Get("X-Admin-Secret"))
		_, _ = w.Write([]byte(`{"assetId":4,"hasSnapshot":true,"user":"` + reporter + `",
			"costWei":"2000000000000000","filingPrice":0.5,"currentPrice":0.25,"degraded":false,
			"userWei":"4000000000000000","userPol":"0.004","payable":true,
			"record":{"index":0,"technician":"0x7ec4","readyForPayment":true,"isPaid":false}}`))
	}))
	defer cleanup()

	result, err := h.HandleGetQuote(t.Context(), makeRequest(map[string]any{"asset_id": float64(4)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Reimbursement: 0.004 POL (4000000000000000 wei)")
	assert.Contains(t, text, "Technician: 0x7ec4 (record 0)")
	assert.Contains(t, text, "Ready for payment")
}

func TestHandleGetQuote_NoSnapshot(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, "/v1/assets/4/settlement/quote", map[string]any{
		"assetId": 4, "hasSnapshot": false, "payable": false,
	}))
	defer cleanup()

	result, err := h.HandleGetQuote(t.Context(), makeRequest(map[string]any{"asset_id": float64(4)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "nothing to reimburse")
	assert.Contains(t, text, "Not ready for payment")
}

func TestTools_QuoteNeedsAdmin(t *testing.T) {
	names := func(admin bool) []string {
		var out []string
		for _, st := range tools(NewHandlers(nil), admin) {
			out = append(out, st.Tool.Name)
		}
		return out
	}

	assert.NotContains(t, names(false), "get_settlement_quote")
	assert.Contains(t, names(true), "get_settlement_quote")
	assert.Contains(t, names(false), "get_price")
	assert.Len(t, names(false), 8)
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:0", AdminSecret: "s3cret"}))
}
