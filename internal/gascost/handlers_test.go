package gascost

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/assetwatch/internal/oracle"
)

func setupRouter(t *testing.T, prices *fakePrices) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	h := NewHandler(NewRecorder(store, prices, nil, slog.Default()), prices)
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	h.RegisterAdminRoutes(r.Group("/v1"))
	return r, store
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_GetPrice(t *testing.T) {
	r, _ := setupRouter(t, &fakePrices{price: 0.33})
	w := doJSON(r, "GET", "/v1/price", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":0.33`)

	r, _ = setupRouter(t, &fakePrices{err: oracle.ErrUnavailable})
	w = doJSON(r, "GET", "/v1/price", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandler_RecordAndList(t *testing.T) {
	r, store := setupRouter(t, &fakePrices{price: 0.5})

	w := doJSON(r, "POST", "/v1/gas-costs", map[string]interface{}{
		"assetId": 0, "user": alice, "costWei": "65000000000000",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	snap, err := store.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, snap.PolUSD)

	w = doJSON(r, "GET", "/v1/gas-costs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Snapshots []Snapshot `json:"snapshots"`
		Count     int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "65000000000000", body.Snapshots[0].CostWei.String())
}

func TestHandler_RecordValidation(t *testing.T) {
	r, _ := setupRouter(t, &fakePrices{price: 0.5})

	cases := []map[string]interface{}{
		{"user": alice, "costWei": "1"},
		{"assetId": 1, "costWei": "1"},
		{"assetId": 1, "user": "bob", "costWei": "1"},
		{"assetId": 1, "user": alice},
		{"assetId": 1, "user": alice, "costWei": "1.5"},
	}
	for _, body := range cases {
		w := doJSON(r, "POST", "/v1/gas-costs", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}
}

func TestHandler_DeleteSnapshot(t *testing.T) {
	r, store := setupRouter(t, &fakePrices{price: 0.5})
	require.NoError(t, store.Upsert(context.Background(), &Snapshot{AssetID: 5, User: alice, CostWei: wei("99"), PolUSD: 0.5}))

	w := doJSON(r, "DELETE", "/v1/gas-costs?assetId=5&user="+alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, "DELETE", "/v1/gas-costs?assetId=5&user="+alice+"&costWei=98", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, "DELETE", "/v1/gas-costs?assetId=5&user="+alice+"&costWei=99", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err := store.Get(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandler_Reset(t *testing.T) {
	r, store := setupRouter(t, &fakePrices{price: 0.5})
	require.NoError(t, store.Upsert(context.Background(), &Snapshot{AssetID: 5, User: alice, CostWei: wei("99"), PolUSD: 0.5}))

	w := doJSON(r, "POST", "/v1/gas-costs/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list, _ := store.List(context.Background())
	assert.Empty(t, list)
}
