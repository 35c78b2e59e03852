package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, secret string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, AdminSecret: secret})
}

func TestPrice(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/price", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-Admin-Secret"))
		_, _ = w.Write([]byte(`{"price":0.42,"symbol":"POL","convert":"USD"}`))
	})

	p, err := c.Price(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.42, p.Price, 1e-9)
	assert.Equal(t, "POL", p.Symbol)
}

func TestReadings_LimitQuery(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets/3/readings", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"assetId":3,"readings":[{"id":9,"assetId":3,"timestamp":"2026-01-02T03:04:05Z","temperature":71.5,"vibration":0.2}],"count":1,"nextCursor":"def","hasMore":true}`))
	})

	r, err := c.Readings(context.Background(), 3, 5, "abc")
	require.NoError(t, err)
	assert.True(t, r.HasMore)
	assert.Equal(t, "def", r.NextCursor)
	require.Len(t, r.Readings, 1)
	assert.Equal(t, int64(9), r.Readings[0].ID)
	assert.InDelta(t, 71.5, r.Readings[0].Temperature, 1e-9)
}

func TestReadings_DefaultLimitOmitsQuery(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"assetId":3,"readings":[],"count":0}`))
	})

	_, err := c.Readings(context.Background(), 3, 0, "")
	require.NoError(t, err)
}

func TestReportable(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets/1/reportable", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("user"))
		_, _ = w.Write([]byte(`{"assetId":1,"status":"Operational","reportable":true,"eligibility":{"user":"0xabc","count":0,"eligible":true,"degraded":false}}`))
	})

	r, err := c.Reportable(context.Background(), 1, "0xabc")
	require.NoError(t, err)
	assert.True(t, r.Reportable)
	assert.True(t, r.Eligibility.Eligible)
}

func TestQuote_SendsAdminSecret(t *testing.T) {
	c := newTestClient(t, "s3cret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cret", r.Header.Get("X-Admin-Secret"))
		assert.Equal(t, "/v1/assets/2/settlement/quote", r.URL.Path)
		_, _ = w.Write([]byte(`{"assetId":2,"hasSnapshot":true,"userWei":"4000","payable":true,"record":{"index":0,"technician":"0x7ec4","readyForPayment":true,"isPaid":false}}`))
	})

	q, err := c.Quote(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, q.Payable)
	assert.Equal(t, "4000", q.UserWei)
	require.NotNil(t, q.Record)
	assert.True(t, q.Record.ReadyForPayment)
}

func TestSettle_Body(t *testing.T) {
	c := newTestClient(t, "s3cret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1.5", body["technicianAmount"])
		_, _ = w.Write([]byte(`{"success":true,"alreadySettled":false,"assetId":2,"technicianWei":"1500000000000000000","snapshotCleared":true}`))
	})

	s, err := c.Settle(context.Background(), 2, "1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", s.TechnicianWei)
	assert.True(t, s.SnapshotCleared)
}

func TestCancelFault_UnwrapsCancellation(t *testing.T) {
	c := newTestClient(t, "s3cret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets/4/faults/cancel", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"cancellation":{"assetId":4,"txHash":"0xfeed","reason":"duplicate","snapshotCleared":true}}`))
	})

	out, err := c.CancelFault(context.Background(), 4, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), out.AssetID)
	assert.Equal(t, "0xfeed", out.TxHash)
	assert.True(t, out.SnapshotCleared)
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"structured", http.StatusConflict, `{"error":"invalid_transition","message":"asset is broken","reason":"AssetNotOperational"}`, "API error 409 invalid_transition: asset is broken (AssetNotOperational)"},
		{"plain text", http.StatusBadGateway, `upstream down`, "API error 502: upstream down"},
		{"empty", http.StatusUnauthorized, ``, "API error 401: Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Asset(context.Background(), 1)
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.status, StatusOf(err))
		})
	}
}

func TestStatusOf_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusOf(context.Canceled))
}
