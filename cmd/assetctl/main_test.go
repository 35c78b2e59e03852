package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, handler http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--api", srv.URL, "--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPrice(t *testing.T) {
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":0.25,"symbol":"POL","convert":"USD"}`))
	}, "price")
	require.NoError(t, err)
	assert.Equal(t, "POL/USD 0.250000\n", out)
}

func TestAsset_InvalidID(t *testing.T) {
	_, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, "asset", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid asset id")
}

func TestAsset_JSON(t *testing.T) {
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"assetId":7,"status":"Under Maintenance","allowedActions":["completeMaintenance"]}`))
	}, "--json", "asset", "7")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Under Maintenance", got["status"])
}

func TestReadings_Limit(t *testing.T) {
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"assetId":1,"readings":[],"count":0}`))
	}, "readings", "1", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "No readings for asset #1")
}

func TestEligibility_Banned(t *testing.T) {
	addr := "0x000000000000000000000000000000000000b0b1"
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/"+addr+"/eligibility", r.URL.Path)
		_, _ = w.Write([]byte(`{"user":"` + addr + `","count":3,"eligible":false,"degraded":false,"threshold":3}`))
	}, "eligibility", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "banned")
	assert.Contains(t, out, "cancelled=3 threshold=3")
}

func TestSettle_RequiresSecret(t *testing.T) {
	t.Setenv("ASSETWATCH_ADMIN_SECRET", "")
	_, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, "settle", "2", "--amount", "1.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin-secret")
}

func TestSettle(t *testing.T) {
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-Admin-Secret"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1.5", body["technicianAmount"])
		_, _ = w.Write([]byte(`{"success":true,"assetId":2,"txHash":"0xabc","technician":"0x7ec4","technicianWei":"1500000000000000000","user":"0xb0b1","userWei":"4000"}`))
	}, "--admin-secret", "k", "settle", "2", "--amount", "1.5")
	require.NoError(t, err)
	assert.Contains(t, out, "settled asset #2 in 0xabc")
	assert.Contains(t, out, "reporter   0xb0b1  4000 wei")
}

func TestSettle_AlreadySettled(t *testing.T) {
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"alreadySettled":true,"assetId":2}`))
	}, "--admin-secret", "k", "settle", "2", "--amount", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "already settled")
}

func TestCancel_ServerError(t *testing.T) {
	_, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"invalid_transition","message":"asset is not broken"}`))
	}, "--admin-secret", "k", "cancel", "2", "--reason", "duplicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "asset is not broken")
}

func TestCancel_ReasonRequired(t *testing.T) {
	_, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, "--admin-secret", "k", "cancel", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason")
}
