package adminhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/session"
)

func newTestRouter(t *testing.T, adminToken string) http.Handler {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "station.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessions, err := session.NewService(db, filepath.Join(dir, "security"), "station-a", zerolog.Nop(), nil)
	require.NoError(t, err)

	metrics := NewMetrics(zerolog.Nop())
	return NewRouter(Config{MaxBodyBytes: 1 << 20, AdminToken: adminToken}, zerolog.Nop(), metrics, sessions, nil)
}

func TestHealthzAndReadyz(t *testing.T) {
	r := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPairingCodeGenerationRequiresAdminToken(t *testing.T) {
	r := newTestRouter(t, "secret-token")

	body, _ := json.Marshal(pairingGenerateRequest{CreatedBy: "admin", AllowedRoles: []string{"nurse"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/mobile/pairing/codes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/mobile/pairing/codes", bytes.NewReader(body))
	req.Header.Set("X-Station-Admin-Token", "secret-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestPairingExchangeEndToEnd(t *testing.T) {
	r := newTestRouter(t, "secret-token")

	genBody, _ := json.Marshal(pairingGenerateRequest{CreatedBy: "admin", AllowedRoles: []string{"nurse"}, Scopes: []string{"inventory:read"}})
	genReq := httptest.NewRequest(http.MethodPost, "/v1/mobile/pairing/codes", bytes.NewReader(genBody))
	genReq.Header.Set("X-Station-Admin-Token", "secret-token")
	genW := httptest.NewRecorder()
	r.ServeHTTP(genW, genReq)
	require.Equal(t, http.StatusCreated, genW.Code)

	var code struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(genW.Body.Bytes(), &code))

	exReq := httptest.NewRequest(http.MethodPost, "/v1/mobile/pairing/exchange", bytes.NewReader(mustJSON(pairingExchangeRequest{
		Code:          code.Code,
		DeviceID:      "device-1",
		DeviceName:    "tablet-1",
		StaffID:       "staff-1",
		RequestedRole: "nurse",
	})))
	exW := httptest.NewRecorder()
	r.ServeHTTP(exW, exReq)
	require.Equal(t, http.StatusOK, exW.Code)

	var resp pairingExchangeResponse
	require.NoError(t, json.Unmarshal(exW.Body.Bytes(), &resp))
	require.Equal(t, "nurse", resp.Role)
	require.NotEmpty(t, resp.Token)

	// Second exchange of the same code fails.
	exReq2 := httptest.NewRequest(http.MethodPost, "/v1/mobile/pairing/exchange", bytes.NewReader(mustJSON(pairingExchangeRequest{
		Code:     code.Code,
		DeviceID: "device-2",
	})))
	exW2 := httptest.NewRecorder()
	r.ServeHTTP(exW2, exReq2)
	require.Equal(t, http.StatusBadRequest, exW2.Code)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
