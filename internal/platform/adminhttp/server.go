package adminhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/session"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

// HealthFunc reports the station's current health, consulted by both
// /readyz and the OTA scheduler's post-swap check.
type HealthFunc func() (ok bool, detail map[string]bool)

// Config configures the admin HTTP surface.
type Config struct {
	MaxBodyBytes int64
	AdminToken   string
}

// NewRouter builds the station's admin/control HTTP surface — health,
// metrics, and the mobile pairing-code exchange endpoint. This is NOT
// the clinical REST API (out of scope per the core's charter); it is
// the one HTTP surface the station core itself exposes.
func NewRouter(cfg Config, appLogger zerolog.Logger, metrics *Metrics, sessions *session.Service, health HealthFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(securityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		ok, detail := health()
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ok, "checks": detail})
	})

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	r.Route("/v1/mobile", func(r chi.Router) {
		r.Post("/pairing/exchange", pairingExchangeHandler(sessions, metrics))
		r.Post("/pairing/codes", pairingGenerateHandler(sessions, cfg.AdminToken))
	})

	return r
}

type pairingExchangeRequest struct {
	Code          string `json:"code"`
	DeviceID      string `json:"device_id"`
	DeviceName    string `json:"device_name"`
	StaffID       string `json:"staff_id"`
	StaffName     string `json:"staff_name"`
	RequestedRole string `json:"requested_role"`
}

type pairingExchangeResponse struct {
	Token      string   `json:"token"`
	DeviceID   string   `json:"device_id"`
	Role       string   `json:"role"`
	Scopes     []string `json:"scopes"`
	StationID  string   `json:"station_id"`
	PairedAtMs int64    `json:"paired_at_ms"`
}

func pairingExchangeHandler(sessions *session.Service, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pairingExchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := sessions.ExchangePairingCode(session.ExchangeRequest{
			Code:          req.Code,
			DeviceID:      req.DeviceID,
			DeviceName:    req.DeviceName,
			StaffID:       req.StaffID,
			StaffName:     req.StaffName,
			RequestedRole: req.RequestedRole,
			IPAddress:     clientIP(r),
			UserAgent:     r.UserAgent(),
		})
		if err != nil {
			if metrics != nil {
				metrics.TrackPairingExchange("rejected")
			}
			writeError(w, statusForPairingError(err), err.Error())
			return
		}

		if metrics != nil {
			metrics.TrackPairingExchange("accepted")
		}
		writeJSON(w, http.StatusOK, pairingExchangeResponse{
			Token:      result.Token,
			DeviceID:   result.Device.DeviceID,
			Role:       result.Device.Role,
			Scopes:     result.Device.Scopes,
			StationID:  result.Device.StationID,
			PairedAtMs: result.Device.PairedAtMs,
		})
	}
}

type pairingGenerateRequest struct {
	CreatedBy    string   `json:"created_by"`
	AllowedRoles []string `json:"allowed_roles"`
	Scopes       []string `json:"scopes"`
}

// pairingGenerateHandler mints fresh pairing codes. Gated by a shared
// admin token rather than a session token: the device requesting a code
// has by definition not paired yet. A station with no admin token
// configured refuses all requests here — codes must then be seeded
// directly against the station's bbolt file by an operator with disk
// access.
func pairingGenerateHandler(sessions *session.Service, adminToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adminToken == "" || r.Header.Get("X-Station-Admin-Token") != adminToken {
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		var req pairingGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		code, err := sessions.GeneratePairingCode(req.CreatedBy, req.AllowedRoles, req.Scopes)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, code)
	}
}

func statusForPairingError(err error) int {
	switch {
	case errors.Is(err, errkind.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errkind.ErrBlacklistedDevice):
		return http.StatusForbidden
	case errors.Is(err, errkind.ErrCodeNotFound), errors.Is(err, errkind.ErrCodeUsed):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
