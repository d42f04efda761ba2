package adminhttp

import (
	"net/http"
	"os"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// securityHeaders adds standard security headers for an HTTP surface
// reachable from the local clinical network, not the public internet.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// mwMaxBodySize limits the request body size, with an env override so an
// operator can raise the pairing-exchange payload cap without a rebuild.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("STATION_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}
			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":"request_too_large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
