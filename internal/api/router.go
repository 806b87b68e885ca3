package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/captrack/internal/api/handlers"
	"github.com/wonny/captrack/internal/ratelimit"
	"github.com/wonny/captrack/pkg/config"
	"github.com/wonny/captrack/pkg/logger"
)

// NewRouter wires the query endpoints, health check and middleware chain.
func NewRouter(rankHandler *handlers.RankHandler, cfg *config.Config, limiter *ratelimit.SlidingWindow, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(rateLimitMiddleware(limiter, cfg.API.TrustProxyHeaders, log))
	api.Use(cacheControlMiddleware(cfg.API.PublicCacheMaxAge))

	api.HandleFunc("/ranks/latest", rankHandler.GetLatestSnapshot).Methods("GET")
	api.HandleFunc("/ranks/timeline", rankHandler.GetTimeline).Methods("GET")
	api.HandleFunc("/rank-history/{symbol}", rankHandler.GetRankHistory).Methods("GET")
	api.HandleFunc("/events/new-entrants", rankHandler.GetNewEntrants).Methods("GET")
	api.HandleFunc("/events/big-movers", rankHandler.GetBigMovers).Methods("GET")

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))
	r.Use(securityHeadersMiddleware())

	return r
}

// healthCheckHandler returns server health status.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "captrack-api",
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics.
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// securityHeadersMiddleware sets the standard response hardening headers.
func securityHeadersMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

			next.ServeHTTP(w, r)
		})
	}
}

// cacheControlMiddleware marks successful query responses as briefly
// cacheable by intermediaries.
func cacheControlMiddleware(maxAgeSeconds int) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxAgeSeconds > 0 {
				w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAgeSeconds))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware applies the per-client sliding window to /api routes.
// Forwarded headers are only honored behind a trusted proxy; otherwise a
// request carrying one is rejected so clients cannot spoof their identity.
func rateLimitMiddleware(limiter *ratelimit.SlidingWindow, trustProxyHeaders bool, log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := clientIdentifier(r, trustProxyHeaders)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Forwarded headers are not accepted",
				})
				return
			}

			if !limiter.Allow(clientID) {
				log.WithFields(map[string]interface{}{
					"client": clientID,
					"path":   r.URL.Path,
				}).Warn("Rate limit exceeded")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Too many requests",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIdentifier extracts the client IP used as the rate-limit key.
func clientIdentifier(r *http.Request, trustProxyHeaders bool) (string, error) {
	forwarded := r.Header.Get("X-Forwarded-For")

	if !trustProxyHeaders {
		if forwarded != "" || r.Header.Get("X-Real-IP") != "" {
			return "", fmt.Errorf("forwarded headers rejected")
		}
	} else if forwarded != "" {
		// First entry is the originating client.
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip, nil
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, nil
	}
	return host, nil
}
