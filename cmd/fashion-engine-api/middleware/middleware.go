// Package middleware provides HTTP middleware for the fashion engine API.
package middleware

import (
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
)

// RequestIDHeader carries the request trace id back to the client.
const RequestIDHeader = "X-Request-ID"

// CORS returns CORS middleware for browser clients.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			allowed := false
			wildcard := false
			for _, o := range allowedOrigins {
				if o == "*" {
					allowed, wildcard = true, true
					break
				}
				if origin != "" && strings.EqualFold(o, origin) {
					allowed = true
					break
				}
			}

			if allowed {
				if wildcard && origin == "" {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TraceID puts a trace id on the request context for the logger: the chi
// request id when present, otherwise a fresh UUID.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := chimiddleware.GetReqID(r.Context())
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, traceID)
		ctx := observability.ContextWithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
