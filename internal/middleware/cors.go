// Package middleware provides HTTP middleware for the companion dev server.
package middleware

import (
	"net/http"
	"strconv"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	// X-Session-ID carries the chat session; Authorization the bearer token.
	corsHeaders = "Content-Type, Authorization, X-Session-ID"
	corsMaxAge  = 10 * 60
)

// CORS lets browser clients reach the chat, upload and WebSocket routes.
// "*" admits any origin; credentials are allowed only for origins listed
// explicitly. Preflight requests are answered with 204 without reaching
// the handler, so they need no bearer token.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	explicit := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || explicit[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Add("Vary", "Origin")
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
