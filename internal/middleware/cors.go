// Package middleware provides HTTP middleware for the widget API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/tellerbot/internal/identity"
)

// preflightMaxAge lets browsers cache preflight answers for ten minutes.
const preflightMaxAge = "600"

// CORS returns middleware that lets host pages on allowedOrigins call the
// session API. "*" admits any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		o = strings.TrimRight(o, "/")
		if o == "*" {
			wildcard = true
			continue
		}
		if o != "" {
			explicit[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" && (wildcard || explicit[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", identity.TabHeaderName)
				// Credentials only for explicit origins; a wildcard-echoed origin would allow CSRF.
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, "+identity.TabHeaderName)
					h.Set("Access-Control-Max-Age", preflightMaxAge)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
