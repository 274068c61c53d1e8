package middleware

import (
	"net/http"
	"slices"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, " + RequestIDHeader
)

// CORS lets the listed browser origins reach the API. An empty list or a "*"
// entry allows any origin. Preflight requests are answered here and never
// reach auth.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (anyOrigin || slices.ContainsFunc(allowedOrigins, func(o string) bool {
				return strings.EqualFold(o, origin)
			})) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Expose-Headers", RequestIDHeader)
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
