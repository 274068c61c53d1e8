package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Auth guards the operator endpoints with a shared key, accepted either as
// "Authorization: Bearer <key>" or "X-API-Key: <key>". An empty apiKey
// disables the check. Failed attempts are logged since they may target the
// emergency controls.
func Auth(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := credential(r)
			if token != "" && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			msg := "invalid authentication token"
			if token == "" {
				msg = "missing authentication token"
			}
			logger.WarnContext(r.Context(), "server: unauthorized request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("client", clientIP(r)),
				slog.String("request_id", RequestIDFrom(r.Context())),
			)
			reject(w, http.StatusUnauthorized, msg)
		})
	}
}

func credential(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
