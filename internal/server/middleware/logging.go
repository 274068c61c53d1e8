package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logging writes one structured line per request. Mutating requests and
// server errors are logged at warn and above so control actions stand out
// from dashboard polling, which is logged at debug.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelDebug
			switch {
			case rec.status >= http.StatusInternalServerError:
				level = slog.LevelError
			case r.Method != http.MethodGet && r.Method != http.MethodOptions:
				level = slog.LevelInfo
			}
			logger.LogAttrs(r.Context(), level, "server: http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("client", clientIP(r)),
				slog.String("request_id", RequestIDFrom(r.Context())),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
