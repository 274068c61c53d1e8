package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(RequestIDFrom(r.Context())))
})

type recordingLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (l *recordingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("k3y", testLogger())(ok)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer", "Authorization", "Bearer k3y", http.StatusOK},
		{"bearer lowercase scheme", "Authorization", "bearer k3y", http.StatusOK},
		{"api key header", "X-API-Key", "k3y", http.StatusOK},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic k3y", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/emergency-stop", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, serve(h, req).Code)
		})
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.JSONEq(t, `{"error":"missing authentication token"}`, rec.Body.String())

	open := Auth("", testLogger())(ok)
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestRequestID(t *testing.T) {
	h := RequestID(ok)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	id := rec.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.Body.String())

	given := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, given)
	assert.Equal(t, given, serve(h, req).Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-an-id\nforged")
	assert.NotEqual(t, "not-an-id\nforged", serve(h, req).Header().Get(RequestIDHeader))
}

func TestRateLimit_SeparatesReadsAndWrites(t *testing.T) {
	limiter := &recordingLimiter{allow: true}
	h := RateLimit(limiter, 120, time.Minute, testLogger())(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	serve(h, req)
	req = httptest.NewRequest(http.MethodPost, "/api/emergency-stop", nil)
	req.RemoteAddr = "198.51.100.2:4431"
	serve(h, req)

	assert.Equal(t, []string{"api:read:203.0.113.7", "api:write:198.51.100.2"}, limiter.keys)
}

func TestRateLimit_DeniedAndFailOpen(t *testing.T) {
	denied := RateLimit(&recordingLimiter{}, 30, time.Minute, testLogger())(ok)
	rec := serve(denied, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	broken := RateLimit(&recordingLimiter{err: errors.New("redis down")}, 30, time.Minute, testLogger())(ok)
	assert.Equal(t, http.StatusOK, serve(broken, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestCORS_Wildcard(t *testing.T) {
	h := CORS([]string{"*"})(ok)
	req := httptest.NewRequest(http.MethodOptions, "/api/signals", nil)
	req.Header.Set("Origin", "https://desk.example.com")
	rec := serve(h, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://desk.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, corsMethods, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestLogging_RecordsStatus(t *testing.T) {
	h := Logging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/signals", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
