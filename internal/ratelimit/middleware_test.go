package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct {
	allowed bool
	err     error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.allowed, s.err }
func (s stubLimiter) Close() error                                { return nil }

func serveThrough(t *testing.T, limiter Limiter) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware(limiter, IPKeyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareAllows(t *testing.T) {
	rec := serveThrough(t, stubLimiter{allowed: true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareDenies(t *testing.T) {
	rec := serveThrough(t, stubLimiter{allowed: false})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	rec := serveThrough(t, stubLimiter{allowed: false, err: errors.New("limiter down")})
	assert.Equal(t, http.StatusOK, rec.Code,
		"a malfunctioning limiter must not block traffic")
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	rec := serveThrough(t, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5313"
	assert.Equal(t, "192.0.2.7", IPKeyFunc(req))
}
