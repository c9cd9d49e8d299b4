package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/auth"
	"github.com/gatescope/gatescope/internal/config"
)

func newGuard(t *testing.T) *AuthMiddleware {
	t.Helper()
	service := auth.NewService(config.AuthConfig{
		AdminPassword: "pw",
		APIKey:        "static-api-key",
		JWTSecret:     "test-secret",
		JWTExpire:     time.Hour,
	}, nil)
	return NewAuthMiddleware(service)
}

func serveAuth(t *testing.T, guard *AuthMiddleware, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler := guard.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, r)
	return rec
}

func TestAuthSkipped(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/health", true},
		{"/api/health/db", true},
		{"/metrics", true},
		{"/api/auth/login", true},
		{"/api/embed/model-status/models", true},
		{"/api/model-status/embed/models", true},
		{"/api/status-page/default", true},
		{"/api/dashboard/overview", false},
		{"/api/model-status/config/foo", false},
		{"/api/healthz", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, authSkipped(tt.path), tt.path)
	}
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	guard := newGuard(t)
	rec := serveAuth(t, guard, httptest.NewRequest(http.MethodGet, "/api/dashboard/overview", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthAPIKey(t *testing.T) {
	guard := newGuard(t)

	r := httptest.NewRequest(http.MethodGet, "/api/dashboard/overview", nil)
	r.Header.Set("X-API-Key", "static-api-key")
	assert.Equal(t, http.StatusOK, serveAuth(t, guard, r).Code)

	r = httptest.NewRequest(http.MethodGet, "/api/dashboard/overview", nil)
	r.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, serveAuth(t, guard, r).Code)
}

func TestRequireAuthBearer(t *testing.T) {
	guard := newGuard(t)
	token, _, err := auth.GenerateAdminToken("test-secret", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/dashboard/overview", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, serveAuth(t, guard, r).Code)

	// A bare token without the Bearer scheme is rejected.
	r = httptest.NewRequest(http.MethodGet, "/api/dashboard/overview", nil)
	r.Header.Set("Authorization", token)
	assert.Equal(t, http.StatusUnauthorized, serveAuth(t, guard, r).Code)
}

func TestRequireAuthSkipsPublicPaths(t *testing.T) {
	guard := newGuard(t)
	rec := serveAuth(t, guard, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, "req-123", captured)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:4567"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}
