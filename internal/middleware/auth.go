package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gatescope/gatescope/internal/auth"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// Paths served without credentials: health probes, the scrape endpoint and
// the public embed mirrors.
var authSkipExact = map[string]struct{}{
	"/api/health":    {},
	"/api/health/db": {},
	"/metrics":       {},
}

var authSkipPrefixes = []string{
	"/api/auth/",
	"/api/embed/",
	"/api/model-status/embed/",
	"/api/status-page/",
}

func authSkipped(path string) bool {
	if _, ok := authSkipExact[path]; ok {
		return true
	}
	for _, prefix := range authSkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// AuthMiddleware guards the admin API: either the static X-API-Key or a
// bearer JWT from the login endpoint.
type AuthMiddleware struct {
	service *auth.Service
}

func NewAuthMiddleware(service *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{service: service}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authSkipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if m.service.VerifyAPIKey(r.Header.Get("X-API-Key")) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader != "" && token != authHeader && m.service.VerifyBearer(token) {
			next.ServeHTTP(w, r)
			return
		}

		respondJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error": map[string]string{
				"code":    "UNAUTHORIZED",
				"message": "missing or invalid credentials",
			},
		})
	})
}

// RequestID tags each request, generating an id when the caller sent none.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// ClientIP resolves the caller address, honoring the reverse proxy header.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
