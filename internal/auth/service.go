package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/config"
)

const (
	loginWindow      = 15 * time.Minute
	loginMaxAttempts = 5
)

// ErrInvalidCredentials covers every failed login, without leaking which
// part was wrong.
var ErrInvalidCredentials = fmt.Errorf("invalid credentials")

// ErrRateLimited is returned once an IP exhausts its login attempts.
type ErrRateLimited struct {
	WaitSeconds int64
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("too many login attempts, retry in %ds", e.WaitSeconds)
}

// Service authenticates the single admin principal. The password comes
// from configuration, either as a bcrypt hash or plaintext compared in
// constant time.
type Service struct {
	cfg   config.AuthConfig
	cache *cache.Manager
}

func NewService(cfg config.AuthConfig, c *cache.Manager) *Service {
	return &Service{cfg: cfg, cache: c}
}

// Session is the successful login result.
type Session struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Login verifies the admin password and issues a JWT. Attempts are counted
// per client IP so a misconfigured dashboard cannot brute-force the
// password through the side-car.
func (s *Service) Login(ctx context.Context, password, clientIP string) (*Session, error) {
	if s.cfg.AdminPassword == "" {
		return nil, fmt.Errorf("admin login is not configured")
	}

	if s.cache != nil && clientIP != "" {
		attempts, err := s.cache.Incr(ctx, "auth:login_attempts:"+clientIP, loginWindow)
		if err == nil && attempts > loginMaxAttempts {
			return nil, &ErrRateLimited{WaitSeconds: int64(loginWindow.Seconds())}
		}
	}

	if !s.verifyPassword(password) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := GenerateAdminToken(s.cfg.JWTSecret, s.cfg.JWTExpire)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt.Format(time.RFC3339)}, nil
}

func (s *Service) verifyPassword(password string) bool {
	stored := s.cfg.AdminPassword
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// VerifyAPIKey checks the static X-API-Key credential.
func (s *Service) VerifyAPIKey(key string) bool {
	if s.cfg.APIKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.cfg.APIKey), []byte(key)) == 1
}

// VerifyBearer checks a JWT issued by Login.
func (s *Service) VerifyBearer(token string) bool {
	_, err := ValidateToken(token, s.cfg.JWTSecret)
	return err == nil
}
