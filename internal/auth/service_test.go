package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/config"
)

func testConfig(password string) config.AuthConfig {
	return config.AuthConfig{
		AdminPassword: password,
		APIKey:        "static-api-key",
		JWTSecret:     "test-secret",
		JWTExpire:     time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	token, expiresAt, err := GenerateAdminToken("secret", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, SubjectAdmin, claims.Subject)
	assert.Equal(t, SubjectAdmin, claims.Role)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, _, err := GenerateAdminToken("secret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	token, _, err := GenerateAdminToken("secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	assert.Error(t, err)
}

func TestLoginPlaintextPassword(t *testing.T) {
	s := NewService(testConfig("hunter2"), nil)

	session, err := s.Login(context.Background(), "hunter2", "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.True(t, s.VerifyBearer(session.Token))

	_, err = s.Login(context.Background(), "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginBcryptPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	s := NewService(testConfig(string(hash)), nil)

	_, err = s.Login(context.Background(), "hunter2", "")
	require.NoError(t, err)

	_, err = s.Login(context.Background(), "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnconfigured(t *testing.T) {
	s := NewService(testConfig(""), nil)
	_, err := s.Login(context.Background(), "anything", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRateLimit(t *testing.T) {
	c, err := cache.NewManagerWithClient(nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	s := NewService(testConfig("hunter2"), c)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Login(ctx, "wrong", "203.0.113.9")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The sixth attempt trips the limiter even with the right password.
	_, err = s.Login(ctx, "hunter2", "203.0.113.9")
	var limited *ErrRateLimited
	require.ErrorAs(t, err, &limited)
	assert.Positive(t, limited.WaitSeconds)

	// Other IPs keep their own budget.
	_, err = s.Login(ctx, "hunter2", "198.51.100.1")
	assert.NoError(t, err)
}

func TestVerifyAPIKey(t *testing.T) {
	s := NewService(testConfig("pw"), nil)

	assert.True(t, s.VerifyAPIKey("static-api-key"))
	assert.False(t, s.VerifyAPIKey("nope"))
	assert.False(t, s.VerifyAPIKey(""))

	unconfigured := NewService(config.AuthConfig{}, nil)
	assert.False(t, unconfigured.VerifyAPIKey("anything"))
}

func TestVerifyBearer(t *testing.T) {
	s := NewService(testConfig("pw"), nil)

	token, _, err := GenerateAdminToken("test-secret", time.Hour)
	require.NoError(t, err)
	assert.True(t, s.VerifyBearer(token))
	assert.False(t, s.VerifyBearer("garbage"))
}
