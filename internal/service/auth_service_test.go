package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadexa/assessment-backend/internal/config"
)

func newTestAuthService() *AuthService {
	return NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4, // Minimum cost keeps the test fast.
	}, nil, nil)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	svc := newTestAuthService()

	hash, err := svc.HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	assert.NoError(t, svc.CheckPassword(hash, "s3cret-pass"))
	assert.ErrorIs(t, svc.CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestAuthService()
	ctx := context.Background()

	signed, err := svc.generateToken(ctx, 42, TokenTypeStudent)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := newTestAuthService()

	signed, err := svc.generateToken(context.Background(), 42, TokenTypeAdmin)
	require.NoError(t, err)

	other := NewAuthService(&config.Config{JWTSecret: "different", JWTExpiry: time.Hour}, nil, nil)
	_, err = other.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService()

	_, err := svc.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestStudentLoginChecksSkipWithoutRedis(t *testing.T) {
	svc := newTestAuthService()
	ctx := context.Background()

	assert.NoError(t, svc.ValidateStudentLogin(ctx, 1, "any-jti"))
	assert.NoError(t, svc.Logout(ctx, 1))
}
