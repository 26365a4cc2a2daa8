package server

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonathan/web2pdf/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing-minimum-32-bytes"

func setupTestJWTService(_ *testing.T, expirationHours int) *JWTService {
	return NewJWTService(&config.JWTConfig{
		Secret:          testSecret,
		Issuer:          config.DefaultJWTIssuer,
		ExpirationHours: expirationHours,
	})
}

// signToken signs arbitrary claims with secret.
func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTService_GenerateAndValidate(t *testing.T) {
	service := setupTestJWTService(t, 24)
	userID := uuid.New()

	token, err := service.GenerateToken(userID)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, config.DefaultJWTIssuer, claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestJWTService_AsTokenValidator(t *testing.T) {
	service := setupTestJWTService(t, 1)
	userID := uuid.New()
	token, err := service.GenerateToken(userID)
	require.NoError(t, err)

	claims, err := service.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.GetUserID())

	_, err = service.AsTokenValidator().ValidateToken("garbage")
	assert.Error(t, err)
}

func TestJWTService_ExpiredToken(t *testing.T) {
	service := setupTestJWTService(t, 1)
	token, err := service.GenerateToken(uuid.New())
	require.NoError(t, err)

	service.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = service.ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	assert.Contains(t, err.Error(), "token expired")
}

func TestJWTService_Rejects(t *testing.T) {
	service := setupTestJWTService(t, 24)
	userID := uuid.New()
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Issuer:    config.DefaultJWTIssuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	withIssuer := valid
	withIssuer.Issuer = "someone-else"
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{name: "empty", token: "", message: "token string is empty"},
		{name: "malformed", token: "not.a.valid.jwt.token", message: "malformed token"},
		{
			name:    "wrong secret",
			token:   signToken(t, jwt.SigningMethodHS256, &Claims{UserID: userID, RegisteredClaims: valid}, "another-secret"),
			message: "invalid token signature",
		},
		{
			name:    "wrong algorithm",
			token:   signToken(t, jwt.SigningMethodHS512, &Claims{UserID: userID, RegisteredClaims: valid}, testSecret),
			message: "invalid token signature",
		},
		{
			name:    "wrong issuer",
			token:   signToken(t, jwt.SigningMethodHS256, &Claims{UserID: userID, RegisteredClaims: withIssuer}, testSecret),
			message: "unexpected token issuer",
		},
		{
			name:    "no expiry",
			token:   signToken(t, jwt.SigningMethodHS256, &Claims{UserID: userID, RegisteredClaims: noExpiry}, testSecret),
			message: "failed to parse token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateToken(tt.token)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestJWTService_SubjectOnlyToken(t *testing.T) {
	service := setupTestJWTService(t, 24)
	userID := uuid.New()

	token := signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    config.DefaultJWTIssuer,
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testSecret)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)

	bad := signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    config.DefaultJWTIssuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testSecret)
	_, err = service.ValidateToken(bad)
	assert.ErrorContains(t, err, "token subject is not a user ID")
}

func TestJWTService_NoIssuerConfigured(t *testing.T) {
	service := NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: 1})
	userID := uuid.New()

	token := signToken(t, jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "identity-provider",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}
