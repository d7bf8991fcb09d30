package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	svc := NewService("test-secret")
	svc.RegisterUser("key-1", "secret-1", "user-42", RoleUser)
	svc.RegisterUser("admin-key", "admin-secret", "admin-7", RoleAdmin)
	return svc
}

func TestGenerateToken_ValidCredentials(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestGenerateToken_RejectsBadCredentials(t *testing.T) {
	svc := newTestService()

	_, err := svc.GenerateToken(Credentials{APIKey: "key-1", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(Credentials{APIKey: "unknown", APISecret: "secret-1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_RejectsForeignSignature(t *testing.T) {
	svc := newTestService()
	other := NewService("another-secret")
	other.RegisterUser("key-1", "secret-1", "user-42", RoleUser)

	token, err := other.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestGetUserID_FromParsedClaims(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateToken(Credentials{APIKey: "admin-key", APISecret: "admin-secret"})
	require.NoError(t, err)

	// Parse into generic MapClaims the way the middleware does
	parsed, err := jwt.Parse(token.Token, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, "admin-7", GetUserID(parsed.Claims))
	assert.Equal(t, "", GetUserID(jwt.MapClaims{}))
	assert.Equal(t, "", GetUserID("not claims at all"))
}
