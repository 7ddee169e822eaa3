package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewHMACVerifier(secret)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrgID: "org-1",
		Tier:  "pro",
	}
	tokenStr := signToken(t, secret, claims)

	got, err := v.Verify(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "org-1", got.OrgID)
	assert.Equal(t, "pro", got.Tier)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewHMACVerifier(secret)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tokenStr := signToken(t, secret, claims)

	_, err := v.Verify(tokenStr)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsWrongSigningKey(t *testing.T) {
	v := NewHMACVerifier([]byte("correct-secret"))
	tokenStr := signToken(t, []byte("wrong-secret"), Claims{})

	_, err := v.Verify(tokenStr)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
