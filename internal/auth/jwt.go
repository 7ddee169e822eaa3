// Package auth validates externally minted bearer tokens. Per spec §1, token
// issuance is owned by an external identity provider; the control plane only
// verifies signatures and extracts claims, so unlike the teacher's
// auth/tokenhash.go (which generates and hashes session tokens) this package
// has no token-minting surface.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any malformed, expired, or mis-signed
// bearer token.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the subset of the identity provider's JWT claims the control
// plane relies on.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
	Tier  string `json:"tier"`
}

// Verifier validates bearer tokens against a fixed HMAC signing key.
type Verifier struct {
	keyFunc jwt.Keyfunc
}

// NewHMACVerifier builds a Verifier for HS256-signed tokens.
func NewHMACVerifier(secret []byte) *Verifier {
	return &Verifier{
		keyFunc: func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		},
	}
}

// Verify parses and validates a bearer token, returning its Claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
