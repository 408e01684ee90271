// Package auth verifies bearer credentials issued by the account subsystem.
// Tokens are consumed here, never minted.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the token payload this service understands: the subject is the
// user id, expiry is enforced by the library.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks token signatures and expiry against the shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token and returns the embedded user id.
// Any parse, signature or expiry failure collapses into ErrInvalidToken: the
// caller refuses the connection either way and must not leak which check
// failed beyond "invalid".
func (v *Verifier) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
