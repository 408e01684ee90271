package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifier_ValidToken(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "test-secret", "user-42", time.Hour)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-42", userID)
}

func TestVerifier_ExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "test-secret", "user-42", -time.Minute)

	_, err := v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_WrongSecret(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "another-secret", "user-42", time.Hour)

	_, err := v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_MissingSubject(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "test-secret", "", time.Hour)

	_, err := v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Garbage(t *testing.T) {
	v := NewVerifier("test-secret")

	_, err := v.Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
