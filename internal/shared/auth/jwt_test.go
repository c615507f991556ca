package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_GenerateAndValidate(t *testing.T) {
	j := NewJWT("my-secret-key")

	token, err := j.Generate("user-123", "test@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := j.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID())
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, "koffers", claims.Issuer)

	parts := strings.Split(token, ".")
	_, err = j.Validate(parts[0] + "." + parts[1] + ".invalid-signature")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = j.Validate("invalid.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := NewJWT("a").Generate("user-1", "")
	require.NoError(t, err)

	_, err = NewJWT("b").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_ExpiredToken(t *testing.T) {
	j := NewJWT("my-secret-key").WithTTL(-time.Hour)
	token, err := j.Generate("user-1", "expired@example.com")
	require.NoError(t, err)

	_, err = j.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWT_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWT("my-secret-key").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_MissingSubject(t *testing.T) {
	_, err := NewJWT("s").Generate("", "x@example.com")
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = NewJWT("s").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
