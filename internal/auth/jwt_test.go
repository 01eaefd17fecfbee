package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-characters-long-ok"

func TestSignVerify_Roundtrip(t *testing.T) {
	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner(testSecret, "propromo.chat", 5*time.Minute).
		WithClock(func() time.Time { return issued })
	verifier := NewVerifier(testSecret)

	token, err := signer.Sign("user@example.com", []string{"m1", "m2"})
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, []string{"m1", "m2"}, claims.Chats)
	assert.Equal(t, "propromo.chat", claims.Issuer)
	assert.True(t, claims.IssuedAt.Time.Equal(issued))
	assert.True(t, claims.NotBefore.Time.Equal(issued))
	assert.True(t, claims.ExpiresAt.Time.Equal(issued.Add(5*time.Minute)))
}

func TestVerify_WrongSecret(t *testing.T) {
	signer := NewSigner(testSecret, "propromo.chat", 5*time.Minute)
	verifier := NewVerifier("another-secret-that-is-also-32-chars-long!!")

	token, err := signer.Sign("user@example.com", []string{"m1"})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_EmptyToken(t *testing.T) {
	verifier := NewVerifier(testSecret)

	_, err := verifier.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MalformedToken(t *testing.T) {
	verifier := NewVerifier(testSecret)

	_, err := verifier.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{
		Email: "user@example.com",
		Chats: []string{"m1"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "propromo.chat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	verifier := NewVerifier(testSecret)
	_, err = verifier.Verify(token)
	assert.Error(t, err, "alg=none tokens must be rejected")
}

func TestVerify_RejectsMissingEmail(t *testing.T) {
	claims := &Claims{
		Chats: []string{"m1"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "propromo.chat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	verifier := NewVerifier(testSecret)
	_, err = verifier.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaims)
}

func TestVerify_RejectsMissingExpiry(t *testing.T) {
	claims := &Claims{
		Email: "user@example.com",
		Chats: []string{"m1"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "propromo.chat",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	verifier := NewVerifier(testSecret)
	_, err = verifier.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaims)
}

func TestVerify_ExpiredTokenStillDecodes(t *testing.T) {
	// Window checks are the validator's job; the verifier only checks the
	// signature and required claims, so an expired token still decodes.
	past := time.Now().Add(-time.Hour)
	signer := NewSigner(testSecret, "propromo.chat", 5*time.Minute).
		WithClock(func() time.Time { return past })
	verifier := NewVerifier(testSecret)

	token, err := signer.Sign("user@example.com", []string{"m1"})
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestClaims_AuthorizesMonitor(t *testing.T) {
	claims := &Claims{Chats: []string{"m1", "M2"}}

	assert.True(t, claims.AuthorizesMonitor("m1"))
	assert.True(t, claims.AuthorizesMonitor("M2"))
	assert.False(t, claims.AuthorizesMonitor("m2"), "monitor ids compare case-sensitively")
	assert.False(t, claims.AuthorizesMonitor("m3"))

	empty := &Claims{}
	assert.False(t, empty.AuthorizesMonitor("m1"))
}
