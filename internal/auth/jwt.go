package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when required claims are missing
	ErrMissingClaims = errors.New("missing required claims")
)

// Signer issues admission tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a token signer. The ttl becomes each token's validity
// window: iat and nbf are set to issuance time, exp to issuance time + ttl.
func NewSigner(secret, issuer string, ttl time.Duration) *Signer {
	return &Signer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the signer's time source. Intended for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign issues an HS256 admission token for the principal and monitor set.
func (s *Signer) Sign(email string, monitorIDs []string) (string, error) {
	now := s.now()
	claims := &Claims{
		Email: email,
		Chats: monitorIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign admission token: %w", err)
	}
	return signed, nil
}

// Verifier checks admission token signatures and decodes claims.
//
// Time-window, issuer, and topic checks are deliberately NOT performed here:
// they belong to the Validator, which uses the service's own clock so the
// exact boundary semantics (now == exp rejected, now == nbf admitted) hold.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier with the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses the token, checks its signature, and decodes the claims.
// It verifies:
// - Signing method is HMAC (rejects "none" and asymmetric confusion)
// - Token signature
// - Required claims are present (email, exp)
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email claim missing or empty", ErrMissingClaims)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: exp claim missing", ErrMissingClaims)
	}

	return claims, nil
}
