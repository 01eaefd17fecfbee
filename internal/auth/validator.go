package auth

import (
	"time"

	"github.com/propromo-software/propromo.chat/internal/chaterrors"
)

// Validator decides admission eligibility for verified claims against a
// requested monitor. All clock comparisons use the validator's own time
// source, never client-supplied time.
type Validator struct {
	issuer string
	now    func() time.Time
}

// NewValidator creates a claim validator expecting tokens from the given issuer.
func NewValidator(issuer string) *Validator {
	return &Validator{issuer: issuer, now: time.Now}
}

// WithClock overrides the validator's time source. Intended for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate checks the claims against the requested monitor id at the current
// time. Checks run in priority order and short-circuit on first failure:
// validity window, issuer, topic membership.
//
// Boundary semantics: a token is admitted at exactly now == nbf and rejected
// at exactly now == exp.
func (v *Validator) Validate(claims *Claims, monitorID string) *chaterrors.ChatError {
	now := v.now()

	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return chaterrors.ErrExpired(nil)
	}
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return chaterrors.ErrExpired(nil)
	}

	if claims.Issuer != v.issuer {
		return chaterrors.ErrWrongIssuer(claims.Issuer)
	}

	if !claims.AuthorizesMonitor(monitorID) {
		return chaterrors.ErrTopicMismatch(monitorID)
	}

	return nil
}
