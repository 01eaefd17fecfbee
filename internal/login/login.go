// Package login implements the authentication endpoint that issues
// admission tokens. Credentials are verified against the upstream propromo
// API; the monitors a user may join are loaded from Postgres and embedded
// in a short-lived single-use token.
package login

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/propromo-software/propromo.chat/internal/auth"
	"github.com/propromo-software/propromo.chat/internal/constants"
	"github.com/propromo-software/propromo.chat/internal/httperrors"
	"github.com/propromo-software/propromo.chat/internal/metrics"
	"github.com/propromo-software/propromo.chat/internal/monitor"
	"github.com/propromo-software/propromo.chat/internal/util"
)

// CredentialVerifier checks a principal's credentials against the user
// store. The user store itself is an external collaborator.
type CredentialVerifier interface {
	// Verify returns nil when the credentials are valid,
	// ErrBadCredentials when they are not, and another error when the
	// upstream check could not be performed.
	Verify(ctx context.Context, email, password string) error
}

// ErrBadCredentials is returned by a CredentialVerifier when the email or
// password did not pass the check.
var ErrBadCredentials = errors.New("email or password didn't pass the check")

// Service handles login requests and issues admission tokens.
type Service struct {
	verifier CredentialVerifier
	store    monitor.Store
	signer   *auth.Signer
	logger   *slog.Logger
}

// NewService creates a login service.
func NewService(verifier CredentialVerifier, store monitor.Store, signer *auth.Signer, logger *slog.Logger) *Service {
	return &Service{
		verifier: verifier,
		store:    store,
		signer:   signer,
		logger:   logger.With("component", "login"),
	}
}

// credentials binds both form-encoded and JSON request bodies, as the
// original endpoint accepted either.
type credentials struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Handler returns the gin handler for POST /login. On success it responds
// with the admission token and the monitors the principal may join.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds credentials
		// Binding errors fall through to the empty-field check: a body in
		// neither supported format yields the same 400 as missing data.
		_ = c.ShouldBind(&creds)

		if creds.Email == "" || creds.Password == "" {
			httperrors.RespondBadRequest(c, httperrors.MsgMissingCredentials)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.LoginUpstreamTimeout)
		defer cancel()

		if err := s.verifier.Verify(ctx, creds.Email, creds.Password); err != nil {
			if errors.Is(err, ErrBadCredentials) {
				s.logger.Warn("Login rejected", "email", creds.Email)
				httperrors.RespondUnauthorized(c, httperrors.MsgInvalidCredentials)
				return
			}
			util.LogError(s.logger, "login", "verify credentials upstream", err, "email", creds.Email)
			httperrors.RespondServiceUnavailable(c)
			return
		}

		monitors, err := s.store.MonitorsForUser(ctx, creds.Email)
		if err != nil {
			util.LogError(s.logger, "login", "load monitors", err, "email", creds.Email)
			httperrors.RespondInternalError(c)
			return
		}
		if len(monitors) == 0 {
			s.logger.Warn("Login without monitor access", "email", creds.Email)
			httperrors.RespondUnauthorized(c, httperrors.MsgNoMonitors)
			return
		}

		hashes := make([]string, len(monitors))
		for i, m := range monitors {
			hashes[i] = m.MonitorHash
		}

		token, err := s.signer.Sign(creds.Email, hashes)
		if err != nil {
			util.LogError(s.logger, "login", "sign admission token", err, "email", creds.Email)
			httperrors.RespondInternalError(c)
			return
		}

		metrics.TokensIssued.Inc()
		s.logger.Info("Admission token issued", "email", creds.Email, "monitors", len(hashes))

		c.JSON(constants.StatusOK, gin.H{
			"token": token,
			"chats": monitors,
		})
	}
}
