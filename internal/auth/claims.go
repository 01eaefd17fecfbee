// Package auth provides admission token signing, verification, and claim
// validation for the chat service. Tokens are short-lived HS256 JWTs carried
// in the WebSocket upgrade request's query string, since browser clients
// cannot attach custom headers to an upgrade request.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the admission token payload. A token proves that a
// principal (identified by email) may join any of the listed monitors
// within the token's validity window. Immutable once issued.
type Claims struct {
	// Email is the authenticated principal the token was issued for.
	Email string `json:"email"`

	// Chats lists the monitor ids the principal may join.
	Chats []string `json:"chats"`

	jwt.RegisteredClaims
}

// AuthorizesMonitor reports whether the claims include the given monitor id.
// Monitor ids are compared case-sensitively.
func (c *Claims) AuthorizesMonitor(monitorID string) bool {
	for _, chat := range c.Chats {
		if chat == monitorID {
			return true
		}
	}
	return false
}
