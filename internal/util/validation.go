package util

import (
	"fmt"
	"strings"

	"github.com/propromo-software/propromo.chat/internal/constants"
)

// ContainsWeakPattern checks if a string contains any weak patterns.
// This is used for secret validation.
func ContainsWeakPattern(s string, weakPatterns []string) (bool, string) {
	lowerS := strings.ToLower(s)
	for _, pattern := range weakPatterns {
		if strings.Contains(lowerS, pattern) {
			return true, pattern
		}
	}
	return false, ""
}

// ValidateJWTSecret validates the JWT secret strength.
// Returns an error if the secret is empty, too short, or contains weak patterns.
func ValidateJWTSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}

	if weak, pattern := ContainsWeakPattern(secret, constants.WeakSecrets); weak {
		return fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			pattern)
	}

	return nil
}
