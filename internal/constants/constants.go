// Package constants provides centralized constant definitions for the chat service.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusTooManyRequests    = 429
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	LoginUpstreamTimeout  = 10 * time.Second // Upstream credential verification
	ShutdownTimeout       = 10 * time.Second // Graceful shutdown deadline
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second  // Maximum time to read the entire request
	HTTPWriteTimeout = 60 * time.Second  // Maximum time to write the response
	HTTPIdleTimeout  = 120 * time.Second // Maximum time to keep idle connections alive
)

// Sizes and Limits
const (
	DefaultMaxMessageSize = 1048576 // 1MB in bytes for WebSocket messages
	DefaultLoginRateLimit = 10      // Login attempts per minute per IP
	PublicEndpointRate    = 60      // Requests per minute for public endpoints (healthz, readyz, metrics)
	MaxConnectionsPerUser = 10      // Concurrent WebSocket connections per principal
)

// Durations for background operations
const (
	DefaultRateWindow      = 1 * time.Minute // Rate limiting window
	DefaultCleanupInterval = 5 * time.Minute // Cleanup goroutine interval
	DefaultTokenTTL        = 5 * time.Minute // Admission token lifetime
)

// Token and issuer defaults
const (
	DefaultIssuer     = "propromo.chat"
	DefaultPort       = 6969
	QueryParamAuth    = "auth"  // Query parameter carrying the admission token
	ReplayPolicyPair  = "pair"  // Replay key derived from (email, monitor_id)
	ReplayPolicyToken = "token" // Replay key derived from the raw token
)

// HTTP Headers
const (
	HeaderRetryAfter = "Retry-After"
)

// Admission rejection messages. The hint mirrors the login flow so
// clients know where to obtain a token.
const (
	MsgTokenRequired     = "Auth token is required. /chat/:monitor_id?auth=<YOUR_AUTH_TOKEN>. Get one at /login."
	MsgTokenInvalid      = "Auth token is invalid. /chat/:monitor_id?auth=<YOUR_AUTH_TOKEN>. Get one at /login."
	MsgTokenUsed         = "Auth token was already used. /chat/:monitor_id?auth=<YOUR_AUTH_TOKEN>. Get your own at /login."
	MsgRateLimitExceeded = "Too many requests. Please try again later."
)

// Retry After Calculation
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1 // Minimum retry-after value in seconds
)

// Network configuration defaults
const (
	DefaultTrustedProxies         = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
	DefaultMetricsAllowedNetworks = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"
)

// Weak Secrets for validation (security check)
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}

// Minimum Security Requirements
const (
	MinJWTSecretLength = 32 // Minimum length for JWT secret (256 bits)
)
