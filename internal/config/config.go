// Package config loads service configuration from environment variables.
// The original deployment is configured purely through the environment
// (optionally via a .env file injected by the process supervisor), so the
// whole configuration surface is a single env-parsed struct.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/propromo-software/propromo.chat/internal/constants"
	"github.com/propromo-software/propromo.chat/internal/util"
)

// Config holds all application configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `env:"PORT" envDefault:"6969"`

	// DevMode enables verbose admission failure logging.
	DevMode bool `env:"DEV_MODE" envDefault:"false"`

	// JWTSecret signs and verifies admission tokens (HS256).
	JWTSecret string `env:"JWT_SECRET"`

	// Issuer is the expected `iss` claim of admission tokens.
	Issuer string `env:"CHAT_ISSUER" envDefault:"propromo.chat"`

	// TokenTTL is the admission token lifetime set at issuance.
	TokenTTL time.Duration `env:"CHAT_TOKEN_TTL" envDefault:"5m"`

	// EchoSender controls the broadcast echo policy. When false (the
	// default, matching the original service) the sender does not receive
	// its own messages back.
	EchoSender bool `env:"CHAT_ECHO_SENDER" envDefault:"false"`

	// TagMessages wraps every outbound broadcast copy in a JSON envelope
	// carrying the monitor id and sender principal.
	TagMessages bool `env:"CHAT_TAG_MESSAGES" envDefault:"false"`

	// ReplayKeyPolicy selects the consumed-token key: "pair" records
	// (email, monitor_id), "token" records a digest of the raw credential.
	ReplayKeyPolicy string `env:"CHAT_REPLAY_KEY" envDefault:"pair"`

	// DatabaseURL is the Postgres connection string for the monitors store.
	DatabaseURL string `env:"DATABASE_URL"`

	// LoginAPIURL is the upstream endpoint that verifies user credentials.
	LoginAPIURL string `env:"LOGIN_API_URL" envDefault:"https://propromo-d08144c627d3.herokuapp.com/api/v1/users/login"`

	// CORSAllowedOrigins configures the CORS middleware. Empty disables CORS.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// AllowedOrigins restricts WebSocket upgrade origins. Empty allows all
	// origins (development mode).
	AllowedOrigins []string `env:"CHAT_ALLOWED_ORIGINS" envSeparator:","`

	// TrustedProxies are the networks whose X-Forwarded-For headers are trusted.
	TrustedProxies string `env:"TRUSTED_PROXIES" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"`

	// MetricsAllowedNetworks restricts access to the Prometheus endpoint.
	MetricsAllowedNetworks string `env:"METRICS_ALLOWED_NETWORKS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"`

	// MaxMessageSize is the WebSocket read limit in bytes.
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE" envDefault:"1048576"`

	// LoginRateLimit is the number of login attempts allowed per IP per window.
	LoginRateLimit int `env:"LOGIN_RATE_LIMIT" envDefault:"10"`

	// LoginRateWindow is the login rate limiting window.
	LoginRateWindow time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`
}

// Load parses the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that would be unsafe or
// unusable at runtime. Misconfigurations are caught before serving traffic.
func (c *Config) Validate() error {
	if err := util.ValidateJWTSecret(c.JWTSecret); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if c.ReplayKeyPolicy != constants.ReplayPolicyPair && c.ReplayKeyPolicy != constants.ReplayPolicyToken {
		return fmt.Errorf("invalid CHAT_REPLAY_KEY %q: must be %q or %q",
			c.ReplayKeyPolicy, constants.ReplayPolicyPair, constants.ReplayPolicyToken)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("CHAT_TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	return nil
}
