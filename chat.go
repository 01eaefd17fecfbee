// Package chat provides the main service registration for the propromo chat
// application. It wires the login endpoint, the gated WebSocket chat
// endpoint, and the operational endpoints onto a gin engine.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/propromo-software/propromo.chat/internal/auth"
	"github.com/propromo-software/propromo.chat/internal/config"
	"github.com/propromo-software/propromo.chat/internal/constants"
	"github.com/propromo-software/propromo.chat/internal/gate"
	"github.com/propromo-software/propromo.chat/internal/httperrors"
	"github.com/propromo-software/propromo.chat/internal/login"
	"github.com/propromo-software/propromo.chat/internal/metrics"
	"github.com/propromo-software/propromo.chat/internal/monitor"
	"github.com/propromo-software/propromo.chat/internal/ratelimit"
	"github.com/propromo-software/propromo.chat/internal/replay"
	"github.com/propromo-software/propromo.chat/internal/room"
	"github.com/propromo-software/propromo.chat/internal/util"
)

var (
	// Global references for graceful shutdown
	globalGate          *gate.Handler
	globalGuard         *replay.Guard
	globalLoginLimiter  *ratelimit.RequestLimiter
	globalPublicLimiter *ratelimit.RequestLimiter
	globalLogger        *slog.Logger
	shutdownMu          sync.Mutex
)

// Register registers the chat service on the gin engine. It is called once
// at startup with a validated configuration; the store and verifier are the
// service's two external collaborators.
func Register(r *gin.Engine, cfg *config.Config, logger *slog.Logger, store monitor.Store, verifier login.CredentialVerifier) error {
	chatLogger := logger.WithGroup("chat")
	chatLogger.Info("Initializing chat service")

	signer := auth.NewSigner(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL)
	tokenVerifier := auth.NewVerifier(cfg.JWTSecret)
	validator := auth.NewValidator(cfg.Issuer)

	guard := replay.NewGuard(constants.DefaultCleanupInterval)
	registry := room.NewRegistry(cfg.EchoSender, chatLogger)

	gateHandler := gate.NewHandler(tokenVerifier, validator, guard, registry, chatLogger, gate.Options{
		ReplayKeyPolicy: cfg.ReplayKeyPolicy,
		TagMessages:     cfg.TagMessages,
		DevMode:         cfg.DevMode,
		MaxMessageSize:  cfg.MaxMessageSize,
	})

	// SECURITY: When no origins are configured, ALL upgrade origins are
	// accepted. This is acceptable only in development. In production, always
	// configure CHAT_ALLOWED_ORIGINS to prevent cross-site WebSocket hijacking.
	if len(cfg.AllowedOrigins) > 0 {
		gateHandler.SetAllowedOrigins(cfg.AllowedOrigins)
	} else {
		chatLogger.Warn("No allowed origins configured, allowing all origins (development mode)")
	}

	loginService := login.NewService(verifier, store, signer, chatLogger)

	loginLimiter := ratelimit.NewRequestLimiter(cfg.LoginRateWindow, cfg.LoginRateLimit)
	publicLimiter := ratelimit.NewRequestLimiter(constants.DefaultRateWindow, constants.PublicEndpointRate)

	// Start background cleanup goroutines only after all construction is
	// complete, so no goroutines leak if Register returns an error.
	guard.StartCleanup()
	loginLimiter.StartCleanup()
	publicLimiter.StartCleanup()

	// Store global references for graceful shutdown. Stop any
	// previously-registered instances to prevent goroutine leaks when
	// Register is called multiple times (tests, hot-reload).
	shutdownMu.Lock()
	if globalGuard != nil {
		globalGuard.StopCleanup()
	}
	if globalLoginLimiter != nil {
		globalLoginLimiter.StopCleanup()
	}
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}
	if globalGate != nil {
		_ = globalGate.ShutdownWithContext(context.Background())
	}
	globalGate = gateHandler
	globalGuard = guard
	globalLoginLimiter = loginLimiter
	globalPublicLimiter = publicLimiter
	globalLogger = chatLogger
	shutdownMu.Unlock()

	// Configure CORS middleware
	if len(cfg.CORSAllowedOrigins) > 0 {
		corsConfig := cors.Config{
			AllowOrigins:     cfg.CORSAllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		r.Use(cors.New(corsConfig))

		chatLogger.Info("CORS middleware configured",
			"allowed_origins", cfg.CORSAllowedOrigins,
			"allow_credentials", true)
	} else {
		chatLogger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	// Configure trusted proxies to prevent X-Forwarded-For spoofing.
	// c.ClientIP() will only trust X-Forwarded-For from these networks.
	if cfg.TrustedProxies != "" {
		proxies := strings.Split(cfg.TrustedProxies, ",")
		for i, p := range proxies {
			proxies[i] = strings.TrimSpace(p)
		}
		if err := r.SetTrustedProxies(proxies); err != nil {
			chatLogger.Warn("Failed to set trusted proxies", "error", err)
		} else {
			chatLogger.Info("Trusted proxies configured", "proxies", proxies)
		}
	}

	r.Use(securityHeadersMiddleware())
	r.Use(metricsMiddleware())

	// Login endpoint - rate limited per client IP
	r.POST("/login", requestRateLimitMiddleware(loginLimiter, chatLogger), loginService.Handler())

	// WebSocket chat endpoint - use Gin context adapter. Admission failures
	// are handled inside the gate before any upgrade happens.
	r.GET("/chat/:monitor_id", func(c *gin.Context) {
		gateHandler.HandleChat(c.Writer, c.Request, c.Param("monitor_id"))
	})

	// Health check endpoints (rate limited to prevent abuse)
	r.GET("/healthz", requestRateLimitMiddleware(publicLimiter, chatLogger), handleHealthCheck)
	r.GET("/readyz", requestRateLimitMiddleware(publicLimiter, chatLogger), handleReadyCheck(store, chatLogger))

	// Prometheus metrics endpoint - restricted to configured networks
	metricsNets := parseNetworks(cfg.MetricsAllowedNetworks, chatLogger)
	r.GET("/metrics/prometheus",
		metricsNetworkMiddleware(metricsNets, chatLogger),
		requestRateLimitMiddleware(publicLimiter, chatLogger),
		gin.WrapH(promhttp.Handler()),
	)

	chatLogger.Info("Chat service registered successfully",
		"login_endpoint", "/login",
		"chat_endpoint", "/chat/:monitor_id",
		"health_endpoints", "/healthz, /readyz",
		"metrics_endpoint", "/metrics/prometheus",
	)

	return nil
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// requestRateLimitMiddleware creates a Gin middleware for rate limiting
// endpoints by client IP to prevent abuse.
func requestRateLimitMiddleware(limiter *ratelimit.RequestLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Use Gin's ClientIP() which respects trusted proxies to prevent X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		if !limiter.Allow(clientIP) {
			retryAfter := limiter.RetryAfter(clientIP)
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))

			logger.Warn("Rate limit exceeded",
				"client_ip", clientIP,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfter)

			c.JSON(constants.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": constants.MsgRateLimitExceeded,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// handleHealthCheck is the liveness probe endpoint. If we can respond, the
// process is alive.
func handleHealthCheck(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck is the readiness probe endpoint. It checks the one
// critical dependency: the monitors database.
func handleReadyCheck(store monitor.Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]interface{})
		allReady := true

		ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			logger.Warn("Database health check failed",
				"error", err,
				"component", "health")

			checks["database"] = map[string]interface{}{
				"status": "not ready",
				"reason": "Database connectivity check failed",
			}
			allReady = false
		} else {
			checks["database"] = map[string]interface{}{
				"status": "ready",
			}
		}

		status := "ready"
		statusCode := constants.StatusOK
		if !allReady {
			status = "not ready"
			statusCode = constants.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	}
}

// parseNetworks parses a comma-separated list of CIDR network strings.
func parseNetworks(networksStr string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(networksStr, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("Invalid CIDR in METRICS_ALLOWED_NETWORKS", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts access to the metrics endpoint to configured networks.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// If no networks configured, allow all (development mode)
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			logger.Warn("Could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warn("Metrics access denied from unauthorized network",
			"client_ip", c.ClientIP(),
			"component", "metrics")
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}

// Shutdown gracefully shuts down the chat service. It stops the background
// cleanup goroutines and closes all active WebSocket connections. It
// respects the context deadline and will force shutdown if it is exceeded.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	if globalLogger != nil {
		globalLogger.Info("Starting graceful shutdown of chat service")
	}

	if globalGuard != nil {
		globalGuard.StopCleanup()
	}
	if globalLoginLimiter != nil {
		globalLoginLimiter.StopCleanup()
	}
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}

	if globalGate != nil {
		if err := globalGate.ShutdownWithContext(ctx); err != nil {
			if globalLogger != nil {
				globalLogger.Warn("Connection gate shutdown error", "error", err)
			}
			return err
		}
	}

	if globalLogger != nil {
		globalLogger.Info("Chat service shutdown complete")
	}

	return nil
}
