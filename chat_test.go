package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propromo-software/propromo.chat/internal/config"
	"github.com/propromo-software/propromo.chat/internal/constants"
	"github.com/propromo-software/propromo.chat/internal/monitor"
)

type fakeStore struct {
	monitors []monitor.Monitor
	pingErr  error
}

func (f *fakeStore) MonitorsForUser(ctx context.Context, email string) ([]monitor.Monitor, error) {
	return f.monitors, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

type fakeCredVerifier struct{}

func (fakeCredVerifier) Verify(ctx context.Context, email, password string) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                   constants.DefaultPort,
		JWTSecret:              "Kq3vZ8hW1mP5nR7sT9uX2yB4dF6gJ0aL",
		Issuer:                 constants.DefaultIssuer,
		TokenTTL:               constants.DefaultTokenTTL,
		ReplayKeyPolicy:        constants.ReplayPolicyPair,
		DatabaseURL:            "postgres://localhost/propromo",
		TrustedProxies:         constants.DefaultTrustedProxies,
		MetricsAllowedNetworks: constants.DefaultMetricsAllowedNetworks,
		MaxMessageSize:         constants.DefaultMaxMessageSize,
		LoginRateLimit:         constants.DefaultLoginRateLimit,
		LoginRateWindow:        constants.DefaultRateWindow,
	}
}

func registerTestService(t *testing.T, cfg *config.Config, store monitor.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := gin.New()
	require.NoError(t, Register(r, cfg, logger, store, fakeCredVerifier{}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = Shutdown(ctx)
	})
	return r
}

func TestRegister_HealthEndpoint(t *testing.T) {
	r := registerTestService(t, testConfig(), &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRegister_SecurityHeaders(t *testing.T) {
	r := registerTestService(t, testConfig(), &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestRegister_ReadyEndpoint(t *testing.T) {
	r := registerTestService(t, testConfig(), &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready"`)
}

func TestRegister_ReadyEndpointDatabaseDown(t *testing.T) {
	r := registerTestService(t, testConfig(), &fakeStore{pingErr: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, constants.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not ready")
	// Internal error detail must not leak
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRegister_ChatEndpointGated(t *testing.T) {
	r := registerTestService(t, testConfig(), &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/chat/m1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), constants.MsgTokenRequired)
}

func TestRegister_LoginRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.LoginRateLimit = 2
	r := registerTestService(t, cfg, &fakeStore{})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, post().Code)
	assert.Equal(t, http.StatusBadRequest, post().Code)

	limited := post()
	assert.Equal(t, constants.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get(constants.HeaderRetryAfter))
}

func TestRegister_MetricsRestrictedToAllowedNetworks(t *testing.T) {
	r := registerTestService(t, testConfig(), &fakeStore{})

	// httptest requests originate from 192.0.2.1, outside the allowed networks
	req := httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Loopback is in the default allow list
	req = httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShutdown_Idempotent(t *testing.T) {
	registerTestService(t, testConfig(), &fakeStore{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, Shutdown(ctx))
	assert.NoError(t, Shutdown(ctx))
}
