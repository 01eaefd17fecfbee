// Package gate implements the WebSocket connection gate: the single-use
// token admission protocol that decides whether an upgrade may proceed, and
// the transport pumps that feed admitted connections into their chat room.
//
// The admission token travels in the "auth" query parameter rather than a
// header or cookie, because browser WebSocket clients cannot attach custom
// headers to the upgrade request.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/propromo-software/propromo.chat/internal/auth"
	"github.com/propromo-software/propromo.chat/internal/chaterrors"
	"github.com/propromo-software/propromo.chat/internal/constants"
	"github.com/propromo-software/propromo.chat/internal/metrics"
	"github.com/propromo-software/propromo.chat/internal/ratelimit"
	"github.com/propromo-software/propromo.chat/internal/replay"
	"github.com/propromo-software/propromo.chat/internal/room"
	"github.com/propromo-software/propromo.chat/internal/util"
)

var (
	// upgrader configures the WebSocket upgrade.
	// SECURITY: In production, this service MUST be deployed behind a reverse
	// proxy that terminates TLS, ensuring all connections use WSS.
	// The CheckOrigin function is configured per-handler instance.
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// Options configures gate behavior.
type Options struct {
	// ReplayKeyPolicy selects the consumed-token key derivation:
	// constants.ReplayPolicyPair or constants.ReplayPolicyToken.
	ReplayKeyPolicy string

	// TagMessages wraps each outbound broadcast copy in a JSON envelope
	// with the monitor id and sender principal. Applied identically to
	// every copy of a given inbound message.
	TagMessages bool

	// DevMode logs underlying admission failure detail.
	DevMode bool

	// MaxMessageSize is the WebSocket read limit in bytes.
	MaxMessageSize int64
}

// AdmittedSession binds a future connection to its room and principal.
type AdmittedSession struct {
	Email     string
	MonitorID string
}

// Handler orchestrates the upgrade handshake and manages live connections.
type Handler struct {
	verifier  *auth.Verifier
	validator *auth.Validator
	guard     *replay.Guard
	registry  *room.Registry

	connLimiter    *ratelimit.ConnectionLimiter
	logger         *slog.Logger
	allowedOrigins map[string]bool
	opts           Options

	// connections tracks active connections by connection ID for shutdown
	connections map[string]*Connection
	mu          sync.RWMutex
}

// NewHandler creates a connection gate.
func NewHandler(verifier *auth.Verifier, validator *auth.Validator, guard *replay.Guard, registry *room.Registry, logger *slog.Logger, opts Options) *Handler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = constants.DefaultMaxMessageSize
	}
	return &Handler{
		verifier:       verifier,
		validator:      validator,
		guard:          guard,
		registry:       registry,
		connLimiter:    ratelimit.NewConnectionLimiter(constants.MaxConnectionsPerUser),
		logger:         logger.With("component", "gate"),
		allowedOrigins: make(map[string]bool),
		opts:           opts,
		connections:    make(map[string]*Connection),
	}
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections.
// If no origins are set, all origins are allowed (development mode).
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}

	h.logger.Info("Configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

// checkOrigin validates the origin of a WebSocket upgrade request.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.allowedOrigins) == 0 {
		return true
	}
	if h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warn("Origin not allowed", "origin", origin)
	return false
}

// Admit runs the admission protocol against an upgrade request,
// short-circuiting on the first failure:
//  1. Extract the token from the auth query parameter.
//  2. Verify signature and decode claims.
//  3. Validate claims against the requested monitor at the current time.
//  4. Reserve a connection slot for the principal.
//  5. Atomically consume the token's replay key.
//
// The connection-limit check runs before consumption so a limit rejection
// never burns the single-use token: the same token may retry once the
// principal has closed a connection. On success the caller owns the
// reserved slot and must release it when the connection unregisters.
//
// Admit performs no network I/O beyond reading the request.
func (h *Handler) Admit(r *http.Request, monitorID string) (*AdmittedSession, *chaterrors.ChatError) {
	token := r.URL.Query().Get(constants.QueryParamAuth)
	if strings.TrimSpace(token) == "" {
		return nil, chaterrors.ErrMissingToken()
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		return nil, chaterrors.ErrInvalidToken(err)
	}

	if cerr := h.validator.Validate(claims, monitorID); cerr != nil {
		return nil, cerr
	}

	if !h.connLimiter.Allow(claims.Email) {
		return nil, chaterrors.ErrConnectionLimitExceeded(5000)
	}

	key := replay.PairKey(claims.Email, monitorID)
	if h.opts.ReplayKeyPolicy == constants.ReplayPolicyToken {
		key = replay.TokenKey(token)
	}
	if !h.guard.TryConsume(key, claims.ExpiresAt.Time) {
		h.connLimiter.Release(claims.Email)
		return nil, chaterrors.ErrTokenReused()
	}

	return &AdmittedSession{Email: claims.Email, MonitorID: monitorID}, nil
}

// HandleChat handles GET /chat/:monitor_id upgrade requests. The path
// parameter arrives URL-decoded exactly once by the HTTP layer and is used
// as the room key unchanged, so ids containing literal escapes survive.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request, monitorID string) {
	session, cerr := h.Admit(r, monitorID)
	if cerr != nil {
		if cerr.Code == chaterrors.ErrCodeConnectionLimit {
			h.logger.Warn("Connection limit exceeded", "monitor_id", monitorID)
			http.Error(w, cerr.Message, http.StatusTooManyRequests)
			return
		}
		h.rejectUpgrade(w, cerr, monitorID)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		util.LogError(h.logger, "gate", "upgrade connection", err, "monitor_id", monitorID)
		h.connLimiter.Release(session.Email)
		return
	}

	conn.SetReadLimit(h.opts.MaxMessageSize)

	connection := newConnection(conn, session.Email, session.MonitorID)
	h.registerConnection(connection)

	// Create-if-absent and join are one atomic step on the registry.
	chatRoom := h.registry.Join(session.MonitorID, connection)

	metrics.Admissions.WithLabelValues(metrics.OutcomeAdmitted).Inc()
	h.logger.Info("WebSocket connection established",
		"email", session.Email,
		"monitor_id", session.MonitorID,
		"connection_id", connection.ConnectionID)

	util.SafeGo(h.logger, "readPump", func() { h.readPump(connection, chatRoom) })
	util.SafeGo(h.logger, "writePump", func() { connection.writePump() })
}

// rejectUpgrade writes the admission rejection. Token reuse is logged
// distinctly since it may indicate token leakage or a client retry bug.
func (h *Handler) rejectUpgrade(w http.ResponseWriter, cerr *chaterrors.ChatError, monitorID string) {
	var outcome, text string
	switch cerr.Code {
	case chaterrors.ErrCodeMissingToken:
		outcome, text = metrics.OutcomeMissingToken, constants.MsgTokenRequired
	case chaterrors.ErrCodeInvalidToken:
		outcome, text = metrics.OutcomeInvalidToken, constants.MsgTokenInvalid
	case chaterrors.ErrCodeExpired:
		outcome, text = metrics.OutcomeExpired, constants.MsgTokenInvalid
	case chaterrors.ErrCodeWrongIssuer:
		outcome, text = metrics.OutcomeWrongIssuer, constants.MsgTokenInvalid
	case chaterrors.ErrCodeTopicMismatch:
		outcome, text = metrics.OutcomeTopicMismatch, constants.MsgTokenInvalid
	case chaterrors.ErrCodeTokenReused:
		outcome, text = metrics.OutcomeTokenReused, constants.MsgTokenUsed
	default:
		outcome, text = metrics.OutcomeInvalidToken, constants.MsgTokenInvalid
	}

	metrics.Admissions.WithLabelValues(outcome).Inc()

	if cerr.Code == chaterrors.ErrCodeTokenReused {
		metrics.ReplayRejections.Inc()
		h.logger.Warn("Admission token replay detected",
			"monitor_id", monitorID,
			"reason", cerr.Message)
	} else {
		h.logger.Warn("Admission rejected",
			"monitor_id", monitorID,
			"code", cerr.Code,
			"reason", cerr.Message)
	}
	if h.opts.DevMode && cerr.Cause != nil {
		h.logger.Debug("Admission failure detail", "monitor_id", monitorID, "cause", cerr.Cause)
	}

	http.Error(w, text, http.StatusUnauthorized)
}

// registerConnection adds a connection to the active connections map.
func (h *Handler) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn.ConnectionID] = conn
	metrics.WebSocketConnections.Inc()
}

// unregisterConnection removes a connection from the active connections map
// and tears down its send channel. Idempotent: a connection evicted during a
// broadcast and then observed closing by its own read pump unregisters once.
func (h *Handler) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ConnectionID]; !exists {
		return
	}
	delete(h.connections, conn.ConnectionID)
	conn.closing.Store(true)
	close(conn.send)

	h.connLimiter.Release(conn.Email)
	metrics.WebSocketConnections.Dec()

	h.logger.Info("Connection unregistered",
		"email", conn.Email,
		"monitor_id", conn.MonitorID,
		"connection_id", conn.ConnectionID)
}

// evict removes a member whose delivery failed: an implicit leave. The
// failure is reported here and swallowed; it never reaches the sender.
func (h *Handler) evict(conn *Connection) {
	h.logger.Warn("Evicting member after delivery failure",
		"email", conn.Email,
		"monitor_id", conn.MonitorID,
		"connection_id", conn.ConnectionID)

	h.registry.Leave(conn.MonitorID, conn)
	h.unregisterConnection(conn)
	_ = conn.Close()
}

// taggedMessage is the optional broadcast annotation envelope.
type taggedMessage struct {
	MonitorID string `json:"monitor_id"`
	From      string `json:"from"`
	Data      string `json:"data"`
}

// readPump reads messages from the WebSocket connection and fans each one
// out to the connection's room. On close or error the connection leaves its
// room; a fresh admission is required to rejoin.
func (c *Connection) readPumpCleanup(h *Handler) {
	h.logger.Info("WebSocket connection closed",
		"email", c.Email,
		"monitor_id", c.MonitorID,
		"connection_id", c.ConnectionID)

	h.registry.Leave(c.MonitorID, c)
	h.unregisterConnection(c)
	_ = c.Close()
}

func (h *Handler) readPump(c *Connection, chatRoom *room.Room) {
	defer c.readPumpCleanup(h)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.LogError(h.logger, "gate", "handle unexpected close", err,
					"email", c.Email,
					"monitor_id", c.MonitorID,
					"connection_id", c.ConnectionID)
			} else {
				h.logger.Info("WebSocket connection closing",
					"email", c.Email,
					"monitor_id", c.MonitorID,
					"connection_id", c.ConnectionID)
			}
			break
		}

		metrics.MessagesReceived.Inc()

		payload := raw
		if h.opts.TagMessages {
			tagged, err := json.Marshal(taggedMessage{
				MonitorID: c.MonitorID,
				From:      c.Email,
				Data:      string(raw),
			})
			if err != nil {
				util.LogError(h.logger, "gate", "annotate message", err,
					"monitor_id", c.MonitorID)
				continue
			}
			payload = tagged
		}

		_, failed := chatRoom.Broadcast(payload, c)
		for _, member := range failed {
			if fc, ok := member.(*Connection); ok {
				h.evict(fc)
			}
		}
	}
}

// writePump writes queued payloads to the WebSocket connection and sends
// periodic pings. It exits when the send channel closes or a write fails.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ShutdownWithContext gracefully closes all active WebSocket connections.
// It respects the context deadline and forces shutdown when exceeded.
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.logger.Info("Shutting down connection gate, closing all connections")

	h.mu.Lock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			}
			c.mu.Unlock()

			_ = c.Close()
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed gracefully")
		return nil
	case <-ctx.Done():
		h.logger.Warn("Shutdown deadline exceeded, forcing closure",
			"remaining_connections", len(connections))
		return ctx.Err()
	}
}
