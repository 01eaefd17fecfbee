// Package metrics provides Prometheus metrics collection for the chat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks the current number of active WebSocket connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_websocket_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of chat rooms with at least one member
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_rooms_total",
		Help: "Current number of chat rooms with at least one member",
	})

	// Admissions tracks upgrade admission decisions by outcome
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_admissions_total",
		Help: "Total number of admission decisions by outcome",
	}, []string{"outcome"})

	// ReplayRejections tracks admission attempts rejected for token reuse.
	// Counted separately from Admissions since reuse may indicate token
	// leakage or a client retry bug.
	ReplayRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_replay_rejections_total",
		Help: "Total number of admission attempts rejected because the token was already used",
	})

	// MessagesReceived tracks the total number of messages received from clients
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "Total number of messages received from clients",
	})

	// MessagesBroadcast tracks the total number of message copies delivered to room members
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_broadcast_total",
		Help: "Total number of message copies delivered to room members",
	})

	// DeliveryFailures tracks per-recipient broadcast delivery failures
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_delivery_failures_total",
		Help: "Total number of per-recipient broadcast delivery failures",
	})

	// TokensIssued tracks the total number of admission tokens issued at login
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_tokens_issued_total",
		Help: "Total number of admission tokens issued",
	})

	// HTTPRequestDuration tracks HTTP request durations by endpoint and method
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)

// AdmissionOutcome labels for the Admissions counter
const (
	OutcomeAdmitted      = "admitted"
	OutcomeMissingToken  = "missing_token"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeExpired       = "expired"
	OutcomeWrongIssuer   = "wrong_issuer"
	OutcomeTopicMismatch = "topic_mismatch"
	OutcomeTokenReused   = "token_reused"
)
