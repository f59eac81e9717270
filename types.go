package channely

import (
	"encoding/json"
	"errors"
	"time"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState represents the lifecycle state of a channel connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ============================================================================
// Wire Envelope
// ============================================================================

// Envelope is the wire format for all frames, in both directions.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// outboundEnvelope carries arbitrary payloads toward the server.
type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Reserved wire event names.
const (
	eventEstablished = "connection:established"
	eventPing        = "ping"
	eventPong        = "pong"
	eventClientEvent = "client:event"
)

// ============================================================================
// Emitted Events
// ============================================================================

// Event names emitted to subscribers. Application-defined event names from the
// server are forwarded verbatim alongside these.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventStateChange     = "state:change"
	EventReconnecting    = "reconnecting"
	EventReconnectFailed = "reconnect:failed"
	EventError           = "error"

	// EventWildcard receives every dispatched event, after the
	// specific-event subscribers for that event have run.
	EventWildcard = "*"
)

// EstablishedPayload is the server's connection confirmation. It is the data
// of the EventConnected event.
type EstablishedPayload struct {
	SocketID  string `json:"socketId"`
	Channel   string `json:"channel"`
	Subdomain string `json:"subdomain"`
	Timestamp int64  `json:"timestamp"`
}

// StateChangePayload is the data of every EventStateChange event.
type StateChangePayload struct {
	Previous ConnectionState `json:"previous"`
	Current  ConnectionState `json:"current"`
}

// DisconnectPayload is the data of the EventDisconnected event. Reason is the
// server-supplied reason string if there was one, otherwise the fixed message
// for the close code (empty for unreserved codes with no reason).
type DisconnectPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// ReconnectingPayload is the data of the EventReconnecting event.
type ReconnectingPayload struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// ReconnectFailedPayload is the data of the EventReconnectFailed event,
// emitted once when the retry budget is exhausted.
type ReconnectFailedPayload struct {
	Attempts int `json:"attempts"`
}

// ErrorPayload is the data of every EventError event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorPayload) Error() string {
	return e.Code + ": " + e.Message
}

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrMissingAPIKey is returned by NewClient when the key is empty.
	ErrMissingAPIKey = errors.New("channely: API key is required")

	// ErrMissingSubdomain is returned by NewClient when the subdomain is empty.
	ErrMissingSubdomain = errors.New("channely: subdomain is required")

	// ErrTransportClosed is returned by a transport send after close.
	ErrTransportClosed = errors.New("channely: transport is closed")
)
