package channely

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// keyPattern is the fixed API key format: the literal "ck_" prefix followed by
// a 24-character URL-safe token.
var keyPattern = regexp.MustCompile(`^ck_[A-Za-z0-9_-]{24}$`)

// ============================================================================
// Configuration
// ============================================================================

// channelConfig carries the per-channel connection settings. It is assembled
// by the Client from its options.
type channelConfig struct {
	key       string
	subdomain string
	wsURL     string

	autoReconnect        bool
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	heartbeatInterval    time.Duration
	handshakeTimeout     time.Duration

	dialer TransportDialer
}

func (c *channelConfig) defaults() {
	if c.wsURL == "" {
		c.wsURL = DefaultWSURL
	}
	if c.maxReconnectAttempts == 0 {
		c.maxReconnectAttempts = 10
	}
	if c.reconnectDelay == 0 {
		c.reconnectDelay = 1 * time.Second
	}
	if c.heartbeatInterval == 0 {
		c.heartbeatInterval = 25 * time.Second
	}
	if c.handshakeTimeout == 0 {
		c.handshakeTimeout = 10 * time.Second
	}
	if c.dialer == nil {
		c.dialer = newWebsocketTransport
	}
}

// ============================================================================
// Channel
// ============================================================================

// Channel owns one logical channel's connection lifecycle: opening the
// transport, interpreting server control messages, running the heartbeat,
// scheduling reconnection with exponential backoff, and dispatching events to
// subscribers.
//
// Subscriber callbacks run sequentially on the connection's dispatch
// goroutine: specific-event subscribers in registration order, then wildcard
// subscribers. A panicking callback is recovered and logged and never
// prevents the remaining callbacks from running.
type Channel struct {
	name   string
	cfg    channelConfig
	logger *slog.Logger

	dispatcher *dispatcher

	mu             sync.Mutex
	state          ConnectionState
	transport      Transport
	socketID       string
	attempts       int
	reconnectTimer *time.Timer
	handshakeTimer *time.Timer
	heartbeatStop  chan struct{}
}

func newChannel(name string, cfg channelConfig, logger *slog.Logger) *Channel {
	cfg.defaults()
	logger = logger.With("channel", name)
	return &Channel{
		name:       name,
		cfg:        cfg,
		logger:     logger,
		dispatcher: newDispatcher(logger),
		state:      StateDisconnected,
	}
}

// Name returns the channel name.
func (ch *Channel) Name() string {
	return ch.name
}

// State returns the current connection state.
func (ch *Channel) State() ConnectionState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// SocketID returns the session identifier assigned by the server. It is
// non-empty exactly while the state is StateConnected.
func (ch *Channel) SocketID() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.socketID
}

// ============================================================================
// Subscription API
// ============================================================================

// On registers a callback for an event name and returns its unsubscribe
// closure. Register for EventWildcard to receive every dispatched event.
func (ch *Channel) On(event string, fn Handler) func() {
	return ch.dispatcher.on(event, fn, false)
}

// Once registers a callback that unsubscribes itself before its first
// invocation runs.
func (ch *Channel) Once(event string, fn Handler) func() {
	return ch.dispatcher.on(event, fn, true)
}

// Off removes all callbacks registered for an event. To remove a single
// callback, call the closure returned by On or Once.
func (ch *Channel) Off(event string) {
	ch.dispatcher.off(event)
}

// OnConnected registers a typed handler for the connected event.
func (ch *Channel) OnConnected(fn func(EstablishedPayload)) func() {
	return ch.On(EventConnected, func(_ string, data any) {
		if p, ok := data.(EstablishedPayload); ok {
			fn(p)
		}
	})
}

// OnDisconnected registers a typed handler for the disconnected event.
func (ch *Channel) OnDisconnected(fn func(DisconnectPayload)) func() {
	return ch.On(EventDisconnected, func(_ string, data any) {
		if p, ok := data.(DisconnectPayload); ok {
			fn(p)
		}
	})
}

// OnStateChange registers a typed handler for state transitions.
func (ch *Channel) OnStateChange(fn func(StateChangePayload)) func() {
	return ch.On(EventStateChange, func(_ string, data any) {
		if p, ok := data.(StateChangePayload); ok {
			fn(p)
		}
	})
}

// OnReconnecting registers a typed handler for scheduled reconnect attempts.
func (ch *Channel) OnReconnecting(fn func(ReconnectingPayload)) func() {
	return ch.On(EventReconnecting, func(_ string, data any) {
		if p, ok := data.(ReconnectingPayload); ok {
			fn(p)
		}
	})
}

// OnReconnectFailed registers a typed handler for retry-budget exhaustion.
func (ch *Channel) OnReconnectFailed(fn func(ReconnectFailedPayload)) func() {
	return ch.On(EventReconnectFailed, func(_ string, data any) {
		if p, ok := data.(ReconnectFailedPayload); ok {
			fn(p)
		}
	})
}

// OnError registers a typed handler for error events.
func (ch *Channel) OnError(fn func(*ErrorPayload)) func() {
	return ch.On(EventError, func(_ string, data any) {
		if p, ok := data.(*ErrorPayload); ok {
			fn(p)
		}
	})
}

// ============================================================================
// Connect / Disconnect
// ============================================================================

// Connect opens the channel's transport. It is a no-op unless the channel is
// currently disconnected. An invalid API key emits an error event and never
// opens the transport.
func (ch *Channel) Connect() {
	ch.mu.Lock()
	if ch.state != StateDisconnected {
		ch.mu.Unlock()
		return
	}
	if ch.reconnectTimer != nil {
		ch.reconnectTimer.Stop()
		ch.reconnectTimer = nil
	}

	if !keyPattern.MatchString(ch.cfg.key) {
		ch.mu.Unlock()
		ch.logger.Debug("refusing to connect: malformed API key")
		ch.dispatcher.dispatch(EventError, &ErrorPayload{
			Code:    ErrCodeInvalidKey,
			Message: "Invalid API key format",
		})
		return
	}

	prev := ch.state
	next := StateConnecting
	if ch.attempts > 0 {
		next = StateReconnecting
	}
	ch.state = next

	var t Transport
	t = ch.cfg.dialer(ch.address(), TransportCallbacks{
		OnOpen:    func() { ch.handleOpen(t) },
		OnMessage: func(data []byte) { ch.handleMessage(t, data) },
		OnClose:   func(code int, reason string) { ch.handleClose(t, code, reason) },
		OnError:   func(err error) { ch.handleTransportError(t, err) },
	})
	ch.transport = t
	ch.armHandshakeTimerLocked(t)
	ch.mu.Unlock()

	ch.dispatcher.dispatch(EventStateChange, StateChangePayload{Previous: prev, Current: next})

	go ch.open(t)
}

// open dials the transport off the caller's goroutine. A dial failure is a
// transport error followed by the usual close handling, so the reconnect
// policy applies to failed attempts too.
func (ch *Channel) open(t Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), ch.cfg.handshakeTimeout)
	defer cancel()

	if err := t.Open(ctx); err != nil {
		if !ch.isCurrent(t) {
			return
		}
		ch.logger.Debug("transport open failed", "error", err)
		ch.dispatcher.dispatch(EventError, &ErrorPayload{Code: ErrCodeTransport, Message: err.Error()})
		ch.handleClose(t, closeAbnormalClosure, "")
	}
}

// Disconnect is the explicit terminal teardown: it cancels any pending
// reconnect, stops the heartbeat, closes the transport with a normal-closure
// code, clears session state, and removes every subscriber registration. No
// disconnected or state-change events are emitted.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	if ch.reconnectTimer != nil {
		ch.reconnectTimer.Stop()
		ch.reconnectTimer = nil
	}
	ch.cancelHandshakeLocked()
	ch.stopHeartbeatLocked()
	t := ch.transport
	ch.transport = nil
	ch.socketID = ""
	ch.attempts = 0
	ch.state = StateDisconnected
	ch.mu.Unlock()

	if t != nil {
		t.Close(CloseNormalClosure, "client disconnect")
	}
	ch.dispatcher.removeAll()
	ch.logger.Debug("channel torn down")
}

// Trigger sends an application event to the channel. While the transport is
// not open it is a silent no-op.
func (ch *Channel) Trigger(data any) error {
	ch.mu.Lock()
	t := ch.transport
	connected := ch.state == StateConnected
	ch.mu.Unlock()

	if !connected || t == nil {
		ch.logger.Debug("trigger suppressed: not connected")
		return nil
	}

	frame, err := json.Marshal(outboundEnvelope{Event: eventClientEvent, Data: data})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := t.Send(frame); err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	return nil
}

// ============================================================================
// Transport callbacks
// ============================================================================

// isCurrent reports whether t is still the channel's live transport handle.
// Callbacks from a superseded or torn-down transport are ignored.
func (ch *Channel) isCurrent(t Transport) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.transport == t
}

// handleOpen fires when the socket opens. The connection is not considered
// established until the server sends its control message.
func (ch *Channel) handleOpen(t Transport) {
	if !ch.isCurrent(t) {
		return
	}
	ch.logger.Debug("transport open, awaiting establishment")
}

func (ch *Channel) handleMessage(t Transport, data []byte) {
	if !ch.isCurrent(t) {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		ch.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	switch env.Event {
	case eventEstablished:
		var p EstablishedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			ch.logger.Debug("dropping malformed establishment payload", "error", err)
			return
		}
		ch.handleEstablished(t, p)
	case eventPong:
		// Heartbeat acknowledgment; informational only.
		ch.logger.Debug("pong received")
	default:
		ch.dispatcher.dispatch(env.Event, env.Data)
	}
}

func (ch *Channel) handleEstablished(t Transport, p EstablishedPayload) {
	ch.mu.Lock()
	if ch.transport != t {
		ch.mu.Unlock()
		return
	}
	ch.cancelHandshakeLocked()
	prev := ch.state
	ch.state = StateConnected
	ch.socketID = p.SocketID
	ch.attempts = 0
	ch.startHeartbeatLocked(t)
	ch.mu.Unlock()

	ch.logger.Debug("connection established", "socket_id", p.SocketID)
	ch.dispatcher.dispatch(EventConnected, p)
	ch.dispatcher.dispatch(EventStateChange, StateChangePayload{Previous: prev, Current: StateConnected})
}

func (ch *Channel) handleTransportError(t Transport, err error) {
	if !ch.isCurrent(t) {
		return
	}
	ch.logger.Debug("transport error", "error", err)
	ch.dispatcher.dispatch(EventError, &ErrorPayload{Code: ErrCodeTransport, Message: err.Error()})
}

func (ch *Channel) handleClose(t Transport, code int, reason string) {
	ch.mu.Lock()
	if ch.transport != t {
		ch.mu.Unlock()
		return
	}
	ch.cancelHandshakeLocked()
	ch.stopHeartbeatLocked()
	ch.transport = nil
	ch.socketID = ""
	prev := ch.state
	ch.state = StateDisconnected
	ch.mu.Unlock()

	errCode, message, coded := classifyClose(code, reason)
	if coded {
		ch.dispatcher.dispatch(EventError, &ErrorPayload{Code: errCode, Message: message})
	}
	ch.dispatcher.dispatch(EventDisconnected, DisconnectPayload{Code: code, Reason: message})
	ch.dispatcher.dispatch(EventStateChange, StateChangePayload{Previous: prev, Current: StateDisconnected})

	if isTerminalClose(code) {
		ch.logger.Debug("terminal close, not reconnecting", "code", code)
		return
	}
	ch.scheduleReconnect()
}

// ============================================================================
// Reconnection
// ============================================================================

// backoffDelay computes base * 2^(attempt-1): pure exponential backoff, no
// jitter, no cap.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
}

func (ch *Channel) scheduleReconnect() {
	if !ch.cfg.autoReconnect {
		return
	}

	ch.mu.Lock()
	if ch.attempts >= ch.cfg.maxReconnectAttempts {
		attempts := ch.attempts
		ch.mu.Unlock()
		ch.logger.Debug("reconnect attempts exhausted", "attempts", attempts)
		ch.dispatcher.dispatch(EventReconnectFailed, ReconnectFailedPayload{Attempts: attempts})
		return
	}
	ch.attempts++
	attempt := ch.attempts
	delay := backoffDelay(ch.cfg.reconnectDelay, attempt)

	// Only one deferred attempt may be outstanding.
	if ch.reconnectTimer != nil {
		ch.reconnectTimer.Stop()
	}
	ch.reconnectTimer = time.AfterFunc(delay, func() {
		ch.mu.Lock()
		if ch.reconnectTimer == nil {
			// Cancelled by Disconnect or a manual Connect.
			ch.mu.Unlock()
			return
		}
		ch.reconnectTimer = nil
		ch.mu.Unlock()
		ch.Connect()
	})
	ch.mu.Unlock()

	ch.logger.Debug("reconnect scheduled", "attempt", attempt, "delay", delay)
	ch.dispatcher.dispatch(EventReconnecting, ReconnectingPayload{Attempt: attempt, Delay: delay})
}

// ============================================================================
// Heartbeat
// ============================================================================

func (ch *Channel) startHeartbeatLocked(t Transport) {
	ch.stopHeartbeatLocked()
	stop := make(chan struct{})
	ch.heartbeatStop = stop
	go ch.heartbeatLoop(t, stop)
}

func (ch *Channel) stopHeartbeatLocked() {
	if ch.heartbeatStop != nil {
		close(ch.heartbeatStop)
		ch.heartbeatStop = nil
	}
}

// heartbeatLoop pings the server at a fixed interval while the transport is
// open. The client does not verify pong receipt; the ping exists to keep the
// connection from idling out.
func (ch *Channel) heartbeatLoop(t Transport, stop <-chan struct{}) {
	ticker := time.NewTicker(ch.cfg.heartbeatInterval)
	defer ticker.Stop()

	frame, _ := json.Marshal(outboundEnvelope{Event: eventPing})

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ch.mu.Lock()
			open := ch.transport == t && ch.state == StateConnected
			ch.mu.Unlock()
			if !open {
				return
			}
			if err := t.Send(frame); err != nil {
				ch.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

// ============================================================================
// Handshake timeout
// ============================================================================

// armHandshakeTimerLocked schedules a forced close if the server never
// confirms establishment within the configured bound.
func (ch *Channel) armHandshakeTimerLocked(t Transport) {
	ch.cancelHandshakeLocked()
	ch.handshakeTimer = time.AfterFunc(ch.cfg.handshakeTimeout, func() {
		ch.mu.Lock()
		stale := ch.transport != t || ch.state == StateConnected
		ch.mu.Unlock()
		if stale {
			return
		}
		ch.logger.Debug("handshake timed out")
		t.Close(CloseHandshakeTimeout, "")
		ch.handleClose(t, CloseHandshakeTimeout, "")
	})
}

func (ch *Channel) cancelHandshakeLocked() {
	if ch.handshakeTimer != nil {
		ch.handshakeTimer.Stop()
		ch.handshakeTimer = nil
	}
}

// ============================================================================
// Address
// ============================================================================

// address composes the target: {wsURL}/c/{subdomain}/{channel}?key={key}.
func (ch *Channel) address() string {
	return fmt.Sprintf("%s/c/%s/%s?key=%s",
		strings.TrimRight(ch.cfg.wsURL, "/"),
		url.PathEscape(ch.cfg.subdomain),
		url.PathEscape(ch.name),
		url.QueryEscape(ch.cfg.key),
	)
}
