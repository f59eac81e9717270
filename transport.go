package channely

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Transport
// ============================================================================

// TransportCallbacks are the four callback slots a Transport reports through.
// OnClose fires at most once, for any cause other than a local Close call.
type TransportCallbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(code int, reason string)
	OnError   func(err error)
}

// Transport is the minimal duplex-socket capability the connector needs. The
// connector decides when to open and close it and what to do with its events;
// framing, handshake, and ping/pong frame mechanics belong to the
// implementation.
type Transport interface {
	// Open establishes the connection and starts delivering callbacks.
	Open(ctx context.Context) error

	// Send writes one text frame. Returns ErrTransportClosed after Close.
	Send(data []byte) error

	// Close tears the connection down with the given close code. No
	// callbacks are delivered after Close returns.
	Close(code int, reason string) error
}

// TransportDialer constructs a transport for a target address. Each connect
// attempt gets a fresh transport; the default dials a websocket.
type TransportDialer func(url string, cb TransportCallbacks) Transport

const transportWriteTimeout = 5 * time.Second

// ============================================================================
// Websocket Transport
// ============================================================================

// wsTransport adapts a nhooyr websocket connection to the Transport interface.
type wsTransport struct {
	url string
	cb  TransportCallbacks

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
}

func newWebsocketTransport(url string, cb TransportCallbacks) Transport {
	return &wsTransport{url: url, cb: cb}
}

func (t *wsTransport) Open(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return ErrTransportClosed
	}
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	if t.cb.OnOpen != nil {
		t.cb.OnOpen()
	}

	go t.readLoop(readCtx, conn)
	return nil
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed || conn == nil {
		return ErrTransportClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), transportWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusCode(code), reason)
}

func (t *wsTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.closed = true
			t.mu.Unlock()
			if closed {
				// Local Close; the owner already knows.
				return
			}

			code := closeAbnormalClosure
			reason := ""
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				code = int(ce.Code)
				reason = ce.Reason
			} else if t.cb.OnError != nil {
				// Not a close frame: a lower-level socket failure.
				t.cb.OnError(err)
			}

			if t.cb.OnClose != nil {
				t.cb.OnClose(code, reason)
			}
			return
		}

		if t.cb.OnMessage != nil {
			t.cb.OnMessage(data)
		}
	}
}
