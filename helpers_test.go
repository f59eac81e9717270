package channely

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testKey = "ck_0123456789abcdefghijklmn"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// ============================================================================
// Fake Transport
// ============================================================================

// fakeTransport is an in-memory Transport whose server side the test drives
// directly through the callback slots.
type fakeTransport struct {
	url string
	cb  TransportCallbacks

	mu          sync.Mutex
	opened      bool
	closed      bool
	closeCode   int
	closeReason string
	sent        [][]byte
	openErr     error
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	if f.openErr != nil {
		err := f.openErr
		f.mu.Unlock()
		return err
	}
	f.opened = true
	f.mu.Unlock()

	if f.cb.OnOpen != nil {
		f.cb.OnOpen()
	}
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeTransport) isOpened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) closedWith() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// serverMessage delivers a raw frame from the fake server.
func (f *fakeTransport) serverMessage(frame []byte) {
	f.cb.OnMessage(frame)
}

// serverEvent delivers an enveloped event from the fake server.
func (f *fakeTransport) serverEvent(event string, data any) {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(Envelope{Event: event, Data: raw, Timestamp: time.Now().UnixMilli()})
	f.serverMessage(frame)
}

// serverEstablish confirms the connection with a socket ID.
func (f *fakeTransport) serverEstablish(socketID string) {
	f.serverEvent(eventEstablished, EstablishedPayload{
		SocketID:  socketID,
		Channel:   "orders",
		Subdomain: "acme",
		Timestamp: time.Now().UnixMilli(),
	})
}

// serverClose simulates the server closing the connection.
func (f *fakeTransport) serverClose(code int, reason string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.cb.OnClose(code, reason)
}

// ============================================================================
// Fake Dialer
// ============================================================================

// fakeDialer hands out fakeTransports and records each one it created.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	openErr    error
}

func (d *fakeDialer) dial(url string, cb TransportCallbacks) Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr := &fakeTransport{url: url, cb: cb, openErr: d.openErr}
	d.transports = append(d.transports, tr)
	return tr
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// ============================================================================
// Event Recorder
// ============================================================================

type recordedEvent struct {
	name string
	data any
}

// eventRecorder captures every dispatched event through a wildcard
// registration.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) attach(ch *Channel) {
	ch.On(EventWildcard, func(event string, data any) {
		r.mu.Lock()
		r.events = append(r.events, recordedEvent{name: event, data: data})
		r.mu.Unlock()
	})
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.name == name {
			n++
		}
	}
	return n
}

// first returns the data of the first event with the given name.
func (r *eventRecorder) first(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.name == name {
			return e.data, true
		}
	}
	return nil, false
}

// all returns the data of every event with the given name, in order.
func (r *eventRecorder) all(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.data)
		}
	}
	return out
}

// ============================================================================
// Channel Fixtures
// ============================================================================

// newTestChannel builds a channel wired to a fresh fakeDialer with fast
// timings. mutate may adjust the config before construction.
func newTestChannel(name string, mutate func(*channelConfig)) (*Channel, *fakeDialer) {
	d := &fakeDialer{}
	cfg := channelConfig{
		key:                  testKey,
		subdomain:            "acme",
		wsURL:                "wss://gateway.test",
		autoReconnect:        true,
		maxReconnectAttempts: 10,
		reconnectDelay:       5 * time.Millisecond,
		heartbeatInterval:    50 * time.Millisecond,
		handshakeTimeout:     500 * time.Millisecond,
		dialer:               d.dial,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return newChannel(name, cfg, testLogger()), d
}

// establish connects the channel and completes the server handshake.
func establish(t *testing.T, ch *Channel, d *fakeDialer, socketID string) *fakeTransport {
	t.Helper()
	ch.Connect()
	waitFor(t, func() bool {
		tr := d.last()
		return tr != nil && tr.isOpened()
	}, "transport open")
	tr := d.last()
	tr.serverEstablish(socketID)
	waitFor(t, func() bool { return ch.State() == StateConnected }, "connection established")
	return tr
}
