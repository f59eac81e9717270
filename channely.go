// Package channely is the official Go client for the Channely realtime
// service. It maintains one websocket connection per subscribed channel,
// reconnects with exponential backoff, keeps connections alive with a
// heartbeat, and fans incoming events out to registered subscribers. A small
// REST sub-client publishes events server-side and webhook helpers verify
// and parse delivery callbacks.
//
// Quick start:
//
//	client, err := channely.NewClient("ck_...", "acme")
//	if err != nil {
//		log.Fatal(err)
//	}
//	ch := client.Subscribe("orders")
//	ch.On("order:created", func(event string, data any) {
//		fmt.Println(event, data)
//	})
package channely

import (
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	// DefaultWSURL is the production websocket gateway.
	DefaultWSURL = "wss://gateway.channely.io"
	// DefaultAPIURL is the production REST endpoint.
	DefaultAPIURL = "https://api.channely.io"
)

// ============================================================================
// Options
// ============================================================================

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	wsURL  string
	apiURL string

	autoReconnect        bool
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	heartbeatInterval    time.Duration
	handshakeTimeout     time.Duration

	debug      bool
	logger     *slog.Logger
	httpClient *http.Client
	dialer     TransportDialer
}

func defaultOptions() clientOptions {
	return clientOptions{
		wsURL:                DefaultWSURL,
		apiURL:               DefaultAPIURL,
		autoReconnect:        true,
		maxReconnectAttempts: 10,
		reconnectDelay:       1 * time.Second,
		heartbeatInterval:    25 * time.Second,
		handshakeTimeout:     10 * time.Second,
	}
}

// WithWSURL overrides the websocket gateway URL.
func WithWSURL(u string) Option {
	return func(o *clientOptions) { o.wsURL = u }
}

// WithAPIURL overrides the REST endpoint URL.
func WithAPIURL(u string) Option {
	return func(o *clientOptions) { o.apiURL = u }
}

// WithAutoReconnect enables or disables automatic reconnection after an
// unexpected close. Enabled by default.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) { o.autoReconnect = enabled }
}

// WithMaxReconnectAttempts caps how many reconnect attempts are made before
// giving up. Default 10.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *clientOptions) { o.maxReconnectAttempts = n }
}

// WithReconnectDelay sets the base reconnect delay. The nth attempt waits
// base * 2^(n-1). Default 1s.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *clientOptions) { o.reconnectDelay = d }
}

// WithHeartbeatInterval sets the ping cadence on established connections.
// Default 25s.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *clientOptions) { o.heartbeatInterval = d }
}

// WithHandshakeTimeout bounds how long a connection may sit unestablished
// before it is forcibly closed. Default 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.handshakeTimeout = d }
}

// WithDebug enables debug-level logging on the default logger.
func WithDebug(enabled bool) Option {
	return func(o *clientOptions) { o.debug = enabled }
}

// WithLogger supplies a logger. It takes precedence over WithDebug.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithHTTPClient supplies the HTTP client used by the REST sub-client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithTransportDialer replaces the websocket transport factory. Intended for
// tests and custom transports.
func WithTransportDialer(d TransportDialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// ============================================================================
// Client
// ============================================================================

// Client is the registry of channel connections for one application. Each
// channel name maps to at most one Channel; Subscribe returns the existing
// instance for a name it has already seen.
type Client struct {
	key       string
	subdomain string
	opts      clientOptions
	logger    *slog.Logger
	api       *APIClient

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewClient creates a Client for the given API key and application
// subdomain. Key format problems surface later as error events on the
// channels; only missing values fail construction.
func NewClient(key, subdomain string, opts ...Option) (*Client, error) {
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	if subdomain == "" {
		return nil, ErrMissingSubdomain
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		level := slog.LevelWarn
		if o.debug {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	logger = logger.With("subdomain", subdomain)

	c := &Client{
		key:       key,
		subdomain: subdomain,
		opts:      o,
		logger:    logger,
		channels:  make(map[string]*Channel),
	}
	c.api = newAPIClient(key, subdomain, o.apiURL, o.httpClient, logger)
	return c, nil
}

// Subscribe returns the channel for name, creating it and starting its
// connection on first use. Subsequent calls with the same name return the
// same instance without reconnecting.
func (c *Client) Subscribe(name string) *Channel {
	c.mu.Lock()
	ch, ok := c.channels[name]
	if !ok {
		ch = newChannel(name, c.channelConfig(), c.logger)
		c.channels[name] = ch
	}
	c.mu.Unlock()

	if !ok {
		ch.Connect()
	}
	return ch
}

// Channel returns the channel for name if it is subscribed.
func (c *Client) Channel(name string) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	return ch, ok
}

// Unsubscribe disconnects and forgets the channel for name. Unknown names
// are ignored.
func (c *Client) Unsubscribe(name string) {
	c.mu.Lock()
	ch, ok := c.channels[name]
	delete(c.channels, name)
	c.mu.Unlock()

	if ok {
		ch.Disconnect()
	}
}

// DisconnectAll tears down every subscribed channel and empties the
// registry.
func (c *Client) DisconnectAll() {
	c.mu.Lock()
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.channels = make(map[string]*Channel)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.Disconnect()
	}
}

// Channels returns the names of the currently subscribed channels.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}

// API returns the REST sub-client.
func (c *Client) API() *APIClient {
	return c.api
}

func (c *Client) channelConfig() channelConfig {
	return channelConfig{
		key:                  c.key,
		subdomain:            c.subdomain,
		wsURL:                c.opts.wsURL,
		autoReconnect:        c.opts.autoReconnect,
		maxReconnectAttempts: c.opts.maxReconnectAttempts,
		reconnectDelay:       c.opts.reconnectDelay,
		heartbeatInterval:    c.opts.heartbeatInterval,
		handshakeTimeout:     c.opts.handshakeTimeout,
		dialer:               c.opts.dialer,
	}
}
