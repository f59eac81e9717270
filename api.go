package channely

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// REST sub-client
// ============================================================================

// APIClient publishes events and inspects channels over the Channely REST
// API. It authenticates with the same API key the websocket gateway uses.
type APIClient struct {
	key        string
	subdomain  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newAPIClient(key, subdomain, baseURL string, httpClient *http.Client, logger *slog.Logger) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{
		key:        key,
		subdomain:  subdomain,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// APIResult is the common response shape of the REST API.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorPayload   `json:"error,omitempty"`
}

// Decode unmarshals the result payload into v.
func (r *APIResult) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("result has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// ChannelState describes a channel as seen by the server.
type ChannelState struct {
	Channel     string `json:"channel"`
	Occupied    bool   `json:"occupied"`
	Subscribers int    `json:"subscribers"`
}

// Publish delivers an event to every subscriber of a channel through the
// REST API, without holding a websocket connection. Each call carries a
// fresh idempotency key so the server can deduplicate retried requests.
func (a *APIClient) Publish(ctx context.Context, channel, event string, data any) (*APIResult, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel name is required")
	}
	if event == "" {
		return nil, fmt.Errorf("event name is required")
	}

	body := map[string]any{
		"event": event,
		"data":  data,
	}
	path := fmt.Sprintf("/v1/apps/%s/channels/%s/events",
		url.PathEscape(a.subdomain), url.PathEscape(channel))
	return a.do(ctx, http.MethodPost, path, body)
}

// ChannelInfo fetches occupancy details for a channel.
func (a *APIClient) ChannelInfo(ctx context.Context, channel string) (*ChannelState, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel name is required")
	}

	path := fmt.Sprintf("/v1/apps/%s/channels/%s",
		url.PathEscape(a.subdomain), url.PathEscape(channel))
	result, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var state ChannelState
	if err := result.Decode(&state); err != nil {
		return nil, fmt.Errorf("decode channel info: %w", err)
	}
	return &state, nil
}

// do executes one REST request and interprets the response envelope. Error
// responses with a well-formed envelope surface as *ErrorPayload.
func (a *APIClient) do(ctx context.Context, method, path string, body any) (*APIResult, error) {
	var buf io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	a.logger.Debug("api request", "method", method, "path", path)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result APIResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, raw)
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("request rejected with status %d", resp.StatusCode)
	}
	return &result, nil
}
