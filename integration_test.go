//go:build integration

package channely_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	channely "github.com/channely-io/channely-go"
)

// helpers ---------------------------------------------------------------

func apiKey(t *testing.T) string {
	t.Helper()
	key := os.Getenv("CHANNELY_API_KEY_TEST")
	if key == "" {
		t.Fatal("CHANNELY_API_KEY_TEST environment variable is required")
	}
	return key
}

func subdomain(t *testing.T) string {
	t.Helper()
	sub := os.Getenv("CHANNELY_SUBDOMAIN_TEST")
	if sub == "" {
		t.Fatal("CHANNELY_SUBDOMAIN_TEST environment variable is required")
	}
	return sub
}

func newClient(t *testing.T) *channely.Client {
	t.Helper()
	var opts []channely.Option
	if v := os.Getenv("CHANNELY_WS_URL_TEST"); v != "" {
		opts = append(opts, channely.WithWSURL(v))
	}
	if v := os.Getenv("CHANNELY_API_URL_TEST"); v != "" {
		opts = append(opts, channely.WithAPIURL(v))
	}
	client, err := channely.NewClient(apiKey(t), subdomain(t), opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// =======================================================================
// Group 1: Connection lifecycle
// =======================================================================

func TestIntegration_ConnectAndDisconnect(t *testing.T) {
	client := newClient(t)
	defer client.DisconnectAll()

	ch := client.Subscribe(uniqueName("it_lifecycle"))

	connected := make(chan channely.EstablishedPayload, 1)
	ch.OnConnected(func(p channely.EstablishedPayload) {
		connected <- p
	})

	select {
	case p := <-connected:
		if p.SocketID == "" {
			t.Error("expected non-empty socket id")
		}
		t.Logf("connected socketId=%s", p.SocketID)
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for connection")
	}

	if got := ch.State(); got != channely.StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
}

// =======================================================================
// Group 2: REST publish to live subscriber
// =======================================================================

func TestIntegration_PublishDeliversToSubscriber(t *testing.T) {
	client := newClient(t)
	defer client.DisconnectAll()

	name := uniqueName("it_publish")
	ch := client.Subscribe(name)

	connected := make(chan struct{})
	ch.OnConnected(func(channely.EstablishedPayload) { close(connected) })
	select {
	case <-connected:
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for connection")
	}

	received := make(chan json.RawMessage, 1)
	ch.On("it:ping", func(event string, data any) {
		if raw, ok := data.(json.RawMessage); ok {
			received <- raw
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := client.API().Publish(ctx, name, "it:ping", map[string]string{"nonce": name}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case raw := <-received:
		var payload struct {
			Nonce string `json:"nonce"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil || payload.Nonce != name {
			t.Fatalf("payload = %s (err %v)", raw, err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("published event never arrived")
	}
}
