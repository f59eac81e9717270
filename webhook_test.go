package channely

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testWebhookSecret = "test-webhook-secret-key"

func makeTestSignature(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeTestWebhookPayload() map[string]any {
	return map[string]any{
		"source":    "channely",
		"event":     WebhookChannelOccupied,
		"timestamp": 1700000000,
		"subdomain": "acme",
		"channel":   "orders",
		"data":      map[string]any{"subscribers": 1},
	}
}

func makeTestWebhookBody() string {
	b, _ := json.Marshal(makeTestWebhookPayload())
	return string(b)
}

// ============================================================================
// VerifyWebhookSignature
// ============================================================================

func TestVerifyWebhookSignature(t *testing.T) {
	t.Run("valid signature", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testWebhookSecret)
		if !VerifyWebhookSignature(body, sig, testWebhookSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := strings.TrimPrefix(makeTestSignature(body, testWebhookSecret), "sha256=")
		if !VerifyWebhookSignature(body, sig, testWebhookSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := "sha256=" + strings.Repeat("0", 64)
		if VerifyWebhookSignature(body, sig, testWebhookSecret) {
			t.Fatal("expected invalid signature")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, "wrong-secret")
		if VerifyWebhookSignature(body, sig, testWebhookSecret) {
			t.Fatal("expected invalid signature with wrong secret")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testWebhookSecret)
		if VerifyWebhookSignature(body+"tampered", sig, testWebhookSecret) {
			t.Fatal("expected invalid for tampered body")
		}
	})

	t.Run("empty inputs", func(t *testing.T) {
		if VerifyWebhookSignature("", "sha256=abc", testWebhookSecret) {
			t.Fatal("expected false for empty body")
		}
		if VerifyWebhookSignature("body", "", testWebhookSecret) {
			t.Fatal("expected false for empty signature")
		}
		if VerifyWebhookSignature("body", "sha256=abc", "") {
			t.Fatal("expected false for empty secret")
		}
		if VerifyWebhookSignature("body", "sha256=", testWebhookSecret) {
			t.Fatal("expected false for bare prefix")
		}
	})
}

// ============================================================================
// ParseWebhookPayload
// ============================================================================

func TestParseWebhookPayload(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		payload, err := ParseWebhookPayload(makeTestWebhookBody())
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if payload.Event != WebhookChannelOccupied {
			t.Fatalf("event = %q", payload.Event)
		}
		if payload.Channel != "orders" || payload.Subdomain != "acme" {
			t.Fatalf("payload = %+v", payload)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := ParseWebhookPayload("{not json"); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		p := makeTestWebhookPayload()
		p["source"] = "somewhere-else"
		b, _ := json.Marshal(p)
		if _, err := ParseWebhookPayload(string(b)); err == nil {
			t.Fatal("expected error for unknown source")
		}
	})

	t.Run("missing event", func(t *testing.T) {
		p := makeTestWebhookPayload()
		delete(p, "event")
		b, _ := json.Marshal(p)
		if _, err := ParseWebhookPayload(string(b)); err == nil {
			t.Fatal("expected error for missing event")
		}
	})

	t.Run("missing channel", func(t *testing.T) {
		p := makeTestWebhookPayload()
		delete(p, "channel")
		b, _ := json.Marshal(p)
		if _, err := ParseWebhookPayload(string(b)); err == nil {
			t.Fatal("expected error for missing channel")
		}
	})
}

// ============================================================================
// ChannelyWebhook
// ============================================================================

func TestChannelyWebhookHandle(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		if _, err := NewChannelyWebhook("", nil); err == nil {
			t.Fatal("expected error for empty secret")
		}
	})

	t.Run("valid request", func(t *testing.T) {
		var got *WebhookPayload
		wh, _ := NewChannelyWebhook(testWebhookSecret, func(p *WebhookPayload) error {
			got = p
			return nil
		})

		body := makeTestWebhookBody()
		status, _ := wh.Handle(body, makeTestSignature(body, testWebhookSecret))
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
		if got == nil || got.Channel != "orders" {
			t.Fatalf("handler payload = %+v", got)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		wh, _ := NewChannelyWebhook(testWebhookSecret, func(*WebhookPayload) error {
			t.Error("handler should not run")
			return nil
		})
		status, _ := wh.Handle(makeTestWebhookBody(), "sha256=bad")
		if status != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", status)
		}
	})

	t.Run("bad payload", func(t *testing.T) {
		wh, _ := NewChannelyWebhook(testWebhookSecret, func(*WebhookPayload) error {
			t.Error("handler should not run")
			return nil
		})
		body := `{"source":"channely"}`
		status, _ := wh.Handle(body, makeTestSignature(body, testWebhookSecret))
		if status != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", status)
		}
	})

	t.Run("handler error", func(t *testing.T) {
		wh, _ := NewChannelyWebhook(testWebhookSecret, func(*WebhookPayload) error {
			return fmt.Errorf("downstream unavailable")
		})
		body := makeTestWebhookBody()
		status, _ := wh.Handle(body, makeTestSignature(body, testWebhookSecret))
		if status != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", status)
		}
	})
}

func TestChannelyWebhookHTTPHandler(t *testing.T) {
	wh, _ := NewChannelyWebhook(testWebhookSecret, func(*WebhookPayload) error {
		return nil
	})
	srv := httptest.NewServer(wh.HTTPHandler())
	defer srv.Close()

	t.Run("post with signature", func(t *testing.T) {
		body := makeTestWebhookBody()
		req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
		req.Header.Set("X-Channely-Signature", makeTestSignature(body, testWebhookSecret))

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", resp.StatusCode)
		}
	})
}
