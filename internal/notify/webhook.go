package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/crypto"
)

// webhookPayload is the JSON body posted by WebhookSender. Event carries the
// full dispatch event when the message was built from one.
type webhookPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Event any    `json:"event,omitempty"`
}

// WebhookSender posts messages as JSON to an arbitrary endpoint. When a
// secret is set every request carries timestamp and HMAC-SHA256 signature
// headers (see crypto.WebhookSignature).
type WebhookSender struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. An empty secret disables signing.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if secret != "" {
		w.secret = []byte(secret)
	}
	return w
}

// Send posts msg to the webhook URL.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	payload := webhookPayload{Title: msg.Title, Body: msg.Body}
	if msg.Event != nil {
		payload.Event = msg.Event
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != nil {
		for k, v := range crypto.WebhookHeaders(w.secret, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns "webhook".
func (w *WebhookSender) Name() string {
	return "webhook"
}
