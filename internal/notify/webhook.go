package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/gaptrader/internal/crypto"
	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// WebhookSender posts the raw event as JSON. When a secret is set the body
// is signed with crypto.WebhookSigner.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *resty.Client
}

// NewWebhookSender creates a WebhookSender. secret may be empty.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{
		url:    url,
		client: resty.New().SetTimeout(10 * time.Second).SetRetryCount(1),
	}
	if secret != "" {
		w.signer = &crypto.WebhookSigner{Secret: secret}
	}
	return w
}

// Send posts ev.
func (w *WebhookSender) Send(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	req := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if w.signer != nil {
		req.SetHeaders(w.signer.Headers(body))
	}
	resp, err := req.Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String()))
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
