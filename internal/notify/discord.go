package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *resty.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL with a
// 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(10 * time.Second),
	}
}

// Send posts the event to the webhook.
func (d *DiscordSender) Send(ctx context.Context, ev domain.Event) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"content": fmt.Sprintf("**%s**\n%s", headline(ev), ev.Message),
		}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	// Discord returns 204 No Content on success.
	if resp.IsError() {
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String()))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
