package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *resty.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  resty.New().SetTimeout(10 * time.Second),
	}
}

// Send posts the event to the configured chat. The headline is rendered in
// bold using Markdown.
func (t *TelegramSender) Send(ctx context.Context, ev domain.Event) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n%s", headline(ev), ev.Message),
			"parse_mode": "Markdown",
		}).
		Post(fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token))
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String()))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func truncate(s string) string {
	const limit = 1024
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
