package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const senderTimeout = 10 * time.Second

func newHTTPClient() *resty.Client {
	client := resty.New()
	client.SetTimeout(senderTimeout)
	client.SetHeader("Content-Type", "application/json")
	return client
}

func post(ctx context.Context, client *resty.Client, name, url string, payload any) error {
	return postWithHeaders(ctx, client, name, url, payload, nil)
}

func postWithHeaders(ctx context.Context, client *resty.Client, name, url string, payload any, headers map[string]string) error {
	resp, err := client.R().SetContext(ctx).SetHeaders(headers).SetBody(payload).Post(url)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode(), body)
	}
	return nil
}

// TelegramSender posts to a chat through the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *resty.Client
}

// NewTelegramSender creates a TelegramSender.
func NewTelegramSender(token, chatID string) *TelegramSender {
	client := newHTTPClient()
	client.SetBaseURL("https://api.telegram.org")
	return &TelegramSender{token: token, chatID: chatID, client: client}
}

// Send posts title in bold followed by message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return post(ctx, t.client, t.Name(), "/bot"+t.token+"/sendMessage", map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

func (t *TelegramSender) Name() string { return "telegram" }

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *resty.Client
}

// NewDiscordSender creates a DiscordSender.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send posts title in bold followed by message. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return post(ctx, d.client, d.Name(), d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

func (d *DiscordSender) Name() string { return "discord" }

// Signer produces authentication headers for an outbound body.
type Signer interface {
	Headers(body []byte) map[string]string
}

// WebhookSender posts a generic JSON body {"title", "message", "sent_at"} to
// an arbitrary URL, for chat bridges such as DingTalk or Feishu relays.
type WebhookSender struct {
	url    string
	client *resty.Client
	signer Signer
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: newHTTPClient(), now: time.Now}
}

// WithSigner signs every body with s.
func (w *WebhookSender) WithSigner(s Signer) *WebhookSender {
	w.signer = s
	return w
}

// Send posts the notification as JSON.
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
		"sent_at": w.now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%s: encode: %w", w.Name(), err)
	}
	var headers map[string]string
	if w.signer != nil {
		headers = w.signer.Headers(body)
	}
	return postWithHeaders(ctx, w.client, w.Name(), w.url, body, headers)
}

func (w *WebhookSender) Name() string { return "webhook" }
