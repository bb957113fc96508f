package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"alarm-sync/internal/reconcile/application"
)

// WebhookNotifier posts failed cycles to a chat webhook.
type WebhookNotifier struct {
	url      string
	client   *http.Client
	all      bool
	template *Template
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookOption customizes the webhook notifier.
type WebhookOption func(*WebhookNotifier)

// WithEveryCycle posts every cycle instead of only noteworthy ones.
func WithEveryCycle() WebhookOption {
	return func(n *WebhookNotifier) {
		n.all = true
	}
}

// WithTemplate replaces the message template.
func WithTemplate(t *Template) WebhookOption {
	return func(n *WebhookNotifier) {
		if t != nil {
			n.template = t
		}
	}
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string, timeout time.Duration, opts ...WebhookOption) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.template == nil {
		n.template, _ = NewTemplate("")
	}
	return n
}

// Notify sends the cycle summary.
func (n *WebhookNotifier) Notify(ctx context.Context, res application.CycleResult) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	if !n.all && !Noteworthy(res) {
		return nil
	}
	content, err := n.template.Render(res)
	if err != nil {
		return err
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: http %d", resp.StatusCode)
	}
	return nil
}
