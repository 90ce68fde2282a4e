package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 10 * time.Second

	// Discord rejects message content longer than this.
	maxContentLength = 2000
)

var ErrNoWebhook = errors.New("webhook URL is not set")

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// DiscordNotifier posts operational alerts to a Discord webhook.
type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

var _ Notifier = (*DiscordNotifier)(nil)

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return ErrNoWebhook
	}

	if runes := []rune(content); len(runes) > maxContentLength {
		content = string(runes[:maxContentLength-1]) + "…"
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
