package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookNotifier posts events as JSON to a collaborator endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook channel.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "notify_webhook").Logger(),
	}
}

// Notify posts the event.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"kind":      string(event.Kind),
		"owner_id":  event.OwnerID,
		"site_id":   event.SiteID,
		"payout_id": event.PayoutID,
		"amount":    event.Amount.StringFixed(4),
		"currency":  event.Currency,
		"detail":    event.Detail,
		"at":        event.At.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send event request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info().Str("kind", string(event.Kind)).Str("owner", event.OwnerID).Msg("event delivered")
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)
