package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramNotifier pushes events to a Telegram chat via the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify sends the rendered event text via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderEvent(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", string(event.Kind)).Msg("event delivered (telegram)")
	return nil
}

func renderEvent(event Event) string {
	builder := strings.Builder{}
	builder.WriteString("[crawlmeter]\n")
	builder.WriteString(fmt.Sprintf("Event: %s\n", event.Kind))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", event.At.UTC().Format(time.RFC3339)))
	if event.OwnerID != "" {
		builder.WriteString(fmt.Sprintf("Owner: %s\n", event.OwnerID))
	}
	if event.SiteID != "" {
		builder.WriteString(fmt.Sprintf("Site: %s\n", event.SiteID))
	}
	if event.PayoutID != "" {
		builder.WriteString(fmt.Sprintf("Payout: %s\n", event.PayoutID))
	}
	if !event.Amount.IsZero() {
		builder.WriteString(fmt.Sprintf("Amount: %s %s\n", event.Amount.StringFixed(4), event.Currency))
	}
	if event.Detail != "" {
		builder.WriteString(event.Detail)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
