package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Transfer is one settlement instruction for the external provider.
type Transfer struct {
	OwnerID   string
	Amount    decimal.Decimal
	Currency  string
	Reference string // payout id; doubles as the idempotency key
}

// Receipt is the provider's acknowledgement.
type Receipt struct {
	TransferID string
}

// Client moves funds to an owner. The engine never touches card or bank
// rails itself; success or failure here drives payout status transitions.
type Client interface {
	Transfer(ctx context.Context, t Transfer) (Receipt, error)
}

// HTTPClient posts transfers to a provider API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient constructs a provider client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "payment").Logger(),
	}
}

// Transfer posts one transfer and parses the provider receipt.
func (c *HTTPClient) Transfer(ctx context.Context, t Transfer) (Receipt, error) {
	payload := map[string]string{
		"destination": t.OwnerID,
		"amount":      t.Amount.StringFixed(4),
		"currency":    strings.ToLower(t.Currency),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal transfer payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", t.Reference)

	resp, err := c.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("send transfer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Receipt{}, fmt.Errorf("decode transfer response: %w", err)
	}
	if result.ID == "" {
		return Receipt{}, fmt.Errorf("provider response missing transfer id")
	}

	c.logger.Info().
		Str("owner", t.OwnerID).
		Str("amount", t.Amount.StringFixed(4)).
		Str("transfer_id", result.ID).
		Msg("transfer accepted")

	return Receipt{TransferID: result.ID}, nil
}

var _ Client = (*HTTPClient)(nil)

// Static is a test double recording transfers and answering from canned
// outcomes.
type Static struct {
	Err       error
	Transfers []Transfer
}

// Transfer records the call and returns the configured outcome.
func (s *Static) Transfer(_ context.Context, t Transfer) (Receipt, error) {
	s.Transfers = append(s.Transfers, t)
	if s.Err != nil {
		return Receipt{}, s.Err
	}
	return Receipt{TransferID: "tr_" + t.Reference}, nil
}

var _ Client = (*Static)(nil)
