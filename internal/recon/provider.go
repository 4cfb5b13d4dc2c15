package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ProviderTransaction is the shape we consume from the payment provider; the
// provider's wire protocol beyond this is opaque to us.
type ProviderTransaction struct {
	ID             string    `json:"id"`
	AmountCents    int64     `json:"amount_cents"`
	FeeCents       int64     `json:"fee_cents"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	OrderReference string    `json:"order_reference"`
}

type ProviderClient struct {
	c *resty.Client
}

func NewProviderClient(baseURL, apiKey string) *ProviderClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second)
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &ProviderClient{c: c}
}

func (p *ProviderClient) SearchTransactions(ctx context.Context, method string, from, to time.Time) ([]ProviderTransaction, error) {
	var out struct {
		Transactions []ProviderTransaction `json:"transactions"`
	}
	resp, err := p.c.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"payment_method": method,
			"from":           from.UTC().Format(time.RFC3339),
			"to":             to.UTC().Format(time.RFC3339),
		}).
		SetResult(&out).
		Get("/v1/transactions")
	if err != nil {
		return nil, fmt.Errorf("provider search: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("provider search: status %d", resp.StatusCode())
	}
	return out.Transactions, nil
}

func (p *ProviderClient) GetPayment(ctx context.Context, externalID string) (*ProviderTransaction, error) {
	var out ProviderTransaction
	resp, err := p.c.R().
		SetContext(ctx).
		SetPathParam("id", externalID).
		SetResult(&out).
		Get("/v1/transactions/{id}")
	if err != nil {
		return nil, fmt.Errorf("provider get: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("provider get: status %d", resp.StatusCode())
	}
	return &out, nil
}
