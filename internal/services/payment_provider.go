package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PaymentProviderClient is the thin client for the hosted payment provider.
// The ledger only needs two things from it: checkout session creation and
// signed webhook events (the latter arrive over HTTP, see WebhookProcessor).
type PaymentProviderClient interface {
	CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSession, error)
}

// Checkout modes understood by the provider.
const (
	CheckoutModeSubscription = "subscription"
	CheckoutModePayment      = "payment"
)

// CheckoutSessionRequest describes one checkout. Metadata is echoed back in
// the provider's checkout_completed event and must carry everything the
// webhook processor needs to apply the purchase without a second lookup.
type CheckoutSessionRequest struct {
	Mode            string            `json:"mode"`
	ProductName     string            `json:"product_name"`
	UnitAmountCents int64             `json:"unit_amount_cents"`
	Recurring       bool              `json:"recurring"`
	SuccessURL      string            `json:"success_url"`
	CancelURL       string            `json:"cancel_url"`
	Metadata        map[string]string `json:"metadata"`
}

// CheckoutSession is the provider's response: an id and a hosted payment URL
// to redirect the tenant to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type paymentProviderClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewPaymentProviderClient creates a provider API client.
func NewPaymentProviderClient(apiKey, baseURL string) PaymentProviderClient {
	return &paymentProviderClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateCheckoutSession creates a hosted checkout session via the provider
// API.
func (c *paymentProviderClient) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSession, error) {
	body, err := c.makeRequest(ctx, http.MethodPost, "/checkout/sessions", req)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session response: %w", err)
	}
	return &session, nil
}

func (c *paymentProviderClient) makeRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}
