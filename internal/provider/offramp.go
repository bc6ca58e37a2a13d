// Package provider holds the off-ramp client: the external service that
// converts stablecoin value into a fiat bank transfer. Provider rejections
// and transport failures surface as distinguishable error types.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest describes one outbound fiat transfer.
type TransferRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	RecipientAccount string          `json:"recipient_account"`
	RecipientName    string          `json:"recipient_name"`
	BankCode         string          `json:"bank_code"`
	Reference        string          `json:"reference"`
}

// Transfer is the provider's acknowledgement of an accepted transfer.
type Transfer struct {
	ProviderPayoutID string `json:"id"`
	Status           string `json:"status"`
}

// OffRamp is the off-ramp provider contract consumed by the payout
// orchestrator.
type OffRamp interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	GetStatus(ctx context.Context, providerPayoutID string) (string, error)
}

// ProviderError is a rejection the provider itself returned, as opposed to
// a network/transport failure. Match with errors.As.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// Client is the HTTP implementation of OffRamp. Every call is bounded by
// the client timeout: a hung provider must never leave funds locked behind
// an unbounded request.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

var _ OffRamp = (*Client)(nil)

func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("off-ramp transfer call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	var transfer Transfer
	if err := json.NewDecoder(resp.Body).Decode(&transfer); err != nil {
		return nil, fmt.Errorf("decode transfer response: %w", err)
	}
	if transfer.ProviderPayoutID == "" {
		return nil, fmt.Errorf("provider returned transfer without an id")
	}
	return &transfer, nil
}

func (c *Client) GetStatus(ctx context.Context, providerPayoutID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transfers/"+providerPayoutID, nil)
	if err != nil {
		return "", fmt.Errorf("create status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("off-ramp status call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.decodeError(resp)
	}

	var transfer Transfer
	if err := json.NewDecoder(resp.Body).Decode(&transfer); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return transfer.Status, nil
}

// decodeError turns a non-2xx provider response into a *ProviderError.
func (c *Client) decodeError(resp *http.Response) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		payload.Message = "unreadable provider error body"
	}
	c.logger.Error("off-ramp provider rejected request",
		"status", resp.StatusCode, "code", payload.Code, "message", payload.Message)
	return &ProviderError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message}
}
