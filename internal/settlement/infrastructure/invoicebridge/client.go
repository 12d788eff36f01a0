package invoicebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"windpark-cloud/internal/observability/metrics"
	"windpark-cloud/internal/settlement/application"
)

// Client is an HTTP client for the invoice bridge. Every request carries an
// idempotency key derived from the settlement item, so retried calls cannot
// produce duplicate invoices on the bridge side.
type Client struct {
	baseURL  string
	token    string
	client   *http.Client
	attempts int
	backoff  time.Duration
}

// NewClient constructs a bridge client from invoicing config.
func NewClient(cfg application.InvoicingConfig) (*Client, error) {
	if cfg.BridgeBaseURL == "" {
		return nil, errors.New("invoice bridge: empty base url")
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BridgeBaseURL, "/"),
		token:    cfg.BridgeToken,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		attempts: attempts,
		backoff:  cfg.RetryBackoff,
	}, nil
}

type invoicePayload struct {
	SettlementID      string `json:"settlement_id"`
	ItemID            string `json:"item_id"`
	RecipientEntityID string `json:"recipient_entity_id"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	Description       string `json:"description"`
}

type invoiceResponse struct {
	InvoiceRef string `json:"invoice_ref"`
}

// CreateInvoice posts one invoice creation order and returns the document
// reference. Transient failures (network, 5xx, 429) are retried with backoff.
func (c *Client) CreateInvoice(ctx context.Context, req application.InvoiceRequest) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("invoice bridge: nil client")
	}
	if req.IdempotencyKey == "" {
		return "", errors.New("invoice bridge: empty idempotency key")
	}

	body, err := json.Marshal(invoicePayload{
		SettlementID:      req.SettlementID,
		ItemID:            req.ItemID,
		RecipientEntityID: req.RecipientEntityID,
		AmountCents:       req.AmountCents,
		Currency:          req.Currency,
		Description:       req.Description,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, c.backoff*time.Duration(attempt-1)); err != nil {
				return "", err
			}
		}
		ref, retryable, err := c.doCreate(ctx, req.IdempotencyKey, body)
		if err == nil {
			metrics.IncInvoiceCreated()
			return ref, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", lastErr
}

func (c *Client) doCreate(ctx context.Context, idempotencyKey string, body []byte) (string, bool, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveBridgeRequest(result, time.Since(start))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/invoices", bytes.NewReader(body))
	if err != nil {
		result = metrics.ResultError
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		result = metrics.ResultError
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		result = metrics.ResultError
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", true, fmt.Errorf("invoice bridge: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		result = metrics.ResultError
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, fmt.Errorf("invoice bridge: status %d", resp.StatusCode)
	}

	var decoded invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		result = metrics.ResultError
		return "", false, err
	}
	if decoded.InvoiceRef == "" {
		result = metrics.ResultError
		return "", false, errors.New("invoice bridge: empty invoice reference in response")
	}
	return decoded.InvoiceRef, false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
