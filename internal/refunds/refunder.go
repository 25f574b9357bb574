// Package refunds talks to the payment processor's refund endpoint.
package refunds

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

	"github.com/angelmondragon/kiosk-backend/pkg/config"
)

const maxErrorBody = 512

// Refunder returns the money for a payment. Implementations must be safe to
// call more than once for the same payment.
type Refunder interface {
	Refund(ctx context.Context, paymentID string) error
}

// HTTPRefunder calls POST <base>/refunds with the payment id as idempotency key.
type HTTPRefunder struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPRefunder(cfg config.RefundConfig) (*HTTPRefunder, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("refund base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRefunder{
		endpoint: base + "/refunds",
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type refundRequest struct {
	PaymentID string `json:"payment_id"`
}

func (h *HTTPRefunder) Refund(ctx context.Context, paymentID string) error {
	if strings.TrimSpace(paymentID) == "" {
		return errors.New("payment id is required")
	}
	body, err := json.Marshal(refundRequest{PaymentID: paymentID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", paymentID)
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("refund for %s failed: status %d body=%q", paymentID, resp.StatusCode, string(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
