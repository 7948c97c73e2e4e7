package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway not configured or unreachable")
	ErrVerificationFailed = errors.New("payment could not be verified")
)

// Amounts are whole rupees in the domain and paise on the wire.
const minorUnits = 100

type Order struct {
	ID       string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// Confirmation is what the checkout widget hands back after a successful payment.
type Confirmation struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error)
	Verify(ctx context.Context, c Confirmation, expectedAmount int64) error
	KeyID() string
}

type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewClient(baseURL, keyID, keySecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) KeyID() string { return c.keyID }

func (c *Client) configured() bool {
	return c.keyID != "" && c.keySecret != ""
}

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type paymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error) {
	if !c.configured() {
		return nil, fmt.Errorf("%w: missing key id or secret", ErrGatewayUnavailable)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("order amount must be positive, got %d", amount)
	}

	payload, err := json.Marshal(orderRequest{Amount: amount * minorUnits, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/orders", payload)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: order response without id", ErrGatewayUnavailable)
	}
	return &Order{ID: resp.ID, Amount: resp.Amount / minorUnits, Currency: resp.Currency, Receipt: resp.Receipt}, nil
}

// Verify checks the widget signature and then re-queries the payment itself, so a
// forged or replayed callback never reaches the registration store. Only captured
// payments count; an authorization can still be voided.
func (c *Client) Verify(ctx context.Context, conf Confirmation, expectedAmount int64) error {
	if !c.configured() {
		return fmt.Errorf("%w: missing key id or secret", ErrGatewayUnavailable)
	}
	if !ValidSignature(c.keySecret, conf) {
		return fmt.Errorf("%w: signature mismatch", ErrVerificationFailed)
	}

	body, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(conf.PaymentID), nil)
	if err != nil {
		return err
	}
	var p paymentResponse
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("failed to decode payment: %w", err)
	}

	switch {
	case p.OrderID != conf.OrderID:
		return fmt.Errorf("%w: payment belongs to order %q", ErrVerificationFailed, p.OrderID)
	case p.Status != "captured":
		return fmt.Errorf("%w: payment status %q", ErrVerificationFailed, p.Status)
	case p.Amount != expectedAmount*minorUnits:
		return fmt.Errorf("%w: paid %d, expected %d", ErrVerificationFailed, p.Amount, expectedAmount*minorUnits)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return nil, fmt.Errorf("%w: unknown payment", ErrVerificationFailed)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("payment gateway request failed (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Sign computes the widget signature: hex(HMAC-SHA256(secret, order_id|payment_id)).
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func ValidSignature(secret string, conf Confirmation) bool {
	expected := Sign(secret, conf.OrderID, conf.PaymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(conf.Signature)))
}
