package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	dErrors "replate/pkg/domain-errors"
	"replate/pkg/platform/circuit"
)

// Client talks to a payment-intents REST API (form-encoded requests, JSON
// responses, bearer secret key).
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	breaker   *circuit.Breaker
	logger    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func NewClient(baseURL, secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		breaker:   circuit.New("payment"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

func (c *Client) CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error) {
	if amount <= 0 {
		return Intent{}, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("automatic_payment_methods[enabled]", "true")

	var resp intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, &resp); err != nil {
		return Intent{}, err
	}
	return Intent{
		Token:        resp.ID,
		ClientSecret: resp.ClientSecret,
		Amount:       resp.Amount,
		Currency:     resp.Currency,
	}, nil
}

func (c *Client) ConfirmIntent(ctx context.Context, token string) (Receipt, error) {
	if strings.TrimSpace(token) == "" {
		return Receipt{}, dErrors.New(dErrors.CodeValidation, "payment token is required")
	}
	var resp intentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(token), nil, &resp); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Reference: resp.ID,
		Status:    receiptStatus(resp.Status),
		Amount:    resp.Amount,
		Currency:  resp.Currency,
	}, nil
}

func receiptStatus(s string) ReceiptStatus {
	switch s {
	case "succeeded":
		return ReceiptPaid
	case "canceled", "requires_payment_method":
		return ReceiptFailed
	default:
		return ReceiptPending
	}
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if !c.breaker.Allow() {
		return dErrors.New(dErrors.CodeUnavailable, "payment processor unavailable")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build payment request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx, err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "payment processor unavailable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		err := fmt.Errorf("payment processor returned %d", resp.StatusCode)
		c.recordFailure(ctx, err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "payment processor unavailable")
	case resp.StatusCode == http.StatusNotFound:
		c.breaker.RecordSuccess()
		return dErrors.New(dErrors.CodeNotFound, "payment intent not found")
	case resp.StatusCode >= 400:
		c.breaker.RecordSuccess()
		return dErrors.New(dErrors.CodePaymentRequired, fmt.Sprintf("payment rejected (%d)", resp.StatusCode))
	}

	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "payment circuit closed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode payment response")
	}
	return nil
}

func (c *Client) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "payment circuit opened", "error", err)
	}
}
