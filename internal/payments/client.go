package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-payments.git/internal/money"
)

// Client talks to the processor's REST API (form-encoded requests, JSON
// responses, bearer auth).
type Client struct {
	BaseURL   string
	SecretKey string
	HTTP      *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

var _ Gateway = (*Client)(nil)

// ---- wire shapes ----

type wireIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type wireRefund struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idemKey string) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// timeouts are ambiguous: the caller must retrieve before retrying
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var we wireError
		if err := json.Unmarshal(b, &we); err != nil || we.Error.Message == "" {
			return nil, &RejectedError{Code: strconv.Itoa(resp.StatusCode), Message: string(b)}
		}
		return nil, &RejectedError{Code: we.Error.Code, Message: we.Error.Message}
	}
	return b, nil
}

func (c *Client) intentFromWire(w wireIntent) (IntentSnapshot, error) {
	amount, err := money.FromMinorUnits(w.Amount, strings.ToUpper(w.Currency))
	if err != nil {
		return IntentSnapshot{}, err
	}
	snap := IntentSnapshot{
		ID:       w.ID,
		Amount:   amount,
		Status:   w.Status,
		Metadata: w.Metadata,
	}
	if w.LastPaymentError != nil {
		snap.FailureMessage = w.LastPaymentError.Message
	}
	return snap, nil
}

func (c *Client) CreateIntent(ctx context.Context, p CreateIntentParams) (IntentSnapshot, error) {
	minor, err := p.Amount.MinorUnits()
	if err != nil {
		return IntentSnapshot{}, err
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minor, 10))
	form.Set("currency", strings.ToLower(p.Amount.Currency.String()))
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	b, err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, p.IdempotencyKey)
	if err != nil {
		return IntentSnapshot{}, err
	}
	var w wireIntent
	if err := json.Unmarshal(b, &w); err != nil {
		return IntentSnapshot{}, fmt.Errorf("decode intent: %w", err)
	}
	return c.intentFromWire(w)
}

func (c *Client) RetrieveIntent(ctx context.Context, ref string) (IntentSnapshot, error) {
	if ref == "" {
		return IntentSnapshot{}, errors.New("empty intent ref")
	}
	b, err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(ref), nil, "")
	if err != nil {
		return IntentSnapshot{}, err
	}
	var w wireIntent
	if err := json.Unmarshal(b, &w); err != nil {
		return IntentSnapshot{}, fmt.Errorf("decode intent: %w", err)
	}
	return c.intentFromWire(w)
}

func (c *Client) ConfirmIntent(ctx context.Context, p ConfirmIntentParams) (IntentSnapshot, error) {
	form := url.Values{}
	form.Set("payment_method", p.MethodRef)

	b, err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(p.IntentRef)+"/confirm", form, "")
	if err != nil {
		return IntentSnapshot{}, err
	}
	var w wireIntent
	if err := json.Unmarshal(b, &w); err != nil {
		return IntentSnapshot{}, fmt.Errorf("decode intent: %w", err)
	}
	return c.intentFromWire(w)
}

func (c *Client) CreateRefund(ctx context.Context, p CreateRefundParams) (RefundSnapshot, error) {
	form := url.Values{}
	form.Set("payment_intent", p.IntentRef)
	if p.Amount != nil {
		minor, err := p.Amount.MinorUnits()
		if err != nil {
			return RefundSnapshot{}, err
		}
		form.Set("amount", strconv.FormatInt(minor, 10))
	}
	if p.Reason != "" {
		form.Set("reason", p.Reason)
	}

	b, err := c.do(ctx, http.MethodPost, "/v1/refunds", form, p.IdempotencyKey)
	if err != nil {
		return RefundSnapshot{}, err
	}
	var w wireRefund
	if err := json.Unmarshal(b, &w); err != nil {
		return RefundSnapshot{}, fmt.Errorf("decode refund: %w", err)
	}
	amount, err := money.FromMinorUnits(w.Amount, strings.ToUpper(w.Currency))
	if err != nil {
		return RefundSnapshot{}, err
	}
	return RefundSnapshot{ID: w.ID, Amount: amount, Status: w.Status}, nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerRef string) ([]PaymentMethod, error) {
	b, err := c.do(ctx, http.MethodGet, "/v1/payment_methods?customer="+url.QueryEscape(customerRef), nil, "")
	if err != nil {
		return nil, err
	}
	var w struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Card struct {
				Last4 string `json:"last4"`
			} `json:"card"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode payment methods: %w", err)
	}
	out := make([]PaymentMethod, 0, len(w.Data))
	for _, m := range w.Data {
		out = append(out, PaymentMethod{ID: m.ID, Type: m.Type, Last4: m.Card.Last4})
	}
	return out, nil
}
