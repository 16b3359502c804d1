package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-payments.git/internal/money"
)

func usd(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.New(decimal.RequireFromString(s), "USD")
	require.NoError(t, err)
	return m
}

func TestCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "ord-1", r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2500", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "ord-1", r.PostForm.Get("metadata[order_id]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","amount":2500,"currency":"usd","status":"requires_confirmation","metadata":{"order_id":"ord-1"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	snap, err := c.CreateIntent(context.Background(), CreateIntentParams{
		Amount:         usd(t, "25.00"),
		Metadata:       map[string]string{"order_id": "ord-1"},
		IdempotencyKey: "ord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", snap.ID)
	assert.Equal(t, "requires_confirmation", snap.Status)
	assert.True(t, snap.Amount.Amount.Equal(decimal.RequireFromString("25")), "got %s", snap.Amount.Amount)
	assert.Equal(t, "ord-1", snap.Metadata["order_id"])
}

func TestCreateIntentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	_, err := c.CreateIntent(context.Background(), CreateIntentParams{Amount: usd(t, "25.00")})
	require.Error(t, err)

	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "card_declined", rej.Code)
	assert.Equal(t, "Your card was declined.", rej.Message)
}

func TestCreateIntentUnavailable(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		c := NewClient(srv.URL, "sk_test")
		_, err := c.CreateIntent(context.Background(), CreateIntentParams{Amount: usd(t, "25.00")})
		assert.ErrorIs(t, err, ErrGatewayUnavailable, "status %d", code)
		srv.Close()
	}
}

func TestCreateIntentConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := NewClient(srv.URL, "sk_test")
	_, err := c.CreateIntent(context.Background(), CreateIntentParams{Amount: usd(t, "25.00")})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestRetrieveIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","amount":2500,"currency":"usd","status":"succeeded","metadata":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	snap, err := c.RetrieveIntent(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", snap.Status)
}

func TestConfirmIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_123/confirm", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pm_1", r.PostForm.Get("payment_method"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","amount":2500,"currency":"usd","status":"processing","metadata":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	snap, err := c.ConfirmIntent(context.Background(), ConfirmIntentParams{IntentRef: "pi_123", MethodRef: "pm_1"})
	require.NoError(t, err)
	assert.Equal(t, "processing", snap.Status)
}

func TestCreateRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.Equal(t, "ref-key-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "1000", r.PostForm.Get("amount"))
		assert.Equal(t, "requested_by_customer", r.PostForm.Get("reason"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1","amount":1000,"currency":"usd","status":"succeeded"}`))
	}))
	defer srv.Close()

	amount := usd(t, "10.00")
	c := NewClient(srv.URL, "sk_test")
	snap, err := c.CreateRefund(context.Background(), CreateRefundParams{
		IntentRef:      "pi_123",
		Amount:         &amount,
		Reason:         "requested_by_customer",
		IdempotencyKey: "ref-key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", snap.ID)
	assert.Equal(t, "succeeded", snap.Status)
	assert.True(t, snap.Amount.Amount.Equal(decimal.RequireFromString("10")))
}

func TestListPaymentMethods(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_methods", r.URL.Path)
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"pm_1","type":"card","card":{"last4":"4242"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	methods, err := c.ListPaymentMethods(context.Background(), "cus_1")
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, "pm_1", methods[0].ID)
	assert.Equal(t, "4242", methods[0].Last4)
}
