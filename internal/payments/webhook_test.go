package payments

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test_secret"

var succeededPayload = []byte(`{
	"id": "evt_001",
	"type": "payment_intent.succeeded",
	"created": 1700000000,
	"data": {"object": {
		"id": "pi_001",
		"amount": 5000,
		"currency": "usd",
		"status": "succeeded",
		"metadata": {"order_id": "ord-1"}
	}}
}`)

func TestVerify(t *testing.T) {
	v := NewWebhookVerifier(webhookSecret)
	header := Sign(webhookSecret, time.Now(), succeededPayload)

	ev, err := v.Verify(succeededPayload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_001", ev.ID)
	assert.Equal(t, "payment_intent.succeeded", ev.Type)

	obj, err := ev.Intent()
	require.NoError(t, err)
	assert.Equal(t, "pi_001", obj.ID)
	assert.Equal(t, int64(5000), obj.Amount)
	assert.Equal(t, "ord-1", obj.Metadata["order_id"])
	assert.Empty(t, obj.FailureMessage())
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewWebhookVerifier(webhookSecret)
	header := Sign("whsec_other", time.Now(), succeededPayload)

	_, err := v.Verify(succeededPayload, header)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyTamperedPayload(t *testing.T) {
	v := NewWebhookVerifier(webhookSecret)
	header := Sign(webhookSecret, time.Now(), succeededPayload)

	tampered := append([]byte{}, succeededPayload...)
	tampered[len(tampered)-2] = ' '

	_, err := v.Verify(tampered, header)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyStaleTimestamp(t *testing.T) {
	v := NewWebhookVerifier(webhookSecret)
	header := Sign(webhookSecret, time.Now().Add(-10*time.Minute), succeededPayload)

	_, err := v.Verify(succeededPayload, header)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyMissingHeader(t *testing.T) {
	v := NewWebhookVerifier(webhookSecret)

	_, err := v.Verify(succeededPayload, "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyMalformedHeader(t *testing.T) {
	v := NewWebhookVerifier(webhookSecret)

	_, err := v.Verify(succeededPayload, "v1=deadbeef")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyAcceptsSecondSignature(t *testing.T) {
	// header may carry several v1 entries during secret rotation
	v := NewWebhookVerifier(webhookSecret)
	good := Sign(webhookSecret, time.Now(), succeededPayload)
	ts, valid, ok := strings.Cut(good, ",")
	require.True(t, ok)

	header := ts + ",v1=00ff00ff," + valid
	_, err := v.Verify(succeededPayload, header)
	assert.NoError(t, err)
}
