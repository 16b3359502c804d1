package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-shop-payments.git/internal/money"
)

var (
	// ErrGatewayUnavailable is transient; the caller may retry with backoff,
	// but must retrieve before retrying any non-idempotent creation call.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrSignatureInvalid rejects a webhook before any business logic runs.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// RejectedError means the processor explicitly declined; retrying without
// changed input will not help.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected: %s (%s)", e.Message, e.Code)
}

// IntentSnapshot is the normalized local view of the processor's payment
// intent. Never authoritative over a fresh event from the processor.
type IntentSnapshot struct {
	ID             string
	Amount         money.Money
	Status         string
	Metadata       map[string]string
	FailureMessage string
}

type RefundSnapshot struct {
	ID     string
	Amount money.Money
	Status string
}

type PaymentMethod struct {
	ID    string
	Type  string
	Last4 string
}

type CreateIntentParams struct {
	Amount   money.Money
	Metadata map[string]string
	// IdempotencyKey guards against duplicate intents when a create call
	// times out ambiguously.
	IdempotencyKey string
}

type ConfirmIntentParams struct {
	IntentRef string
	MethodRef string
}

type CreateRefundParams struct {
	IntentRef      string
	Amount         *money.Money // nil = full refund
	Reason         string
	IdempotencyKey string
}

// Gateway is the capability boundary to the external payment processor.
// Amounts cross it in decimal currency units; minor-unit conversion happens
// inside implementations only.
type Gateway interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (IntentSnapshot, error)
	RetrieveIntent(ctx context.Context, ref string) (IntentSnapshot, error)
	ConfirmIntent(ctx context.Context, p ConfirmIntentParams) (IntentSnapshot, error)
	CreateRefund(ctx context.Context, p CreateRefundParams) (RefundSnapshot, error)
	ListPaymentMethods(ctx context.Context, customerRef string) ([]PaymentMethod, error)
}
