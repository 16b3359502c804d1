package refunds

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkax "github.com/ariefcatur/go-shop-payments.git/internal/kafka"
	"github.com/ariefcatur/go-shop-payments.git/internal/money"
	"github.com/ariefcatur/go-shop-payments.git/internal/orders"
	"github.com/ariefcatur/go-shop-payments.git/internal/payments"
	"github.com/ariefcatur/go-shop-payments.git/internal/redisx"
)

var (
	ErrNoPaymentOnOrder = errors.New("refund: order has no payment reference")
	ErrNotRefundable    = errors.New("refund: order status does not allow a refund")
)

// Store is the slice of the order store the coordinator needs.
type Store interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	ApplyRefund(ctx context.Context, p orders.RefundApplication) error
	InsertNotice(ctx context.Context, n orders.Notice) error
}

// Gateway is the slice of the payment gateway the coordinator needs.
type Gateway interface {
	CreateRefund(ctx context.Context, p payments.CreateRefundParams) (payments.RefundSnapshot, error)
}

type Service struct {
	Store       Store
	Gateway     Gateway
	Redis       *redis.Client    // status cache, may be nil
	Ops         orders.Publisher // operator alerts, may be nil
	ServiceName string
}

// Refund drives a processor-side refund and the matching local transition.
// The gateway call comes first; only on gateway success does the local state
// change. If the local write then fails, the external refund exists with no
// local record. That divergence is flagged for reconciliation, never
// retried blindly (a blind retry could double-refund).
func (s *Service) Refund(ctx context.Context, orderID string, amount *decimal.Decimal, reason string) (orders.Refund, error) {
	var out orders.Refund

	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return out, err
	}
	if o.PaymentRef == nil || *o.PaymentRef == "" {
		return out, ErrNoPaymentOnOrder
	}
	if !orders.CanTransition(o.Status, orders.StatusRefunded) {
		return out, fmt.Errorf("%w: status %s", ErrNotRefundable, o.Status)
	}

	amt := o.Total
	if amount != nil {
		amt = *amount
		if amt.LessThanOrEqual(decimal.Zero) || amt.GreaterThan(o.Total) {
			return out, orders.Validationf("refund amount %s out of range (order total %s)", amt, o.Total)
		}
	}
	refundMoney, err := money.New(amt, o.Currency)
	if err != nil {
		return out, err
	}

	refundID := uuid.NewString()
	snap, err := s.Gateway.CreateRefund(ctx, payments.CreateRefundParams{
		IntentRef:      *o.PaymentRef,
		Amount:         &refundMoney,
		Reason:         reason,
		IdempotencyKey: refundID,
	})
	if err != nil {
		return out, err
	}

	status := orders.RefundSucceeded
	if snap.Status == "pending" {
		status = orders.RefundPending
	}

	if err := s.Store.ApplyRefund(ctx, orders.RefundApplication{
		OrderID:     orderID,
		RefundID:    refundID,
		ExternalRef: snap.ID,
		Amount:      amt,
		Reason:      reason,
		Status:      status,
	}); err != nil {
		s.flagDivergence(ctx, orderID, snap.ID, err)
		return out, fmt.Errorf("refund %s accepted by gateway but not recorded locally: %w", snap.ID, err)
	}

	s.cacheStatus(ctx, orderID)
	return orders.Refund{
		ID:          refundID,
		OrderID:     orderID,
		ExternalRef: snap.ID,
		Amount:      amt,
		Reason:      reason,
		Status:      status,
	}, nil
}

// flagDivergence leaves an explicit reconciliation-needed marker. Best effort
// on both channels; the log line is the floor.
func (s *Service) flagDivergence(ctx context.Context, orderID, externalRef string, cause error) {
	detail := fmt.Sprintf("external refund %s for order %s has no local record: %v", externalRef, orderID, cause)
	log.Printf("refund divergence: %s", detail)

	if err := s.Store.InsertNotice(ctx, orders.Notice{
		OrderID: orderID,
		Kind:    orders.NoticeRefundDivergence,
		Detail:  detail,
	}); err != nil {
		log.Printf("refund divergence notice not recorded: %v", err)
	}

	if s.Ops != nil {
		env := orders.Envelope{
			EventID:       uuid.NewString(),
			EventType:     orders.EventOpsAlert,
			EventVersion:  1,
			OccurredAt:    time.Now().UTC(),
			Producer:      s.ServiceName,
			CorrelationID: orderID,
			Payload: kafkax.MustMarshal(orders.OpsAlertPayload{
				OrderID: orderID,
				Kind:    orders.NoticeRefundDivergence,
				Detail:  detail,
			}),
		}
		s.Ops.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(env),
			kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOpsAlert)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}
}

func (s *Service) cacheStatus(ctx context.Context, orderID string) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = s.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, orders.StatusRefunded), redisx.TTLStatusCache).Err()
}
