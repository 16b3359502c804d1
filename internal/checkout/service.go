package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkax "github.com/ariefcatur/go-shop-payments.git/internal/kafka"
	"github.com/ariefcatur/go-shop-payments.git/internal/money"
	"github.com/ariefcatur/go-shop-payments.git/internal/orders"
	"github.com/ariefcatur/go-shop-payments.git/internal/payments"
	"github.com/ariefcatur/go-shop-payments.git/internal/redisx"
)

// Store is the slice of the order store the coordinator needs.
type Store interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.CreatedOrder, error)
	SetPaymentRef(ctx context.Context, orderID, ref string) error
}

// Gateway is the slice of the payment gateway the coordinator needs.
type Gateway interface {
	CreateIntent(ctx context.Context, p payments.CreateIntentParams) (payments.IntentSnapshot, error)
}

type Service struct {
	Store       Store
	Gateway     Gateway
	Redis       *redis.Client    // fast-path caches, may be nil; DB stays the source of truth
	Producer    orders.Publisher // order.placed notifications, may be nil
	ServiceName string
	Currency    string
}

type PlaceOrderRequest struct {
	ExternalID    string
	CustomerID    string
	Items         []orders.LineInput
	DeclaredTotal decimal.Decimal
	TraceID       string
}

type PlaceOrderResult struct {
	OrderID    string
	Total      decimal.Decimal
	PaymentRef string
	Idempotent bool
}

// PlaceOrder runs the checkout: atomic order creation (stock reserved,
// provenance logged) followed by payment-intent creation at the gateway.
// The checkout never blocks on the processor's final confirmation; that
// arrives later through the reconciliation engine.
//
// A gateway failure after the order committed leaves the order pending with
// no payment ref; re-running the same checkout (same external id) retries
// intent creation without writing a second order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	var res PlaceOrderResult

	if req.ExternalID == "" || req.CustomerID == "" {
		return res, orders.Validationf("external_id and customer_id are required")
	}
	if len(req.Items) == 0 {
		return res, orders.Validationf("order has no items")
	}
	for _, it := range req.Items {
		if it.Qty <= 0 {
			return res, orders.Validationf("invalid qty %d for variant %s", it.Qty, it.VariantID)
		}
	}

	created, err := s.Store.CreateOrder(ctx, orders.CreateOrderInput{
		ExternalID:    req.ExternalID,
		CustomerID:    req.CustomerID,
		Currency:      s.Currency,
		Items:         req.Items,
		DeclaredTotal: req.DeclaredTotal,
	})
	if err != nil {
		return res, err
	}

	res.OrderID = created.ID
	res.Total = created.Total
	res.Idempotent = created.Existed

	s.cacheCreated(ctx, req.ExternalID, created.ID)

	if created.Existed && created.PaymentRef != nil {
		res.PaymentRef = *created.PaymentRef
		return res, nil
	}

	amount, err := money.New(created.Total, s.Currency)
	if err != nil {
		return res, err
	}
	snap, err := s.Gateway.CreateIntent(ctx, payments.CreateIntentParams{
		Amount: amount,
		Metadata: map[string]string{
			"order_id":    created.ID,
			"customer_id": req.CustomerID,
		},
		// the order id doubles as the idempotency token, so an ambiguous
		// timeout retried later cannot mint a second intent
		IdempotencyKey: created.ID,
	})
	if err != nil {
		return res, fmt.Errorf("create payment intent for order %s: %w", created.ID, err)
	}

	if err := s.Store.SetPaymentRef(ctx, created.ID, snap.ID); err != nil {
		return res, err
	}
	res.PaymentRef = snap.ID

	if !created.Existed {
		s.publishPlaced(req, created)
	}
	return res, nil
}

func (s *Service) cacheCreated(ctx context.Context, externalID, orderID string) {
	if s.Redis == nil {
		return
	}
	idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, externalID)
	_ = s.Redis.Set(ctx, idemKey, orderID, redisx.TTLIdempotency).Err()
	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = s.Redis.Set(ctx, statusKey, `{"status":"pending"}`, redisx.TTLStatusCache).Err()
}

func (s *Service) publishPlaced(req PlaceOrderRequest, created orders.CreatedOrder) {
	if s.Producer == nil {
		return
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       req.TraceID,
		CorrelationID: created.ID,
		Payload: kafkax.MustMarshal(orders.OrderPlacedPayload{
			OrderID:    created.ID,
			ExternalID: req.ExternalID,
			CustomerID: req.CustomerID,
			Items: lo.Map(req.Items, func(it orders.LineInput, _ int) orders.ItemPrice {
				return orders.ItemPrice{VariantID: it.VariantID, Qty: it.Qty, UnitPrice: it.UnitPrice.String()}
			}),
			Total:    created.Total.String(),
			Currency: s.Currency,
		}),
	}
	s.Producer.Publish(orders.PartitionKey(created.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderPlaced)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
