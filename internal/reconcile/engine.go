package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-shop-payments.git/internal/kafka"
	"github.com/ariefcatur/go-shop-payments.git/internal/orders"
	"github.com/ariefcatur/go-shop-payments.git/internal/payments"
	"github.com/ariefcatur/go-shop-payments.git/internal/redisx"
)

// Event types the engine maps to order-state transitions. Anything else is a
// forward-compatible no-op.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventDisputeCreated  = "charge.dispute.created"
	EventChargeRefunded  = "charge.refunded"
)

var (
	// ErrAlreadyApplied reports a re-delivered event; the first delivery won.
	ErrAlreadyApplied = errors.New("reconcile: event already applied")

	// ErrUnknownOrder reports event metadata naming an order that does not exist.
	ErrUnknownOrder = errors.New("reconcile: order not found")
)

// UnreconcilableEventError marks an event the engine cannot map to an order.
// It is recorded for operator review, never silently dropped.
type UnreconcilableEventError struct {
	EventID   string
	EventType string
	Reason    string
}

func (e *UnreconcilableEventError) Error() string {
	return fmt.Sprintf("unreconcilable event %s (%s): %s", e.EventID, e.EventType, e.Reason)
}

// Store is the slice of the order store the engine needs.
type Store interface {
	ApplyEventTransition(ctx context.Context, p orders.EventTransition) (orders.EventOutcome, error)
	RecordEventNotice(ctx context.Context, n orders.EventNotice) (bool, error)
}

// Engine applies verified webhook events to local order state, idempotently.
// Events are applied in arrival order; a terminal status is sticky against
// everything except an explicit refund event.
type Engine struct {
	Store       Store
	Redis       *redis.Client    // dedup fast path; the DB record is authoritative
	Notify      orders.Publisher // order.status notifications, may be nil
	Ops         orders.Publisher // operator alerts, may be nil
	ServiceName string
}

// Apply processes one verified event. Returns nil on success or accepted
// no-op, ErrAlreadyApplied on duplicates, ErrUnknownOrder / an
// UnreconcilableEventError when the event cannot be matched. A failure for
// one event never blocks subsequent unrelated events.
func (e *Engine) Apply(ctx context.Context, ev payments.Event) error {
	if e.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "reconcile", ev.ID)
		if exists, _ := redisx.Exists(ctx, e.Redis, dkey); exists {
			return ErrAlreadyApplied
		}
	}

	var err error
	switch ev.Type {
	case EventIntentSucceeded:
		err = e.applyIntent(ctx, ev, orders.StatusConfirmed, "")
	case EventIntentFailed:
		err = e.applyIntent(ctx, ev, orders.StatusPaymentFailed, "Payment failed")
	case EventChargeRefunded:
		err = e.applyChargeRefunded(ctx, ev)
	case EventDisputeCreated:
		err = e.applyDispute(ctx, ev)
	default:
		// unknown types are accepted and ignored
		log.Printf("reconcile: ignoring event type %s (%s)", ev.Type, ev.ID)
		return nil
	}

	if err == nil || errors.Is(err, ErrAlreadyApplied) {
		e.markSeen(ctx, ev.ID)
	}
	return err
}

func (e *Engine) applyIntent(ctx context.Context, ev payments.Event, to orders.Status, fallbackDesc string) error {
	obj, err := ev.Intent()
	if err != nil {
		return e.unreconcilable(ctx, ev, err.Error())
	}
	orderID := obj.Metadata["order_id"]
	if orderID == "" {
		return e.unreconcilable(ctx, ev, "missing order_id metadata")
	}

	desc := fallbackDesc
	if to == orders.StatusConfirmed {
		desc = "Payment confirmed"
	} else if msg := obj.FailureMessage(); msg != "" {
		desc = msg
	}

	outcome, err := e.Store.ApplyEventTransition(ctx, orders.EventTransition{
		EventID:     ev.ID,
		EventType:   ev.Type,
		ObjectID:    obj.ID,
		OrderID:     orderID,
		To:          to,
		Description: desc,
		PaymentRef:  obj.ID,
	})
	return e.finish(ctx, ev, orderID, to, desc, outcome, err)
}

func (e *Engine) applyChargeRefunded(ctx context.Context, ev payments.Event) error {
	obj, err := ev.Charge()
	if err != nil {
		return e.unreconcilable(ctx, ev, err.Error())
	}
	orderID := obj.Metadata["order_id"]
	if orderID == "" {
		return e.unreconcilable(ctx, ev, "missing order_id metadata")
	}

	desc := "Refund confirmed by processor"
	outcome, err := e.Store.ApplyEventTransition(ctx, orders.EventTransition{
		EventID:     ev.ID,
		EventType:   ev.Type,
		ObjectID:    obj.ID,
		OrderID:     orderID,
		To:          orders.StatusRefunded,
		Description: desc,
		PaymentRef:  obj.PaymentIntent,
	})
	return e.finish(ctx, ev, orderID, orders.StatusRefunded, desc, outcome, err)
}

// applyDispute never touches Order.status: the dispute workflow is manual.
// It records an operator notice and raises an ops alert.
func (e *Engine) applyDispute(ctx context.Context, ev payments.Event) error {
	obj, err := ev.Dispute()
	if err != nil {
		return e.unreconcilable(ctx, ev, err.Error())
	}
	orderID := obj.Metadata["order_id"] // optional for disputes

	detail := fmt.Sprintf("dispute %s on intent %s: %s", obj.ID, obj.PaymentIntent, obj.Reason)
	recorded, err := e.Store.RecordEventNotice(ctx, orders.EventNotice{
		EventID:   ev.ID,
		EventType: ev.Type,
		ObjectID:  obj.ID,
		OrderID:   orderID,
		Kind:      orders.NoticeDispute,
		Detail:    detail,
	})
	if err != nil {
		return err
	}
	if !recorded {
		return ErrAlreadyApplied
	}
	e.publishAlert(orderID, orders.NoticeDispute, detail)
	return nil
}

func (e *Engine) finish(ctx context.Context, ev payments.Event, orderID string, to orders.Status, desc string, outcome orders.EventOutcome, err error) error {
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("%w: %s (event %s)", ErrUnknownOrder, orderID, ev.ID)
		}
		return err
	}
	if outcome.Duplicate {
		return ErrAlreadyApplied
	}
	if outcome.NoOp {
		log.Printf("reconcile: event %s (%s) is a no-op for order %s in status %s",
			ev.ID, ev.Type, orderID, outcome.From)
		return nil
	}

	e.cacheStatus(ctx, orderID, to)
	e.publishStatusChange(orderID, outcome.From, to, desc)
	return nil
}

func (e *Engine) unreconcilable(ctx context.Context, ev payments.Event, reason string) error {
	recorded, err := e.Store.RecordEventNotice(ctx, orders.EventNotice{
		EventID:   ev.ID,
		EventType: ev.Type,
		Kind:      orders.NoticeUnreconcilable,
		Detail:    reason,
	})
	if err != nil {
		return err
	}
	if !recorded {
		return ErrAlreadyApplied
	}
	e.markSeen(ctx, ev.ID)
	e.publishAlert("", orders.NoticeUnreconcilable, fmt.Sprintf("event %s (%s): %s", ev.ID, ev.Type, reason))
	return &UnreconcilableEventError{EventID: ev.ID, EventType: ev.Type, Reason: reason}
}

func (e *Engine) markSeen(ctx context.Context, eventID string) {
	if e.Redis == nil {
		return
	}
	dkey := fmt.Sprintf(redisx.KeyDedup, "reconcile", eventID)
	_ = e.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
}

func (e *Engine) cacheStatus(ctx context.Context, orderID string, st orders.Status) {
	if e.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = e.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, st), redisx.TTLStatusCache).Err()
}

func (e *Engine) publishStatusChange(orderID string, from, to orders.Status, desc string) {
	if e.Notify == nil {
		return
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderStatusChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.ServiceName,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.OrderStatusChangedPayload{
			OrderID:     orderID,
			From:        string(from),
			To:          string(to),
			Description: desc,
		}),
	}
	e.Notify.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (e *Engine) publishAlert(orderID, kind, detail string) {
	if e.Ops == nil {
		return
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOpsAlert,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.ServiceName,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.OpsAlertPayload{
			OrderID: orderID,
			Kind:    kind,
			Detail:  detail,
		}),
	}
	e.Ops.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOpsAlert)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
