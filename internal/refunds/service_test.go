package refunds

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-payments.git/internal/orders"
	"github.com/ariefcatur/go-shop-payments.git/internal/payments"
)

type fakeStore struct {
	orders       map[string]orders.Order
	applications []orders.RefundApplication
	notices      []orders.Notice
	failApply    error
}

func (f *fakeStore) GetOrder(_ context.Context, orderID string) (orders.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) ApplyRefund(_ context.Context, p orders.RefundApplication) error {
	if f.failApply != nil {
		return f.failApply
	}
	o := f.orders[p.OrderID]
	o.Status = orders.StatusRefunded
	f.orders[p.OrderID] = o
	f.applications = append(f.applications, p)
	return nil
}

func (f *fakeStore) InsertNotice(_ context.Context, n orders.Notice) error {
	f.notices = append(f.notices, n)
	return nil
}

type fakeGateway struct {
	calls    []payments.CreateRefundParams
	failWith error
	status   string
}

func (f *fakeGateway) CreateRefund(_ context.Context, p payments.CreateRefundParams) (payments.RefundSnapshot, error) {
	f.calls = append(f.calls, p)
	if f.failWith != nil {
		return payments.RefundSnapshot{}, f.failWith
	}
	status := f.status
	if status == "" {
		status = "succeeded"
	}
	return payments.RefundSnapshot{ID: "re_1", Amount: *p.Amount, Status: status}, nil
}

type fakePublisher struct{ messages [][]byte }

func (f *fakePublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	f.messages = append(f.messages, value)
}

func confirmedOrder(id string) orders.Order {
	return orders.Order{
		ID:         id,
		CustomerID: "cus-1",
		Total:      decimal.RequireFromString("50.00"),
		Currency:   "USD",
		Status:     orders.StatusConfirmed,
		PaymentRef: lo.ToPtr("pi_1"),
	}
}

func newService(store *fakeStore, gw *fakeGateway) (*Service, *fakePublisher) {
	ops := &fakePublisher{}
	return &Service{Store: store, Gateway: gw, Ops: ops, ServiceName: "test"}, ops
}

func TestRefundFull(t *testing.T) {
	store := &fakeStore{orders: map[string]orders.Order{"ord-1": confirmedOrder("ord-1")}}
	gw := &fakeGateway{}
	svc, _ := newService(store, gw)

	ref, err := svc.Refund(context.Background(), "ord-1", nil, "requested_by_customer")
	require.NoError(t, err)

	require.Len(t, gw.calls, 1)
	assert.Equal(t, "pi_1", gw.calls[0].IntentRef)
	assert.Equal(t, ref.ID, gw.calls[0].IdempotencyKey)
	minor, err := gw.calls[0].Amount.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(5000), minor)

	require.Len(t, store.applications, 1)
	assert.Equal(t, "re_1", store.applications[0].ExternalRef)
	assert.True(t, store.applications[0].Amount.Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, orders.RefundSucceeded, store.applications[0].Status)
	assert.Equal(t, orders.StatusRefunded, store.orders["ord-1"].Status)
	assert.Equal(t, "re_1", ref.ExternalRef)
}

func TestRefundPartial(t *testing.T) {
	store := &fakeStore{orders: map[string]orders.Order{"ord-1": confirmedOrder("ord-1")}}
	gw := &fakeGateway{}
	svc, _ := newService(store, gw)

	_, err := svc.Refund(context.Background(), "ord-1", lo.ToPtr(decimal.RequireFromString("10.00")), "damaged item")
	require.NoError(t, err)

	minor, err := gw.calls[0].Amount.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), minor)
}

func TestRefundAmountOutOfRange(t *testing.T) {
	store := &fakeStore{orders: map[string]orders.Order{"ord-1": confirmedOrder("ord-1")}}
	gw := &fakeGateway{}
	svc, _ := newService(store, gw)

	for _, amt := range []string{"0", "-5.00", "60.00"} {
		_, err := svc.Refund(context.Background(), "ord-1", lo.ToPtr(decimal.RequireFromString(amt)), "x")
		var vErr *orders.ValidationError
		assert.ErrorAs(t, err, &vErr, "amount %s", amt)
	}
	assert.Empty(t, gw.calls)
}

func TestRefundNoPaymentRef(t *testing.T) {
	o := confirmedOrder("ord-1")
	o.PaymentRef = nil
	store := &fakeStore{orders: map[string]orders.Order{"ord-1": o}}
	gw := &fakeGateway{}
	svc, _ := newService(store, gw)

	_, err := svc.Refund(context.Background(), "ord-1", nil, "x")
	assert.ErrorIs(t, err, ErrNoPaymentOnOrder)
	assert.Empty(t, gw.calls)
}

func TestRefundNotRefundableStatus(t *testing.T) {
	o := confirmedOrder("ord-1")
	o.Status = orders.StatusPaymentFailed
	store := &fakeStore{orders: map[string]orders.Order{"ord-1": o}}
	gw := &fakeGateway{}
	svc, _ := newService(store, gw)

	_, err := svc.Refund(context.Background(), "ord-1", nil, "x")
	assert.ErrorIs(t, err, ErrNotRefundable)
	assert.Empty(t, gw.calls)
}

func TestRefundUnknownOrder(t *testing.T) {
	store := &fakeStore{orders: map[string]orders.Order{}}
	svc, _ := newService(store, &fakeGateway{})

	_, err := svc.Refund(context.Background(), "ord-x", nil, "x")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestRefundGatewayRejected(t *testing.T) {
	store := &fakeStore{orders: map[string]orders.Order{"ord-1": confirmedOrder("ord-1")}}
	gw := &fakeGateway{failWith: &payments.RejectedError{Code: "charge_disputed", Message: "charge is disputed"}}
	svc, _ := newService(store, gw)

	_, err := svc.Refund(context.Background(), "ord-1", nil, "x")
	var rej *payments.RejectedError
	assert.ErrorAs(t, err, &rej)
	assert.Empty(t, store.applications, "no local write on gateway rejection")
	assert.Equal(t, orders.StatusConfirmed, store.orders["ord-1"].Status)
}

func TestRefundDivergenceIsFlagged(t *testing.T) {
	store := &fakeStore{
		orders:    map[string]orders.Order{"ord-1": confirmedOrder("ord-1")},
		failApply: errors.New("connection reset"),
	}
	gw := &fakeGateway{}
	svc, ops := newService(store, gw)

	_, err := svc.Refund(context.Background(), "ord-1", nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "re_1")

	// the external refund exists with no local record: that state must be
	// visible, not silently reported as success
	require.Len(t, store.notices, 1)
	assert.Equal(t, orders.NoticeRefundDivergence, store.notices[0].Kind)
	assert.Equal(t, "ord-1", store.notices[0].OrderID)
	assert.Contains(t, store.notices[0].Detail, "re_1")
	assert.Len(t, ops.messages, 1)
}
