package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-shop-payments.git/internal/inventory"
)

type LineInput struct {
	VariantID string          `json:"variant_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateOrderInput struct {
	ExternalID    string
	CustomerID    string
	Currency      string
	Items         []LineInput
	DeclaredTotal decimal.Decimal
}

type CreatedOrder struct {
	ID         string
	Total      decimal.Decimal
	PaymentRef *string
	Existed    bool
}

// EventTransition is one webhook-driven state change, applied atomically with
// its dedup record.
type EventTransition struct {
	EventID     string
	EventType   string
	ObjectID    string
	OrderID     string
	To          Status
	Description string
	PaymentRef  string
}

type EventOutcome struct {
	Applied   bool
	Duplicate bool // event_id seen before, nothing written
	NoOp      bool // accepted but the transition does not apply (sticky terminal / out-of-order)
	From      Status
}

type EventNotice struct {
	EventID   string
	EventType string
	ObjectID  string
	OrderID   string
	Kind      string
	Detail    string
}

type RefundApplication struct {
	OrderID     string
	RefundID    string
	ExternalRef string
	Amount      decimal.Decimal
	Reason      string
	Status      RefundStatus
}

type Store struct {
	DB     *pgxpool.Pool
	Ledger *inventory.Ledger
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// CreateOrder inserts the order, its line items, the per-item stock deltas and
// the first history entry in one transaction; any failure rolls back the whole
// unit. Idempotent on external_id: a repeated checkout returns the existing
// order instead of writing anything.
//
// Unit prices are re-derived from the catalog inside the transaction; a
// mismatch with the caller-declared price or total is a validation failure,
// not a silent correction.
func (s *Store) CreateOrder(ctx context.Context, in CreateOrderInput) (CreatedOrder, error) {
	var out CreatedOrder

	var totalStr string
	err := s.DB.QueryRow(ctx, `SELECT id, total::text, payment_ref FROM orders WHERE external_id=$1`, in.ExternalID).
		Scan(&out.ID, &totalStr, &out.PaymentRef)
	if err == nil {
		out.Total, err = decimal.NewFromString(totalStr)
		if err != nil {
			return out, persistErr("parse total", err)
		}
		out.Existed = true
		return out, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return out, persistErr("lookup order by external_id", err)
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return out, persistErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prices, err := catalogPrices(ctx, tx, in.Items)
	if err != nil {
		return out, err
	}

	total := decimal.Zero
	for _, it := range in.Items {
		price, ok := prices[it.VariantID]
		if !ok {
			return out, Validationf("unknown variant %s", it.VariantID)
		}
		if it.Qty <= 0 {
			return out, Validationf("invalid qty %d for variant %s", it.Qty, it.VariantID)
		}
		if !price.Equal(it.UnitPrice) {
			return out, Validationf("unit price mismatch for variant %s: declared %s, catalog %s",
				it.VariantID, it.UnitPrice, price)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	if !total.Equal(in.DeclaredTotal) {
		return out, Validationf("declared total %s does not match computed total %s", in.DeclaredTotal, total)
	}

	orderID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, status, total, currency)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
	`, orderID, in.ExternalID, in.CustomerID, StatusPending, total.String(), in.Currency)
	if err != nil {
		return out, persistErr("insert order", err)
	}

	for _, it := range in.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, variant_id, qty, unit_price)
			VALUES ($1, $2, $3, $4::numeric)`,
			orderID, it.VariantID, it.Qty, it.UnitPrice.String(),
		)
		if err != nil {
			return out, persistErr("insert order item", err)
		}
	}

	// pessimistic reservation: stock leaves the pool at order creation,
	// not at payment confirmation
	reason := fmt.Sprintf("Order #%s", orderID)
	for _, it := range in.Items {
		if _, err := s.Ledger.ApplyDeltaTx(ctx, tx, it.VariantID, -it.Qty, reason, false); err != nil {
			var stockErr *inventory.InsufficientStockError
			if errors.As(err, &stockErr) || errors.Is(err, inventory.ErrVariantNotFound) {
				return out, err
			}
			return out, persistErr("apply stock delta", err)
		}
	}

	if err := appendHistory(ctx, tx, orderID, StatusPending, "Order placed"); err != nil {
		return out, err
	}

	if err := tx.Commit(ctx); err != nil {
		return out, persistErr("commit", err)
	}
	return CreatedOrder{ID: orderID, Total: total}, nil
}

func catalogPrices(ctx context.Context, tx pgx.Tx, items []LineInput) (map[string]decimal.Decimal, error) {
	ids := make([]any, 0, len(items))
	params := ""
	for i, it := range items {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		ids = append(ids, it.VariantID)
	}
	rows, err := tx.Query(ctx, `SELECT id, price::text FROM variants WHERE id IN (`+params+`)`, ids...)
	if err != nil {
		return nil, persistErr("query variant prices", err)
	}
	defer rows.Close()

	prices := map[string]decimal.Decimal{}
	for rows.Next() {
		var id, priceStr string
		if err := rows.Scan(&id, &priceStr); err != nil {
			return nil, persistErr("scan variant price", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, persistErr("parse variant price", err)
		}
		prices[id] = price
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("read variant prices", err)
	}
	return prices, nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, orderID string, status Status, description string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, status, description)
		VALUES ($1, $2, $3)`, orderID, status, description)
	if err != nil {
		return persistErr("append history", err)
	}
	return nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, orderID string) (Status, error) {
	var st string
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&st)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", persistErr("lock order", err)
	}
	return Status(st), nil
}

// ApplyEventTransition applies one verified webhook event: the dedup record
// and the state change commit together or not at all. A duplicate event_id
// writes nothing; an event whose transition does not apply (terminal status,
// out-of-order arrival) is accepted and recorded as a no-op.
func (s *Store) ApplyEventTransition(ctx context.Context, p EventTransition) (EventOutcome, error) {
	var out EventOutcome

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return out, persistErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO processed_events(event_id, event_type, object_id, order_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		p.EventID, p.EventType, p.ObjectID, p.OrderID)
	if err != nil {
		return out, persistErr("record event", err)
	}
	if ct.RowsAffected() == 0 {
		out.Duplicate = true
		return out, nil
	}

	st, err := lockOrder(ctx, tx, p.OrderID)
	if err != nil {
		return out, err
	}
	out.From = st

	if !CanTransition(st, p.To) {
		// sticky: keep the dedup record, change nothing
		out.NoOp = true
		if err := tx.Commit(ctx); err != nil {
			return out, persistErr("commit", err)
		}
		return out, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status=$2, payment_ref=COALESCE(payment_ref, NULLIF($3,'')), updated_at=now()
		WHERE id=$1`, p.OrderID, p.To, p.PaymentRef)
	if err != nil {
		return out, persistErr("update order status", err)
	}
	if err := appendHistory(ctx, tx, p.OrderID, p.To, p.Description); err != nil {
		return out, err
	}
	if err := tx.Commit(ctx); err != nil {
		return out, persistErr("commit", err)
	}
	out.Applied = true
	return out, nil
}

// RecordEventNotice stores an operator notice for an event that must not
// change order state (disputes, unreconcilable events). Returns false when
// the event was already recorded.
func (s *Store) RecordEventNotice(ctx context.Context, n EventNotice) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, persistErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO processed_events(event_id, event_type, object_id, order_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		n.EventID, n.EventType, n.ObjectID, n.OrderID)
	if err != nil {
		return false, persistErr("record event", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ops_notices(id, order_id, kind, detail)
		VALUES ($1, NULLIF($2,''), $3, $4)`,
		uuid.NewString(), n.OrderID, n.Kind, n.Detail)
	if err != nil {
		return false, persistErr("insert notice", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, persistErr("commit", err)
	}
	return true, nil
}

// InsertNotice adds an operator notice outside any webhook flow (e.g. refund
// divergence markers).
func (s *Store) InsertNotice(ctx context.Context, n Notice) error {
	id := n.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO ops_notices(id, order_id, kind, detail)
		VALUES ($1, NULLIF($2,''), $3, $4)`, id, n.OrderID, n.Kind, n.Detail)
	if err != nil {
		return persistErr("insert notice", err)
	}
	return nil
}

func (s *Store) ListNotices(ctx context.Context, limit int) ([]Notice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, COALESCE(order_id,''), kind, detail, created_at
		FROM ops_notices ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, persistErr("list notices", err)
	}
	defer rows.Close()

	var out []Notice
	for rows.Next() {
		var n Notice
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Kind, &n.Detail, &n.CreatedAt); err != nil {
			return nil, persistErr("scan notice", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ApplyRefund moves the order to refunded and inserts the refund record in one
// transaction. Called only after the gateway accepted the refund.
func (s *Store) ApplyRefund(ctx context.Context, p RefundApplication) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return persistErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st, err := lockOrder(ctx, tx, p.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(st, StatusRefunded) {
		return fmt.Errorf("order in status %s cannot move to refunded: %w", st, ErrTerminalStatus)
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, p.OrderID, StatusRefunded)
	if err != nil {
		return persistErr("update order status", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO refunds(id, order_id, external_ref, amount, reason, status)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		p.RefundID, p.OrderID, p.ExternalRef, p.Amount.String(), p.Reason, p.Status)
	if err != nil {
		return persistErr("insert refund", err)
	}
	desc := fmt.Sprintf("Refund %s (%s)", p.ExternalRef, p.Reason)
	if err := appendHistory(ctx, tx, p.OrderID, StatusRefunded, desc); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// OverrideStatus bypasses the reconciliation path for manual intervention.
// Leaving a terminal status requires force; the history trail is appended
// either way.
func (s *Store) OverrideStatus(ctx context.Context, orderID string, to Status, description string, force bool) error {
	if _, err := ToStatus(string(to)); err != nil {
		return Validationf("unknown status %q", to)
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return persistErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if IsTerminal(st) && !force {
		return fmt.Errorf("override from %s requires force: %w", st, ErrTerminalStatus)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, to); err != nil {
		return persistErr("update order status", err)
	}
	if description == "" {
		description = "Status override"
	}
	if err := appendHistory(ctx, tx, orderID, to, description); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

func (s *Store) SetPaymentRef(ctx context.Context, orderID, ref string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET payment_ref=COALESCE(payment_ref,$2), updated_at=now()
		WHERE id=$1`, orderID, ref)
	if err != nil {
		return persistErr("set payment ref", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var st string
	err := s.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&st)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", persistErr("get order status", err)
	}
	return Status(st), nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	var totalStr string
	err := s.DB.QueryRow(ctx, `
		SELECT id, external_id, customer_id, total::text, currency, status, payment_ref, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.ExternalID, &o.CustomerID, &totalStr, &o.Currency, &o.Status, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, ErrNotFound
		}
		return o, persistErr("get order", err)
	}
	o.Total, err = decimal.NewFromString(totalStr)
	if err != nil {
		return o, persistErr("parse total", err)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT order_id, variant_id, qty, unit_price::text
		FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return o, persistErr("get order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		var priceStr string
		if err := rows.Scan(&it.OrderID, &it.VariantID, &it.Qty, &priceStr); err != nil {
			return o, persistErr("scan order item", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
			return o, persistErr("parse unit price", err)
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (s *Store) GetHistory(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, status, description, created_at
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, persistErr("get history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Description, &h.CreatedAt); err != nil {
			return nil, persistErr("scan history", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ListVariants(ctx context.Context) ([]Variant, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, sku, name, stock, price::text, created_at, updated_at
		FROM variants ORDER BY sku`)
	if err != nil {
		return nil, persistErr("list variants", err)
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var v Variant
		var priceStr string
		if err := rows.Scan(&v.ID, &v.SKU, &v.Name, &v.Stock, &priceStr, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, persistErr("scan variant", err)
		}
		if v.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, persistErr("parse variant price", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
