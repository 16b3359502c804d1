package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrVariantNotFound = errors.New("variant not found")

type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

// Ledger owns per-variant stock counters and the append-only inventory log.
// A stock mutation and its log entry always land in the same transaction;
// sum(inventory_log.delta) per variant equals variants.stock at all times.
type Ledger struct{ DB *pgxpool.Pool }

// ApplyDeltaTx mutates stock inside the caller's transaction.
// Locks the variant row (FOR UPDATE) so concurrent orders competing for the
// same units serialize. A negative delta that would drive stock below zero
// fails unless force is set (administrative corrections only).
func (l *Ledger) ApplyDeltaTx(ctx context.Context, tx pgx.Tx, variantID string, delta int, reason string, force bool) (int, error) {
	var stock int
	err := tx.QueryRow(ctx, `SELECT stock FROM variants WHERE id=$1 FOR UPDATE`, variantID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
		}
		return 0, fmt.Errorf("lock variant: %w", err)
	}

	newStock := stock + delta
	if newStock < 0 && !force {
		return 0, &InsufficientStockError{VariantID: variantID, Requested: -delta, Available: stock}
	}

	if _, err := tx.Exec(ctx, `UPDATE variants SET stock=$2, updated_at=now() WHERE id=$1`, variantID, newStock); err != nil {
		return 0, fmt.Errorf("update stock: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory_log(variant_id, delta, reason)
		VALUES ($1,$2,$3)`, variantID, delta, reason); err != nil {
		return 0, fmt.Errorf("append inventory log: %w", err)
	}
	return newStock, nil
}

// ApplyDelta runs the delta in its own transaction (manual adjustment path).
func (l *Ledger) ApplyDelta(ctx context.Context, variantID string, delta int, reason string, force bool) (newStock int, err error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	newStock, err = l.ApplyDeltaTx(ctx, tx, variantID, delta, reason, force)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newStock, nil
}

// Restock adds stock with a manual reason.
func (l *Ledger) Restock(ctx context.Context, variantID string, qty int, reason string) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("restock qty must be positive, got %d", qty)
	}
	return l.ApplyDelta(ctx, variantID, qty, reason, false)
}

// Audit returns the current counter and the log sum for a variant; the two
// must match.
func (l *Ledger) Audit(ctx context.Context, variantID string) (stock, logged int, err error) {
	err = l.DB.QueryRow(ctx, `SELECT stock FROM variants WHERE id=$1`, variantID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
		}
		return 0, 0, err
	}
	err = l.DB.QueryRow(ctx, `SELECT COALESCE(SUM(delta),0) FROM inventory_log WHERE variant_id=$1`, variantID).Scan(&logged)
	if err != nil {
		return 0, 0, err
	}
	return stock, logged, nil
}
