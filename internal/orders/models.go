package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Variant struct {
	ID        string
	SKU       string
	Name      string
	Stock     int
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID         string
	ExternalID string
	CustomerID string
	Total      decimal.Decimal
	Currency   string
	Status     Status // see status.go
	PaymentRef *string
	Items      []LineItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineItem snapshots quantity and unit price at order time; catalog price
// changes never touch it.
type LineItem struct {
	OrderID   string
	VariantID string
	Qty       int
	UnitPrice decimal.Decimal
}

// HistoryEntry rows are append-only; Order.Status is a cached projection of
// the latest entry.
type HistoryEntry struct {
	ID          int64
	OrderID     string
	Status      Status
	Description string
	CreatedAt   time.Time
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

type Refund struct {
	ID          string
	OrderID     string
	ExternalRef string
	Amount      decimal.Decimal
	Reason      string
	Status      RefundStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Notice kinds for the operator queue.
const (
	NoticeDispute          = "dispute"
	NoticeRefundDivergence = "refund_divergence"
	NoticeUnreconcilable   = "unreconcilable_event"
)

type Notice struct {
	ID        string
	OrderID   string
	Kind      string
	Detail    string
	CreatedAt time.Time
}
