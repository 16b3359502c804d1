package orders

import (
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOpsAlert           = "OpsAlert"
)

// Publisher is what services need from the kafka producer; loss of a
// notification never affects order state, the DB is the source of truth.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type ItemPrice struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderPlacedPayload struct {
	OrderID    string      `json:"order_id"`
	ExternalID string      `json:"external_id"`
	CustomerID string      `json:"customer_id"`
	Items      []ItemPrice `json:"items"`
	Total      string      `json:"total"`
	Currency   string      `json:"currency"`
}

type OrderStatusChangedPayload struct {
	OrderID     string `json:"order_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Description string `json:"description,omitempty"`
}

type OpsAlertPayload struct {
	OrderID string `json:"order_id,omitempty"`
	Kind    string `json:"kind"` // see Notice kinds
	Detail  string `json:"detail"`
}
