package events

import (
	"encoding/json"
	"time"
)

const (
	EventOrderAdmitted = "OrderAdmitted"
	EventOrderRejected = "OrderRejected"
	EventKitchenTicket = "KitchenTicket"
	EventOrderTracked  = "OrderTracked"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"` // RFC3339
	Producer      string          `json:"producer"`    // e.g., "orderflow-worker"
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderAdmittedPayload struct {
	OrderID    string    `json:"order_id"`
	QueueID    string    `json:"queue_id"`
	UserID     string    `json:"user_id"`
	Items      []ItemQty `json:"items"`
	TotalCents int64     `json:"total_cents"`
}

type OrderRejectedPayload struct {
	QueueID string `json:"queue_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"` // e.g., OUT_OF_STOCK
}

type KitchenTicketPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
	Notes   string    `json:"notes,omitempty"`
}

type OrderTrackedPayload struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	TotalCents int64     `json:"total_cents"`
	ItemCount  int       `json:"item_count"`
	AdmittedAt time.Time `json:"admitted_at"`
}
