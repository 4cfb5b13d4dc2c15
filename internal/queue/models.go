package queue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Item struct {
	ID             string
	OrderData      json.RawMessage
	UserID         string
	IdempotencyKey string
	Priority       int
	Status         Status
	ScheduledAt    time.Time
	WorkerID       string
	OrderID        string
	LastError      string
}

// OrderPayload is the proposed order carried inside order_data.
type OrderPayload struct {
	Items         []Line `json:"items"`
	TotalCents    int64  `json:"total_cents"`
	PaymentMethod string `json:"payment_method"`
	PaymentRef    string `json:"payment_ref,omitempty"` // external payment id, kalau sudah ada
	Notes         string `json:"notes,omitempty"`
}

type Line struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}
