package jobs

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job types dispatched by the runner.
const (
	TypeEmailNotification   = "email_notification"
	TypeAnalyticsTracking   = "analytics_tracking"
	TypeKitchenNotification = "kitchen_notification"
	TypeOrderCleanup        = "order_cleanup"
	TypeStockReconciliation = "stock_reconciliation"
	TypePaymentVerification = "payment_verification"
)

const (
	DefaultMaxAttempts    = 5
	DefaultTimeoutSeconds = 300
)

type Job struct {
	ID             string
	Type           string
	Data           json.RawMessage
	Status         Status
	Attempts       int
	MaxAttempts    int
	Priority       int
	ScheduledAt    time.Time
	TimeoutSeconds int
	WorkerID       string
	ResultData     json.RawMessage
	ErrorMessage   string
}

// backoffDelay: retry ke-N dijadwalkan 2^N menit setelah gagal.
func backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(1<<uint(attempts)) * time.Minute
}

// ---- Payload tipe per job ----

type EmailData struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type AnalyticsData struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	TotalCents int64  `json:"total_cents"`
	ItemCount  int    `json:"item_count"`
}

type KitchenLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type KitchenData struct {
	OrderID string        `json:"order_id"`
	Items   []KitchenLine `json:"items"`
	Notes   string        `json:"notes,omitempty"`
}

type PaymentVerifyData struct {
	OrderID    string `json:"order_id"`
	ExternalID string `json:"external_id"`
}
