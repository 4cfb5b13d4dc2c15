package recon

import "time"

type RecordStatus string

const (
	StatusMatched     RecordStatus = "matched"
	StatusDiscrepancy RecordStatus = "discrepancy"
	StatusPending     RecordStatus = "pending"
)

// Record links one external provider transaction to an internal order (or
// flags that it could not be linked). Unique per external transaction id so
// re-running the matcher over the same window is a no-op.
type Record struct {
	ID                string
	PaymentMethod     string
	ExternalTxID      string
	InternalTxID      string // reserved for a future payments table; empty today
	OrderID           string
	ExpectedCents     int64
	ReceivedCents     int64
	FeeCents          int64
	Status            RecordStatus
	DiscrepancyReason string
	CreatedAt         time.Time
}

type RunSummary struct {
	Fetched     int `json:"fetched"`
	Skipped     int `json:"skipped"` // sudah punya record (idempotent re-run)
	Matched     int `json:"matched"`
	Discrepancy int `json:"discrepancy"`
	Pending     int `json:"pending"`
}

type Report struct {
	Matched       int   `json:"matched"`
	Discrepancy   int   `json:"discrepancy"`
	Pending       int   `json:"pending"`
	ExpectedCents int64 `json:"expected_cents"`
	ReceivedCents int64 `json:"received_cents"`
	FeeCents      int64 `json:"fee_cents"`
}
