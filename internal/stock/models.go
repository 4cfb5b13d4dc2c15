package stock

import "time"

type LedgerEntry struct {
	ProductID    string
	Available    int
	Reserved     int
	ReorderLevel int
	UpdatedAt    time.Time
}

type ReservationState string

const (
	StateHeld      ReservationState = "held"
	StateConfirmed ReservationState = "confirmed"
	StateReleased  ReservationState = "released"
	StateExpired   ReservationState = "expired"
)

// held adalah satu-satunya state yang boleh bergerak; sisanya terminal.
var validNext = map[ReservationState]map[ReservationState]bool{
	StateHeld:      {StateConfirmed: true, StateReleased: true, StateExpired: true},
	StateConfirmed: {},
	StateReleased:  {},
	StateExpired:   {},
}

func CanTransition(from, to ReservationState) bool {
	return validNext[from][to]
}

type Reservation struct {
	ID        string
	ProductID string
	UserID    string
	Qty       int
	OrderKey  string // idempotency key dari queue item
	TTLExpiry time.Time
	State     ReservationState
	OrderID   string // set saat confirmed
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuditAction string

const (
	AuditReserve AuditAction = "reserve"
	AuditRelease AuditAction = "release"
	AuditConfirm AuditAction = "confirm"
	AuditAdjust  AuditAction = "adjust"
)

// AuditEntry is append-only; rows are never updated, only purged by the
// retention sweep.
type AuditEntry struct {
	ID            int64
	ProductID     string
	Action        AuditAction
	QtyBefore     int
	QtyAfter      int
	QtyChange     int
	Reason        string
	OrderID       string
	ReservationID string
	CreatedAt     time.Time
}
