package orders

type Status string

const (
	StatusReceived  Status = "RECEIVED"
	StatusPreparing Status = "PREPARING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusReceived:  {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing: {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)
