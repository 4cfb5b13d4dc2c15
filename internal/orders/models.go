package orders

import "time"

type Order struct {
	ID            string
	UserID        string
	Status        Status // lihat status.go
	PaymentStatus PaymentStatus
	PaymentMethod string
	TotalCents    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Qty        int
	PriceCents int64
}
