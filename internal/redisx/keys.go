package redisx

import "time"

const (
	// Idempotency checkout: idem:checkout:{idempotency_key} -> queue_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache status order: order_status:%s -> {"status":"...","payment_status":"..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
