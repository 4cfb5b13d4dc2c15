package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Idem caches idempotency key -> queue id for checkout submissions. Purely a
// fast path: the queue's unique idempotency_key index stays the arbiter, so a
// miss or a Redis error just means the caller goes through the DB.
type Idem struct{ R *redis.Client }

func (i *Idem) GetQueueID(ctx context.Context, idemKey string) (string, error) {
	v, err := i.R.Get(ctx, fmt.Sprintf(KeyIdemCheckout, idemKey)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (i *Idem) SetQueueID(ctx context.Context, idemKey, queueID string) error {
	return i.R.Set(ctx, fmt.Sprintf(KeyIdemCheckout, idemKey), queueID, TTLIdempotency).Err()
}

// Dedup records processed event ids so a redelivered message is a no-op.
// Mark only after the side effect has landed.
type Dedup struct{ R *redis.Client }

func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	return Exists(ctx, d.R, key)
}

func (d *Dedup) Mark(ctx context.Context, key string) error {
	return d.R.Set(ctx, key, "1", TTLDedup).Err()
}
