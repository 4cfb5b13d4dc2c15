package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

type EnqueueResult struct {
	QueueID string
	Deduped bool
}

// Enqueue is idempotent via idempotency_key: a duplicate submission gets the
// original queue item back, never a second one. The unique index is the
// arbiter; Redis in front of this is only a fast path.
func (r *Repo) Enqueue(ctx context.Context, orderData []byte, userID string, priority int, idemKey string) (EnqueueResult, error) {
	if idemKey == "" {
		return EnqueueResult{}, errors.New("missing idempotency key")
	}
	id := uuid.NewString()
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO queue_items(id, order_data, user_id, idempotency_key, priority, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())
		ON CONFLICT (idempotency_key) DO NOTHING`,
		id, orderData, userID, idemKey, priority)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return EnqueueResult{QueueID: id}, nil
	}

	// duplikat -> ambil item existing
	var existing string
	if err := r.DB.QueryRow(ctx,
		`SELECT id FROM queue_items WHERE idempotency_key=$1`, idemKey).Scan(&existing); err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue dedup lookup: %w", err)
	}
	return EnqueueResult{QueueID: existing, Deduped: true}, nil
}

// ClaimNext atomically selects the highest-priority, earliest-scheduled
// pending item and marks it claimed by this worker. SKIP LOCKED makes the
// losing racer see zero rows instead of blocking. Returns (nil, nil) on an
// empty queue.
func (r *Repo) ClaimNext(ctx context.Context, workerID string) (*Item, error) {
	var it Item
	err := r.DB.QueryRow(ctx, `
		UPDATE queue_items SET status='claimed', worker_id=$1, updated_at=now()
		WHERE id = (
			SELECT id FROM queue_items
			WHERE status='pending' AND scheduled_at <= now()
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_data, user_id, idempotency_key, priority, scheduled_at`,
		workerID).
		Scan(&it.ID, &it.OrderData, &it.UserID, &it.IdempotencyKey, &it.Priority, &it.ScheduledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	it.Status = StatusClaimed
	it.WorkerID = workerID
	return &it, nil
}

func (r *Repo) Complete(ctx context.Context, queueID, orderID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE queue_items SET status='completed', order_id=$2, updated_at=now()
		WHERE id=$1 AND status='claimed'`, queueID, orderID)
	return err
}

func (r *Repo) Fail(ctx context.Context, queueID, reason string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE queue_items SET status='failed', last_error=$2, updated_at=now()
		WHERE id=$1 AND status='claimed'`, queueID, reason)
	return err
}
