package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var ErrNotFound = errors.New("order not found")

// Create inserts the order row only; items come through AddItems so the
// admission worker can run the delete-order compensation when item insertion
// fails halfway.
func (r *Repo) Create(ctx context.Context, o Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, payment_status, payment_method, total_cents)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.UserID, o.Status, o.PaymentStatus, o.PaymentMethod, o.TotalCents,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *Repo) AddItems(ctx context.Context, orderID string, items []OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		if it.Qty <= 0 {
			return fmt.Errorf("invalid qty for product %s", it.ProductID)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), orderID, it.ProductID, it.Qty, it.PriceCents,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Delete removes a half-created order and its items (compensation path).
func (r *Repo) Delete(ctx context.Context, orderID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, payment_status, payment_method, total_cents, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// SetStatus performs a guarded transition: the update only lands when the row
// is still in the observed state (optimistic, losers get ErrNotFound-free no-op).
func (r *Repo) SetStatus(ctx context.Context, orderID string, to Status) error {
	var cur Status
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if cur == to {
		return nil
	}
	if !CanTransition(cur, to) {
		return fmt.Errorf("invalid transition %s -> %s for order %s", cur, to, orderID)
	}
	_, err = r.DB.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		orderID, to, cur)
	return err
}

func (r *Repo) SetPaymentStatus(ctx context.Context, orderID string, ps PaymentStatus) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET payment_status=$2, updated_at=now() WHERE id=$1`,
		orderID, ps)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByPaymentWindow feeds the reconciliation matcher.
func (r *Repo) ListByPaymentWindow(ctx context.Context, method string, from, to time.Time) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, status, payment_status, payment_method, total_cents, created_at, updated_at
		FROM orders
		WHERE payment_method=$1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`, method, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
