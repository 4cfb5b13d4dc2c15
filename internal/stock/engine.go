package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Engine owns the stock ledger. All mutation goes through Reserve, Confirm,
// Release and the sweeps below; nothing else writes available/reserved
// quantities. Each operation is a single row-locking transaction so two
// concurrent callers on the same product serialize on the ledger row.
type Engine struct{ DB *pgxpool.Pool }

var ErrReservationNotFound = errors.New("reservation not found")

type ReserveInput struct {
	ProductID string
	UserID    string
	Qty       int
	OrderKey  string
	TTL       time.Duration
}

type ReserveResult struct {
	OK            bool
	ReservationID string
	Message       string
}

// Reserve moves qty from available to reserved and records a held
// reservation. Idempotent per (order_key, product_id): a retry that finds its
// own held reservation gets it back without touching the ledger. Insufficient
// stock is a soft failure (OK=false), not an error.
func (e *Engine) Reserve(ctx context.Context, in ReserveInput) (ReserveResult, error) {
	if in.Qty <= 0 {
		return ReserveResult{Message: fmt.Sprintf("invalid qty %d for product %s", in.Qty, in.ProductID)}, nil
	}

	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReserveResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// cek existing held reservation utk (order_key, product_id)
	var existing string
	err = tx.QueryRow(ctx, `
		SELECT id FROM reservations
		WHERE order_key=$1 AND product_id=$2 AND state='held'`,
		in.OrderKey, in.ProductID).Scan(&existing)
	if err == nil {
		return ReserveResult{OK: true, ReservationID: existing}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ReserveResult{}, err
	}

	var available, reserved int
	err = tx.QueryRow(ctx, `
		SELECT available_qty, reserved_qty FROM stock_ledger
		WHERE product_id=$1 FOR UPDATE`, in.ProductID).Scan(&available, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReserveResult{Message: fmt.Sprintf("unknown product %s", in.ProductID)}, nil
	}
	if err != nil {
		return ReserveResult{}, err
	}

	if available < in.Qty {
		return ReserveResult{
			Message: fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
				in.ProductID, available, in.Qty),
		}, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_ledger
		SET available_qty = available_qty - $2, reserved_qty = reserved_qty + $2, updated_at = now()
		WHERE product_id=$1`, in.ProductID, in.Qty); err != nil {
		return ReserveResult{}, err
	}

	id := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(id, product_id, user_id, qty, order_key, ttl_expiry, state)
		VALUES ($1, $2, $3, $4, $5, $6, 'held')`,
		id, in.ProductID, in.UserID, in.Qty, in.OrderKey, time.Now().UTC().Add(in.TTL)); err != nil {
		return ReserveResult{}, err
	}

	if err := auditTx(ctx, tx, AuditEntry{
		ProductID: in.ProductID, Action: AuditReserve,
		QtyBefore: available, QtyAfter: available - in.Qty, QtyChange: -in.Qty,
		Reason: "checkout reserve", ReservationID: id,
	}); err != nil {
		return ReserveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{OK: true, ReservationID: id}, nil
}

// Confirm burns a held reservation's qty out of the reserved pool and links
// it to the order. Confirming an already-confirmed or released reservation is
// a successful no-op.
func (e *Engine) Confirm(ctx context.Context, reservationID, orderID string) error {
	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if res.State != StateHeld {
		return nil // idempotent no-op
	}

	var reserved int
	if err := tx.QueryRow(ctx, `
		SELECT reserved_qty FROM stock_ledger WHERE product_id=$1 FOR UPDATE`,
		res.ProductID).Scan(&reserved); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_ledger SET reserved_qty = reserved_qty - $2, updated_at = now()
		WHERE product_id=$1`, res.ProductID, res.Qty); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET state='confirmed', order_id=$2, updated_at=now()
		WHERE id=$1`, reservationID, orderID); err != nil {
		return err
	}

	if err := auditTx(ctx, tx, AuditEntry{
		ProductID: res.ProductID, Action: AuditConfirm,
		QtyBefore: reserved, QtyAfter: reserved - res.Qty, QtyChange: -res.Qty,
		Reason: "order confirmed", OrderID: orderID, ReservationID: reservationID,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Release returns a held reservation's qty to the available pool. Safe to
// call again on an already-released or expired reservation.
func (e *Engine) Release(ctx context.Context, reservationID, reason string) error {
	return e.settle(ctx, reservationID, StateReleased, reason)
}

func (e *Engine) settle(ctx context.Context, reservationID string, to ReservationState, reason string) error {
	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if !CanTransition(res.State, to) {
		return nil // idempotent no-op
	}

	var available int
	if err := tx.QueryRow(ctx, `
		SELECT available_qty FROM stock_ledger WHERE product_id=$1 FOR UPDATE`,
		res.ProductID).Scan(&available); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_ledger
		SET available_qty = available_qty + $2, reserved_qty = reserved_qty - $2, updated_at = now()
		WHERE product_id=$1`, res.ProductID, res.Qty); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET state=$2, updated_at=now() WHERE id=$1`,
		reservationID, to); err != nil {
		return err
	}

	if err := auditTx(ctx, tx, AuditEntry{
		ProductID: res.ProductID, Action: AuditRelease,
		QtyBefore: available, QtyAfter: available + res.Qty, QtyChange: res.Qty,
		Reason: reason, ReservationID: reservationID,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExpireSweep releases held reservations whose TTL has passed, so abandoned
// checkouts stop starving stock. Each reservation settles in its own
// transaction; one bad row never aborts the sweep.
func (e *Engine) ExpireSweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.DB.Query(ctx, `
		SELECT id FROM reservations
		WHERE state='held' AND ttl_expiry < $1
		ORDER BY ttl_expiry LIMIT $2`, now, limit)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	var firstErr error
	for _, id := range ids {
		if err := e.settle(ctx, id, StateExpired, "reservation ttl expired"); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		expired++
	}
	return expired, firstErr
}

// ClampNegative zeroes any ledger row whose available quantity went negative.
// A repair path for the stock reconciliation job, not a normal-path write.
func (e *Engine) ClampNegative(ctx context.Context) (int, error) {
	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT product_id, available_qty FROM stock_ledger
		WHERE available_qty < 0 FOR UPDATE`)
	if err != nil {
		return 0, err
	}
	type neg struct {
		pid string
		qty int
	}
	var negs []neg
	for rows.Next() {
		var n neg
		if err := rows.Scan(&n.pid, &n.qty); err != nil {
			rows.Close()
			return 0, err
		}
		negs = append(negs, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, n := range negs {
		if _, err := tx.Exec(ctx, `
			UPDATE stock_ledger SET available_qty=0, updated_at=now() WHERE product_id=$1`,
			n.pid); err != nil {
			return 0, err
		}
		if err := auditTx(ctx, tx, AuditEntry{
			ProductID: n.pid, Action: AuditAdjust,
			QtyBefore: n.qty, QtyAfter: 0, QtyChange: -n.qty,
			Reason: "negative stock clamped",
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(negs), nil
}

// LowStock lists products at or below their reorder threshold.
func (e *Engine) LowStock(ctx context.Context) ([]LedgerEntry, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT product_id, available_qty, reserved_qty, reorder_level, updated_at
		FROM stock_ledger
		WHERE available_qty <= reorder_level
		ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var le LedgerEntry
		if err := rows.Scan(&le.ProductID, &le.Available, &le.Reserved, &le.ReorderLevel, &le.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, le)
	}
	return out, rows.Err()
}

// PurgeAuditBefore is the retention sweep for the append-only audit log,
// driven by the order_cleanup job.
func (e *Engine) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := e.DB.Exec(ctx, `DELETE FROM stock_audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func lockReservation(ctx context.Context, tx pgx.Tx, id string) (Reservation, error) {
	var res Reservation
	err := tx.QueryRow(ctx, `
		SELECT id, product_id, user_id, qty, order_key, ttl_expiry, state
		FROM reservations WHERE id=$1 FOR UPDATE`, id).
		Scan(&res.ID, &res.ProductID, &res.UserID, &res.Qty, &res.OrderKey, &res.TTLExpiry, &res.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, ErrReservationNotFound
	}
	return res, err
}

func auditTx(ctx context.Context, tx pgx.Tx, e AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_audit_log(product_id, action, qty_before, qty_after, qty_change, reason, order_id, reservation_id)
		VALUES ($1, $2, $3, $4, $5, $6, nullif($7,''), nullif($8,''))`,
		e.ProductID, e.Action, e.QtyBefore, e.QtyAfter, e.QtyChange, e.Reason, e.OrderID, e.ReservationID)
	return err
}
