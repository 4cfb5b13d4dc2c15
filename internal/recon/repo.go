package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// ExistingExternalIDs returns which of the given external transaction ids
// already have a record; the matcher skips them on re-runs. Bounded by the
// ids just fetched, not the method's whole history.
func (r *Repo) ExistingExternalIDs(ctx context.Context, method string, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT external_transaction_id FROM reconciliation_records
		WHERE payment_method=$1 AND external_transaction_id = ANY($2)`, method, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Insert is a no-op when the external transaction id already has a record;
// the unique index is the last line of defense for idempotent re-runs.
func (r *Repo) Insert(ctx context.Context, rec Record) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO reconciliation_records(
			id, payment_method, external_transaction_id, internal_transaction_id, order_id,
			expected_cents, received_cents, fee_cents, status, discrepancy_reason)
		VALUES ($1, $2, $3, nullif($4,''), nullif($5,''), $6, $7, $8, $9, nullif($10,''))
		ON CONFLICT (external_transaction_id) DO NOTHING`,
		rec.ID, rec.PaymentMethod, rec.ExternalTxID, rec.InternalTxID, rec.OrderID,
		rec.ExpectedCents, rec.ReceivedCents, rec.FeeCents, rec.Status, rec.DiscrepancyReason)
	if err != nil {
		return fmt.Errorf("insert reconciliation record: %w", err)
	}
	return nil
}

// ManualMatch forces a record to matched, the operator escape hatch for pairs
// the heuristic cannot resolve.
func (r *Repo) ManualMatch(ctx context.Context, recordID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE reconciliation_records
		SET status='matched', discrepancy_reason='Manually reconciled', updated_at=now()
		WHERE id=$1`, recordID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) Summary(ctx context.Context, from, to time.Time) (Report, error) {
	var rep Report
	err := r.DB.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status='matched'),
			count(*) FILTER (WHERE status='discrepancy'),
			count(*) FILTER (WHERE status='pending'),
			coalesce(sum(expected_cents), 0),
			coalesce(sum(received_cents), 0),
			coalesce(sum(fee_cents), 0)
		FROM reconciliation_records
		WHERE created_at >= $1 AND created_at < $2`, from, to).
		Scan(&rep.Matched, &rep.Discrepancy, &rep.Pending,
			&rep.ExpectedCents, &rep.ReceivedCents, &rep.FeeCents)
	if err != nil {
		return Report{}, err
	}
	return rep, nil
}
