package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kedai/orderflow/internal/orders"
)

type OrderLister interface {
	ListByPaymentWindow(ctx context.Context, method string, from, to time.Time) ([]orders.Order, error)
}

type TransactionSource interface {
	SearchTransactions(ctx context.Context, method string, from, to time.Time) ([]ProviderTransaction, error)
}

type RecordStore interface {
	ExistingExternalIDs(ctx context.Context, method string, ids []string) (map[string]bool, error)
	Insert(ctx context.Context, rec Record) error
}

// Matcher cross-checks provider truth against internal orders for a window.
// Matching is by exact order reference first, then by amount + time proximity.
// The heuristic (equal amount, under an hour apart) can mis-pair orders that
// happen to share an amount inside the window; that is inherent to it and the
// manual override exists for exactly those cases.
type Matcher struct {
	Orders   OrderLister
	Provider TransactionSource
	Records  RecordStore
	Log      zerolog.Logger
}

func (m *Matcher) Run(ctx context.Context, method string, from, to time.Time) (RunSummary, error) {
	txs, err := m.Provider.SearchTransactions(ctx, method, from, to)
	if err != nil {
		return RunSummary{}, fmt.Errorf("fetch provider transactions: %w", err)
	}
	ords, err := m.Orders.ListByPaymentWindow(ctx, method, from, to)
	if err != nil {
		return RunSummary{}, fmt.Errorf("fetch orders: %w", err)
	}
	ids := make([]string, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID)
	}
	existing, err := m.Records.ExistingExternalIDs(ctx, method, ids)
	if err != nil {
		return RunSummary{}, fmt.Errorf("fetch existing records: %w", err)
	}

	recs, skipped := match(method, ords, txs, existing)

	sum := RunSummary{Fetched: len(txs), Skipped: skipped}
	for _, rec := range recs {
		if err := m.Records.Insert(ctx, rec); err != nil {
			return sum, err
		}
		switch rec.Status {
		case StatusMatched:
			sum.Matched++
		case StatusDiscrepancy:
			sum.Discrepancy++
		case StatusPending:
			sum.Pending++
		}
	}
	m.Log.Info().
		Str("payment_method", method).
		Int("fetched", sum.Fetched).
		Int("matched", sum.Matched).
		Int("discrepancy", sum.Discrepancy).
		Int("pending", sum.Pending).
		Msg("reconciliation run finished")
	return sum, nil
}

// match pairs provider transactions with orders. Pure so the pairing rules
// are testable without a datastore or provider.
func match(method string, ords []orders.Order, txs []ProviderTransaction, existing map[string]bool) ([]Record, int) {
	taken := map[string]bool{}
	var recs []Record
	skipped := 0

	for _, t := range txs {
		if existing[t.ID] {
			skipped++
			continue
		}

		hit := findByReference(ords, taken, t.OrderReference)
		if hit == nil {
			hit = findByProximity(ords, taken, t)
		}
		if hit == nil {
			recs = append(recs, Record{
				ID:                uuid.NewString(),
				PaymentMethod:     method,
				ExternalTxID:      t.ID,
				ReceivedCents:     t.AmountCents,
				FeeCents:          t.FeeCents,
				Status:            StatusPending,
				DiscrepancyReason: "no matching order in window",
			})
			continue
		}
		taken[hit.ID] = true

		rec := Record{
			ID:            uuid.NewString(),
			PaymentMethod: method,
			ExternalTxID:  t.ID,
			OrderID:       hit.ID,
			ExpectedCents: hit.TotalCents,
			ReceivedCents: t.AmountCents,
			FeeCents:      t.FeeCents,
			Status:        StatusMatched,
		}
		if t.AmountCents != hit.TotalCents {
			rec.Status = StatusDiscrepancy
			rec.DiscrepancyReason = fmt.Sprintf("amount mismatch: expected %d, received %d cents",
				hit.TotalCents, t.AmountCents)
		}
		recs = append(recs, rec)
	}
	return recs, skipped
}

func findByReference(ords []orders.Order, taken map[string]bool, ref string) *orders.Order {
	if ref == "" {
		return nil
	}
	for i := range ords {
		o := &ords[i]
		if taken[o.ID] {
			continue
		}
		if o.ID == ref {
			return o
		}
	}
	return nil
}

// findByProximity: amount sama persis (cents) dan selisih waktu < 1 jam.
func findByProximity(ords []orders.Order, taken map[string]bool, t ProviderTransaction) *orders.Order {
	for i := range ords {
		o := &ords[i]
		if taken[o.ID] {
			continue
		}
		if o.TotalCents == t.AmountCents && absDuration(t.CreatedAt.Sub(o.CreatedAt)) < time.Hour {
			return o
		}
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
