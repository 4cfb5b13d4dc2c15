package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kedai/orderflow/internal/orders"
)

var windowStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func order(id string, total int64, at time.Time) orders.Order {
	return orders.Order{ID: id, TotalCents: total, CreatedAt: at}
}

func tx(id string, amount int64, at time.Time, ref string) ProviderTransaction {
	return ProviderTransaction{ID: id, AmountCents: amount, CreatedAt: at, OrderReference: ref}
}

func TestMatchByExactReference(t *testing.T) {
	ords := []orders.Order{order("o-1", 5000, windowStart)}
	txs := []ProviderTransaction{tx("tx-1", 5000, windowStart.Add(3*time.Hour), "o-1")}

	recs, skipped := match("gopay", ords, txs, nil)

	require.Len(t, recs, 1)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, StatusMatched, recs[0].Status)
	assert.Equal(t, "o-1", recs[0].OrderID)
	assert.Equal(t, "tx-1", recs[0].ExternalTxID)
	assert.Empty(t, recs[0].DiscrepancyReason)
}

func TestMatchReferenceWinsOverAmountMismatch(t *testing.T) {
	// referensi eksplisit tetap dipakai walau nominal beda; selisihnya
	// dicatat sebagai discrepancy, bukan pending
	ords := []orders.Order{order("o-1", 5000, windowStart)}
	txs := []ProviderTransaction{tx("tx-1", 4500, windowStart, "o-1")}

	recs, _ := match("gopay", ords, txs, nil)

	require.Len(t, recs, 1)
	assert.Equal(t, StatusDiscrepancy, recs[0].Status)
	assert.Equal(t, "amount mismatch: expected 5000, received 4500 cents", recs[0].DiscrepancyReason)
	assert.Equal(t, int64(5000), recs[0].ExpectedCents)
	assert.Equal(t, int64(4500), recs[0].ReceivedCents)
}

func TestMatchByProximityWithinOneHour(t *testing.T) {
	ords := []orders.Order{order("o-1", 7500, windowStart)}
	txs := []ProviderTransaction{tx("tx-1", 7500, windowStart.Add(59*time.Minute), "")}

	recs, _ := match("ovo", ords, txs, nil)

	require.Len(t, recs, 1)
	assert.Equal(t, StatusMatched, recs[0].Status)
	assert.Equal(t, "o-1", recs[0].OrderID)
}

func TestMatchProximityRejectsOverOneHour(t *testing.T) {
	ords := []orders.Order{order("o-1", 7500, windowStart)}
	txs := []ProviderTransaction{tx("tx-1", 7500, windowStart.Add(61*time.Minute), "")}

	recs, _ := match("ovo", ords, txs, nil)

	require.Len(t, recs, 1)
	assert.Equal(t, StatusPending, recs[0].Status)
	assert.Equal(t, "no matching order in window", recs[0].DiscrepancyReason)
	assert.Empty(t, recs[0].OrderID)
}

func TestMatchOrderNotPairedTwice(t *testing.T) {
	// dua transaksi dengan nominal sama, order-nya cuma satu: yang kedua
	// harus jatuh ke pending
	ords := []orders.Order{order("o-1", 3000, windowStart)}
	txs := []ProviderTransaction{
		tx("tx-1", 3000, windowStart.Add(5*time.Minute), ""),
		tx("tx-2", 3000, windowStart.Add(10*time.Minute), ""),
	}

	recs, _ := match("gopay", ords, txs, nil)

	require.Len(t, recs, 2)
	assert.Equal(t, StatusMatched, recs[0].Status)
	assert.Equal(t, StatusPending, recs[1].Status)
}

func TestMatchSkipsAlreadyRecorded(t *testing.T) {
	ords := []orders.Order{order("o-1", 3000, windowStart)}
	txs := []ProviderTransaction{
		tx("tx-old", 3000, windowStart, "o-1"),
		tx("tx-new", 9000, windowStart, ""),
	}

	recs, skipped := match("gopay", ords, txs, map[string]bool{"tx-old": true})

	assert.Equal(t, 1, skipped)
	require.Len(t, recs, 1)
	assert.Equal(t, "tx-new", recs[0].ExternalTxID)
	assert.Equal(t, StatusPending, recs[0].Status)
}

type MockOrderLister struct{ mock.Mock }

func (m *MockOrderLister) ListByPaymentWindow(ctx context.Context, method string, from, to time.Time) ([]orders.Order, error) {
	args := m.Called(ctx, method, from, to)
	var out []orders.Order
	if v := args.Get(0); v != nil {
		out = v.([]orders.Order)
	}
	return out, args.Error(1)
}

type MockTransactionSource struct{ mock.Mock }

func (m *MockTransactionSource) SearchTransactions(ctx context.Context, method string, from, to time.Time) ([]ProviderTransaction, error) {
	args := m.Called(ctx, method, from, to)
	var out []ProviderTransaction
	if v := args.Get(0); v != nil {
		out = v.([]ProviderTransaction)
	}
	return out, args.Error(1)
}

type MockRecordStore struct{ mock.Mock }

func (m *MockRecordStore) ExistingExternalIDs(ctx context.Context, method string, ids []string) (map[string]bool, error) {
	args := m.Called(ctx, method, ids)
	var out map[string]bool
	if v := args.Get(0); v != nil {
		out = v.(map[string]bool)
	}
	return out, args.Error(1)
}

func (m *MockRecordStore) Insert(ctx context.Context, rec Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func TestRunSummarizesAndPersists(t *testing.T) {
	lister := new(MockOrderLister)
	source := new(MockTransactionSource)
	store := new(MockRecordStore)
	m := &Matcher{Orders: lister, Provider: source, Records: store, Log: zerolog.Nop()}

	// tx-1 matched; tx-2 referensi o-2 tapi nominal beda (discrepancy);
	// tx-3 tanpa pasangan (pending); tx-seen sudah punya record (skipped)
	from, to := windowStart, windowStart.Add(24*time.Hour)
	source.On("SearchTransactions", mock.Anything, "gopay", from, to).Return([]ProviderTransaction{
		tx("tx-1", 5000, windowStart, "o-1"),
		tx("tx-2", 4500, windowStart, "o-2"),
		tx("tx-3", 100, windowStart, ""),
		tx("tx-seen", 5000, windowStart, "o-1"),
	}, nil).Once()
	lister.On("ListByPaymentWindow", mock.Anything, "gopay", from, to).Return([]orders.Order{
		order("o-1", 5000, windowStart),
		order("o-2", 5000, windowStart),
	}, nil).Once()
	// lookup dibatasi ke id yang baru di-fetch, bukan seluruh histori
	store.On("ExistingExternalIDs", mock.Anything, "gopay", []string{"tx-1", "tx-2", "tx-3", "tx-seen"}).
		Return(map[string]bool{"tx-seen": true}, nil).Once()
	store.On("Insert", mock.Anything, mock.AnythingOfType("recon.Record")).Return(nil).Times(3)

	sum, err := m.Run(context.Background(), "gopay", from, to)

	require.NoError(t, err)
	assert.Equal(t, RunSummary{Fetched: 4, Skipped: 1, Matched: 1, Discrepancy: 1, Pending: 1}, sum)
	store.AssertExpectations(t)
}

func TestRunProviderFailureAborts(t *testing.T) {
	lister := new(MockOrderLister)
	source := new(MockTransactionSource)
	store := new(MockRecordStore)
	m := &Matcher{Orders: lister, Provider: source, Records: store, Log: zerolog.Nop()}

	source.On("SearchTransactions", mock.Anything, "gopay", mock.Anything, mock.Anything).
		Return(nil, errors.New("provider 500")).Once()

	_, err := m.Run(context.Background(), "gopay", windowStart, windowStart.Add(time.Hour))

	require.Error(t, err)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	lister.AssertNotCalled(t, "ListByPaymentWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
