package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kedai/orderflow/internal/events"
	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/stock"
)

type MockStore struct{ mock.Mock }

func (m *MockStore) ClaimNext(ctx context.Context, workerID string) (*Item, error) {
	args := m.Called(ctx, workerID)
	var it *Item
	if v := args.Get(0); v != nil {
		it = v.(*Item)
	}
	return it, args.Error(1)
}

func (m *MockStore) Complete(ctx context.Context, queueID, orderID string) error {
	args := m.Called(ctx, queueID, orderID)
	return args.Error(0)
}

func (m *MockStore) Fail(ctx context.Context, queueID, reason string) error {
	args := m.Called(ctx, queueID, reason)
	return args.Error(0)
}

type MockReserver struct{ mock.Mock }

func (m *MockReserver) Reserve(ctx context.Context, in stock.ReserveInput) (stock.ReserveResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(stock.ReserveResult), args.Error(1)
}

func (m *MockReserver) Confirm(ctx context.Context, reservationID, orderID string) error {
	args := m.Called(ctx, reservationID, orderID)
	return args.Error(0)
}

func (m *MockReserver) Release(ctx context.Context, reservationID, reason string) error {
	args := m.Called(ctx, reservationID, reason)
	return args.Error(0)
}

type MockOrderWriter struct{ mock.Mock }

func (m *MockOrderWriter) Create(ctx context.Context, o orders.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockOrderWriter) AddItems(ctx context.Context, orderID string, items []orders.OrderItem) error {
	args := m.Called(ctx, orderID, items)
	return args.Error(0)
}

func (m *MockOrderWriter) Delete(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

type MockJobEnqueuer struct{ mock.Mock }

func (m *MockJobEnqueuer) Enqueue(ctx context.Context, jobType string, data any) (string, error) {
	args := m.Called(ctx, jobType, data)
	return args.String(0), args.Error(1)
}

func testItem(t *testing.T, payload OrderPayload) *Item {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return &Item{
		ID:             "q-1",
		OrderData:      b,
		UserID:         "user-1",
		IdempotencyKey: "idem-1",
		Status:         StatusClaimed,
		ScheduledAt:    time.Now(),
	}
}

func newTestWorker(store *MockStore, res *MockReserver, ow *MockOrderWriter, je *MockJobEnqueuer) *Worker {
	return &Worker{
		Store:          store,
		Stock:          res,
		Orders:         ow,
		Jobs:           je,
		ID:             "w-1",
		ReservationTTL: 5 * time.Minute,
		Log:            zerolog.Nop(),
	}
}

func reserveFor(productID string) any {
	return mock.MatchedBy(func(in stock.ReserveInput) bool { return in.ProductID == productID })
}

func TestWorkerAdmitsOrder(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	item := testItem(t, OrderPayload{
		Items: []Line{
			{ProductID: "p-1", Qty: 2, PriceCents: 150},
			{ProductID: "p-2", Qty: 1, PriceCents: 500},
		},
		TotalCents:    800,
		PaymentMethod: "gopay",
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, reserveFor("p-1")).Return(stock.ReserveResult{OK: true, ReservationID: "r-1"}, nil).Once()
	res.On("Reserve", mock.Anything, reserveFor("p-2")).Return(stock.ReserveResult{OK: true, ReservationID: "r-2"}, nil).Once()

	var createdOrderID string
	ow.On("Create", mock.Anything, mock.MatchedBy(func(o orders.Order) bool {
		createdOrderID = o.ID
		return o.UserID == "user-1" && o.Status == orders.StatusReceived &&
			o.PaymentStatus == orders.PaymentPending && o.TotalCents == 800
	})).Return(nil).Once()
	ow.On("AddItems", mock.Anything, mock.Anything, mock.MatchedBy(func(items []orders.OrderItem) bool {
		return len(items) == 2
	})).Return(nil).Once()

	res.On("Confirm", mock.Anything, "r-1", mock.Anything).Return(nil).Once()
	res.On("Confirm", mock.Anything, "r-2", mock.Anything).Return(nil).Once()

	je.On("Enqueue", mock.Anything, "email_notification", mock.Anything).Return("j-1", nil).Once()
	je.On("Enqueue", mock.Anything, "analytics_tracking", mock.Anything).Return("j-2", nil).Once()
	je.On("Enqueue", mock.Anything, "kitchen_notification", mock.Anything).Return("j-3", nil).Once()

	store.On("Complete", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	n, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotEmpty(t, createdOrderID)
	store.AssertExpectations(t)
	res.AssertExpectations(t)
	ow.AssertExpectations(t)
	je.AssertExpectations(t)
	// release tidak boleh terpanggil di happy path
	res.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkerInsufficientStockRollsBack(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	item := testItem(t, OrderPayload{
		Items: []Line{
			{ProductID: "p-1", Qty: 1, PriceCents: 100},
			{ProductID: "p-2", Qty: 3, PriceCents: 100},
		},
		TotalCents: 400,
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, reserveFor("p-1")).Return(stock.ReserveResult{OK: true, ReservationID: "r-1"}, nil).Once()
	res.On("Reserve", mock.Anything, reserveFor("p-2")).Return(stock.ReserveResult{
		Message: "insufficient stock for product p-2: available 1, requested 3",
	}, nil).Once()
	res.On("Release", mock.Anything, "r-1", mock.Anything).Return(nil).Once()
	store.On("Fail", mock.Anything, "q-1", mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "insufficient stock")
	})).Return(nil).Once()

	_, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	store.AssertExpectations(t)
	res.AssertExpectations(t)
	ow.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	je.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkerOrderInsertFailureReleasesAll(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	item := testItem(t, OrderPayload{
		Items:      []Line{{ProductID: "p-1", Qty: 1, PriceCents: 100}},
		TotalCents: 100,
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, mock.Anything).Return(stock.ReserveResult{OK: true, ReservationID: "r-1"}, nil).Once()
	ow.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	res.On("Release", mock.Anything, "r-1", mock.Anything).Return(nil).Once()
	store.On("Fail", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	_, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	store.AssertExpectations(t)
	res.AssertExpectations(t)
	ow.AssertNotCalled(t, "AddItems", mock.Anything, mock.Anything, mock.Anything)
	res.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkerItemInsertFailureDeletesOrder(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	item := testItem(t, OrderPayload{
		Items: []Line{
			{ProductID: "p-1", Qty: 1, PriceCents: 100},
			{ProductID: "p-2", Qty: 1, PriceCents: 200},
		},
		TotalCents: 300,
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, reserveFor("p-1")).Return(stock.ReserveResult{OK: true, ReservationID: "r-1"}, nil).Once()
	res.On("Reserve", mock.Anything, reserveFor("p-2")).Return(stock.ReserveResult{OK: true, ReservationID: "r-2"}, nil).Once()
	ow.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	ow.On("AddItems", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("constraint violation")).Once()
	ow.On("Delete", mock.Anything, mock.Anything).Return(nil).Once()
	res.On("Release", mock.Anything, "r-1", mock.Anything).Return(nil).Once()
	res.On("Release", mock.Anything, "r-2", mock.Anything).Return(nil).Once()
	store.On("Fail", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	_, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	store.AssertExpectations(t)
	res.AssertExpectations(t)
	ow.AssertExpectations(t)
	res.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkerConfirmFailureDoesNotFailOrder(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	item := testItem(t, OrderPayload{
		Items:      []Line{{ProductID: "p-1", Qty: 1, PriceCents: 100}},
		TotalCents: 100,
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, mock.Anything).Return(stock.ReserveResult{OK: true, ReservationID: "r-1"}, nil).Once()
	ow.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	ow.On("AddItems", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	res.On("Confirm", mock.Anything, "r-1", mock.Anything).Return(errors.New("deadlock")).Once()
	je.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("j-1", nil).Times(3)
	store.On("Complete", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	_, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
	res.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkerPaymentRefEnqueuesVerification(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	item := testItem(t, OrderPayload{
		Items:      []Line{{ProductID: "p-1", Qty: 1, PriceCents: 100}},
		TotalCents: 100,
		PaymentRef: "tx-abc",
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, mock.Anything).Return(stock.ReserveResult{OK: true, ReservationID: "r-1"}, nil).Once()
	ow.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	ow.On("AddItems", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	res.On("Confirm", mock.Anything, "r-1", mock.Anything).Return(nil).Once()
	je.On("Enqueue", mock.Anything, "email_notification", mock.Anything).Return("j-1", nil).Once()
	je.On("Enqueue", mock.Anything, "analytics_tracking", mock.Anything).Return("j-2", nil).Once()
	je.On("Enqueue", mock.Anything, "kitchen_notification", mock.Anything).Return("j-3", nil).Once()
	je.On("Enqueue", mock.Anything, "payment_verification", mock.Anything).Return("j-4", nil).Once()
	store.On("Complete", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	_, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	je.AssertExpectations(t)
}

func TestWorkerInvalidPayloadFailsFast(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	item := &Item{ID: "q-1", OrderData: []byte("{not json"), UserID: "user-1", IdempotencyKey: "idem-1"}

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	store.On("Fail", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	_, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	store.AssertExpectations(t)
	res.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
	ow.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWorkerBatchLimit(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)
	w.BatchSize = 2

	bad := &Item{ID: "q-x", OrderData: []byte("{}"), UserID: "u", IdempotencyKey: "k"}
	// payload valid tapi kosong -> fail cepat, cukup untuk menghitung batch
	store.On("ClaimNext", mock.Anything, "w-1").Return(bad, nil).Times(2)
	store.On("Fail", mock.Anything, "q-x", mock.Anything).Return(nil).Times(2)

	n, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	store.AssertNumberOfCalls(t, "ClaimNext", 2)
}

type fakePublisher struct{ values [][]byte }

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	f.values = append(f.values, value)
}

func (f *fakePublisher) lastEnvelope(t *testing.T) events.Envelope {
	t.Helper()
	require.NotEmpty(t, f.values)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(f.values[len(f.values)-1], &env))
	return env
}

func TestWorkerPublishesAdmittedEvent(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)
	admitted := &fakePublisher{}
	w.Events = admitted
	w.Service = "orderflow-test"

	item := testItem(t, OrderPayload{
		Items:      []Line{{ProductID: "p-1", Qty: 1, PriceCents: 100}},
		TotalCents: 100,
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, mock.Anything).Return(stock.ReserveResult{OK: true, ReservationID: "r-1"}, nil).Once()
	ow.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	ow.On("AddItems", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	res.On("Confirm", mock.Anything, "r-1", mock.Anything).Return(nil).Once()
	je.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("j", nil).Times(3)
	store.On("Complete", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	env := admitted.lastEnvelope(t)
	assert.Equal(t, events.EventOrderAdmitted, env.EventType)
	assert.Equal(t, "orderflow-test", env.Producer)
	var p events.OrderAdmittedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "q-1", p.QueueID)
	assert.Equal(t, int64(100), p.TotalCents)
}

func TestWorkerPublishesRejectedEvent(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)
	rejected := &fakePublisher{}
	w.Rejected = rejected

	item := testItem(t, OrderPayload{
		Items:      []Line{{ProductID: "p-1", Qty: 5, PriceCents: 100}},
		TotalCents: 500,
	})

	store.On("ClaimNext", mock.Anything, "w-1").Return(item, nil).Once()
	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()
	res.On("Reserve", mock.Anything, mock.Anything).Return(stock.ReserveResult{
		Message: "insufficient stock for product p-1: available 2, requested 5",
	}, nil).Once()
	store.On("Fail", mock.Anything, "q-1", mock.Anything).Return(nil).Once()

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	env := rejected.lastEnvelope(t)
	assert.Equal(t, events.EventOrderRejected, env.EventType)
	var p events.OrderRejectedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "q-1", p.QueueID)
	assert.Contains(t, p.Reason, "insufficient stock")
}

func TestWorkerEmptyQueue(t *testing.T) {
	store, res, ow, je := new(MockStore), new(MockReserver), new(MockOrderWriter), new(MockJobEnqueuer)
	w := newTestWorker(store, res, ow, je)

	store.On("ClaimNext", mock.Anything, "w-1").Return(nil, nil).Once()

	n, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
