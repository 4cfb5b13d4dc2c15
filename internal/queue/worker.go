package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kedai/orderflow/internal/events"
	"github.com/kedai/orderflow/internal/jobs"
	kafkax "github.com/kedai/orderflow/internal/kafka"
	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/stock"
)

// Reserver is the reservation engine contract the worker drives.
type Reserver interface {
	Reserve(ctx context.Context, in stock.ReserveInput) (stock.ReserveResult, error)
	Confirm(ctx context.Context, reservationID, orderID string) error
	Release(ctx context.Context, reservationID, reason string) error
}

type OrderWriter interface {
	Create(ctx context.Context, o orders.Order) error
	AddItems(ctx context.Context, orderID string, items []orders.OrderItem) error
	Delete(ctx context.Context, orderID string) error
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, data any) (string, error)
}

type Store interface {
	ClaimNext(ctx context.Context, workerID string) (*Item, error)
	Complete(ctx context.Context, queueID, orderID string) error
	Fail(ctx context.Context, queueID, reason string) error
}

type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Worker drains claimed queue items: reserve stock for every line, write the
// order, confirm the reservations, enqueue side-effect jobs. Any failure
// before confirmation rolls back whatever was built so far; no half-created
// order and no orphaned held reservation survives a failed item.
type Worker struct {
	Store          Store
	Stock          Reserver
	Orders         OrderWriter
	Jobs           JobEnqueuer
	Events         EventPublisher // topic order.admitted
	Rejected       EventPublisher // topic order.rejected
	ID             string
	BatchSize      int
	ReservationTTL time.Duration
	Service        string
	Log            zerolog.Logger
}

// RunOnce processes up to BatchSize items and returns. Designed to be called
// repeatedly from a ticker rather than looping forever itself.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	limit := w.BatchSize
	if limit <= 0 {
		limit = 3
	}
	processed := 0
	for processed < limit {
		item, err := w.Store.ClaimNext(ctx, w.ID)
		if err != nil {
			return processed, err
		}
		if item == nil {
			break
		}
		w.process(ctx, item) // kegagalan per item tidak menghentikan batch
		processed++
	}
	return processed, nil
}

type heldReservation struct {
	ReservationID string
	ProductID     string
	Qty           int
}

func (w *Worker) process(ctx context.Context, item *Item) {
	log := w.Log.With().Str("queue_id", item.ID).Str("user_id", item.UserID).Logger()

	var payload OrderPayload
	if err := json.Unmarshal(item.OrderData, &payload); err != nil {
		w.failItem(ctx, item, fmt.Sprintf("invalid order payload: %v", err))
		return
	}
	if len(payload.Items) == 0 {
		w.failItem(ctx, item, "order payload has no items")
		return
	}

	// 1) reserve semua line; gagal satu -> release semua yang sudah dipegang
	var held []heldReservation
	for _, ln := range payload.Items {
		res, err := w.Stock.Reserve(ctx, stock.ReserveInput{
			ProductID: ln.ProductID,
			UserID:    item.UserID,
			Qty:       ln.Qty,
			OrderKey:  item.IdempotencyKey,
			TTL:       w.ReservationTTL,
		})
		if err != nil {
			w.releaseAll(ctx, held, "sibling reserve errored")
			w.failItem(ctx, item, fmt.Sprintf("reserve product %s: %v", ln.ProductID, err))
			return
		}
		if !res.OK {
			w.releaseAll(ctx, held, "sibling reserve rejected")
			w.failItem(ctx, item, res.Message)
			return
		}
		held = append(held, heldReservation{ReservationID: res.ReservationID, ProductID: ln.ProductID, Qty: ln.Qty})
	}

	// 2) order row + items; rollback penuh kalau items gagal
	orderID := uuid.NewString()
	order := orders.Order{
		ID:            orderID,
		UserID:        item.UserID,
		Status:        orders.StatusReceived,
		PaymentStatus: orders.PaymentPending,
		PaymentMethod: payload.PaymentMethod,
		TotalCents:    payload.TotalCents,
	}
	if err := w.Orders.Create(ctx, order); err != nil {
		w.releaseAll(ctx, held, "order insert failed")
		w.failItem(ctx, item, fmt.Sprintf("create order: %v", err))
		return
	}
	if err := w.Orders.AddItems(ctx, orderID, toOrderItems(orderID, payload.Items)); err != nil {
		if derr := w.Orders.Delete(ctx, orderID); derr != nil {
			log.Error().Err(derr).Str("order_id", orderID).Msg("rollback delete failed")
		}
		w.releaseAll(ctx, held, "order items insert failed")
		w.failItem(ctx, item, fmt.Sprintf("create order items: %v", err))
		return
	}

	// 3) confirm; dari sini order sudah committed — kegagalan confirm cuma di-log,
	// residu held/confirm mismatch ditangani reconciliation/ops
	for _, h := range held {
		if err := w.Stock.Confirm(ctx, h.ReservationID, orderID); err != nil {
			log.Warn().Err(err).
				Str("order_id", orderID).
				Str("reservation_id", h.ReservationID).
				Msg("confirm failed, order stands")
		}
	}

	// 4) side-effect jobs, best-effort
	w.enqueueJob(ctx, log, jobs.TypeEmailNotification, jobs.EmailData{OrderID: orderID, UserID: item.UserID})
	w.enqueueJob(ctx, log, jobs.TypeAnalyticsTracking, jobs.AnalyticsData{
		OrderID: orderID, UserID: item.UserID, TotalCents: payload.TotalCents, ItemCount: len(payload.Items),
	})
	w.enqueueJob(ctx, log, jobs.TypeKitchenNotification, jobs.KitchenData{
		OrderID: orderID, Items: toKitchenLines(payload.Items), Notes: payload.Notes,
	})
	if payload.PaymentRef != "" {
		w.enqueueJob(ctx, log, jobs.TypePaymentVerification, jobs.PaymentVerifyData{
			OrderID: orderID, ExternalID: payload.PaymentRef,
		})
	}

	// 5) selesai
	if err := w.Store.Complete(ctx, item.ID, orderID); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("mark queue item completed failed")
	}
	w.publishAdmitted(item, payload, orderID)
	log.Info().Str("order_id", orderID).Int64("total_cents", payload.TotalCents).Msg("order admitted")
}

func (w *Worker) releaseAll(ctx context.Context, held []heldReservation, reason string) {
	for _, h := range held {
		if err := w.Stock.Release(ctx, h.ReservationID, reason); err != nil {
			w.Log.Error().Err(err).Str("reservation_id", h.ReservationID).Msg("compensating release failed")
		}
	}
}

func (w *Worker) failItem(ctx context.Context, item *Item, msg string) {
	if err := w.Store.Fail(ctx, item.ID, msg); err != nil {
		w.Log.Error().Err(err).Str("queue_id", item.ID).Msg("mark queue item failed failed")
	}
	w.publishRejected(item, msg)
	w.Log.Warn().Str("queue_id", item.ID).Str("reason", msg).Msg("queue item failed")
}

func (w *Worker) enqueueJob(ctx context.Context, log zerolog.Logger, jobType string, data any) {
	if _, err := w.Jobs.Enqueue(ctx, jobType, data); err != nil {
		log.Warn().Err(err).Str("job_type", jobType).Msg("enqueue side-effect job failed")
	}
}

func (w *Worker) publishAdmitted(item *Item, payload OrderPayload, orderID string) {
	if w.Events == nil {
		return
	}
	ev := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.EventOrderAdmitted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      w.Service,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(events.OrderAdmittedPayload{
			OrderID:    orderID,
			QueueID:    item.ID,
			UserID:     item.UserID,
			Items:      toItemQtys(payload.Items),
			TotalCents: payload.TotalCents,
		}),
	}
	w.Events.Publish(events.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(events.EventOrderAdmitted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (w *Worker) publishRejected(item *Item, reason string) {
	if w.Rejected == nil {
		return
	}
	ev := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.EventOrderRejected,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      w.Service,
		CorrelationID: item.ID,
		Payload: kafkax.MustMarshal(events.OrderRejectedPayload{
			QueueID: item.ID,
			UserID:  item.UserID,
			Reason:  reason,
		}),
	}
	w.Rejected.Publish(events.PartitionKey(item.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(events.EventOrderRejected)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func toOrderItems(orderID string, lines []Line) []orders.OrderItem {
	out := make([]orders.OrderItem, 0, len(lines))
	for _, ln := range lines {
		out = append(out, orders.OrderItem{
			OrderID: orderID, ProductID: ln.ProductID, Qty: ln.Qty, PriceCents: ln.PriceCents,
		})
	}
	return out
}

func toItemQtys(lines []Line) []events.ItemQty {
	out := make([]events.ItemQty, 0, len(lines))
	for _, ln := range lines {
		out = append(out, events.ItemQty{ProductID: ln.ProductID, Qty: ln.Qty})
	}
	return out
}

func toKitchenLines(lines []Line) []jobs.KitchenLine {
	out := make([]jobs.KitchenLine, 0, len(lines))
	for _, ln := range lines {
		out = append(out, jobs.KitchenLine{ProductID: ln.ProductID, Qty: ln.Qty})
	}
	return out
}
