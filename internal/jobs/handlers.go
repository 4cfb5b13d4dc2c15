package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kedai/orderflow/internal/events"
	kafkax "github.com/kedai/orderflow/internal/kafka"
	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/recon"
)

type StockMaintainer interface {
	PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ClampNegative(ctx context.Context) (int, error)
}

type OrderUpdater interface {
	SetPaymentStatus(ctx context.Context, orderID string, ps orders.PaymentStatus) error
}

type PaymentChecker interface {
	GetPayment(ctx context.Context, externalID string) (*recon.ProviderTransaction, error)
}

type EmailSink interface {
	SendOrderConfirmation(ctx context.Context, orderID, userID string) error
}

type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Handlers bundles the side-effect dependencies and registers one handler per
// job type on a Runner.
type Handlers struct {
	Stock     StockMaintainer
	Orders    OrderUpdater
	Provider  PaymentChecker
	Mailer    EmailSink
	Kitchen   EventPublisher // topic kitchen.ticket
	Analytics EventPublisher // topic order.analytics

	Service       string
	RetentionDays int
	Log           zerolog.Logger
}

func (h *Handlers) RegisterAll(r *Runner) {
	r.Register(TypeEmailNotification, h.EmailNotification)
	r.Register(TypeAnalyticsTracking, h.AnalyticsTracking)
	r.Register(TypeKitchenNotification, h.KitchenNotification)
	r.Register(TypeOrderCleanup, h.OrderCleanup)
	r.Register(TypeStockReconciliation, h.StockReconciliation)
	r.Register(TypePaymentVerification, h.PaymentVerification)
}

func (h *Handlers) EmailNotification(ctx context.Context, job Job) (any, error) {
	data, err := kafkax.UnwrapPayload[EmailData](job.Data)
	if err != nil {
		return nil, err
	}
	if err := h.Mailer.SendOrderConfirmation(ctx, data.OrderID, data.UserID); err != nil {
		return nil, fmt.Errorf("send order confirmation: %w", err)
	}
	return map[string]string{"order_id": data.OrderID, "sent": "true"}, nil
}

func (h *Handlers) AnalyticsTracking(ctx context.Context, job Job) (any, error) {
	data, err := kafkax.UnwrapPayload[AnalyticsData](job.Data)
	if err != nil {
		return nil, err
	}
	h.publish(h.Analytics, events.EventOrderTracked, data.OrderID, events.OrderTrackedPayload{
		OrderID:    data.OrderID,
		UserID:     data.UserID,
		TotalCents: data.TotalCents,
		ItemCount:  data.ItemCount,
		AdmittedAt: time.Now().UTC(),
	})
	return map[string]string{"order_id": data.OrderID}, nil
}

func (h *Handlers) KitchenNotification(ctx context.Context, job Job) (any, error) {
	data, err := kafkax.UnwrapPayload[KitchenData](job.Data)
	if err != nil {
		return nil, err
	}
	items := make([]events.ItemQty, 0, len(data.Items))
	for _, it := range data.Items {
		items = append(items, events.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	h.publish(h.Kitchen, events.EventKitchenTicket, data.OrderID, events.KitchenTicketPayload{
		OrderID: data.OrderID,
		Items:   items,
		Notes:   data.Notes,
	})
	return map[string]string{"order_id": data.OrderID}, nil
}

func (h *Handlers) OrderCleanup(ctx context.Context, job Job) (any, error) {
	days := h.RetentionDays
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	purged, err := h.Stock.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge audit log: %w", err)
	}
	return map[string]int64{"purged": purged}, nil
}

func (h *Handlers) StockReconciliation(ctx context.Context, job Job) (any, error) {
	clamped, err := h.Stock.ClampNegative(ctx)
	if err != nil {
		return nil, fmt.Errorf("clamp negative stock: %w", err)
	}
	if clamped > 0 {
		h.Log.Warn().Int("clamped", clamped).Msg("negative stock repaired")
	}
	return map[string]int{"clamped": clamped}, nil
}

// PaymentVerification polls the provider for a payment's status and flips the
// order's payment_status. A still-pending payment is returned as an error so
// the retry/backoff machinery polls again later.
func (h *Handlers) PaymentVerification(ctx context.Context, job Job) (any, error) {
	data, err := kafkax.UnwrapPayload[PaymentVerifyData](job.Data)
	if err != nil {
		return nil, err
	}
	p, err := h.Provider.GetPayment(ctx, data.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", data.ExternalID, err)
	}

	var ps orders.PaymentStatus
	switch p.Status {
	case "paid", "completed", "settled":
		ps = orders.PaymentPaid
	case "failed", "cancelled", "expired":
		ps = orders.PaymentFailed
	default:
		return nil, fmt.Errorf("payment %s still %s", data.ExternalID, p.Status)
	}
	if err := h.Orders.SetPaymentStatus(ctx, data.OrderID, ps); err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}
	return map[string]string{"order_id": data.OrderID, "payment_status": string(ps)}, nil
}

func (h *Handlers) publish(p EventPublisher, eventType, orderID string, payload any) {
	ev := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(events.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
