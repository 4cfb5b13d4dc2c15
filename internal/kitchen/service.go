package kitchen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kedai/orderflow/internal/events"
	kafkax "github.com/kedai/orderflow/internal/kafka"
	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/redisx"
)

type OrderAcker interface {
	SetStatus(ctx context.Context, orderID string, to orders.Status) error
}

type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Service consumes kitchen tickets and acknowledges them by moving the order
// to PREPARING. Dedup is per event id so a redelivered ticket is harmless.
type Service struct {
	Orders      OrderAcker
	Dedup       Deduper
	ServiceName string
	Log         zerolog.Logger
}

// HandleTicket dipasang sebagai handler consumer.
func (s *Service) HandleTicket(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != events.EventKitchenTicket {
		return nil // ignore
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "kitchen", env.EventID)
	if s.Dedup != nil {
		seen, _ := s.Dedup.Seen(ctx, dkey)
		if seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[events.KitchenTicketPayload](env.Payload)
	if err != nil {
		return err
	}

	if err := s.Orders.SetStatus(ctx, p.OrderID, orders.StatusPreparing); err != nil {
		return fmt.Errorf("acknowledge kitchen ticket: %w", err)
	}
	// tandai SESUDAH status berhasil diubah; gagal di tengah -> redelivery diproses ulang
	if s.Dedup != nil {
		_ = s.Dedup.Mark(ctx, dkey)
	}
	s.Log.Info().Str("order_id", p.OrderID).Int("items", len(p.Items)).Msg("kitchen ticket acknowledged")
	return nil
}
