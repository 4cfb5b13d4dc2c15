package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	kafkax "github.com/kedai/orderflow/internal/kafka"
	"github.com/kedai/orderflow/internal/queue"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, orderData []byte, userID string, priority int, idemKey string) (queue.EnqueueResult, error)
}

// IdemCache is the Redis fast path for repeated submissions: idempotency
// key -> queue id. GetQueueID reports "" on a miss.
type IdemCache interface {
	GetQueueID(ctx context.Context, idemKey string) (string, error)
	SetQueueID(ctx context.Context, idemKey, queueID string) error
}

// CheckoutHandler turns a checkout submission into a pending queue item. The
// order itself is created asynchronously by the admission worker; the client
// gets 202 + queue id. A repeated idempotency key is answered from the cache
// when possible, but the queue's unique idempotency_key index is what actually
// prevents duplicate admission, so the handler works with the cache down (or
// nil in tests).
type CheckoutHandler struct {
	Queue   Enqueuer
	Idem    IdemCache
	Service string
	Log     zerolog.Logger
}

type CheckoutReq struct {
	IdempotencyKey string       `json:"idempotency_key"`
	UserID         string       `json:"user_id"`
	Priority       int          `json:"priority"`
	PaymentMethod  string       `json:"payment_method"`
	PaymentRef     string       `json:"payment_ref,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	Items          []queue.Line `json:"items"`
}

type CheckoutResp struct {
	QueueID    string `json:"queue_id"`
	TotalCents int64  `json:"total_cents"`
	Deduped    bool   `json:"deduped"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.checkout)
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.IdempotencyKey == "" || req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Qty <= 0 || it.PriceCents < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid line for product %q", it.ProductID)})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// total dihitung server-side dari lines
	var total int64
	for _, it := range req.Items {
		total += it.PriceCents * int64(it.Qty)
	}

	// fast path: submission ulang dengan key yang sama tidak perlu ke DB
	if h.Idem != nil {
		if id, err := h.Idem.GetQueueID(ctx, req.IdempotencyKey); err == nil && id != "" {
			writeJSON(w, http.StatusAccepted, CheckoutResp{QueueID: id, TotalCents: total, Deduped: true})
			return
		}
	}

	payload := queue.OrderPayload{
		Items:         req.Items,
		TotalCents:    total,
		PaymentMethod: req.PaymentMethod,
		PaymentRef:    req.PaymentRef,
		Notes:         req.Notes,
	}

	res, err := h.Queue.Enqueue(ctx, kafkax.MustMarshal(payload), req.UserID, req.Priority, req.IdempotencyKey)
	if err != nil {
		h.Log.Error().Err(err).Str("user_id", req.UserID).Msg("enqueue checkout failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}

	if h.Idem != nil {
		_ = h.Idem.SetQueueID(ctx, req.IdempotencyKey, res.QueueID)
	}

	writeJSON(w, http.StatusAccepted, CheckoutResp{QueueID: res.QueueID, TotalCents: total, Deduped: res.Deduped})
}
