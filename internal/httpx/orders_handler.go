package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/redisx"
	"github.com/kedai/orderflow/internal/stock"
)

type OrderReader interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
}

type StockLister interface {
	LowStock(ctx context.Context) ([]stock.LedgerEntry, error)
}

type OrdersHandler struct {
	Orders OrderReader
	Stock  StockLister
	Redis  *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/stock/low", h.lowStock)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	body := map[string]any{
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"total_cents":    o.TotalCents,
	}
	b, _ := json.Marshal(body)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entries, err := h.Stock.LowStock(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	type row struct {
		ProductID    string `json:"product_id"`
		Available    int    `json:"available"`
		Reserved     int    `json:"reserved"`
		ReorderLevel int    `json:"reorder_level"`
	}
	out := make([]row, 0, len(entries))
	for _, e := range entries {
		out = append(out, row{e.ProductID, e.Available, e.Reserved, e.ReorderLevel})
	}
	writeJSON(w, http.StatusOK, out)
}
