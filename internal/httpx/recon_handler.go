package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kedai/orderflow/internal/recon"
)

type ReconRunner interface {
	Run(ctx context.Context, method string, from, to time.Time) (recon.RunSummary, error)
}

type ReconStore interface {
	ManualMatch(ctx context.Context, recordID string) (bool, error)
	Summary(ctx context.Context, from, to time.Time) (recon.Report, error)
}

type ReconHandler struct {
	Matcher ReconRunner
	Records ReconStore
	Log     zerolog.Logger
}

type reconRunReq struct {
	PaymentMethod string    `json:"payment_method"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
}

func (h *ReconHandler) Register(r *chi.Mux) {
	r.Post("/reconciliation/run", h.run)
	r.Post("/reconciliation/{id}/match", h.manualMatch)
	r.Get("/reconciliation/report", h.report)
}

func (h *ReconHandler) run(w http.ResponseWriter, r *http.Request) {
	var req reconRunReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.PaymentMethod == "" || req.From.IsZero() || req.To.IsZero() || !req.To.After(req.From) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "need payment_method and a valid from/to window"})
		return
	}

	// run sinkron; window besar tetap bounded karena provider dan DB difilter per window
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	sum, err := h.Matcher.Run(ctx, req.PaymentMethod, req.From, req.To)
	if err != nil {
		h.Log.Error().Err(err).Str("payment_method", req.PaymentMethod).Msg("reconciliation run failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *ReconHandler) manualMatch(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "id")
	if recordID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ok, err := h.Records.ManualMatch(ctx, recordID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "matched", "reason": "Manually reconciled"})
}

func (h *ReconHandler) report(w http.ResponseWriter, r *http.Request) {
	from, err1 := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	to, err2 := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err1 != nil || err2 != nil || !to.After(from) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "need from/to as RFC3339, to after from"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rep, err := h.Records.Summary(ctx, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
