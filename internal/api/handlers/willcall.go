package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/willcall"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
)

// BinStore is the persistence surface for will-call bins.
type BinStore interface {
	Create(ctx context.Context, bin willcall.Bin) error
	Get(ctx context.Context, id string) (willcall.Bin, error)
	ListOpen(ctx context.Context) ([]willcall.Bin, error)
	Remove(ctx context.Context, id string) error
}

// WillCallHandler handles will-call bin endpoints. Expiration side
// effects live in the sweeper; this surface is placement, lookup and
// removal at pickup.
type WillCallHandler struct {
	store  BinStore
	logger *zap.Logger
	now    func() time.Time
}

// NewWillCallHandler creates a will-call handler.
func NewWillCallHandler(store BinStore, logger *zap.Logger, now func() time.Time) *WillCallHandler {
	if now == nil {
		now = time.Now
	}
	return &WillCallHandler{store: store, logger: logger, now: now}
}

// Routes returns the handler routes
func (h *WillCallHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Place)
	r.Get("/", h.List)
	r.Get("/due", h.Due)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Remove)
	return r
}

// PlaceBinRequest is the request body for placing a fill in will-call.
type PlaceBinRequest struct {
	RxNumber    string `json:"rx_number"`
	PatientName string `json:"patient_name"`
	DrugName    string `json:"drug_name"`
	BinLocation string `json:"bin_location"`
	ReturnDays  int    `json:"return_days,omitempty"`
}

// Place handles POST /willcall
func (h *WillCallHandler) Place(w http.ResponseWriter, r *http.Request) {
	var req PlaceBinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RxNumber == "" || req.BinLocation == "" {
		jsonError(w, "rx_number and bin_location are required", http.StatusBadRequest)
		return
	}

	now := h.now()
	bin := willcall.NewBin(req.RxNumber, req.PatientName, req.DrugName, req.BinLocation, now, req.ReturnDays)

	if err := h.store.Create(r.Context(), bin); err != nil {
		h.logger.Error("create will-call bin failed", zap.Error(err))
		jsonError(w, "failed to place fill in will-call", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, willcall.UpdateDays(bin, now))
}

// List handles GET /willcall
func (h *WillCallHandler) List(w http.ResponseWriter, r *http.Request) {
	bins, err := h.store.ListOpen(r.Context())
	if err != nil {
		h.logger.Error("list will-call bins failed", zap.Error(err))
		jsonError(w, "failed to list will-call bins", http.StatusInternalServerError)
		return
	}

	now := h.now()
	out := make([]willcall.Bin, 0, len(bins))
	for _, bin := range bins {
		out = append(out, willcall.UpdateDays(bin, now))
	}
	respondJSON(w, http.StatusOK, out)
}

// Due handles GET /willcall/due: bins at or past their return date.
func (h *WillCallHandler) Due(w http.ResponseWriter, r *http.Request) {
	bins, err := h.store.ListOpen(r.Context())
	if err != nil {
		h.logger.Error("list will-call bins failed", zap.Error(err))
		jsonError(w, "failed to list will-call bins", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, willcall.ReadyForReturn(bins, h.now()))
}

// Get handles GET /willcall/{id}
func (h *WillCallHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bin, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			jsonError(w, "will-call bin not found", http.StatusNotFound)
		} else {
			h.logger.Error("load will-call bin failed", zap.Error(err))
			jsonError(w, "failed to load will-call bin", http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, willcall.UpdateDays(bin, h.now()))
}

// Remove handles DELETE /willcall/{id}: the fill left the bin, either
// picked up or returned to stock.
func (h *WillCallHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Remove(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			jsonError(w, "will-call bin not found", http.StatusNotFound)
		} else {
			h.logger.Error("remove will-call bin failed", zap.Error(err))
			jsonError(w, "failed to remove will-call bin", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
