package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/api/middleware"
	"github.com/pharmetrix/go-rxops/internal/domain/verification"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
	"github.com/pharmetrix/go-rxops/internal/observability/metrics"
)

// VerificationStore is the persistence surface for verification sessions.
type VerificationStore interface {
	Create(ctx context.Context, s verification.Session) error
	Save(ctx context.Context, s verification.Session) error
	Get(ctx context.Context, id string) (verification.Session, error)
}

// VerificationHandler handles pharmacist verification endpoints.
type VerificationHandler struct {
	store   VerificationStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewVerificationHandler creates a verification handler.
func NewVerificationHandler(store VerificationStore, m *metrics.Metrics, logger *zap.Logger, now func() time.Time) *VerificationHandler {
	if now == nil {
		now = time.Now
	}
	return &VerificationHandler{store: store, metrics: m, logger: logger, now: now}
}

// Routes returns the handler routes
func (h *VerificationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Start)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/report", h.Report)
	r.Post("/{id}/checks", h.ApplyCheck)
	r.Post("/{id}/scan", h.Scan)
	r.Post("/{id}/overrides", h.Override)
	r.Post("/{id}/complete", h.Complete)
	return r
}

// StartVerificationRequest is the request body for opening a session.
type StartVerificationRequest struct {
	FillID         string `json:"fill_id"`
	WorkflowItemID string `json:"workflow_item_id"`
	ExpectedNDC    string `json:"expected_ndc"`
	Controlled     bool   `json:"controlled"`
}

// Start handles POST /verifications. A second in-progress session for
// the same fill is rejected with 409.
func (h *VerificationHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	var req StartVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FillID == "" || req.ExpectedNDC == "" {
		jsonError(w, "fill_id and expected_ndc are required", http.StatusBadRequest)
		return
	}

	session := verification.NewSession(req.FillID, req.WorkflowItemID, actor.ID, req.ExpectedNDC, req.Controlled, h.now())

	if err := h.store.Create(ctx, session); err != nil {
		if errors.Is(err, postgres.ErrSessionActive) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("create verification session failed", zap.Error(err))
		jsonError(w, "failed to start verification", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.VerificationsStarted.Inc()
	}

	respondJSON(w, http.StatusCreated, session)
}

// Get handles GET /verifications/{id}
func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// Report handles GET /verifications/{id}/report. skip_pdmp=true exempts
// the PDMP checkpoint for jurisdictions without a mandate.
func (h *VerificationHandler) Report(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	opts := verification.EvaluateOptions{SkipPDMP: r.URL.Query().Get("skip_pdmp") == "true"}
	respondJSON(w, http.StatusOK, verification.EvaluateChecklist(session.Checklist, opts))
}

// CheckRequest is the request body for updating one checkpoint.
type CheckRequest struct {
	Key  string `json:"key"`
	Done bool   `json:"done"`
}

// ApplyCheck handles POST /verifications/{id}/checks
func (h *VerificationHandler) ApplyCheck(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := verification.ApplyCheck(session, req.Key, req.Done)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// ScanRequest is the request body for an NDC scan.
type ScanRequest struct {
	Barcode             string `json:"barcode"`
	AllowPackageVariant bool   `json:"allow_package_variant"`
}

// Scan handles POST /verifications/{id}/scan
func (h *VerificationHandler) Scan(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := verification.RecordScan(session, req.Barcode, req.AllowPackageVariant, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// OverrideRequest is the request body for a DUR override.
type OverrideRequest struct {
	AlertID string `json:"alert_id"`
	Reason  string `json:"reason"`
}

// Override handles POST /verifications/{id}/overrides
func (h *VerificationHandler) Override(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := verification.AddOverride(session, req.AlertID, actor.ID, req.Reason, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// CompleteVerificationRequest is the request body for closing a session.
type CompleteVerificationRequest struct {
	Decision        verification.Decision `json:"decision"`
	Notes           string                `json:"notes,omitempty"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
}

// Complete handles POST /verifications/{id}/complete
func (h *VerificationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req CompleteVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := verification.Complete(session, req.Decision, req.Notes, req.RejectionReason, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	if err := h.store.Save(r.Context(), updated); err != nil {
		h.logger.Error("save verification session failed", zap.Error(err))
		jsonError(w, "failed to save verification session", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.VerificationsByResult.WithLabelValues(string(req.Decision)).Inc()
	}

	h.logger.Info("verification completed",
		zap.String("session_id", updated.ID),
		zap.String("fill_id", updated.FillID),
		zap.String("decision", string(req.Decision)),
	)

	respondJSON(w, http.StatusOK, updated)
}

func (h *VerificationHandler) loadSession(w http.ResponseWriter, r *http.Request) (verification.Session, bool) {
	id := chi.URLParam(r, "id")
	session, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			jsonError(w, "verification session not found", http.StatusNotFound)
		} else {
			h.logger.Error("load verification session failed", zap.Error(err))
			jsonError(w, "failed to load verification session", http.StatusInternalServerError)
		}
		return verification.Session{}, false
	}
	return session, true
}

func (h *VerificationHandler) saveSession(w http.ResponseWriter, r *http.Request, s verification.Session) {
	if err := h.store.Save(r.Context(), s); err != nil {
		h.logger.Error("save verification session failed", zap.Error(err))
		jsonError(w, "failed to save verification session", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// sessionError maps domain errors: a completed session is a conflict,
// everything else is a bad request with the domain message.
func (h *VerificationHandler) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, verification.ErrAlreadyCompleted) {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonError(w, err.Error(), http.StatusBadRequest)
}
