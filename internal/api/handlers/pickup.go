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
	"github.com/pharmetrix/go-rxops/internal/domain/pickup"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
	"github.com/pharmetrix/go-rxops/internal/observability/metrics"
)

// PickupStore is the persistence surface for pickup sessions.
type PickupStore interface {
	Create(ctx context.Context, s pickup.Session) error
	Save(ctx context.Context, s pickup.Session) error
	Get(ctx context.Context, id string) (pickup.Session, error)
}

// PatientDirectory resolves pickup search candidates and a patient's
// ready fills.
type PatientDirectory interface {
	FindCandidates(ctx context.Context, criteria pickup.SearchCriteria) ([]pickup.Patient, error)
	ReadyPrescriptions(ctx context.Context, patientID string) ([]pickup.Prescription, error)
}

// PickupHandler handles register pickup endpoints.
type PickupHandler struct {
	store    PickupStore
	patients PatientDirectory
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewPickupHandler creates a pickup handler.
func NewPickupHandler(store PickupStore, patients PatientDirectory, m *metrics.Metrics, logger *zap.Logger, now func() time.Time) *PickupHandler {
	if now == nil {
		now = time.Now
	}
	return &PickupHandler{store: store, patients: patients, metrics: m, logger: logger, now: now}
}

// Routes returns the handler routes
func (h *PickupHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Search)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/patient", h.SelectPatient)
	r.Post("/{id}/scan", h.Scan)
	r.Post("/{id}/signature", h.Signature)
	r.Post("/{id}/id-check", h.IDCheck)
	r.Post("/{id}/counseling", h.Counseling)
	r.Post("/{id}/payment", h.Payment)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

// SearchResponse reports search validation problems, or the opened
// session with its candidate matches.
type SearchResponse struct {
	Errors  []string        `json:"errors,omitempty"`
	Session *pickup.Session `json:"session,omitempty"`
}

// Search handles POST /pickups: validates the criteria, runs the match
// and opens a session holding the candidates.
func (h *PickupHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var criteria pickup.SearchCriteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if problems := pickup.ValidateRetailSearch(criteria); len(problems) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, SearchResponse{Errors: problems})
		return
	}

	candidates, err := h.patients.FindCandidates(ctx, criteria)
	if err != nil {
		h.logger.Error("patient search failed", zap.Error(err))
		jsonError(w, "patient search failed", http.StatusInternalServerError)
		return
	}

	matches := pickup.MatchPatients(criteria, candidates)
	session := pickup.NewSession(criteria, matches, h.now())

	if err := h.store.Create(ctx, session); err != nil {
		h.logger.Error("create pickup session failed", zap.Error(err))
		jsonError(w, "failed to open pickup session", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, SearchResponse{Session: &session})
}

// Get handles GET /pickups/{id}
func (h *PickupHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// SelectPatientRequest is the request body for binding a patient.
type SelectPatientRequest struct {
	PatientID string `json:"patient_id"`
}

// SelectPatient handles POST /pickups/{id}/patient. The patient must be
// one of the session's matches; their ready fills are pulled from the
// directory.
func (h *PickupHandler) SelectPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req SelectPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var patient *pickup.Patient
	for _, m := range session.Matches {
		if m.Patient.ID == req.PatientID {
			p := m.Patient
			patient = &p
			break
		}
	}
	if patient == nil {
		jsonError(w, "patient is not among the search matches", http.StatusBadRequest)
		return
	}

	rxs, err := h.patients.ReadyPrescriptions(ctx, patient.ID)
	if err != nil {
		h.logger.Error("load ready prescriptions failed", zap.Error(err))
		jsonError(w, "failed to load prescriptions", http.StatusInternalServerError)
		return
	}

	updated, err := pickup.SelectPatient(session, *patient, rxs)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// PickupScanRequest is the request body for scanning a fill.
type PickupScanRequest struct {
	Barcode string `json:"barcode"`
}

// Scan handles POST /pickups/{id}/scan
func (h *PickupHandler) Scan(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req PickupScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := pickup.ScanPrescription(session, req.Barcode, actor.ID, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// SignatureRequest is the request body for capturing a signature.
type SignatureRequest struct {
	Kind string `json:"kind"`
}

// Signature handles POST /pickups/{id}/signature
func (h *PickupHandler) Signature(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req SignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = "pickup"
	}

	updated, err := pickup.CaptureSignature(session, req.Kind, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// IDCheckRequest is the request body for the government-ID check.
type IDCheckRequest struct {
	DocumentType string    `json:"document_type"`
	DocumentID   string    `json:"document_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IDCheck handles POST /pickups/{id}/id-check
func (h *PickupHandler) IDCheck(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req IDCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := pickup.VerifyID(session, req.DocumentType, req.DocumentID, req.ExpiresAt, actor.ID, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// CounselingRequest is the request body for resolving counseling.
type CounselingRequest struct {
	Outcome pickup.CounselingStatus `json:"outcome"`
}

// Counseling handles POST /pickups/{id}/counseling
func (h *PickupHandler) Counseling(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req CounselingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := pickup.ResolveCounseling(session, req.Outcome)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// PaymentRequest is the request body for copay collection.
type PaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
}

// Payment handles POST /pickups/{id}/payment
func (h *PickupHandler) Payment(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := pickup.CollectPayment(session, req.AmountCents, req.Method, actor.ID, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

// CompletePickupResponse reports a blocked completion with every unmet
// requirement; a successful completion returns the closed session.
type CompletePickupResponse struct {
	Completed bool            `json:"completed"`
	Blockers  []string        `json:"blockers,omitempty"`
	Session   *pickup.Session `json:"session,omitempty"`
}

// Complete handles POST /pickups/{id}/complete
func (h *PickupHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	result := pickup.CompletePickup(session, actor.ID, h.now())
	if !result.OK {
		if h.metrics != nil {
			h.metrics.PickupsBlocked.Inc()
		}
		respondJSON(w, http.StatusUnprocessableEntity, CompletePickupResponse{Blockers: result.Blockers})
		return
	}

	if err := h.store.Save(r.Context(), result.Session); err != nil {
		h.logger.Error("save pickup session failed", zap.Error(err))
		jsonError(w, "failed to save pickup session", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.PickupsCompleted.Inc()
	}

	h.logger.Info("pickup completed",
		zap.String("session_id", result.Session.ID),
		zap.String("actor_id", actor.ID),
	)

	respondJSON(w, http.StatusOK, CompletePickupResponse{Completed: true, Session: &result.Session})
}

// CancelRequest is the request body for cancelling a pickup.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /pickups/{id}/cancel
func (h *PickupHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := pickup.Cancel(session, req.Reason, h.now())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	h.saveSession(w, r, updated)
}

func (h *PickupHandler) loadSession(w http.ResponseWriter, r *http.Request) (pickup.Session, bool) {
	id := chi.URLParam(r, "id")
	session, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			jsonError(w, "pickup session not found", http.StatusNotFound)
		} else {
			h.logger.Error("load pickup session failed", zap.Error(err))
			jsonError(w, "failed to load pickup session", http.StatusInternalServerError)
		}
		return pickup.Session{}, false
	}
	return session, true
}

func (h *PickupHandler) saveSession(w http.ResponseWriter, r *http.Request, s pickup.Session) {
	if err := h.store.Save(r.Context(), s); err != nil {
		h.logger.Error("save pickup session failed", zap.Error(err))
		jsonError(w, "failed to save pickup session", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// sessionError maps domain errors: a closed session is a conflict, the
// rest are bad requests carrying the staff-facing message.
func (h *PickupHandler) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, pickup.ErrSessionClosed) {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonError(w, err.Error(), http.StatusBadRequest)
}
