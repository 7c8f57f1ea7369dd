// Package handlers provides HTTP handlers for the workflow API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/api/middleware"
	"github.com/pharmetrix/go-rxops/internal/domain/workflow"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/redpanda"
	"github.com/pharmetrix/go-rxops/internal/observability/metrics"
)

// ItemStore is the persistence surface the workflow handler needs.
type ItemStore interface {
	Create(ctx context.Context, item workflow.Item, event *postgres.OutboxEntry) error
	Save(ctx context.Context, item workflow.Item, change *workflow.StateChange, event *postgres.OutboxEntry) error
	Get(ctx context.Context, id string) (workflow.Item, error)
	ListActive(ctx context.Context) ([]workflow.Item, error)
}

// GuardSource gathers external transition guard facts.
type GuardSource interface {
	Gather(ctx context.Context, prescriptionID, staffID string) (workflow.TransitionGuards, error)
}

// WorkflowHandler handles queue item endpoints.
type WorkflowHandler struct {
	store   ItemStore
	guards  GuardSource
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewWorkflowHandler creates a workflow handler. now may be nil for the
// wall clock.
func NewWorkflowHandler(store ItemStore, guards GuardSource, m *metrics.Metrics, logger *zap.Logger, now func() time.Time) *WorkflowHandler {
	if now == nil {
		now = time.Now
	}
	return &WorkflowHandler{store: store, guards: guards, metrics: m, logger: logger, now: now}
}

// Routes returns the handler routes
func (h *WorkflowHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/queue", h.Queue)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/transitions", h.ValidTransitions)
	r.Post("/{id}/transition", h.Transition)
	r.Post("/{id}/hold", h.Hold)
	r.Post("/{id}/release", h.Release)
	r.Post("/{id}/assign", h.Assign)
	return r
}

// CreateItemRequest is the request body for creating a queue item.
type CreateItemRequest struct {
	PrescriptionID string            `json:"prescription_id"`
	RxNumber       string            `json:"rx_number"`
	PatientName    string            `json:"patient_name"`
	DrugName       string            `json:"drug_name"`
	Priority       workflow.Priority `json:"priority"`
	Controlled     bool              `json:"controlled"`
	DEASchedule    string            `json:"dea_schedule,omitempty"`
}

// Create handles POST /items
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("workflow-handler")
	ctx, span := tracer.Start(ctx, "create_item")
	defer span.End()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PrescriptionID == "" || req.RxNumber == "" {
		jsonError(w, "prescription_id and rx_number are required", http.StatusBadRequest)
		return
	}
	if req.Priority == "" {
		req.Priority = workflow.PriorityNormal
	}

	now := h.now()
	item := workflow.NewItem(req.PrescriptionID, req.RxNumber, req.Priority, workflow.Actor{ID: actor.ID, Name: actor.Name}, now)
	item.PatientName = req.PatientName
	item.DrugName = req.DrugName
	item.Controlled = req.Controlled
	item.DEASchedule = req.DEASchedule
	promise := workflow.CalculatePromiseTime(item.Priority, item.State, now)
	item.PromiseTime = &promise

	span.SetAttributes(attribute.String("item_id", item.ID))

	event, err := postgres.NewTransitionEntry(item, item.StateHistory[0], redpanda.TopicWorkflowTransitions)
	if err != nil {
		h.logger.Error("build outbox entry failed", zap.Error(err))
		jsonError(w, "failed to create workflow item", http.StatusInternalServerError)
		return
	}

	if err := h.store.Create(ctx, item, event); err != nil {
		h.logger.Error("create item failed", zap.Error(err))
		jsonError(w, "failed to create workflow item", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.TransitionsApplied.WithLabelValues(string(item.State)).Inc()
	}

	h.logger.Info("workflow item created",
		zap.String("id", item.ID),
		zap.String("rx_number", item.RxNumber),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	respondJSON(w, http.StatusCreated, item)
}

// Get handles GET /items/{id}
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// ValidTransitions handles GET /items/{id}/transitions
func (h *WorkflowHandler) ValidTransitions(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":       item.State,
		"next_states": workflow.ValidNextStates(item.State),
		"terminal":    item.State.IsTerminal(),
	})
}

// TransitionRequest is the request body for a state transition.
type TransitionRequest struct {
	To     workflow.State `json:"to"`
	Reason string         `json:"reason,omitempty"`
}

// TransitionResponse reports a rejected transition. Applied transitions
// return the updated item instead.
type TransitionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Transition handles POST /items/{id}/transition. Guard denials are
// business outcomes and return 422 with the staff-facing reason; stale
// versions return 409.
func (h *WorkflowHandler) Transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		jsonError(w, "missing staff identity", http.StatusUnauthorized)
		return
	}

	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.To.IsKnown() {
		jsonError(w, "unknown target state", http.StatusBadRequest)
		return
	}

	guardFacts, err := h.guards.Gather(ctx, item.PrescriptionID, actor.ID)
	if err != nil {
		h.logger.Error("guard gathering failed", zap.Error(err))
		jsonError(w, "unable to evaluate transition guards", http.StatusServiceUnavailable)
		return
	}

	if result := workflow.ValidateStateTransition(item.State, req.To, guardFacts); !result.Allowed {
		h.rejectTransition(w, "guard", result.Reason)
		return
	}

	now := h.now()
	result := workflow.Transition(item, req.To, workflow.Actor{ID: actor.ID, Name: actor.Name}, req.Reason, now)
	if !result.OK {
		h.rejectTransition(w, "structural", result.Err)
		return
	}

	updated := result.Item
	promise := workflow.CalculatePromiseTime(updated.Priority, updated.State, now)
	updated.PromiseTime = &promise

	event, err := postgres.NewTransitionEntry(updated, *result.Change, redpanda.TopicWorkflowTransitions)
	if err != nil {
		h.logger.Error("build outbox entry failed", zap.Error(err))
		jsonError(w, "failed to apply transition", http.StatusInternalServerError)
		return
	}

	if err := h.store.Save(ctx, updated, result.Change, event); err != nil {
		if errors.Is(err, postgres.ErrConcurrentModification) {
			if h.metrics != nil {
				h.metrics.CASConflicts.Inc()
			}
			jsonError(w, "workflow item was modified concurrently, reload and retry", http.StatusConflict)
			return
		}
		h.logger.Error("save item failed", zap.Error(err))
		jsonError(w, "failed to apply transition", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.TransitionsApplied.WithLabelValues(string(updated.State)).Inc()
	}

	h.logger.Info("workflow transition applied",
		zap.String("id", updated.ID),
		zap.String("from", string(item.State)),
		zap.String("to", string(updated.State)),
		zap.String("actor_id", actor.ID),
	)

	respondJSON(w, http.StatusOK, updated)
}

func (h *WorkflowHandler) rejectTransition(w http.ResponseWriter, guard, reason string) {
	if h.metrics != nil {
		h.metrics.TransitionsRejected.WithLabelValues(guard).Inc()
	}
	respondJSON(w, http.StatusUnprocessableEntity, TransitionResponse{Allowed: false, Reason: reason})
}

// HoldRequest is the request body for placing an item on hold.
type HoldRequest struct {
	Reason string `json:"reason"`
}

// Hold handles POST /items/{id}/hold
func (h *WorkflowHandler) Hold(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	var req HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		jsonError(w, "hold reason is required", http.StatusBadRequest)
		return
	}

	h.saveItem(w, r, workflow.PlaceOnHold(item, req.Reason, h.now()))
}

// Release handles POST /items/{id}/release
func (h *WorkflowHandler) Release(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	h.saveItem(w, r, workflow.ReleaseHold(item, h.now()))
}

// AssignRequest is the request body for assigning an item.
type AssignRequest struct {
	StaffID string `json:"staff_id"`
}

// Assign handles POST /items/{id}/assign. An empty staff_id clears the
// assignment.
func (h *WorkflowHandler) Assign(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.saveItem(w, r, workflow.Assign(item, req.StaffID, h.now()))
}

// QueueItem is one row of the queue view.
type QueueItem struct {
	workflow.Item
	Color workflow.QueueColor `json:"color"`
}

// QueueResponse is the queue view: sorted items with colors plus the
// summary block.
type QueueResponse struct {
	Summary workflow.QueueSummary `json:"summary"`
	Items   []QueueItem           `json:"items"`
}

// Queue handles GET /items/queue
func (h *WorkflowHandler) Queue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := h.store.ListActive(ctx)
	if err != nil {
		h.logger.Error("list queue failed", zap.Error(err))
		jsonError(w, "failed to load queue", http.StatusInternalServerError)
		return
	}

	now := h.now()
	sorted := workflow.SortWorkflowItems(items)
	summary := workflow.CalculateQueueSummary(items, now)
	thresholds := workflow.DefaultColorThresholds()

	rows := make([]QueueItem, 0, len(sorted))
	for _, item := range sorted {
		rows = append(rows, QueueItem{Item: item, Color: workflow.GetQueueColor(item, thresholds, now)})
	}

	if h.metrics != nil {
		for state, count := range summary.ByState {
			h.metrics.QueueDepth.WithLabelValues(string(state)).Set(float64(count))
		}
		h.metrics.QueueOverdue.Set(float64(summary.OverdueCount))
	}

	respondJSON(w, http.StatusOK, QueueResponse{Summary: summary, Items: rows})
}

func (h *WorkflowHandler) loadItem(w http.ResponseWriter, r *http.Request) (workflow.Item, bool) {
	id := chi.URLParam(r, "id")
	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			jsonError(w, "workflow item not found", http.StatusNotFound)
		} else {
			h.logger.Error("load item failed", zap.Error(err))
			jsonError(w, "failed to load workflow item", http.StatusInternalServerError)
		}
		return workflow.Item{}, false
	}
	return item, true
}

func (h *WorkflowHandler) saveItem(w http.ResponseWriter, r *http.Request, item workflow.Item) {
	if err := h.store.Save(r.Context(), item, nil, nil); err != nil {
		if errors.Is(err, postgres.ErrConcurrentModification) {
			if h.metrics != nil {
				h.metrics.CASConflicts.Inc()
			}
			jsonError(w, "workflow item was modified concurrently, reload and retry", http.StatusConflict)
			return
		}
		h.logger.Error("save item failed", zap.Error(err))
		jsonError(w, "failed to save workflow item", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	respondJSON(w, code, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
