package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/api/middleware"
	"github.com/pharmetrix/go-rxops/internal/domain/workflow"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
)

type fakeItemStore struct {
	items   map[string]workflow.Item
	saveErr error
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{items: make(map[string]workflow.Item)}
}

func (s *fakeItemStore) Create(_ context.Context, item workflow.Item, _ *postgres.OutboxEntry) error {
	s.items[item.ID] = item
	return nil
}

func (s *fakeItemStore) Save(_ context.Context, item workflow.Item, _ *workflow.StateChange, _ *postgres.OutboxEntry) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.items[item.ID] = item
	return nil
}

func (s *fakeItemStore) Get(_ context.Context, id string) (workflow.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return workflow.Item{}, postgres.ErrNotFound
	}
	return item, nil
}

func (s *fakeItemStore) ListActive(_ context.Context) ([]workflow.Item, error) {
	var out []workflow.Item
	for _, item := range s.items {
		if !item.State.IsTerminal() {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeGuardSource struct {
	guards workflow.TransitionGuards
	err    error
}

func (g *fakeGuardSource) Gather(_ context.Context, _, _ string) (workflow.TransitionGuards, error) {
	return g.guards, g.err
}

func testClock() time.Time {
	return time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
}

func newTestServer(store ItemStore, guards GuardSource) *httptest.Server {
	h := NewWorkflowHandler(store, guards, nil, zap.NewNop(), testClock)
	r := chi.NewRouter()
	r.Use(middleware.ActorAuth)
	r.Mount("/items", h.Routes())
	return httptest.NewServer(r)
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("X-Staff-ID", "RPH-100")
	req.Header.Set("X-Staff-Name", "Dana Wu")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestCreateItem(t *testing.T) {
	store := newFakeItemStore()
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items", CreateItemRequest{
		PrescriptionID: "rx-001",
		RxNumber:       "7012345",
		PatientName:    "Maria Santos",
		DrugName:       "Lisinopril 10mg",
		Priority:       workflow.PriorityUrgent,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var item workflow.Item
	decode(t, resp, &item)
	assert.Equal(t, workflow.StateIntake, item.State)
	assert.Equal(t, workflow.PriorityUrgent, item.Priority)
	require.NotNil(t, item.PromiseTime)
	require.Len(t, item.StateHistory, 1)
	assert.Equal(t, "RPH-100", item.StateHistory[0].ActorID)
	assert.Contains(t, store.items, item.ID)
}

func TestCreateItemRequiresActor(t *testing.T) {
	srv := newTestServer(newFakeItemStore(), &fakeGuardSource{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/items", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func seedItem(store *fakeItemStore, state workflow.State) workflow.Item {
	item := workflow.NewItem("rx-001", "7012345", workflow.PriorityNormal,
		workflow.Actor{ID: "TECH-5", Name: "Jo Park"}, testClock().Add(-time.Hour))
	item.State = state
	store.items[item.ID] = item
	return item
}

func TestTransitionApplied(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateIntake)
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/transition",
		TransitionRequest{To: workflow.StateDataEntry})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated workflow.Item
	decode(t, resp, &updated)
	assert.Equal(t, workflow.StateDataEntry, updated.State)
	assert.Equal(t, item.Version+1, updated.Version)
	require.Len(t, updated.StateHistory, 2)
	assert.Equal(t, "RPH-100", updated.StateHistory[1].ActorID)
}

func TestTransitionGuardDenied(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateDataEntryComplete)
	guards := &fakeGuardSource{guards: workflow.TransitionGuards{HasUnresolvedDUR: true}}
	srv := newTestServer(store, guards)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/transition",
		TransitionRequest{To: workflow.StateFilling})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var denied TransitionResponse
	decode(t, resp, &denied)
	assert.False(t, denied.Allowed)
	assert.Equal(t, "Cannot proceed to filling with unresolved DUR alerts", denied.Reason)

	stored := store.items[item.ID]
	assert.Equal(t, workflow.StateDataEntryComplete, stored.State)
}

func TestTransitionStructurallyInvalid(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateIntake)
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/transition",
		TransitionRequest{To: workflow.StateSold})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var denied TransitionResponse
	decode(t, resp, &denied)
	assert.Contains(t, denied.Reason, "Invalid transition from INTAKE to SOLD")
}

func TestTransitionGuardGatherFailure(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateIntake)
	guards := &fakeGuardSource{err: errors.New("staff directory unreachable")}
	srv := newTestServer(store, guards)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/transition",
		TransitionRequest{To: workflow.StateDataEntry})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTransitionConcurrentModification(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateIntake)
	store.saveErr = postgres.ErrConcurrentModification
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/transition",
		TransitionRequest{To: workflow.StateDataEntry})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTransitionUnknownTargetState(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateIntake)
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/transition",
		TransitionRequest{To: workflow.State("SHIPPED")})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHoldAndRelease(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateDataEntry)
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/hold",
		HoldRequest{Reason: "patient callback pending"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var held workflow.Item
	decode(t, resp, &held)
	assert.True(t, held.OnHold)
	assert.Equal(t, "patient callback pending", held.HoldReason)

	resp = doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var released workflow.Item
	decode(t, resp, &released)
	assert.False(t, released.OnHold)
	assert.Empty(t, released.HoldReason)
}

func TestHoldRequiresReason(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateDataEntry)
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/items/"+item.ID+"/hold", HoldRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidTransitionsEndpoint(t *testing.T) {
	store := newFakeItemStore()
	item := seedItem(store, workflow.StateReady)
	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/items/"+item.ID+"/transitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		State      workflow.State   `json:"state"`
		NextStates []workflow.State `json:"next_states"`
		Terminal   bool             `json:"terminal"`
	}
	decode(t, resp, &body)
	assert.Equal(t, workflow.StateReady, body.State)
	assert.False(t, body.Terminal)
	assert.ElementsMatch(t, []workflow.State{
		workflow.StateSold, workflow.StateDelivered,
		workflow.StateReturnedToStock, workflow.StateCancelled,
	}, body.NextStates)
}

func TestGetItemNotFound(t *testing.T) {
	srv := newTestServer(newFakeItemStore(), &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/items/missing", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueView(t *testing.T) {
	store := newFakeItemStore()
	seedItem(store, workflow.StateFilling)
	stat := seedItem(store, workflow.StateDataEntry)
	stat.Priority = workflow.PriorityStat
	store.items[stat.ID] = stat
	seedItem(store, workflow.StateSold)

	srv := newTestServer(store, &fakeGuardSource{})
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/items/queue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var queue QueueResponse
	decode(t, resp, &queue)
	require.Len(t, queue.Items, 2)
	assert.Equal(t, workflow.PriorityStat, queue.Items[0].Priority)
	assert.Equal(t, 2, queue.Summary.Total)
	for _, row := range queue.Items {
		assert.NotEmpty(t, row.Color)
	}
}
