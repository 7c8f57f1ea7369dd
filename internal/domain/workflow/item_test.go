package workflow

import (
	"testing"
	"time"
)

var testActor = Actor{ID: "tech-1", Name: "A. Tech"}

func testItem(t *testing.T) Item {
	t.Helper()
	return NewItem("rx-001", "1000123", PriorityNormal, testActor, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
}

func TestNewItemStartsInIntake(t *testing.T) {
	item := testItem(t)

	if item.State != StateIntake {
		t.Errorf("state = %s, want INTAKE", item.State)
	}
	if len(item.StateHistory) != 1 {
		t.Fatalf("history length = %d, want 1", len(item.StateHistory))
	}
	first := item.StateHistory[0]
	if first.FromState != nil {
		t.Error("creation record should have nil from state")
	}
	if first.ToState != StateIntake {
		t.Errorf("creation record toState = %s, want INTAKE", first.ToState)
	}
}

func TestTransitionAppendsHistory(t *testing.T) {
	item := testItem(t)
	now := item.CreatedAt.Add(5 * time.Minute)

	result := Transition(item, StateDataEntry, testActor, "", now)
	if !result.OK {
		t.Fatalf("transition rejected: %s", result.Err)
	}

	next := result.Item
	if next.State != StateDataEntry {
		t.Errorf("state = %s, want DATA_ENTRY", next.State)
	}
	if len(next.StateHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(next.StateHistory))
	}
	if last := next.LastChange(); last == nil || last.ToState != next.State {
		t.Error("current state must equal toState of last history entry")
	}
	if next.Version != item.Version+1 {
		t.Errorf("version = %d, want %d", next.Version, item.Version+1)
	}
	if result.Change == nil || result.Change.FromState == nil || *result.Change.FromState != StateIntake {
		t.Error("change record should carry the source state")
	}
}

func TestTransitionDoesNotMutateOriginal(t *testing.T) {
	item := testItem(t)
	now := item.CreatedAt.Add(time.Minute)

	result := Transition(item, StateDataEntry, testActor, "", now)
	if !result.OK {
		t.Fatalf("transition rejected: %s", result.Err)
	}

	if item.State != StateIntake {
		t.Error("original item state mutated")
	}
	if len(item.StateHistory) != 1 {
		t.Error("original item history mutated")
	}

	// Appending to the new item's history must not leak into the old one.
	again := Transition(result.Item, StateDataEntryComplete, testActor, "", now.Add(time.Minute))
	if !again.OK {
		t.Fatalf("second transition rejected: %s", again.Err)
	}
	if len(result.Item.StateHistory) != 2 {
		t.Error("intermediate item history mutated by later transition")
	}
}

func TestInvalidTransitionReturnsOriginal(t *testing.T) {
	item := testItem(t)

	result := Transition(item, StateReady, testActor, "", item.CreatedAt)
	if result.OK {
		t.Fatal("INTAKE -> READY should be rejected")
	}
	if result.Err == "" {
		t.Error("rejection should carry a reason")
	}
	if result.Item.State != StateIntake || len(result.Item.StateHistory) != 1 {
		t.Error("rejected transition must return the item unchanged")
	}
	if result.Change != nil {
		t.Error("rejected transition must not produce an audit record")
	}
}

func TestTransitionClearsHold(t *testing.T) {
	item := testItem(t)
	now := item.CreatedAt.Add(time.Minute)

	held := PlaceOnHold(item, "waiting on prescriber callback", now)
	if !held.OnHold || held.HoldReason == "" {
		t.Fatal("hold not recorded")
	}
	if item.OnHold {
		t.Error("PlaceOnHold mutated original")
	}

	result := Transition(held, StateDataEntry, testActor, "", now.Add(time.Minute))
	if !result.OK {
		t.Fatalf("transition rejected: %s", result.Err)
	}
	if result.Item.OnHold || result.Item.HoldReason != "" {
		t.Error("transition should clear the hold")
	}

	released := ReleaseHold(held, now.Add(time.Minute))
	if released.OnHold || released.HoldReason != "" {
		t.Error("ReleaseHold should clear the hold")
	}
}

func TestAssign(t *testing.T) {
	item := testItem(t)
	now := item.CreatedAt.Add(time.Minute)

	assigned := Assign(item, "ph-9", now)
	if assigned.AssignedTo == nil || *assigned.AssignedTo != "ph-9" {
		t.Error("assignment not recorded")
	}

	cleared := Assign(assigned, "", now.Add(time.Minute))
	if cleared.AssignedTo != nil {
		t.Error("empty staff id should clear assignment")
	}
}

func TestHistoryLengthTracksTransitions(t *testing.T) {
	item := testItem(t)
	now := item.CreatedAt

	path := []State{StateDataEntry, StateDataEntryComplete, StateInsurancePending, StateFilling, StateVerification, StateReady, StateSold}
	applied := 0
	for _, to := range path {
		now = now.Add(time.Minute)
		result := Transition(item, to, testActor, "", now)
		if !result.OK {
			t.Fatalf("transition to %s rejected: %s", to, result.Err)
		}
		item = result.Item
		applied++
	}

	// One creation record plus one per applied transition.
	if len(item.StateHistory) != applied+1 {
		t.Errorf("history length = %d, want %d", len(item.StateHistory), applied+1)
	}
	if item.State != StateSold {
		t.Errorf("state = %s, want SOLD", item.State)
	}
}
