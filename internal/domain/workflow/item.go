package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifies the staff member performing an operation.
type Actor struct {
	ID   string
	Name string
}

// StateChange is an append-only audit record of one transition.
// FromState is nil for the record written at item creation. A StateChange
// is never mutated or deleted once appended.
type StateChange struct {
	ID        string    `json:"id"`
	FromState *State    `json:"from_state,omitempty"`
	ToState   State     `json:"to_state"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// NewStateChange constructs the audit record for a transition. The caller
// appends it to history and updates the item state in one combined write.
func NewStateChange(from *State, to State, actor Actor, reason string, now time.Time) StateChange {
	return StateChange{
		ID:        uuid.New().String(),
		FromState: from,
		ToState:   to,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Timestamp: now.UTC(),
		Reason:    reason,
	}
}

// Item is one prescription in flight on the workflow queue.
//
// Items follow an immutable-update discipline: every mutator returns a
// new value, so concurrent readers never observe a half-updated item.
// Version supports compare-and-swap writes at the persistence layer.
type Item struct {
	ID             string       `json:"id"`
	PrescriptionID string       `json:"prescription_id"`
	RxNumber       string       `json:"rx_number"`
	PatientName    string       `json:"patient_name"`
	DrugName       string       `json:"drug_name"`
	State          State        `json:"state"`
	Priority       Priority     `json:"priority"`
	PromiseTime    *time.Time   `json:"promise_time,omitempty"`
	AssignedTo     *string      `json:"assigned_to,omitempty"`
	OnHold         bool         `json:"on_hold"`
	HoldReason     string       `json:"hold_reason,omitempty"`
	Controlled     bool         `json:"controlled"`
	DEASchedule    string       `json:"dea_schedule,omitempty"`
	DURAlertCount  int          `json:"dur_alert_count"`
	InsuranceIssue bool         `json:"insurance_issue"`
	Version        int          `json:"version"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	StateHistory   []StateChange `json:"state_history"`
}

// NewItem creates a queue item in INTAKE with a creation audit record.
func NewItem(prescriptionID, rxNumber string, priority Priority, actor Actor, now time.Time) Item {
	now = now.UTC()
	item := Item{
		ID:             uuid.New().String(),
		PrescriptionID: prescriptionID,
		RxNumber:       rxNumber,
		State:          StateIntake,
		Priority:       priority,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	item.StateHistory = []StateChange{NewStateChange(nil, StateIntake, actor, "created", now)}
	return item
}

// LastChange returns the most recent audit record, or nil for an item
// with no history.
func (i Item) LastChange() *StateChange {
	if len(i.StateHistory) == 0 {
		return nil
	}
	last := i.StateHistory[len(i.StateHistory)-1]
	return &last
}

// cloneHistory copies the history slice so the returned item shares no
// backing array with its predecessor.
func (i Item) cloneHistory(extra int) []StateChange {
	out := make([]StateChange, len(i.StateHistory), len(i.StateHistory)+extra)
	copy(out, i.StateHistory)
	return out
}

// TransitionResult is the outcome of applying a transition. Err is a
// human-readable rejection reason; an invalid transition is an expected
// outcome, not an exceptional one, so Item always carries a usable value
// (the updated item on success, the original unchanged on rejection).
type TransitionResult struct {
	OK     bool
	Item   Item
	Change *StateChange
	Err    string
}

// Transition applies a structural state change to the item, returning a
// new item with updated state and appended history. Only the adjacency
// check runs at this layer; richer guard facts are validated by the
// caller via ValidateStateTransition before invoking.
func Transition(item Item, to State, actor Actor, reason string, now time.Time) TransitionResult {
	if !IsValidTransition(item.State, to) {
		return TransitionResult{
			OK:   false,
			Item: item,
			Err:  deny("Invalid transition from %s to %s", item.State, to).Reason,
		}
	}

	from := item.State
	change := NewStateChange(&from, to, actor, reason, now)

	next := item
	next.State = to
	next.UpdatedAt = now.UTC()
	next.Version = item.Version + 1
	next.StateHistory = append(item.cloneHistory(1), change)

	// A transition releases any hold unless the reason re-establishes one.
	if item.OnHold {
		next.OnHold = false
		next.HoldReason = ""
	}

	return TransitionResult{OK: true, Item: next, Change: &change}
}

// PlaceOnHold returns a copy of the item flagged on hold.
func PlaceOnHold(item Item, reason string, now time.Time) Item {
	next := item
	next.OnHold = true
	next.HoldReason = reason
	next.UpdatedAt = now.UTC()
	next.Version = item.Version + 1
	next.StateHistory = item.cloneHistory(0)
	return next
}

// ReleaseHold returns a copy of the item with the hold cleared.
func ReleaseHold(item Item, now time.Time) Item {
	next := item
	next.OnHold = false
	next.HoldReason = ""
	next.UpdatedAt = now.UTC()
	next.Version = item.Version + 1
	next.StateHistory = item.cloneHistory(0)
	return next
}

// Assign returns a copy of the item assigned to a staff member. An empty
// staffID clears the assignment.
func Assign(item Item, staffID string, now time.Time) Item {
	next := item
	if staffID == "" {
		next.AssignedTo = nil
	} else {
		id := staffID
		next.AssignedTo = &id
	}
	next.UpdatedAt = now.UTC()
	next.Version = item.Version + 1
	next.StateHistory = item.cloneHistory(0)
	return next
}
