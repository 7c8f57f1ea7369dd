// Package workflow implements the prescription workflow state machine.
package workflow

// State represents a prescription workflow state
type State string

const (
	StateIntake            State = "INTAKE"
	StateDataEntry         State = "DATA_ENTRY"
	StateDataEntryComplete State = "DATA_ENTRY_COMPLETE"
	StateInsurancePending  State = "INSURANCE_PENDING"
	StateInsuranceRejected State = "INSURANCE_REJECTED"
	StateDURReview         State = "DUR_REVIEW"
	StatePriorAuthPending  State = "PRIOR_AUTH_PENDING"
	StatePriorAuthApproved State = "PRIOR_AUTH_APPROVED"
	StateFilling           State = "FILLING"
	StateVerification      State = "VERIFICATION"
	StateReady             State = "READY"
	StateSold              State = "SOLD"
	StateDelivered         State = "DELIVERED"
	StateReturnedToStock   State = "RETURNED_TO_STOCK"
	StateCancelled         State = "CANCELLED"
)

// validNextStates is the transition adjacency table. Terminal states map
// to an empty list so structural validation rejects any exit from them.
// RETURNED_TO_STOCK is the only re-entry path back into the graph.
var validNextStates = map[State][]State{
	StateIntake:            {StateDataEntry, StateCancelled},
	StateDataEntry:         {StateDataEntryComplete, StateIntake, StateCancelled},
	StateDataEntryComplete: {StateInsurancePending, StateDURReview, StateFilling, StateCancelled},
	StateInsurancePending:  {StateInsuranceRejected, StateDURReview, StateFilling, StateCancelled},
	StateInsuranceRejected: {StateInsurancePending, StatePriorAuthPending, StateDataEntry, StateCancelled},
	StateDURReview:         {StateFilling, StatePriorAuthPending, StateCancelled},
	StatePriorAuthPending:  {StatePriorAuthApproved, StateInsuranceRejected, StateCancelled},
	StatePriorAuthApproved: {StateFilling, StateCancelled},
	StateFilling:           {StateVerification, StateCancelled},
	StateVerification:      {StateReady, StateFilling, StateCancelled},
	StateReady:             {StateSold, StateDelivered, StateReturnedToStock, StateCancelled},
	StateReturnedToStock:   {StateDataEntry},
	StateSold:              {},
	StateDelivered:         {},
	StateCancelled:         {},
}

// AllStates lists every workflow state in progression order.
func AllStates() []State {
	return []State{
		StateIntake, StateDataEntry, StateDataEntryComplete,
		StateInsurancePending, StateInsuranceRejected, StateDURReview,
		StatePriorAuthPending, StatePriorAuthApproved, StateFilling,
		StateVerification, StateReady, StateSold, StateDelivered,
		StateReturnedToStock, StateCancelled,
	}
}

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateSold, StateDelivered, StateCancelled:
		return true
	default:
		return false
	}
}

// IsKnown reports whether s is a member of the closed state set.
func (s State) IsKnown() bool {
	_, ok := validNextStates[s]
	return ok
}

// Label returns the staff-facing display name for a state.
func (s State) Label() string {
	switch s {
	case StateIntake:
		return "Intake"
	case StateDataEntry:
		return "Data Entry"
	case StateDataEntryComplete:
		return "Data Entry Complete"
	case StateInsurancePending:
		return "Insurance Pending"
	case StateInsuranceRejected:
		return "Insurance Rejected"
	case StateDURReview:
		return "DUR Review"
	case StatePriorAuthPending:
		return "Prior Auth Pending"
	case StatePriorAuthApproved:
		return "Prior Auth Approved"
	case StateFilling:
		return "Filling"
	case StateVerification:
		return "Verification"
	case StateReady:
		return "Ready"
	case StateSold:
		return "Sold"
	case StateDelivered:
		return "Delivered"
	case StateReturnedToStock:
		return "Returned to Stock"
	case StateCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// ValidNextStates returns a copy of the allowed target states for s.
func ValidNextStates(s State) []State {
	next := validNextStates[s]
	out := make([]State, len(next))
	copy(out, next)
	return out
}

// IsValidTransition reports whether to is in the adjacency list for from.
func IsValidTransition(from, to State) bool {
	for _, s := range validNextStates[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Priority represents queue priority. STAT outranks URGENT outranks
// NORMAL outranks LOW.
type Priority string

const (
	PriorityStat   Priority = "STAT"
	PriorityUrgent Priority = "URGENT"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Rank returns the sort rank for a priority, lower is more severe.
func (p Priority) Rank() int {
	switch p {
	case PriorityStat:
		return 0
	case PriorityUrgent:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 3
	}
}

// SLAMinutes returns the base service-level minutes for a priority.
func (p Priority) SLAMinutes() int {
	switch p {
	case PriorityStat:
		return 15
	case PriorityUrgent:
		return 30
	case PriorityNormal:
		return 60
	case PriorityLow:
		return 120
	default:
		return 60
	}
}
