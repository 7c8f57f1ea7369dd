package workflow

import "fmt"

// TransitionGuards carries the externally gathered facts a transition is
// validated against. Callers fetch these from the DUR, claims and staff
// services before invoking validation; nothing here performs I/O.
type TransitionGuards struct {
	IsPharmacist       bool
	HasUnresolvedDUR   bool
	HasInsuranceReject bool
}

// GuardResult is the outcome of a guard evaluation. Reason is written for
// direct display to pharmacy staff.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the result to an error when the transition was denied.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

func deny(format string, args ...interface{}) GuardResult {
	return GuardResult{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// pharmacistGated lists target states that only a pharmacist may enter.
func pharmacistGated(to State) bool {
	return to == StateDURReview || to == StateVerification
}

// ValidateStateTransition layers guard rules on top of the adjacency
// table. It is pure: no mutation, no I/O.
//
// Rules, in order:
//  1. to must be structurally reachable from from
//  2. DUR_REVIEW and VERIFICATION require pharmacist access
//  3. FILLING is blocked by unresolved DUR alerts, and by an insurance
//     rejection unless the source state is DUR_REVIEW or
//     PRIOR_AUTH_APPROVED (a pharmacist who already cleared DUR or holds
//     a PA override may fill despite a stale rejection flag)
func ValidateStateTransition(from, to State, guards TransitionGuards) GuardResult {
	if !IsValidTransition(from, to) {
		return deny("Invalid transition from %s to %s", from, to)
	}

	if pharmacistGated(to) && !guards.IsPharmacist {
		return deny("Transition to %s requires pharmacist access", to)
	}

	if to == StateFilling {
		if guards.HasUnresolvedDUR {
			return deny("Cannot proceed to filling with unresolved DUR alerts")
		}
		if guards.HasInsuranceReject && from != StateDURReview && from != StatePriorAuthApproved {
			return deny("Cannot proceed to filling with an active insurance rejection")
		}
	}

	return GuardResult{Allowed: true}
}
