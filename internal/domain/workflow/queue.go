package workflow

import (
	"math"
	"sort"
	"time"
)

// QueueSummary aggregates the state of a worklist in a single pass.
// Terminal-state items are excluded from Total and OverdueCount.
type QueueSummary struct {
	Total        int           `json:"total"`
	ByState      map[State]int `json:"by_state"`
	StatCount    int           `json:"stat_count"`
	UrgentCount  int           `json:"urgent_count"`
	OverdueCount int           `json:"overdue_count"`
	OnHoldCount  int           `json:"on_hold_count"`
}

// CalculateQueueSummary produces per-state counts, priority tallies and
// overdue/hold counts for a worklist.
func CalculateQueueSummary(items []Item, now time.Time) QueueSummary {
	summary := QueueSummary{ByState: make(map[State]int)}

	for _, item := range items {
		summary.ByState[item.State]++
		if item.State.IsTerminal() {
			continue
		}
		summary.Total++

		switch item.Priority {
		case PriorityStat:
			summary.StatCount++
		case PriorityUrgent:
			summary.UrgentCount++
		}

		if item.PromiseTime != nil && item.PromiseTime.Before(now) {
			summary.OverdueCount++
		}
		if item.OnHold {
			summary.OnHoldCount++
		}
	}

	return summary
}

// SortWorkflowItems returns a sorted copy of the worklist: priority rank
// ascending, then promise time ascending with unset promise times last,
// then creation time ascending. The sort is stable and the input slice
// is never mutated.
func SortWorkflowItems(items []Item) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(a, b int) bool {
		ia, ib := sorted[a], sorted[b]

		if ra, rb := ia.Priority.Rank(), ib.Priority.Rank(); ra != rb {
			return ra < rb
		}

		switch {
		case ia.PromiseTime != nil && ib.PromiseTime == nil:
			return true
		case ia.PromiseTime == nil && ib.PromiseTime != nil:
			return false
		case ia.PromiseTime != nil && ib.PromiseTime != nil:
			if !ia.PromiseTime.Equal(*ib.PromiseTime) {
				return ia.PromiseTime.Before(*ib.PromiseTime)
			}
		}

		return ia.CreatedAt.Before(ib.CreatedAt)
	})

	return sorted
}

// QueueColor is the SLA color code for a worklist row.
type QueueColor string

const (
	ColorGreen  QueueColor = "green"
	ColorYellow QueueColor = "yellow"
	ColorRed    QueueColor = "red"
)

// ColorThresholds configures SLA color cutoffs in minutes remaining.
type ColorThresholds struct {
	YellowMinutes float64
	RedMinutes    float64
}

// DefaultColorThresholds yellow at 15 minutes remaining, red once overdue.
func DefaultColorThresholds() ColorThresholds {
	return ColorThresholds{YellowMinutes: 15, RedMinutes: 0}
}

// GetQueueColor maps time remaining until the promise time to a color.
// Items without a promise time are always green.
func GetQueueColor(item Item, thresholds ColorThresholds, now time.Time) QueueColor {
	if item.PromiseTime == nil {
		return ColorGreen
	}

	remaining := item.PromiseTime.Sub(now).Minutes()
	switch {
	case remaining < thresholds.RedMinutes:
		return ColorRed
	case remaining <= thresholds.YellowMinutes:
		return ColorYellow
	default:
		return ColorGreen
	}
}

// stateWorkFactor scales the base SLA by how much work remains at the
// given state. Early states carry more remaining work than late ones.
func stateWorkFactor(s State) float64 {
	switch s {
	case StateIntake:
		return 1.5
	case StateDataEntry:
		return 1.25
	case StateDataEntryComplete:
		return 1.0
	case StateInsurancePending:
		return 1.0
	case StateInsuranceRejected:
		return 1.2
	case StateDURReview:
		return 0.9
	case StatePriorAuthPending:
		return 1.3
	case StatePriorAuthApproved:
		return 0.8
	case StateFilling:
		return 0.75
	case StateVerification:
		return 0.5
	case StateReady, StateReturnedToStock:
		return 0.25
	case StateSold, StateDelivered, StateCancelled:
		return 0
	default:
		return 1.0
	}
}

// CalculatePromiseTime derives a promise deadline from priority SLA
// minutes scaled by the work remaining at the current state, rounded to
// the nearest minute.
func CalculatePromiseTime(priority Priority, state State, from time.Time) time.Time {
	minutes := float64(priority.SLAMinutes()) * stateWorkFactor(state)
	rounded := math.Round(minutes)
	return from.Add(time.Duration(rounded) * time.Minute)
}
