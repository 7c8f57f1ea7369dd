package verification

import (
	"fmt"
	"time"
)

// Severity grades a DUR alert.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityModerate Severity = "moderate"
	SeverityLow      Severity = "low"
)

// DURAlert is one drug-utilization-review finding, as returned by the
// DUR service.
type DURAlert struct {
	ID           string   `json:"id"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description,omitempty"`
	IsOverridden bool     `json:"isOverridden"`
}

// DUROverride records a pharmacist override of a DUR alert during
// verification. Immutable once recorded.
type DUROverride struct {
	AlertID      string    `json:"alert_id"`
	PharmacistID string    `json:"pharmacist_id"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// DURStatus summarizes alert resolution. Unresolved high-severity alerts
// block proceeding; moderate and low are reported but do not block.
type DURStatus struct {
	AllResolved        bool   `json:"all_resolved"`
	CanProceed         bool   `json:"can_proceed"`
	UnresolvedHigh     int    `json:"unresolved_high"`
	UnresolvedModerate int    `json:"unresolved_moderate"`
	UnresolvedLow      int    `json:"unresolved_low"`
	Message            string `json:"message"`
}

// CheckDURAlertsResolved evaluates alert resolution. An alert counts as
// resolved when it carries IsOverridden or its id appears in the
// override list.
func CheckDURAlertsResolved(alerts []DURAlert, overrides []DUROverride) DURStatus {
	overridden := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		overridden[o.AlertID] = true
	}

	status := DURStatus{AllResolved: true}
	for _, alert := range alerts {
		if alert.IsOverridden || overridden[alert.ID] {
			continue
		}
		status.AllResolved = false
		switch alert.Severity {
		case SeverityHigh:
			status.UnresolvedHigh++
		case SeverityModerate:
			status.UnresolvedModerate++
		default:
			status.UnresolvedLow++
		}
	}

	status.CanProceed = status.UnresolvedHigh == 0

	switch {
	case status.AllResolved:
		status.Message = "All DUR alerts resolved"
	case !status.CanProceed:
		status.Message = fmt.Sprintf("%d unresolved high-severity DUR alert(s) must be overridden before proceeding", status.UnresolvedHigh)
	default:
		status.Message = fmt.Sprintf("%d unresolved non-critical DUR alert(s) remain", status.UnresolvedModerate+status.UnresolvedLow)
	}

	return status
}
