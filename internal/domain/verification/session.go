package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a verification session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionApproved   SessionStatus = "approved"
	SessionRejected   SessionStatus = "rejected"
	SessionReturned   SessionStatus = "returned"
)

// Decision is the pharmacist's terminal call on a fill.
type Decision string

const (
	DecisionApproved          Decision = "approved"
	DecisionRejected          Decision = "rejected"
	DecisionReturnedForRework Decision = "returned_for_rework"
)

// Contract-violation errors. These indicate a programming error in the
// caller, not a recoverable business outcome.
var (
	ErrAlreadyCompleted        = errors.New("verification session already completed")
	ErrRejectionReasonRequired = errors.New("rejection decision requires a rejection reason")
)

// ScanRecord captures one NDC scan attempt against the fill.
type ScanRecord struct {
	Barcode   string        `json:"barcode"`
	Parsed    BarcodeResult `json:"parsed"`
	Match     MatchResult   `json:"match"`
	ScannedAt time.Time     `json:"scanned_at"`
}

// Session wraps one fill's verification: the checklist, NDC scan state,
// DUR overrides and the terminal decision. Sessions follow the same
// immutable-update discipline as workflow items; every mutator returns a
// new value.
type Session struct {
	ID              string        `json:"id"`
	FillID          string        `json:"fill_id"`
	WorkflowItemID  string        `json:"workflow_item_id"`
	PharmacistID    string        `json:"pharmacist_id"`
	Status          SessionStatus `json:"status"`
	Checklist       Checklist     `json:"checklist"`
	ExpectedNDC     string        `json:"expected_ndc"`
	Scans           []ScanRecord  `json:"scans"`
	NDCMatched      bool          `json:"ndc_matched"`
	Overrides       []DUROverride `json:"overrides"`
	Notes           string        `json:"notes,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// NewSession opens an in-progress verification session for a fill.
func NewSession(fillID, workflowItemID, pharmacistID, expectedNDC string, controlled bool, now time.Time) Session {
	return Session{
		ID:             uuid.New().String(),
		FillID:         fillID,
		WorkflowItemID: workflowItemID,
		PharmacistID:   pharmacistID,
		Status:         SessionInProgress,
		Checklist:      NewChecklist(controlled),
		ExpectedNDC:    expectedNDC,
		CreatedAt:      now.UTC(),
	}
}

// ApplyCheck returns a copy of the session with one checkpoint updated.
func ApplyCheck(s Session, key string, done bool) (Session, error) {
	if s.Status != SessionInProgress {
		return s, ErrAlreadyCompleted
	}
	cl, err := SetCheck(s.Checklist, key, done)
	if err != nil {
		return s, err
	}
	next := s
	next.Checklist = cl
	return next, nil
}

// RecordScan parses a barcode, verifies it against the expected NDC and
// appends the attempt. The scan record is kept whether or not it
// matched, for audit.
func RecordScan(s Session, barcode string, allowPackageVariant bool, now time.Time) (Session, error) {
	if s.Status != SessionInProgress {
		return s, ErrAlreadyCompleted
	}

	parsed := ParseNDCFromBarcode(barcode)
	record := ScanRecord{Barcode: barcode, Parsed: parsed, ScannedAt: now.UTC()}
	if parsed.OK {
		record.Match = VerifyNDCMatch(parsed.NDC, s.ExpectedNDC, allowPackageVariant)
	} else {
		record.Match = MatchResult{MatchType: MatchNone, Err: parsed.Err}
	}

	next := s
	next.Scans = append(cloneScans(s.Scans), record)
	if record.Match.Matches {
		next.NDCMatched = true
		cl, err := SetCheck(next.Checklist, "ndcVerified", true)
		if err == nil {
			next.Checklist = cl
		}
	}
	return next, nil
}

// AddOverride records a pharmacist DUR override on the session.
func AddOverride(s Session, alertID, pharmacistID, reason string, now time.Time) (Session, error) {
	if s.Status != SessionInProgress {
		return s, ErrAlreadyCompleted
	}
	if reason == "" {
		return s, fmt.Errorf("override for alert %s requires a reason", alertID)
	}

	next := s
	next.Overrides = append(cloneOverrides(s.Overrides), DUROverride{
		AlertID:      alertID,
		PharmacistID: pharmacistID,
		Reason:       reason,
		Timestamp:    now.UTC(),
	})
	return next, nil
}

// Complete closes the session exactly once with a terminal decision.
// Completing an already-completed session and rejecting without a reason
// are contract violations.
func Complete(s Session, decision Decision, notes, rejectionReason string, now time.Time) (Session, error) {
	if s.Status != SessionInProgress {
		return s, ErrAlreadyCompleted
	}

	var status SessionStatus
	switch decision {
	case DecisionApproved:
		status = SessionApproved
	case DecisionRejected:
		if rejectionReason == "" {
			return s, ErrRejectionReasonRequired
		}
		status = SessionRejected
	case DecisionReturnedForRework:
		status = SessionReturned
	default:
		return s, fmt.Errorf("unknown verification decision: %s", decision)
	}

	completedAt := now.UTC()
	next := s
	next.Status = status
	next.Notes = notes
	next.RejectionReason = rejectionReason
	next.CompletedAt = &completedAt
	return next, nil
}

func cloneScans(scans []ScanRecord) []ScanRecord {
	out := make([]ScanRecord, len(scans), len(scans)+1)
	copy(out, scans)
	return out
}

func cloneOverrides(overrides []DUROverride) []DUROverride {
	out := make([]DUROverride, len(overrides), len(overrides)+1)
	copy(out, overrides)
	return out
}
