package pickup

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a pickup session. The gate
// statuses between patient_selected and prescriptions_scanned are
// conditionally skipped when the corresponding requirement is absent.
type SessionStatus string

const (
	StatusSearching       SessionStatus = "searching"
	StatusPatientSelected SessionStatus = "patient_selected"
	StatusSignature       SessionStatus = "signature_required"
	StatusIDVerification  SessionStatus = "id_verification"
	StatusCounseling      SessionStatus = "counseling"
	StatusScanned         SessionStatus = "prescriptions_scanned"
	StatusCompleted       SessionStatus = "completed"
	StatusCancelled       SessionStatus = "cancelled"
)

// CounselingStatus tracks the offer-to-counsel resolution.
type CounselingStatus string

const (
	CounselingPending   CounselingStatus = "pending"
	CounselingCompleted CounselingStatus = "completed"
	CounselingDeclined  CounselingStatus = "declined"
	CounselingWaived    CounselingStatus = "waived"
)

// signatureValidity is the HIPAA signature-on-file retention window.
const signatureValidityMonths = 6

var (
	ErrSessionClosed = errors.New("pickup session is already closed")
	ErrNoPatient     = errors.New("no patient selected for pickup")
)

// Prescription is one fill being picked up in this session.
type Prescription struct {
	RxNumber           string     `json:"rx_number"`
	Barcode            string     `json:"barcode"`
	DrugName           string     `json:"drug_name"`
	CopayCents         int64      `json:"copay_cents"`
	Controlled         bool       `json:"controlled"`
	RequiresSignature  bool       `json:"requires_signature"`
	RequiresID         bool       `json:"requires_id"`
	RequiresCounseling bool       `json:"requires_counseling"`
	Scanned            bool       `json:"scanned"`
	ScannedAt          *time.Time `json:"scanned_at,omitempty"`
	ScannedBy          string     `json:"scanned_by,omitempty"`
}

// Signature is a captured patient signature. Valid is set at capture;
// expiry is evaluated lazily via IsSignatureValid.
type Signature struct {
	CapturedAt time.Time `json:"captured_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Kind       string    `json:"kind"`
	Valid      bool      `json:"valid"`
}

// IDVerification records a government-ID check for controlled pickups.
type IDVerification struct {
	DocumentType string    `json:"document_type"`
	DocumentID   string    `json:"document_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	VerifiedBy   string    `json:"verified_by"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// Payment records copay collection.
type Payment struct {
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	CollectedBy string    `json:"collected_by"`
	CollectedAt time.Time `json:"collected_at"`
}

// Session is one pickup interaction at the register. Mutators return new
// values; the session is never updated in place.
type Session struct {
	ID            string           `json:"id"`
	Status        SessionStatus    `json:"status"`
	Criteria      SearchCriteria   `json:"criteria"`
	Matches       []Match          `json:"matches,omitempty"`
	Patient       *Patient         `json:"patient,omitempty"`
	Prescriptions []Prescription   `json:"prescriptions"`
	Signature     *Signature       `json:"signature,omitempty"`
	IDCheck       *IDVerification  `json:"id_check,omitempty"`
	Counseling    CounselingStatus `json:"counseling"`
	Payment       *Payment         `json:"payment,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CancelReason  string           `json:"cancel_reason,omitempty"`
}

// NewSession opens a pickup session from a validated search.
func NewSession(criteria SearchCriteria, matches []Match, now time.Time) Session {
	return Session{
		ID:         uuid.New().String(),
		Status:     StatusSearching,
		Criteria:   criteria,
		Matches:    matches,
		Counseling: CounselingPending,
		CreatedAt:  now.UTC(),
	}
}

func (s Session) closed() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

func clonePrescriptions(rxs []Prescription) []Prescription {
	out := make([]Prescription, len(rxs))
	copy(out, rxs)
	return out
}

// SelectPatient binds the chosen patient and their waiting fills to the
// session. Counseling resolves immediately to waived when no fill
// requires it.
func SelectPatient(s Session, patient Patient, rxs []Prescription) (Session, error) {
	if s.closed() {
		return s, ErrSessionClosed
	}
	if len(rxs) == 0 {
		return s, fmt.Errorf("patient %s has no prescriptions ready for pickup", patient.ID)
	}

	next := s
	p := patient
	next.Patient = &p
	next.Prescriptions = clonePrescriptions(rxs)
	next.Status = StatusPatientSelected
	if !anyRequiresCounseling(rxs) {
		next.Counseling = CounselingWaived
	}
	return next, nil
}

func anyRequiresCounseling(rxs []Prescription) bool {
	for _, rx := range rxs {
		if rx.RequiresCounseling {
			return true
		}
	}
	return false
}

func (s Session) allScanned() bool {
	if len(s.Prescriptions) == 0 {
		return false
	}
	for _, rx := range s.Prescriptions {
		if !rx.Scanned {
			return false
		}
	}
	return true
}

func (s Session) requiresSignature() bool {
	for _, rx := range s.Prescriptions {
		if rx.RequiresSignature {
			return true
		}
	}
	return false
}

func (s Session) requiresID() bool {
	for _, rx := range s.Prescriptions {
		if rx.RequiresID {
			return true
		}
	}
	return false
}

func (s Session) counselingResolved() bool {
	switch s.Counseling {
	case CounselingCompleted, CounselingDeclined, CounselingWaived:
		return true
	default:
		return false
	}
}

func (s Session) totalCopayCents() int64 {
	var total int64
	for _, rx := range s.Prescriptions {
		total += rx.CopayCents
	}
	return total
}

// nextGate decides the status after the final scan: outstanding gates in
// priority order signature, ID, counseling, then scanned-complete.
func (s Session) nextGate() SessionStatus {
	switch {
	case s.requiresSignature() && s.Signature == nil:
		return StatusSignature
	case s.requiresID() && s.IDCheck == nil:
		return StatusIDVerification
	case !s.counselingResolved():
		return StatusCounseling
	default:
		return StatusScanned
	}
}

// ScanPrescription marks the fill with the given barcode as scanned.
// Unknown barcodes and repeat scans are rejected explicitly; a repeat is
// never silently accepted. The final scan advances the session to the
// next outstanding gate.
func ScanPrescription(s Session, barcode, actorID string, now time.Time) (Session, error) {
	if s.closed() {
		return s, ErrSessionClosed
	}
	if s.Patient == nil {
		return s, ErrNoPatient
	}

	idx := -1
	for i, rx := range s.Prescriptions {
		if rx.Barcode == barcode {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s, fmt.Errorf("scanned barcode %q does not match any prescription in this pickup", barcode)
	}
	if s.Prescriptions[idx].Scanned {
		return s, fmt.Errorf("prescription %s already scanned", s.Prescriptions[idx].RxNumber)
	}

	next := s
	next.Prescriptions = clonePrescriptions(s.Prescriptions)
	scannedAt := now.UTC()
	next.Prescriptions[idx].Scanned = true
	next.Prescriptions[idx].ScannedAt = &scannedAt
	next.Prescriptions[idx].ScannedBy = actorID

	if next.allScanned() {
		next.Status = next.nextGate()
	}
	return next, nil
}

// CaptureSignature records the patient signature and stamps its expiry
// six months out. Validity at a later time is evaluated by
// IsSignatureValid, not stored.
func CaptureSignature(s Session, kind string, now time.Time) (Session, error) {
	if s.closed() {
		return s, ErrSessionClosed
	}

	captured := now.UTC()
	next := s
	next.Signature = &Signature{
		CapturedAt: captured,
		ExpiresAt:  captured.AddDate(0, signatureValidityMonths, 0),
		Kind:       kind,
		Valid:      true,
	}
	if next.allScanned() {
		next.Status = next.nextGate()
	}
	return next, nil
}

// IsSignatureValid reports whether a signature captured at the given
// time is still within the six-month window.
func IsSignatureValid(capturedAt, now time.Time) bool {
	return now.Before(capturedAt.AddDate(0, signatureValidityMonths, 0))
}

// VerifyID records the ID check for controlled-substance pickups.
func VerifyID(s Session, docType, docID string, docExpiry time.Time, actorID string, now time.Time) (Session, error) {
	if s.closed() {
		return s, ErrSessionClosed
	}
	if !docExpiry.After(now) {
		return s, fmt.Errorf("identification document expired %s", docExpiry.Format("2006-01-02"))
	}

	next := s
	next.IDCheck = &IDVerification{
		DocumentType: docType,
		DocumentID:   docID,
		ExpiresAt:    docExpiry,
		VerifiedBy:   actorID,
		VerifiedAt:   now.UTC(),
	}
	if next.allScanned() {
		next.Status = next.nextGate()
	}
	return next, nil
}

// ResolveCounseling records the outcome of the offer to counsel.
func ResolveCounseling(s Session, outcome CounselingStatus) (Session, error) {
	if s.closed() {
		return s, ErrSessionClosed
	}
	switch outcome {
	case CounselingCompleted, CounselingDeclined, CounselingWaived:
	default:
		return s, fmt.Errorf("invalid counseling outcome: %s", outcome)
	}

	next := s
	next.Counseling = outcome
	if next.allScanned() {
		next.Status = next.nextGate()
	}
	return next, nil
}

// CollectPayment records copay collection.
func CollectPayment(s Session, amountCents int64, method, actorID string, now time.Time) (Session, error) {
	if s.closed() {
		return s, ErrSessionClosed
	}

	next := s
	next.Payment = &Payment{
		AmountCents: amountCents,
		Method:      method,
		CollectedBy: actorID,
		CollectedAt: now.UTC(),
	}
	return next, nil
}

// CompleteResult is the outcome of attempting to close a pickup. All
// outstanding blockers are collected, not short-circuited, so the
// register shows every unmet requirement at once.
type CompleteResult struct {
	OK       bool
	Session  Session
	Blockers []string
}

// CompletePickup verifies every gate before closing the session: all
// fills scanned, signature when required and unexpired, ID when
// required, counseling resolved, and payment covering the copay.
func CompletePickup(s Session, actorID string, now time.Time) CompleteResult {
	if s.closed() {
		return CompleteResult{Session: s, Blockers: []string{ErrSessionClosed.Error()}}
	}
	if s.Patient == nil {
		return CompleteResult{Session: s, Blockers: []string{ErrNoPatient.Error()}}
	}

	var blockers []string

	if !s.allScanned() {
		remaining := 0
		for _, rx := range s.Prescriptions {
			if !rx.Scanned {
				remaining++
			}
		}
		blockers = append(blockers, fmt.Sprintf("%d prescription(s) have not been scanned", remaining))
	}

	if s.requiresSignature() {
		switch {
		case s.Signature == nil:
			blockers = append(blockers, "Patient signature is required")
		case !IsSignatureValid(s.Signature.CapturedAt, now):
			blockers = append(blockers, "Patient signature on file has expired")
		}
	}

	if s.requiresID() && s.IDCheck == nil {
		blockers = append(blockers, "ID verification is required for controlled substance pickup")
	}

	if !s.counselingResolved() {
		blockers = append(blockers, "Counseling has not been resolved")
	}

	if copay := s.totalCopayCents(); copay > 0 {
		if s.Payment == nil || s.Payment.AmountCents < copay {
			blockers = append(blockers, fmt.Sprintf("Copay of $%.2f has not been collected", float64(copay)/100))
		}
	}

	if len(blockers) > 0 {
		return CompleteResult{Session: s, Blockers: blockers}
	}

	completedAt := now.UTC()
	next := s
	next.Status = StatusCompleted
	next.CompletedAt = &completedAt
	return CompleteResult{OK: true, Session: next}
}

// Cancel closes the session from any non-terminal status.
func Cancel(s Session, reason string, now time.Time) (Session, error) {
	if s.closed() {
		return s, ErrSessionClosed
	}

	cancelledAt := now.UTC()
	next := s
	next.Status = StatusCancelled
	next.CancelReason = reason
	next.CompletedAt = &cancelledAt
	return next, nil
}
