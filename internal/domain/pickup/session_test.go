package pickup

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var pickupNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func sessionWith(t *testing.T, rxs []Prescription) Session {
	t.Helper()
	s := NewSession(SearchCriteria{}, nil, pickupNow)
	s, err := SelectPatient(s, Patient{ID: "p1", FirstName: "Margaret", LastName: "Smith"}, rxs)
	if err != nil {
		t.Fatalf("SelectPatient failed: %v", err)
	}
	return s
}

func simpleRx(barcode string) Prescription {
	return Prescription{RxNumber: "rx-" + barcode, Barcode: barcode, DrugName: "Lisinopril 10mg"}
}

func TestSelectPatient(t *testing.T) {
	s := sessionWith(t, []Prescription{simpleRx("b1")})
	if s.Status != StatusPatientSelected {
		t.Errorf("status = %s, want patient_selected", s.Status)
	}
	if s.Counseling != CounselingWaived {
		t.Error("counseling should be waived when no fill requires it")
	}

	empty := NewSession(SearchCriteria{}, nil, pickupNow)
	if _, err := SelectPatient(empty, Patient{ID: "p2"}, nil); err == nil {
		t.Error("selecting a patient with no fills should fail")
	}
}

func TestScanPrescription(t *testing.T) {
	s := sessionWith(t, []Prescription{simpleRx("b1"), simpleRx("b2")})

	s, err := ScanPrescription(s, "b1", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if s.Status != StatusPatientSelected {
		t.Error("status should not advance until every fill is scanned")
	}

	if _, err := ScanPrescription(s, "zzz", "tech-1", pickupNow); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Errorf("unknown barcode err = %v, want does-not-match", err)
	}

	if _, err := ScanPrescription(s, "b1", "tech-1", pickupNow); err == nil || !strings.Contains(err.Error(), "already scanned") {
		t.Errorf("repeat scan err = %v, want already-scanned", err)
	}

	s, err = ScanPrescription(s, "b2", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("final scan failed: %v", err)
	}
	if s.Status != StatusScanned {
		t.Errorf("status = %s, want prescriptions_scanned with no gates", s.Status)
	}
}

func TestFinalScanAdvancesThroughGates(t *testing.T) {
	rx := simpleRx("b1")
	rx.Controlled = true
	rx.RequiresSignature = true
	rx.RequiresID = true
	rx.RequiresCounseling = true
	s := sessionWith(t, []Prescription{rx})

	s, err := ScanPrescription(s, "b1", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if s.Status != StatusSignature {
		t.Fatalf("status = %s, want signature_required first", s.Status)
	}

	s, err = CaptureSignature(s, "pickup", pickupNow)
	if err != nil {
		t.Fatalf("signature failed: %v", err)
	}
	if s.Status != StatusIDVerification {
		t.Fatalf("status = %s, want id_verification after signature", s.Status)
	}

	s, err = VerifyID(s, "drivers_license", "D1234567", pickupNow.AddDate(3, 0, 0), "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("id verification failed: %v", err)
	}
	if s.Status != StatusCounseling {
		t.Fatalf("status = %s, want counseling after id", s.Status)
	}

	s, err = ResolveCounseling(s, CounselingCompleted)
	if err != nil {
		t.Fatalf("counseling failed: %v", err)
	}
	if s.Status != StatusScanned {
		t.Fatalf("status = %s, want prescriptions_scanned after all gates", s.Status)
	}
}

func TestVerifyIDRejectsExpiredDocument(t *testing.T) {
	rx := simpleRx("b1")
	rx.RequiresID = true
	s := sessionWith(t, []Prescription{rx})

	if _, err := VerifyID(s, "drivers_license", "D1", pickupNow.AddDate(-1, 0, 0), "tech-1", pickupNow); err == nil {
		t.Error("expired document should be rejected")
	}
}

func TestSignatureExpiry(t *testing.T) {
	captured := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	if !IsSignatureValid(captured, captured.AddDate(0, 5, 29)) {
		t.Error("signature at 5 months 29 days should be valid")
	}
	if IsSignatureValid(captured, captured.AddDate(0, 6, 1)) {
		t.Error("signature at 6 months 1 day should be expired")
	}
}

func TestCompletePickupCollectsAllBlockers(t *testing.T) {
	rx := simpleRx("b1")
	rx.RequiresSignature = true
	rx.RequiresID = true
	rx.RequiresCounseling = true
	rx.CopayCents = 1550
	s := sessionWith(t, []Prescription{rx, simpleRx("b2")})

	result := CompletePickup(s, "tech-1", pickupNow)
	if result.OK {
		t.Fatal("completion should be blocked")
	}
	if len(result.Blockers) != 5 {
		t.Fatalf("blockers = %v, want 5 (scan, signature, id, counseling, payment)", result.Blockers)
	}
	if result.Session.Status == StatusCompleted {
		t.Error("blocked completion must not change status")
	}
}

func TestCompletePickupSucceeds(t *testing.T) {
	rx := simpleRx("b1")
	rx.RequiresSignature = true
	rx.CopayCents = 500
	s := sessionWith(t, []Prescription{rx})

	var err error
	s, err = ScanPrescription(s, "b1", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	s, err = CaptureSignature(s, "pickup", pickupNow)
	if err != nil {
		t.Fatalf("signature failed: %v", err)
	}
	s, err = CollectPayment(s, 500, "card", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	result := CompletePickup(s, "tech-1", pickupNow)
	if !result.OK {
		t.Fatalf("completion blocked: %v", result.Blockers)
	}
	if result.Session.Status != StatusCompleted || result.Session.CompletedAt == nil {
		t.Error("completed session should be terminal with a timestamp")
	}

	again := CompletePickup(result.Session, "tech-1", pickupNow)
	if again.OK {
		t.Error("completing a closed session should be blocked")
	}
}

func TestCompletePickupExpiredSignatureBlocks(t *testing.T) {
	rx := simpleRx("b1")
	rx.RequiresSignature = true
	s := sessionWith(t, []Prescription{rx})

	var err error
	s, err = ScanPrescription(s, "b1", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	s, err = CaptureSignature(s, "pickup", pickupNow)
	if err != nil {
		t.Fatalf("signature failed: %v", err)
	}

	late := pickupNow.AddDate(0, 7, 0)
	result := CompletePickup(s, "tech-1", late)
	if result.OK {
		t.Fatal("expired signature should block completion")
	}
	found := false
	for _, b := range result.Blockers {
		if strings.Contains(b, "expired") {
			found = true
		}
	}
	if !found {
		t.Errorf("blockers %v should mention the expired signature", result.Blockers)
	}
}

func TestNoCopayNeedsNoPayment(t *testing.T) {
	s := sessionWith(t, []Prescription{simpleRx("b1")})
	var err error
	s, err = ScanPrescription(s, "b1", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	result := CompletePickup(s, "tech-1", pickupNow)
	if !result.OK {
		t.Errorf("zero copay should not require payment: %v", result.Blockers)
	}
}

func TestCancelFromAnyOpenStatus(t *testing.T) {
	s := sessionWith(t, []Prescription{simpleRx("b1")})

	cancelled, err := Cancel(s, "patient left", pickupNow)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelReason == "" {
		t.Error("cancel should be terminal with a reason")
	}

	if _, err := Cancel(cancelled, "again", pickupNow); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("cancelling a closed session err = %v, want ErrSessionClosed", err)
	}
	if _, err := ScanPrescription(cancelled, "b1", "tech-1", pickupNow); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("scanning a closed session err = %v, want ErrSessionClosed", err)
	}
}

func TestScanDoesNotMutateInput(t *testing.T) {
	s := sessionWith(t, []Prescription{simpleRx("b1")})

	next, err := ScanPrescription(s, "b1", "tech-1", pickupNow)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if s.Prescriptions[0].Scanned {
		t.Error("input session mutated by scan")
	}
	if !next.Prescriptions[0].Scanned {
		t.Error("returned session missing the scan")
	}
}
