package verification

import (
	"errors"
	"testing"
	"time"
)

func newTestSession() Session {
	return NewSession("fill-1", "item-1", "ph-1", "00071-0155-23",
		false, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
}

func TestNewSessionStartsInProgress(t *testing.T) {
	s := newTestSession()
	if s.Status != SessionInProgress {
		t.Errorf("status = %s, want in_progress", s.Status)
	}
	if s.CompletedAt != nil {
		t.Error("new session should not be completed")
	}
}

func TestApplyCheckImmutable(t *testing.T) {
	s := newTestSession()

	next, err := ApplyCheck(s, "patientVerified", true)
	if err != nil {
		t.Fatalf("ApplyCheck failed: %v", err)
	}
	if !next.Checklist.PatientVerified.Done() {
		t.Error("checkpoint not applied")
	}
	if s.Checklist.PatientVerified.Done() {
		t.Error("ApplyCheck mutated its input")
	}
}

func TestRecordScanMatchChecksNDC(t *testing.T) {
	s := newTestSession()
	now := s.CreatedAt.Add(time.Minute)

	next, err := RecordScan(s, "00071-0155-23", false, now)
	if err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	if len(next.Scans) != 1 {
		t.Fatalf("scans = %d, want 1", len(next.Scans))
	}
	if !next.NDCMatched {
		t.Error("exact scan should set NDCMatched")
	}
	if !next.Checklist.NDCVerified.Done() {
		t.Error("matching scan should complete the NDC checkpoint")
	}
	if len(s.Scans) != 0 {
		t.Error("RecordScan mutated its input")
	}
}

func TestRecordScanMismatchIsKept(t *testing.T) {
	s := newTestSession()
	now := s.CreatedAt.Add(time.Minute)

	next, err := RecordScan(s, "55555-0155-23", false, now)
	if err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	if next.NDCMatched {
		t.Error("mismatched scan must not set NDCMatched")
	}
	if len(next.Scans) != 1 || next.Scans[0].Match.Err == "" {
		t.Error("mismatched scan should be recorded with its error")
	}
}

func TestAddOverrideRequiresReason(t *testing.T) {
	s := newTestSession()
	now := s.CreatedAt.Add(time.Minute)

	if _, err := AddOverride(s, "a1", "ph-1", "", now); err == nil {
		t.Error("override without reason should fail")
	}

	next, err := AddOverride(s, "a1", "ph-1", "prescriber confirmed dose", now)
	if err != nil {
		t.Fatalf("AddOverride failed: %v", err)
	}
	if len(next.Overrides) != 1 {
		t.Errorf("overrides = %d, want 1", len(next.Overrides))
	}
}

func TestCompleteDecisionMapping(t *testing.T) {
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	tests := []struct {
		decision Decision
		reason   string
		status   SessionStatus
	}{
		{DecisionApproved, "", SessionApproved},
		{DecisionRejected, "wrong strength dispensed", SessionRejected},
		{DecisionReturnedForRework, "", SessionReturned},
	}

	for _, tt := range tests {
		s := newTestSession()
		done, err := Complete(s, tt.decision, "", tt.reason, now)
		if err != nil {
			t.Fatalf("Complete(%s) failed: %v", tt.decision, err)
		}
		if done.Status != tt.status {
			t.Errorf("Complete(%s) status = %s, want %s", tt.decision, done.Status, tt.status)
		}
		if done.CompletedAt == nil {
			t.Error("completed session should carry a completion time")
		}
	}
}

func TestCompleteRejectedRequiresReason(t *testing.T) {
	s := newTestSession()
	_, err := Complete(s, DecisionRejected, "", "", s.CreatedAt)
	if !errors.Is(err, ErrRejectionReasonRequired) {
		t.Errorf("err = %v, want ErrRejectionReasonRequired", err)
	}
}

func TestCompleteIsOneShot(t *testing.T) {
	s := newTestSession()
	now := s.CreatedAt.Add(time.Minute)

	done, err := Complete(s, DecisionApproved, "all good", "", now)
	if err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}

	if _, err := Complete(done, DecisionApproved, "", "", now); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("second Complete err = %v, want ErrAlreadyCompleted", err)
	}
	if _, err := ApplyCheck(done, "patientVerified", true); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("ApplyCheck after completion err = %v, want ErrAlreadyCompleted", err)
	}
	if _, err := RecordScan(done, "00071-0155-23", false, now); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("RecordScan after completion err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestUnknownDecisionFails(t *testing.T) {
	s := newTestSession()
	if _, err := Complete(s, Decision("maybe"), "", "", s.CreatedAt); err == nil {
		t.Error("unknown decision should fail")
	}
}
