package verification

import (
	"encoding/json"
	"strings"
	"testing"
)

func completeChecklist(t *testing.T, cl Checklist) Checklist {
	t.Helper()
	for _, f := range checklistFields {
		if f.get(&cl).Applicable() {
			f.set(&cl, CheckDone)
		}
	}
	return cl
}

func TestNewChecklistControlledFields(t *testing.T) {
	plain := NewChecklist(false)
	if plain.DEAScheduleVerified.Applicable() || plain.PDMPReviewed.Applicable() || plain.IDRequirementNoted.Applicable() {
		t.Error("controlled checkpoints should be not-applicable for a non-controlled fill")
	}

	controlled := NewChecklist(true)
	if !controlled.DEAScheduleVerified.Applicable() || controlled.DEAScheduleVerified.Done() {
		t.Error("controlled checkpoints should start pending for a controlled fill")
	}
}

func TestEvaluateChecklistPendingRequired(t *testing.T) {
	cl := completeChecklist(t, NewChecklist(false))
	cl.DrugNameVerified = CheckPending

	report := EvaluateChecklist(cl, EvaluateOptions{})
	if report.Complete {
		t.Error("pending required checkpoint should block completion")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "Drug name") {
		t.Errorf("errors = %v, want one naming the drug name checkpoint", report.Errors)
	}
}

func TestEvaluateChecklistOptionalProducesWarning(t *testing.T) {
	cl := completeChecklist(t, NewChecklist(false))
	cl.LotNumberRecorded = CheckPending
	cl.AuxLabelsApplied = CheckPending

	report := EvaluateChecklist(cl, EvaluateOptions{})
	if !report.Complete {
		t.Errorf("optional checkpoints must not block: %v", report.Errors)
	}
	if len(report.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", report.Warnings)
	}
}

func TestEvaluateChecklistControlledGates(t *testing.T) {
	cl := completeChecklist(t, NewChecklist(true))
	cl.DEAScheduleVerified = CheckPending
	cl.PDMPReviewed = CheckPending

	report := EvaluateChecklist(cl, EvaluateOptions{})
	if report.Complete {
		t.Error("pending controlled gates are hard errors")
	}
	if len(report.Errors) != 2 {
		t.Errorf("errors = %v, want 2", report.Errors)
	}

	skipped := EvaluateChecklist(cl, EvaluateOptions{SkipPDMP: true})
	if len(skipped.Errors) != 1 {
		t.Errorf("errors with skipPdmp = %v, want only the DEA schedule error", skipped.Errors)
	}
}

func TestEvaluateChecklistNotApplicableIsSilent(t *testing.T) {
	cl := completeChecklist(t, NewChecklist(false))

	report := EvaluateChecklist(cl, EvaluateOptions{})
	if !report.Complete || len(report.Errors) != 0 || len(report.Warnings) != 0 {
		t.Errorf("not-applicable checkpoints must contribute nothing: %+v", report)
	}
	if report.CompletedCount != report.TotalCount {
		t.Errorf("counts %d/%d should match", report.CompletedCount, report.TotalCount)
	}

	// The three controlled checkpoints are excluded from the totals.
	controlled := EvaluateChecklist(completeChecklist(t, NewChecklist(true)), EvaluateOptions{})
	if controlled.TotalCount != report.TotalCount+3 {
		t.Errorf("controlled total = %d, want %d", controlled.TotalCount, report.TotalCount+3)
	}
}

func TestSetCheck(t *testing.T) {
	cl := NewChecklist(false)

	updated, err := SetCheck(cl, "patientVerified", true)
	if err != nil {
		t.Fatalf("SetCheck failed: %v", err)
	}
	if !updated.PatientVerified.Done() {
		t.Error("checkpoint not updated")
	}
	if cl.PatientVerified.Done() {
		t.Error("SetCheck mutated its input")
	}

	if _, err := SetCheck(cl, "pdmpReviewed", true); err == nil {
		t.Error("setting a not-applicable checkpoint should fail")
	}
	if _, err := SetCheck(cl, "nope", true); err == nil {
		t.Error("unknown checkpoint should fail")
	}
}

func TestCheckJSONTriState(t *testing.T) {
	cl := NewChecklist(false)
	cl.PatientVerified = CheckDone

	data, err := json.Marshal(cl)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"patientVerified":true`) {
		t.Errorf("done checkpoint should encode as true: %s", s)
	}
	if !strings.Contains(s, `"drugNameVerified":false`) {
		t.Errorf("pending checkpoint should encode as false: %s", s)
	}
	if !strings.Contains(s, `"pdmpReviewed":null`) {
		t.Errorf("not-applicable checkpoint should encode as null: %s", s)
	}

	var back Checklist
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != cl {
		t.Error("checklist did not survive a JSON round trip")
	}
}
