// Package verification implements the pharmacist product-verification
// sub-workflow that gates the FILLING to READY transition.
package verification

import (
	"bytes"
	"fmt"
)

// Check is a tri-state checklist value. NotApplicable marks checkpoints
// that do not apply to the fill (controlled-substance checks on a
// non-controlled drug), which is distinct from Pending (not yet done).
type Check int8

const (
	CheckNotApplicable Check = iota
	CheckPending
	CheckDone
)

// Applicable reports whether the checkpoint applies to this fill.
func (c Check) Applicable() bool { return c != CheckNotApplicable }

// Done reports whether the checkpoint has been completed.
func (c Check) Done() bool { return c == CheckDone }

// MarshalJSON encodes the tri-state as null / false / true, matching the
// wire contract used by the verification UI.
func (c Check) MarshalJSON() ([]byte, error) {
	switch c {
	case CheckNotApplicable:
		return []byte("null"), nil
	case CheckDone:
		return []byte("true"), nil
	default:
		return []byte("false"), nil
	}
}

// UnmarshalJSON decodes null / false / true into the tri-state.
func (c *Check) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = CheckNotApplicable
	case bytes.Equal(data, []byte("true")):
		*c = CheckDone
	case bytes.Equal(data, []byte("false")):
		*c = CheckPending
	default:
		return fmt.Errorf("invalid check value: %s", data)
	}
	return nil
}

// Checklist is the fixed set of verification checkpoints. The three
// controlled-substance fields are NotApplicable unless the fill is a
// controlled substance.
type Checklist struct {
	// Patient match
	PatientVerified  Check `json:"patientVerified"`
	AllergiesChecked Check `json:"allergiesChecked"`

	// Drug match
	DrugNameVerified   Check `json:"drugNameVerified"`
	StrengthVerified   Check `json:"strengthVerified"`
	DosageFormVerified Check `json:"dosageFormVerified"`
	QuantityVerified   Check `json:"quantityVerified"`
	NDCVerified        Check `json:"ndcVerified"`

	// DUR clearance
	DURAlertsResolved   Check `json:"durAlertsResolved"`
	InteractionsChecked Check `json:"interactionsChecked"`

	// Physical product
	LabelAccurate     Check `json:"labelAccurate"`
	ExpirationChecked Check `json:"expirationChecked"`
	LotNumberRecorded Check `json:"lotNumberRecorded"`
	AuxLabelsApplied  Check `json:"auxLabelsApplied"`

	// Controlled substance gates
	DEAScheduleVerified Check `json:"deaScheduleVerified"`
	PDMPReviewed        Check `json:"pdmpReviewed"`
	IDRequirementNoted  Check `json:"idRequirementNoted"`
}

// checklistField describes one checkpoint for evaluation and display.
type checklistField struct {
	key        string
	label      string
	optional   bool
	controlled bool
	get        func(*Checklist) Check
	set        func(*Checklist, Check)
}

// checklistFields is the exhaustive checkpoint table. Adding a field to
// Checklist requires an entry here; EvaluateChecklist and SetCheck both
// walk this table.
var checklistFields = []checklistField{
	{key: "patientVerified", label: "Patient identity verified",
		get: func(c *Checklist) Check { return c.PatientVerified },
		set: func(c *Checklist, v Check) { c.PatientVerified = v }},
	{key: "allergiesChecked", label: "Patient allergies checked",
		get: func(c *Checklist) Check { return c.AllergiesChecked },
		set: func(c *Checklist, v Check) { c.AllergiesChecked = v }},
	{key: "drugNameVerified", label: "Drug name verified",
		get: func(c *Checklist) Check { return c.DrugNameVerified },
		set: func(c *Checklist, v Check) { c.DrugNameVerified = v }},
	{key: "strengthVerified", label: "Strength verified",
		get: func(c *Checklist) Check { return c.StrengthVerified },
		set: func(c *Checklist, v Check) { c.StrengthVerified = v }},
	{key: "dosageFormVerified", label: "Dosage form verified",
		get: func(c *Checklist) Check { return c.DosageFormVerified },
		set: func(c *Checklist, v Check) { c.DosageFormVerified = v }},
	{key: "quantityVerified", label: "Quantity verified",
		get: func(c *Checklist) Check { return c.QuantityVerified },
		set: func(c *Checklist, v Check) { c.QuantityVerified = v }},
	{key: "ndcVerified", label: "NDC verified",
		get: func(c *Checklist) Check { return c.NDCVerified },
		set: func(c *Checklist, v Check) { c.NDCVerified = v }},
	{key: "durAlertsResolved", label: "DUR alerts resolved",
		get: func(c *Checklist) Check { return c.DURAlertsResolved },
		set: func(c *Checklist, v Check) { c.DURAlertsResolved = v }},
	{key: "interactionsChecked", label: "Drug interactions checked",
		get: func(c *Checklist) Check { return c.InteractionsChecked },
		set: func(c *Checklist, v Check) { c.InteractionsChecked = v }},
	{key: "labelAccurate", label: "Label accurate",
		get: func(c *Checklist) Check { return c.LabelAccurate },
		set: func(c *Checklist, v Check) { c.LabelAccurate = v }},
	{key: "expirationChecked", label: "Expiration date checked",
		get: func(c *Checklist) Check { return c.ExpirationChecked },
		set: func(c *Checklist, v Check) { c.ExpirationChecked = v }},
	{key: "lotNumberRecorded", label: "Lot number recorded", optional: true,
		get: func(c *Checklist) Check { return c.LotNumberRecorded },
		set: func(c *Checklist, v Check) { c.LotNumberRecorded = v }},
	{key: "auxLabelsApplied", label: "Auxiliary labels applied", optional: true,
		get: func(c *Checklist) Check { return c.AuxLabelsApplied },
		set: func(c *Checklist, v Check) { c.AuxLabelsApplied = v }},
	{key: "deaScheduleVerified", label: "DEA schedule verified", controlled: true,
		get: func(c *Checklist) Check { return c.DEAScheduleVerified },
		set: func(c *Checklist, v Check) { c.DEAScheduleVerified = v }},
	{key: "pdmpReviewed", label: "PDMP reviewed", controlled: true,
		get: func(c *Checklist) Check { return c.PDMPReviewed },
		set: func(c *Checklist, v Check) { c.PDMPReviewed = v }},
	{key: "idRequirementNoted", label: "ID requirement noted", controlled: true,
		get: func(c *Checklist) Check { return c.IDRequirementNoted },
		set: func(c *Checklist, v Check) { c.IDRequirementNoted = v }},
}

// NewChecklist builds a checklist with every applicable checkpoint
// Pending. Controlled-substance checkpoints start NotApplicable for a
// non-controlled fill.
func NewChecklist(controlled bool) Checklist {
	var cl Checklist
	for _, f := range checklistFields {
		if f.controlled && !controlled {
			f.set(&cl, CheckNotApplicable)
		} else {
			f.set(&cl, CheckPending)
		}
	}
	return cl
}

// SetCheck returns a copy of the checklist with the named checkpoint
// updated. Unknown keys and NotApplicable checkpoints are rejected.
func SetCheck(cl Checklist, key string, done bool) (Checklist, error) {
	for _, f := range checklistFields {
		if f.key != key {
			continue
		}
		if !f.get(&cl).Applicable() {
			return cl, fmt.Errorf("checkpoint %s is not applicable to this fill", key)
		}
		value := CheckPending
		if done {
			value = CheckDone
		}
		f.set(&cl, value)
		return cl, nil
	}
	return cl, fmt.Errorf("unknown checkpoint: %s", key)
}

// ChecklistReport is the outcome of evaluating a checklist.
type ChecklistReport struct {
	Complete       bool     `json:"complete"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	CompletedCount int      `json:"completed_count"`
	TotalCount     int      `json:"total_count"`
}

// EvaluateOptions tunes checklist evaluation.
type EvaluateOptions struct {
	// SkipPDMP exempts the PDMP review checkpoint, for states without a
	// PDMP mandate.
	SkipPDMP bool
}

// EvaluateChecklist reports completeness. Required pending checkpoints
// produce errors, optional pending checkpoints produce warnings, and
// NotApplicable checkpoints contribute nothing. The controlled-substance
// checkpoints are always errors when pending, a hard regulatory gate.
func EvaluateChecklist(cl Checklist, opts EvaluateOptions) ChecklistReport {
	report := ChecklistReport{Errors: []string{}, Warnings: []string{}}

	for _, f := range checklistFields {
		value := f.get(&cl)
		if !value.Applicable() {
			continue
		}
		if f.key == "pdmpReviewed" && opts.SkipPDMP {
			continue
		}

		report.TotalCount++
		if value.Done() {
			report.CompletedCount++
			continue
		}

		msg := fmt.Sprintf("%s is not complete", f.label)
		if f.optional {
			report.Warnings = append(report.Warnings, msg)
		} else {
			report.Errors = append(report.Errors, msg)
		}
	}

	report.Complete = len(report.Errors) == 0
	return report
}
