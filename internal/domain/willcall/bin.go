// Package willcall implements the will-call bin lifecycle: time-driven
// expiration of dispensed-but-unpicked-up prescriptions and the
// classification of bins needing insurance reversal or patient reminders.
package willcall

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultReturnDays is the default window before an unclaimed fill is
// returned to stock.
const DefaultReturnDays = 10

// ErrAlreadyReversed guards the single-shot insurance reversal flag.
var ErrAlreadyReversed = errors.New("will-call bin already reversed")

// Bin is one dispensed prescription waiting in a physical will-call bin.
// DaysInBin and DaysUntilReturn are derived from PlacedAt and
// ReturnToStockDate; the timestamps are the only ground truth.
type Bin struct {
	ID                string     `json:"id"`
	RxNumber          string     `json:"rx_number"`
	PatientName       string     `json:"patient_name"`
	DrugName          string     `json:"drug_name"`
	BinLocation       string     `json:"bin_location"`
	PlacedAt          time.Time  `json:"placed_at"`
	ReturnToStockDate time.Time  `json:"return_to_stock_date"`
	DaysInBin         int        `json:"days_in_bin"`
	DaysUntilReturn   int        `json:"days_until_return"`
	InsuranceReversed bool       `json:"insurance_reversed"`
	ReversedAt        *time.Time `json:"reversed_at,omitempty"`
	ReminderSentAt    *time.Time `json:"reminder_sent_at,omitempty"`
}

// NewBin places a fill into will-call. returnDays of zero applies the
// default window.
func NewBin(rxNumber, patientName, drugName, location string, placedAt time.Time, returnDays int) Bin {
	if returnDays <= 0 {
		returnDays = DefaultReturnDays
	}
	placedAt = placedAt.UTC()
	return Bin{
		ID:                uuid.New().String(),
		RxNumber:          rxNumber,
		PatientName:       patientName,
		DrugName:          drugName,
		BinLocation:       location,
		PlacedAt:          placedAt,
		ReturnToStockDate: placedAt.AddDate(0, 0, returnDays),
	}
}

// UpdateDays returns a copy of the bin with the derived day counters
// recomputed against now.
func UpdateDays(bin Bin, now time.Time) Bin {
	next := bin
	next.DaysInBin = int(math.Floor(now.Sub(bin.PlacedAt).Hours() / 24))
	remaining := int(math.Ceil(bin.ReturnToStockDate.Sub(now).Hours() / 24))
	if remaining < 0 {
		remaining = 0
	}
	next.DaysUntilReturn = remaining
	return next
}

// ReadyForReturn returns the bins at or past their return-to-stock date
// that have not yet been reversed.
func ReadyForReturn(bins []Bin, now time.Time) []Bin {
	var due []Bin
	for _, bin := range bins {
		updated := UpdateDays(bin, now)
		if updated.DaysUntilReturn == 0 && !updated.InsuranceReversed {
			due = append(due, updated)
		}
	}
	return due
}

// ExpirationOptions tunes the expiration sweep.
type ExpirationOptions struct {
	SendReminders      bool
	ReminderDaysBefore int
}

// DefaultExpirationOptions reminds patients three days before return.
func DefaultExpirationOptions() ExpirationOptions {
	return ExpirationOptions{SendReminders: true, ReminderDaysBefore: 3}
}

// ExpirationActions classifies bins needing action. The actual reversal
// and notification side effects belong to the payment and messaging
// collaborators; this pass only decides which bins need what.
type ExpirationActions struct {
	ToReverse []Bin
	ToNotify  []Bin
}

// ProcessExpiration classifies each bin: due for insurance reversal when
// the return window has elapsed and the bin is not yet reversed, due for
// a reminder when within the reminder window and none has been sent.
// The reminder trigger is a window, not an exact-day match, so a sweep
// that skips a day cannot silently skip the reminder; ReminderSentAt
// prevents repeats.
func ProcessExpiration(bins []Bin, opts ExpirationOptions, now time.Time) ExpirationActions {
	if opts.ReminderDaysBefore <= 0 {
		opts.ReminderDaysBefore = DefaultExpirationOptions().ReminderDaysBefore
	}

	var actions ExpirationActions
	for _, bin := range bins {
		updated := UpdateDays(bin, now)

		if updated.DaysUntilReturn == 0 && !updated.InsuranceReversed {
			actions.ToReverse = append(actions.ToReverse, updated)
			continue
		}

		if opts.SendReminders &&
			updated.DaysUntilReturn > 0 &&
			updated.DaysUntilReturn <= opts.ReminderDaysBefore &&
			updated.ReminderSentAt == nil {
			actions.ToNotify = append(actions.ToNotify, updated)
		}
	}
	return actions
}

// MarkReversed sets the single-shot insurance reversal flag.
func MarkReversed(bin Bin, now time.Time) (Bin, error) {
	if bin.InsuranceReversed {
		return bin, ErrAlreadyReversed
	}
	reversedAt := now.UTC()
	next := bin
	next.InsuranceReversed = true
	next.ReversedAt = &reversedAt
	return next, nil
}

// MarkReminderSent records that the pickup reminder went out.
func MarkReminderSent(bin Bin, now time.Time) Bin {
	sentAt := now.UTC()
	next := bin
	next.ReminderSentAt = &sentAt
	return next
}
