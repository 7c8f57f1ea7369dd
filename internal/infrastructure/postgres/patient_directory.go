package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/pickup"
)

// PatientRepository backs pickup search with the pharmacy patient store.
// The query narrows on date of birth and name prefixes; final scoring and
// ordering happen in the pickup domain so ranking stays testable without
// a database.
type PatientRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPatientRepository creates a patient directory repository.
func NewPatientRepository(pool *pgxpool.Pool, logger *zap.Logger) *PatientRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatientRepository{pool: pool, logger: logger}
}

// FindCandidates returns patients plausibly matching the criteria. The
// result is a candidate pool, not a ranked answer.
func (r *PatientRepository) FindCandidates(ctx context.Context, criteria pickup.SearchCriteria) ([]pickup.Patient, error) {
	var (
		where []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if criteria.DOB != nil {
		where = append(where, "dob = "+arg(*criteria.DOB))
	}
	if first := strings.TrimSpace(criteria.FirstName); first != "" {
		where = append(where, "first_name ILIKE "+arg(first+"%"))
	}
	if last := strings.TrimSpace(criteria.LastName); last != "" {
		where = append(where, "last_name ILIKE "+arg(last+"%"))
	}
	if criteria.Phone != "" {
		where = append(where, "phone LIKE "+arg("%"+criteria.Phone+"%"))
	}

	query := "SELECT id, first_name, last_name, dob, phone FROM patients"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " LIMIT 50"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patient search failed: %w", err)
	}
	defer rows.Close()

	var patients []pickup.Patient
	for rows.Next() {
		var p pickup.Patient
		var phone *string
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DOB, &phone); err != nil {
			return nil, fmt.Errorf("scan patient failed: %w", err)
		}
		if phone != nil {
			p.Phone = *phone
		}
		patients = append(patients, p)
	}

	return patients, rows.Err()
}

// ReadyPrescriptions returns the patient's fills waiting in READY state,
// joined to their will-call bin.
func (r *PatientRepository) ReadyPrescriptions(ctx context.Context, patientID string) ([]pickup.Prescription, error) {
	query := `
		SELECT f.rx_number, f.barcode, f.drug_name, f.copay_cents,
		       f.controlled, f.requires_signature, f.requires_id, f.requires_counseling
		FROM fills f
		WHERE f.patient_id = $1
		  AND f.state = 'READY'
		ORDER BY f.rx_number
	`

	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("ready prescriptions query failed: %w", err)
	}
	defer rows.Close()

	var rxs []pickup.Prescription
	for rows.Next() {
		var rx pickup.Prescription
		if err := rows.Scan(
			&rx.RxNumber, &rx.Barcode, &rx.DrugName, &rx.CopayCents,
			&rx.Controlled, &rx.RequiresSignature, &rx.RequiresID, &rx.RequiresCounseling,
		); err != nil {
			return nil, fmt.Errorf("scan prescription failed: %w", err)
		}
		rxs = append(rxs, rx)
	}

	return rxs, rows.Err()
}
