package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/willcall"
)

// BinRepository persists will-call bins for the expiration sweeper.
type BinRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewBinRepository creates a will-call bin repository.
func NewBinRepository(pool *pgxpool.Pool, logger *zap.Logger) *BinRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BinRepository{pool: pool, logger: logger}
}

const binColumns = `
	id, rx_number, patient_name, drug_name, bin_location,
	placed_at, return_to_stock_date, insurance_reversed, reversed_at, reminder_sent_at
`

// Create inserts a bin when a fill lands in will-call.
func (r *BinRepository) Create(ctx context.Context, bin willcall.Bin) error {
	query := `
		INSERT INTO willcall_bins
		(id, rx_number, patient_name, drug_name, bin_location,
		 placed_at, return_to_stock_date, insurance_reversed, reversed_at, reminder_sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		bin.ID, bin.RxNumber, bin.PatientName, bin.DrugName, bin.BinLocation,
		bin.PlacedAt, bin.ReturnToStockDate, bin.InsuranceReversed, bin.ReversedAt, bin.ReminderSentAt)
	if err != nil {
		return fmt.Errorf("insert will-call bin: %w", err)
	}
	return nil
}

// Get loads one bin by ID.
func (r *BinRepository) Get(ctx context.Context, id string) (willcall.Bin, error) {
	query := `SELECT ` + binColumns + ` FROM willcall_bins WHERE id = $1`

	bin, err := scanBin(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return willcall.Bin{}, fmt.Errorf("will-call bin %s: %w", id, ErrNotFound)
		}
		return willcall.Bin{}, fmt.Errorf("load will-call bin: %w", err)
	}
	return bin, nil
}

// ListOpen returns every bin not yet removed from will-call, for the
// sweep. Derived day counters are left zero; the sweeper recomputes
// them against its own clock.
func (r *BinRepository) ListOpen(ctx context.Context) ([]willcall.Bin, error) {
	query := `SELECT ` + binColumns + ` FROM willcall_bins WHERE removed_at IS NULL ORDER BY placed_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list will-call bins: %w", err)
	}
	defer rows.Close()

	var bins []willcall.Bin
	for rows.Next() {
		bin, err := scanBin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan will-call bin: %w", err)
		}
		bins = append(bins, bin)
	}
	return bins, rows.Err()
}

// MarkReversed records the insurance reversal. The WHERE clause makes
// the flag single-shot at the storage layer too; a concurrent sweep
// that lost the race gets ErrAlreadyReversed.
func (r *BinRepository) MarkReversed(ctx context.Context, bin willcall.Bin) error {
	query := `
		UPDATE willcall_bins
		SET insurance_reversed = TRUE, reversed_at = $1
		WHERE id = $2 AND insurance_reversed = FALSE
	`
	tag, err := r.pool.Exec(ctx, query, bin.ReversedAt, bin.ID)
	if err != nil {
		return fmt.Errorf("mark bin reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return willcall.ErrAlreadyReversed
	}
	return nil
}

// MarkReminderSent records the reminder timestamp.
func (r *BinRepository) MarkReminderSent(ctx context.Context, bin willcall.Bin) error {
	query := `UPDATE willcall_bins SET reminder_sent_at = $1 WHERE id = $2`
	if _, err := r.pool.Exec(ctx, query, bin.ReminderSentAt, bin.ID); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// Remove closes out a bin after pickup or return to stock.
func (r *BinRepository) Remove(ctx context.Context, id string) error {
	query := `UPDATE willcall_bins SET removed_at = NOW() WHERE id = $1 AND removed_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("remove will-call bin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("will-call bin %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanBin(row rowScanner) (willcall.Bin, error) {
	var bin willcall.Bin
	err := row.Scan(
		&bin.ID, &bin.RxNumber, &bin.PatientName, &bin.DrugName, &bin.BinLocation,
		&bin.PlacedAt, &bin.ReturnToStockDate, &bin.InsuranceReversed,
		&bin.ReversedAt, &bin.ReminderSentAt,
	)
	return bin, err
}
