package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/pickup"
	"github.com/pharmetrix/go-rxops/internal/domain/verification"
)

// ErrSessionActive indicates another in-progress verification session
// already exists for the fill. Enforced by a partial unique index on
// (fill_id) WHERE status = 'in_progress'.
var ErrSessionActive = errors.New("an in-progress verification session already exists for this fill")

const uniqueViolation = "23505"

// VerificationRepository persists verification sessions. The session
// document is stored as JSONB; fill and status are lifted into columns
// for the uniqueness constraint and queue queries.
type VerificationRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewVerificationRepository creates a verification session repository.
func NewVerificationRepository(pool *pgxpool.Pool, logger *zap.Logger) *VerificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationRepository{pool: pool, logger: logger}
}

// Create inserts a new session, rejecting a second in-progress session
// for the same fill.
func (r *VerificationRepository) Create(ctx context.Context, s verification.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
		INSERT INTO verification_sessions (id, fill_id, workflow_item_id, pharmacist_id, status, document, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		s.ID, s.FillID, s.WorkflowItemID, s.PharmacistID, s.Status, doc, s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSessionActive
		}
		return fmt.Errorf("insert verification session: %w", err)
	}
	return nil
}

// Save replaces the stored session document.
func (r *VerificationRepository) Save(ctx context.Context, s verification.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
		UPDATE verification_sessions
		SET status = $1, document = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	tag, err := r.pool.Exec(ctx, query, s.Status, doc, s.CompletedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update verification session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("verification session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// Get loads a session by ID.
func (r *VerificationRepository) Get(ctx context.Context, id string) (verification.Session, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		"SELECT document FROM verification_sessions WHERE id = $1", id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return verification.Session{}, fmt.Errorf("verification session %s: %w", id, ErrNotFound)
		}
		return verification.Session{}, fmt.Errorf("load verification session: %w", err)
	}

	var s verification.Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return verification.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return s, nil
}

// PickupRepository persists pickup sessions as JSONB documents.
type PickupRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPickupRepository creates a pickup session repository.
func NewPickupRepository(pool *pgxpool.Pool, logger *zap.Logger) *PickupRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PickupRepository{pool: pool, logger: logger}
}

// Create inserts a new pickup session.
func (r *PickupRepository) Create(ctx context.Context, s pickup.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
		INSERT INTO pickup_sessions (id, status, document, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, s.ID, s.Status, doc, s.CreatedAt); err != nil {
		return fmt.Errorf("insert pickup session: %w", err)
	}
	return nil
}

// Save replaces the stored session document.
func (r *PickupRepository) Save(ctx context.Context, s pickup.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
		UPDATE pickup_sessions
		SET status = $1, document = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	tag, err := r.pool.Exec(ctx, query, s.Status, doc, s.CompletedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update pickup session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pickup session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// Get loads a session by ID.
func (r *PickupRepository) Get(ctx context.Context, id string) (pickup.Session, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		"SELECT document FROM pickup_sessions WHERE id = $1", id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pickup.Session{}, fmt.Errorf("pickup session %s: %w", id, ErrNotFound)
		}
		return pickup.Session{}, fmt.Errorf("load pickup session: %w", err)
	}

	var s pickup.Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return pickup.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return s, nil
}
