// Package postgres provides PostgreSQL persistence for workflow state,
// verification and pickup sessions, will-call bins, and the
// transactional outbox that feeds the event stream.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/workflow"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConcurrentModification indicates a stale-version write. The caller
// should reload the item and retry the operation against fresh state.
var ErrConcurrentModification = errors.New("workflow item was modified concurrently")

// ItemRepository persists workflow items with compare-and-swap writes.
// State changes are stored in an append-only audit table alongside the
// item row; both are written in one transaction with the outbox entry.
type ItemRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewItemRepository creates an item repository.
func NewItemRepository(pool *pgxpool.Pool, logger *zap.Logger) *ItemRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemRepository{pool: pool, logger: logger}
}

// Create inserts a new item and its creation audit record.
func (r *ItemRepository) Create(ctx context.Context, item workflow.Item, event *OutboxEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO workflow_items
		(id, prescription_id, rx_number, patient_name, drug_name, state, priority,
		 promise_time, assigned_to, on_hold, hold_reason, controlled, dea_schedule,
		 dur_alert_count, insurance_issue, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = tx.Exec(ctx, query,
		item.ID, item.PrescriptionID, item.RxNumber, item.PatientName, item.DrugName,
		item.State, item.Priority, item.PromiseTime, item.AssignedTo,
		item.OnHold, item.HoldReason, item.Controlled, item.DEASchedule,
		item.DURAlertCount, item.InsuranceIssue, item.Version,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	for _, change := range item.StateHistory {
		if err := insertStateChange(ctx, tx, item.ID, change); err != nil {
			return err
		}
	}

	if event != nil {
		if err := WriteEntry(ctx, tx, event); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Save writes an updated item guarded by its previous version. The new
// audit record (if the update was a transition) and the outbox entry
// land in the same transaction, so the event stream can never diverge
// from stored state.
func (r *ItemRepository) Save(ctx context.Context, item workflow.Item, change *workflow.StateChange, event *OutboxEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE workflow_items
		SET state = $1, priority = $2, promise_time = $3, assigned_to = $4,
		    on_hold = $5, hold_reason = $6, dur_alert_count = $7,
		    insurance_issue = $8, version = $9, updated_at = $10
		WHERE id = $11 AND version = $12
	`
	tag, err := tx.Exec(ctx, query,
		item.State, item.Priority, item.PromiseTime, item.AssignedTo,
		item.OnHold, item.HoldReason, item.DURAlertCount,
		item.InsuranceIssue, item.Version, item.UpdatedAt,
		item.ID, item.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}

	if change != nil {
		if err := insertStateChange(ctx, tx, item.ID, *change); err != nil {
			return err
		}
	}

	if event != nil {
		if err := WriteEntry(ctx, tx, event); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertStateChange(ctx context.Context, tx pgx.Tx, itemID string, change workflow.StateChange) error {
	query := `
		INSERT INTO workflow_state_changes
		(id, item_id, from_state, to_state, actor_id, actor_name, changed_at, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Exec(ctx, query,
		change.ID, itemID, change.FromState, change.ToState,
		change.ActorID, change.ActorName, change.Timestamp,
		change.Reason, change.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}
	return nil
}

const itemColumns = `
	id, prescription_id, rx_number, patient_name, drug_name, state, priority,
	promise_time, assigned_to, on_hold, hold_reason, controlled, dea_schedule,
	dur_alert_count, insurance_issue, version, created_at, updated_at
`

// Get loads an item and its full audit history.
func (r *ItemRepository) Get(ctx context.Context, id string) (workflow.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM workflow_items WHERE id = $1`

	item, err := scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return workflow.Item{}, fmt.Errorf("workflow item %s: %w", id, ErrNotFound)
		}
		return workflow.Item{}, fmt.Errorf("load item: %w", err)
	}

	history, err := r.loadHistory(ctx, id)
	if err != nil {
		return workflow.Item{}, err
	}
	item.StateHistory = history
	return item, nil
}

// ListActive returns all items not in a terminal state, for queue views.
func (r *ItemRepository) ListActive(ctx context.Context) ([]workflow.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM workflow_items
		WHERE state NOT IN ($1, $2, $3)
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query,
		workflow.StateSold, workflow.StateDelivered, workflow.StateCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("list active items: %w", err)
	}
	defer rows.Close()

	var items []workflow.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *ItemRepository) loadHistory(ctx context.Context, itemID string) ([]workflow.StateChange, error) {
	query := `
		SELECT id, from_state, to_state, actor_id, actor_name, changed_at, reason, notes
		FROM workflow_state_changes
		WHERE item_id = $1
		ORDER BY changed_at ASC
	`

	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []workflow.StateChange
	for rows.Next() {
		var c workflow.StateChange
		err := rows.Scan(&c.ID, &c.FromState, &c.ToState,
			&c.ActorID, &c.ActorName, &c.Timestamp, &c.Reason, &c.Notes)
		if err != nil {
			return nil, fmt.Errorf("scan state change: %w", err)
		}
		history = append(history, c)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (workflow.Item, error) {
	var item workflow.Item
	err := row.Scan(
		&item.ID, &item.PrescriptionID, &item.RxNumber, &item.PatientName, &item.DrugName,
		&item.State, &item.Priority, &item.PromiseTime, &item.AssignedTo,
		&item.OnHold, &item.HoldReason, &item.Controlled, &item.DEASchedule,
		&item.DURAlertCount, &item.InsuranceIssue, &item.Version,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

// TransitionEvent is the outbox payload for an applied transition.
type TransitionEvent struct {
	ItemID         string          `json:"item_id"`
	PrescriptionID string          `json:"prescription_id"`
	RxNumber       string          `json:"rx_number"`
	FromState      *workflow.State `json:"from_state,omitempty"`
	ToState        workflow.State  `json:"to_state"`
	ActorID        string          `json:"actor_id"`
	Reason         string          `json:"reason,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewTransitionEntry builds the outbox entry for a transition.
func NewTransitionEntry(item workflow.Item, change workflow.StateChange, topic string) (*OutboxEntry, error) {
	payload, err := json.Marshal(TransitionEvent{
		ItemID:         item.ID,
		PrescriptionID: item.PrescriptionID,
		RxNumber:       item.RxNumber,
		FromState:      change.FromState,
		ToState:        change.ToState,
		ActorID:        change.ActorID,
		Reason:         change.Reason,
		OccurredAt:     change.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transition event: %w", err)
	}

	return &OutboxEntry{
		AggregateID:   item.ID,
		AggregateType: "workflow_item",
		EventType:     "workflow.transition." + string(change.ToState),
		Payload:       payload,
		Topic:         topic,
		Key:           item.ID,
	}, nil
}
