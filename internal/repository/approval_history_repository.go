package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// ApprovalHistoryRepository appends and reads immutable approval history.
// The table has an update/delete-prevention trigger so Append is the only
// mutation exposed.
type ApprovalHistoryRepository struct {
	db *database.DB
}

// NewApprovalHistoryRepository creates a new ApprovalHistoryRepository.
func NewApprovalHistoryRepository(db *database.DB) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{db: db}
}

// Append inserts one history entry and fills in its id, seq and timestamp.
func (r *ApprovalHistoryRepository) Append(ctx context.Context, entry *ApprovalHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO approval_history
		    (id, approval_record_id, step_order, actor_id, action, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq, action_at`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.ApprovalRecordID,
		entry.StepOrder,
		entry.ActorID,
		string(entry.Action),
		entry.Comment,
	).Scan(&entry.Seq, &entry.ActionAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

// ListByRecord returns a record's history ordered by step, then time.
func (r *ApprovalHistoryRepository) ListByRecord(ctx context.Context, recordID string) ([]*ApprovalHistoryEntry, error) {
	query := `
		SELECT id::text, approval_record_id::text, step_order,
		       actor_id, action, comment, action_at, seq
		FROM approval_history
		WHERE approval_record_id = $1
		ORDER BY step_order ASC, action_at ASC, seq ASC`

	rows, err := r.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	var entries []*ApprovalHistoryEntry
	for rows.Next() {
		entry := &ApprovalHistoryEntry{}
		var action string
		err := rows.Scan(
			&entry.ID,
			&entry.ApprovalRecordID,
			&entry.StepOrder,
			&entry.ActorID,
			&action,
			&entry.Comment,
			&entry.ActionAt,
			&entry.Seq,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval history")
		}
		entry.Action = Action(action)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
