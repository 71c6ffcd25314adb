package repository

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// ApprovalRecordRepository persists approval cycles. Records are never
// deleted; every update is guarded by the record's version counter.
type ApprovalRecordRepository struct {
	db *database.DB
}

// NewApprovalRecordRepository creates a new ApprovalRecordRepository.
func NewApprovalRecordRepository(db *database.DB) *ApprovalRecordRepository {
	return &ApprovalRecordRepository{db: db}
}

const recordColumns = `
	id::text, entity_type, entity_id, workflow_id::text,
	current_step, status, initiator_id, previous_record_id::text,
	version, created_at, updated_at, completed_at`

// Create inserts a new record with version 1.
func (r *ApprovalRecordRepository) Create(ctx context.Context, rec *ApprovalRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Version = 1

	query := `
		INSERT INTO approval_records
		    (id, entity_type, entity_id, workflow_id,
		     current_step, status, initiator_id, previous_record_id, version)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID,
		string(rec.EntityType),
		rec.EntityID,
		rec.WorkflowID,
		rec.CurrentStep,
		rec.Status,
		rec.InitiatorID,
		rec.PreviousRecordID,
		rec.Version,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval record")
	}
	return nil
}

// GetByID retrieves a record by primary key.
func (r *ApprovalRecordRepository) GetByID(ctx context.Context, id string) (*ApprovalRecord, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves a record and row-locks it until the surrounding
// transaction ends.
func (r *ApprovalRecordRepository) GetForUpdate(ctx context.Context, id string) (*ApprovalRecord, error) {
	return r.get(ctx, id, true)
}

func (r *ApprovalRecordRepository) get(ctx context.Context, id string, lock bool) (*ApprovalRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("approval_record", id)
	}

	query := `SELECT ` + recordColumns + `
		FROM approval_records
		WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}

	rec, err := r.scanRecord(r.db.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval_record", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval record")
	}
	return rec, nil
}

// Update writes current_step, status and completed_at if the stored version
// still matches rec.Version, then bumps rec.Version. A stale version means
// another transaction got there first and yields a Conflict.
func (r *ApprovalRecordRepository) Update(ctx context.Context, rec *ApprovalRecord) error {
	query := `
		UPDATE approval_records
		SET current_step = $3,
		    status       = $4,
		    completed_at = $5,
		    version      = version + 1,
		    updated_at   = NOW()
		WHERE id = $1
		  AND version = $2
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID,
		rec.Version,
		rec.CurrentStep,
		rec.Status,
		rec.CompletedAt,
	).Scan(&rec.Version, &rec.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Conflict("approval record was modified concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval record")
	}
	return nil
}

// ListByEntity returns every approval cycle of an entity, newest first.
func (r *ApprovalRecordRepository) ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*ApprovalRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM approval_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`

	return r.list(ctx, query, string(entityType), entityID)
}

// ListPending returns all PENDING records, oldest first.
func (r *ApprovalRecordRepository) ListPending(ctx context.Context) ([]*ApprovalRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM approval_records
		WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC`

	return r.list(ctx, query)
}

func (r *ApprovalRecordRepository) list(ctx context.Context, query string, args ...any) ([]*ApprovalRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval records")
	}
	defer rows.Close()

	var records []*ApprovalRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ── scan helper ───────────────────────────────────────────────────────────────

func (r *ApprovalRecordRepository) scanRecord(row rowScanner) (*ApprovalRecord, error) {
	rec := &ApprovalRecord{}
	var entityType string
	err := row.Scan(
		&rec.ID,
		&entityType,
		&rec.EntityID,
		&rec.WorkflowID,
		&rec.CurrentStep,
		&rec.Status,
		&rec.InitiatorID,
		&rec.PreviousRecordID,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.EntityType = EntityType(entityType)
	return rec, nil
}
