package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// entityTables maps each entity type to the table holding its approval
// back-reference. Table names never come from callers.
var entityTables = map[EntityType]string{
	EntityTypeProject:  "projects",
	EntityTypeContract: "contracts",
	EntityTypeQuote:    "quotes",
	EntityTypeInvoice:  "invoices",
}

// EntityRepository reads and updates the approval back-reference
// (approval_status, approval_record_id) of one entity type.
type EntityRepository struct {
	db         *database.DB
	entityType EntityType
	table      string
}

// NewEntityRepository creates an EntityRepository for entityType.
func NewEntityRepository(db *database.DB, entityType EntityType) (*EntityRepository, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return nil, fmt.Errorf("no table registered for entity type %q", entityType)
	}
	return &EntityRepository{db: db, entityType: entityType, table: table}, nil
}

// Type returns the entity type served by this repository.
func (r *EntityRepository) Type() EntityType {
	return r.entityType
}

// Get retrieves an entity's approval view.
func (r *EntityRepository) Get(ctx context.Context, id string) (*Entity, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves an entity and row-locks it for the surrounding transaction.
func (r *EntityRepository) GetForUpdate(ctx context.Context, id string) (*Entity, error) {
	return r.get(ctx, id, true)
}

func (r *EntityRepository) get(ctx context.Context, id string, lock bool) (*Entity, error) {
	query := fmt.Sprintf(`
		SELECT id, name, approval_status, approval_record_id::text
		FROM %s
		WHERE id = $1`, r.table)
	if lock {
		query += " FOR UPDATE"
	}

	e := &Entity{Type: r.entityType}
	err := r.db.QueryRow(ctx, query, id).Scan(&e.ID, &e.Name, &e.ApprovalStatus, &e.ApprovalRecordID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound(strings.ToLower(string(r.entityType)), id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get entity")
	}
	return e, nil
}

// UpdateApproval persists the entity's approval status and record link.
func (r *EntityRepository) UpdateApproval(ctx context.Context, e *Entity) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET approval_status    = $2,
		    approval_record_id = $3,
		    updated_at         = NOW()
		WHERE id = $1`, r.table)

	tag, err := r.db.Exec(ctx, query, e.ID, e.ApprovalStatus, e.ApprovalRecordID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update entity approval state")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound(strings.ToLower(string(r.entityType)), e.ID)
	}
	return nil
}

// Create inserts an entity with no approval history. Used by seeding and tests;
// entity lifecycles are otherwise owned elsewhere.
func (r *EntityRepository) Create(ctx context.Context, e *Entity) error {
	if e.ApprovalStatus == "" {
		e.ApprovalStatus = StatusNone
	}
	e.Type = r.entityType

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, approval_status)
		VALUES ($1, $2, $3)`, r.table)

	if _, err := r.db.Exec(ctx, query, e.ID, e.Name, e.ApprovalStatus); err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.Conflict(fmt.Sprintf("%s %q already exists", strings.ToLower(string(r.entityType)), e.ID))
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create entity")
	}
	return nil
}
