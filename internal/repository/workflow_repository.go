package repository

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// WorkflowRepository reads and maintains workflow definitions and their steps.
// Definitions and steps are always written together in one transaction.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `
	id::text, workflow_type, name, is_active, allow_unassigned_step_approval,
	created_at, updated_at`

// GetByID retrieves a workflow definition regardless of its active flag.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*WorkflowDefinition, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("workflow", id)
	}

	query := `SELECT ` + workflowColumns + `
		FROM workflow_definitions
		WHERE id = $1`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("workflow", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow")
	}
	return wf, nil
}

// FindActiveByType returns the oldest active workflow for an entity type.
// Returns nil when none exists.
func (r *WorkflowRepository) FindActiveByType(ctx context.Context, entityType EntityType) (*WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflow_definitions
		WHERE workflow_type = $1
		  AND is_active = TRUE
		ORDER BY created_at ASC, id ASC
		LIMIT 1`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, string(entityType)))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find workflow")
	}
	return wf, nil
}

// List returns workflow definitions, optionally filtered by type and active flag.
func (r *WorkflowRepository) List(ctx context.Context, entityType *EntityType, activeOnly bool) ([]*WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflow_definitions
		WHERE ($1::text IS NULL OR workflow_type = $1)`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY workflow_type ASC, created_at ASC, id ASC"

	var typeArg *string
	if entityType != nil {
		s := string(*entityType)
		typeArg = &s
	}

	rows, err := r.db.Query(ctx, query, typeArg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	var workflows []*WorkflowDefinition
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// GetSteps returns a workflow's steps ordered by step_order. An empty slice
// is not an error here; the catalog decides what an empty workflow means.
func (r *WorkflowRepository) GetSteps(ctx context.Context, workflowID string) ([]*WorkflowStep, error) {
	query := `
		SELECT id::text, workflow_id::text, step_order, step_name,
		       approver_id, approver_role,
		       is_required, can_delegate, can_withdraw, due_hours
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow steps")
	}
	defer rows.Close()

	var steps []*WorkflowStep
	for rows.Next() {
		s := &WorkflowStep{}
		err := rows.Scan(
			&s.ID,
			&s.WorkflowID,
			&s.StepOrder,
			&s.StepName,
			&s.ApproverID,
			&s.ApproverRole,
			&s.IsRequired,
			&s.CanDelegate,
			&s.CanWithdraw,
			&s.DueHours,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow step")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// Save inserts or replaces a workflow definition together with its steps.
// Missing ids are generated.
func (r *WorkflowRepository) Save(ctx context.Context, wf *WorkflowDefinition) error {
	if err := ValidateWorkflow(wf); err != nil {
		return err
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		wfQuery := `
			INSERT INTO workflow_definitions
			    (id, workflow_type, name, is_active, allow_unassigned_step_approval)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET workflow_type                  = EXCLUDED.workflow_type,
			    name                           = EXCLUDED.name,
			    is_active                      = EXCLUDED.is_active,
			    allow_unassigned_step_approval = EXCLUDED.allow_unassigned_step_approval,
			    updated_at                     = NOW()
			RETURNING created_at, updated_at`

		err := r.db.QueryRow(ctx, wfQuery,
			wf.ID,
			string(wf.WorkflowType),
			wf.Name,
			wf.IsActive,
			wf.AllowUnassignedStepApproval,
		).Scan(&wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to save workflow")
		}

		if _, err := r.db.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, wf.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace workflow steps")
		}

		stepQuery := `
			INSERT INTO workflow_steps
			    (id, workflow_id, step_order, step_name,
			     approver_id, approver_role,
			     is_required, can_delegate, can_withdraw, due_hours)
			VALUES ($1, $2, $3, $4,
			        $5, $6,
			        $7, $8, $9, $10)`

		for _, step := range wf.Steps {
			if step.ID == "" {
				step.ID = uuid.NewString()
			}
			step.WorkflowID = wf.ID

			_, err := r.db.Exec(ctx, stepQuery,
				step.ID,
				step.WorkflowID,
				step.StepOrder,
				step.StepName,
				step.ApproverID,
				step.ApproverRole,
				step.IsRequired,
				step.CanDelegate,
				step.CanWithdraw,
				step.DueHours,
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to save workflow step")
			}
		}
		return nil
	})
}

// SetActive toggles a workflow's active flag.
func (r *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE workflow_definitions
		SET is_active = $2, updated_at = NOW()
		WHERE id = $1`, id, active)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("workflow", id)
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*WorkflowDefinition, error) {
	wf := &WorkflowDefinition{}
	var workflowType string
	err := row.Scan(
		&wf.ID,
		&workflowType,
		&wf.Name,
		&wf.IsActive,
		&wf.AllowUnassignedStepApproval,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.WorkflowType = EntityType(workflowType)
	return wf, nil
}
