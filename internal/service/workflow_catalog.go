package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// WorkflowCatalog resolves which workflow an entity is submitted against and
// the steps it consists of. It never writes.
type WorkflowCatalog struct {
	store WorkflowStore
}

// NewWorkflowCatalog creates a new WorkflowCatalog.
func NewWorkflowCatalog(store WorkflowStore) *WorkflowCatalog {
	return &WorkflowCatalog{store: store}
}

// FindWorkflow returns the workflow with the given id when it is active and
// applies to entityType, or the first active workflow for entityType when no
// id is given.
func (c *WorkflowCatalog) FindWorkflow(ctx context.Context, workflowID *string, entityType repository.EntityType) (*repository.WorkflowDefinition, error) {
	if workflowID != nil && *workflowID != "" {
		wf, err := c.store.GetByID(ctx, *workflowID)
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.InvalidConfiguration(fmt.Sprintf("workflow %s not found", *workflowID))
		}
		if err != nil {
			return nil, err
		}
		if !wf.IsActive {
			return nil, errors.InvalidConfiguration(fmt.Sprintf("workflow %s is not active", *workflowID))
		}
		if wf.WorkflowType != entityType {
			return nil, errors.InvalidConfiguration(
				fmt.Sprintf("workflow %s applies to %s, not %s", *workflowID, wf.WorkflowType, entityType))
		}
		return wf, nil
	}

	wf, err := c.store.FindActiveByType(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errors.InvalidConfiguration(fmt.Sprintf("no active workflow for %s", entityType))
	}
	return wf, nil
}

// ListSteps returns the workflow's steps in ascending step_order. A workflow
// without steps cannot be submitted against.
func (c *WorkflowCatalog) ListSteps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error) {
	steps, err := c.store.GetSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.InvalidConfiguration(fmt.Sprintf("workflow %s has no steps", workflowID))
	}
	return steps, nil
}

// workflow loads a definition by id ignoring its active flag, for records
// submitted before the workflow was retired.
func (c *WorkflowCatalog) workflow(ctx context.Context, workflowID string) (*repository.WorkflowDefinition, error) {
	wf, err := c.store.GetByID(ctx, workflowID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, errors.InvalidConfiguration(fmt.Sprintf("workflow %s not found", workflowID))
	}
	return wf, err
}

// steps returns the workflow's steps, possibly none.
func (c *WorkflowCatalog) steps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error) {
	return c.store.GetSteps(ctx, workflowID)
}

// stepAt finds the step with the given order.
func stepAt(steps []*repository.WorkflowStep, order int) *repository.WorkflowStep {
	if order >= 1 && order <= len(steps) && steps[order-1].StepOrder == order {
		return steps[order-1]
	}
	for _, s := range steps {
		if s.StepOrder == order {
			return s
		}
	}
	return nil
}
