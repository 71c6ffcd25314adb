package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Step labels reported once a record has left PENDING.
const (
	stepLabelCompleted  = "completed"
	stepLabelTerminated = "terminated"
)

// ApprovalStatus is the externally visible state of an entity's approval.
type ApprovalStatus struct {
	EntityType      repository.EntityType `json:"entity_type"`
	EntityID        string                `json:"entity_id"`
	RecordID        string                `json:"record_id,omitempty"`
	WorkflowID      string                `json:"workflow_id,omitempty"`
	WorkflowName    string                `json:"workflow_name,omitempty"`
	Status          string                `json:"status"`
	CurrentStep     int                   `json:"current_step,omitempty"`
	TotalSteps      int                   `json:"total_steps,omitempty"`
	CurrentStepName string                `json:"current_step_name,omitempty"`
	CurrentApprover string                `json:"current_approver,omitempty"`
	Progress        int                   `json:"progress"`
}

// HistoryItem is one history entry enriched for display.
type HistoryItem struct {
	StepOrder int               `json:"step_order"`
	StepName  string            `json:"step_name"`
	ActorID   string            `json:"actor_id"`
	ActorName string            `json:"actor_name"`
	Action    repository.Action `json:"action"`
	Comment   string            `json:"comment"`
	ActionAt  time.Time         `json:"action_at"`
}

// progressPercent is the share of completed steps, floored to a whole percent.
func progressPercent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return completed * 100 / total
}

// completedSteps is the number of steps finished before current.
func completedSteps(current int) int {
	if current <= 1 {
		return 0
	}
	return current - 1
}

func baseStatus(entity *repository.Entity, rec *repository.ApprovalRecord, wf *repository.WorkflowDefinition, total int) *ApprovalStatus {
	st := &ApprovalStatus{
		EntityType: entity.Type,
		EntityID:   entity.ID,
		RecordID:   rec.ID,
		WorkflowID: rec.WorkflowID,
		Status:     rec.Status,
		TotalSteps: total,
	}
	if wf != nil {
		st.WorkflowName = wf.Name
	}
	return st
}

// noRecordStatus reports an entity's raw approval status when no record backs it.
func noRecordStatus(entity *repository.Entity) *ApprovalStatus {
	status := entity.ApprovalStatus
	if status == "" {
		status = repository.StatusNone
	}
	return &ApprovalStatus{
		EntityType: entity.Type,
		EntityID:   entity.ID,
		Status:     status,
	}
}

// recordStatus renders the status of rec against the given steps.
func (e *ApprovalEngine) recordStatus(
	ctx context.Context,
	entity *repository.Entity,
	rec *repository.ApprovalRecord,
	wf *repository.WorkflowDefinition,
	steps []*repository.WorkflowStep,
) (*ApprovalStatus, error) {
	total := len(steps)
	st := baseStatus(entity, rec, wf, total)

	switch rec.Status {
	case repository.StatusApproved:
		st.CurrentStepName = stepLabelCompleted
		st.Progress = 100
		return st, nil

	case repository.StatusRejected, repository.StatusCancelled:
		st.CurrentStepName = stepLabelTerminated
		st.Progress = progressPercent(completedSteps(rec.CurrentStep), total)
		return st, nil
	}

	step := stepAt(steps, rec.CurrentStep)
	if step == nil {
		st.Progress = 100
		return st, nil
	}

	approver, err := e.approverLabel(ctx, step)
	if err != nil {
		return nil, err
	}
	st.CurrentStep = rec.CurrentStep
	st.CurrentStepName = step.StepName
	st.CurrentApprover = approver
	st.Progress = progressPercent(completedSteps(rec.CurrentStep), total)
	return st, nil
}

// approverLabel names who is expected to act on step: the approver's display
// name (or id when unknown), "role: <role>" when only a role is configured,
// or "" for an unassigned step.
func (e *ApprovalEngine) approverLabel(ctx context.Context, step *repository.WorkflowStep) (string, error) {
	if step.HasApprover() {
		name, ok, err := e.identity.DisplayName(ctx, *step.ApproverID)
		if err != nil {
			return "", err
		}
		if ok && name != "" {
			return name, nil
		}
		return *step.ApproverID, nil
	}
	if step.HasRole() {
		return "role: " + *step.ApproverRole, nil
	}
	return "", nil
}
