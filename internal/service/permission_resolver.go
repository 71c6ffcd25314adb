package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// PermissionResolver decides whether an actor may act on a workflow step.
// The first matching rule wins:
//
//  1. superusers may act on any step
//  2. the step's approver_id equals the actor
//  3. the actor holds an active assignment of the step's approver_role
//  4. the step names neither approver nor role, and unassigned-step approval
//     is enabled globally or on the workflow
//
// Everything else is denied.
type PermissionResolver struct {
	identity        IdentityProvider
	allowUnassigned bool
}

// NewPermissionResolver creates a PermissionResolver. allowUnassigned enables
// rule 4 for every workflow; workflows can also opt in individually.
func NewPermissionResolver(identity IdentityProvider, allowUnassigned bool) *PermissionResolver {
	return &PermissionResolver{identity: identity, allowUnassigned: allowUnassigned}
}

// CanAct reports whether actorID may act on step of wf.
func (p *PermissionResolver) CanAct(ctx context.Context, actorID string, wf *repository.WorkflowDefinition, step *repository.WorkflowStep) (bool, error) {
	if actorID == "" || step == nil {
		return false, nil
	}

	super, err := p.identity.IsSuperuser(ctx, actorID)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}

	if step.HasApprover() && *step.ApproverID == actorID {
		return true, nil
	}

	if step.HasRole() {
		ok, err := p.identity.HasActiveRole(ctx, actorID, *step.ApproverRole)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	if !step.HasApprover() && !step.HasRole() {
		return p.allowUnassigned || (wf != nil && wf.AllowUnassignedStepApproval), nil
	}

	return false, nil
}
