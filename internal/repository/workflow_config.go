package repository

import (
	"fmt"
	"io"
	"sort"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// seedFile is the YAML layout accepted by LoadSeed and LoadWorkflowDefinitions:
//
//	workflows:
//	  - name: Budget Approval
//	    type: PROJECT
//	    steps:
//	      - name: Manager
//	        role: MANAGER
//	users:
//	  - id: u-1
//	    name: Ada
//	    roles: [MANAGER]
//	entities:
//	  - type: PROJECT
//	    id: p-1
//	    name: Data platform
type seedFile struct {
	Workflows []workflowDoc `yaml:"workflows"`
	Users     []userDoc     `yaml:"users"`
	Entities  []entityDoc   `yaml:"entities"`
}

type workflowDoc struct {
	ID                          string    `yaml:"id"`
	Name                        string    `yaml:"name"`
	Type                        string    `yaml:"type"`
	Active                      *bool     `yaml:"active"`
	AllowUnassignedStepApproval bool      `yaml:"allow_unassigned_step_approval"`
	Steps                       []stepDoc `yaml:"steps"`
}

type stepDoc struct {
	Order       int     `yaml:"order"`
	Name        string  `yaml:"name"`
	Approver    *string `yaml:"approver"`
	Role        *string `yaml:"role"`
	Required    *bool   `yaml:"required"`
	CanDelegate bool    `yaml:"can_delegate"`
	CanWithdraw bool    `yaml:"can_withdraw"`
	DueHours    *int    `yaml:"due_hours"`
}

// LoadWorkflowDefinitions decodes and validates workflow definitions from YAML.
// Steps without an explicit order are numbered by position.
func LoadWorkflowDefinitions(r io.Reader) ([]*WorkflowDefinition, error) {
	seed, err := LoadSeed(r)
	if err != nil || seed == nil {
		return nil, err
	}
	return seed.Workflows, nil
}

func decodeWorkflows(docs []workflowDoc) ([]*WorkflowDefinition, error) {
	defs := make([]*WorkflowDefinition, 0, len(docs))
	for i, doc := range docs {
		entityType, ok := ParseEntityType(doc.Type)
		if !ok {
			return nil, errors.InvalidConfiguration(fmt.Sprintf("workflow %d (%s): unknown type %q", i+1, doc.Name, doc.Type))
		}

		wf := &WorkflowDefinition{
			ID:                          doc.ID,
			WorkflowType:                entityType,
			Name:                        doc.Name,
			IsActive:                    doc.Active == nil || *doc.Active,
			AllowUnassignedStepApproval: doc.AllowUnassignedStepApproval,
		}
		for j, sd := range doc.Steps {
			order := sd.Order
			if order == 0 {
				order = j + 1
			}
			wf.Steps = append(wf.Steps, &WorkflowStep{
				StepOrder:    order,
				StepName:     sd.Name,
				ApproverID:   sd.Approver,
				ApproverRole: sd.Role,
				IsRequired:   sd.Required == nil || *sd.Required,
				CanDelegate:  sd.CanDelegate,
				CanWithdraw:  sd.CanWithdraw,
				DueHours:     sd.DueHours,
			})
		}
		sort.SliceStable(wf.Steps, func(a, b int) bool { return wf.Steps[a].StepOrder < wf.Steps[b].StepOrder })

		if err := ValidateWorkflow(wf); err != nil {
			return nil, err
		}
		defs = append(defs, wf)
	}
	return defs, nil
}

// ValidateWorkflow checks that a definition can be submitted against: it has
// a name, a known type and steps numbered 1..N without gaps or duplicates.
func ValidateWorkflow(wf *WorkflowDefinition) error {
	if wf.Name == "" {
		return errors.InvalidConfiguration("workflow name is required")
	}
	if _, ok := ParseEntityType(string(wf.WorkflowType)); !ok {
		return errors.InvalidConfiguration(fmt.Sprintf("workflow %q: unknown type %q", wf.Name, wf.WorkflowType))
	}
	if len(wf.Steps) == 0 {
		return errors.InvalidConfiguration(fmt.Sprintf("workflow %q has no steps", wf.Name))
	}
	for i, step := range wf.Steps {
		if step.StepOrder != i+1 {
			return errors.InvalidConfiguration(fmt.Sprintf("workflow %q: expected step_order %d, got %d", wf.Name, i+1, step.StepOrder))
		}
		if step.StepName == "" {
			return errors.InvalidConfiguration(fmt.Sprintf("workflow %q: step %d has no name", wf.Name, step.StepOrder))
		}
	}
	return nil
}
