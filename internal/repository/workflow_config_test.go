package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

func TestLoadWorkflowDefinitions(t *testing.T) {
	doc := `
workflows:
  - name: Budget Approval
    type: project
    steps:
      - name: Manager
        approver: u-manager
      - name: Director
        role: DIRECTOR
        due_hours: 48
      - name: VP
        role: VP
        required: false
  - name: Contract Review
    type: CONTRACT
    active: false
    allow_unassigned_step_approval: true
    steps:
      - order: 2
        name: Legal
      - order: 1
        name: Finance
`
	defs, err := LoadWorkflowDefinitions(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	budget := defs[0]
	assert.Equal(t, EntityTypeProject, budget.WorkflowType)
	assert.True(t, budget.IsActive)
	assert.False(t, budget.AllowUnassignedStepApproval)
	require.Len(t, budget.Steps, 3)
	assert.Equal(t, "u-manager", *budget.Steps[0].ApproverID)
	assert.Nil(t, budget.Steps[0].ApproverRole)
	assert.Equal(t, "DIRECTOR", *budget.Steps[1].ApproverRole)
	assert.Equal(t, 48, *budget.Steps[1].DueHours)
	assert.True(t, budget.Steps[1].IsRequired)
	assert.False(t, budget.Steps[2].IsRequired)
	assert.Equal(t, 3, budget.Steps[2].StepOrder)

	contract := defs[1]
	assert.False(t, contract.IsActive)
	assert.True(t, contract.AllowUnassignedStepApproval)
	assert.Equal(t, "Finance", contract.Steps[0].StepName)
	assert.Equal(t, "Legal", contract.Steps[1].StepName)
}

func TestLoadWorkflowDefinitionsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{
			name: "unknown type",
			doc:  "workflows:\n  - name: X\n    type: SPACESHIP\n    steps:\n      - name: A\n",
			msg:  "unknown type",
		},
		{
			name: "no steps",
			doc:  "workflows:\n  - name: Empty\n    type: PROJECT\n",
			msg:  "has no steps",
		},
		{
			name: "gap in steps",
			doc:  "workflows:\n  - name: Gap\n    type: PROJECT\n    steps:\n      - order: 1\n        name: A\n      - order: 3\n        name: C\n",
			msg:  "expected step_order 2",
		},
		{
			name: "duplicate order",
			doc:  "workflows:\n  - name: Dup\n    type: PROJECT\n    steps:\n      - order: 1\n        name: A\n      - order: 1\n        name: B\n",
			msg:  "expected step_order 2",
		},
		{
			name: "malformed yaml",
			doc:  "workflows: [",
			msg:  "failed to decode",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadWorkflowDefinitions(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfiguration))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestLoadWorkflowDefinitionsEmpty(t *testing.T) {
	defs, err := LoadWorkflowDefinitions(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestParseEntityType(t *testing.T) {
	got, ok := ParseEntityType(" contract ")
	assert.True(t, ok)
	assert.Equal(t, EntityTypeContract, got)

	_, ok = ParseEntityType("ticket")
	assert.False(t, ok)
}

func TestLoadSeed(t *testing.T) {
	doc := `
workflows:
  - name: Quote Sign-off
    type: QUOTE
    steps:
      - name: Sales
        role: SALES
users:
  - id: u-1
    name: Ada
    roles: [SALES, FINANCE]
  - id: root
    superuser: true
  - id: u-gone
    inactive: true
entities:
  - type: quote
    id: q-1
    name: Spring offer
`
	seed, err := LoadSeed(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, seed.Workflows, 1)
	require.Len(t, seed.Users, 3)
	require.Len(t, seed.Entities, 1)

	assert.Equal(t, "Ada", seed.Users[0].DisplayName)
	assert.True(t, seed.Users[0].Roles["FINANCE"])
	assert.True(t, seed.Users[0].IsActive)
	assert.True(t, seed.Users[1].IsSuperuser)
	assert.False(t, seed.Users[2].IsActive)

	q := seed.Entities[0]
	assert.Equal(t, EntityTypeQuote, q.Type)
	assert.Equal(t, StatusNone, q.ApprovalStatus)
	assert.Nil(t, q.ApprovalRecordID)
}

func TestLoadSeedRejectsUnknownEntityType(t *testing.T) {
	_, err := LoadSeed(strings.NewReader("entities:\n  - type: ticket\n    id: t-1\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfiguration))
}
