package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func strPtr(s string) *string { return &s }

// newTestEngine wires an engine over a memory store holding one two-step
// PROJECT workflow (Reviewer by role, Owner by id) and project p-1.
func newTestEngine(t *testing.T) (*service.ApprovalEngine, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.Identity().Save(ctx, &repository.User{ID: "alice", DisplayName: "Alice", IsActive: true, Roles: map[string]bool{"REVIEWER": true}}))
	require.NoError(t, store.Identity().Save(ctx, &repository.User{ID: "bob", DisplayName: "Bob", IsActive: true}))
	require.NoError(t, store.Workflows().Save(ctx, &repository.WorkflowDefinition{
		Name: "Project Sign-off", WorkflowType: repository.EntityTypeProject, IsActive: true,
		Steps: []*repository.WorkflowStep{
			{StepOrder: 1, StepName: "Review", ApproverRole: strPtr("REVIEWER")},
			{StepOrder: 2, StepName: "Owner", ApproverID: strPtr("bob")},
		},
	}))
	require.NoError(t, store.Entities(repository.EntityTypeProject).Create(ctx, &repository.Entity{ID: "p-1", Name: "Migration"}))

	engine, err := service.NewApprovalEngine(service.Dependencies{
		Tx:        store,
		Workflows: store.Workflows(),
		Records:   store.Records(),
		History:   store.History(),
		Identity:  store.Identity(),
		Entities: map[repository.EntityType]service.EntityStore{
			repository.EntityTypeProject: store.Entities(repository.EntityTypeProject),
		},
	}, service.EngineConfig{}, logger.Nop())
	require.NoError(t, err)
	return engine, store
}

func TestParseAction(t *testing.T) {
	tests := map[string]repository.Action{
		"approve":   repository.ActionApprove,
		" Reject\n": repository.ActionReject,
		"RETURN":    repository.ActionReturn,
		"escalate":  "ESCALATE",
		"":          "",
	}
	for raw, want := range tests {
		assert.Equal(t, want, parseAction(raw), "%q", raw)
	}
}
