package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
)

func TestWorkflowCatalog(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	catalog := NewWorkflowCatalog(store.Workflows())

	quote := &repository.WorkflowDefinition{
		Name: "Quote Sign-off", WorkflowType: repository.EntityTypeQuote, IsActive: true,
		Steps: []*repository.WorkflowStep{
			{StepOrder: 1, StepName: "Sales"},
			{StepOrder: 2, StepName: "Finance"},
		},
	}
	retired := &repository.WorkflowDefinition{
		Name: "Old Quote Flow", WorkflowType: repository.EntityTypeQuote, IsActive: false,
		Steps: []*repository.WorkflowStep{{StepOrder: 1, StepName: "Anyone"}},
	}
	require.NoError(t, store.Workflows().Save(ctx, quote))
	require.NoError(t, store.Workflows().Save(ctx, retired))

	t.Run("default for type", func(t *testing.T) {
		wf, err := catalog.FindWorkflow(ctx, nil, repository.EntityTypeQuote)
		require.NoError(t, err)
		assert.Equal(t, quote.ID, wf.ID)
	})

	t.Run("empty id means default", func(t *testing.T) {
		empty := ""
		wf, err := catalog.FindWorkflow(ctx, &empty, repository.EntityTypeQuote)
		require.NoError(t, err)
		assert.Equal(t, quote.ID, wf.ID)
	})

	t.Run("explicit id", func(t *testing.T) {
		wf, err := catalog.FindWorkflow(ctx, &quote.ID, repository.EntityTypeQuote)
		require.NoError(t, err)
		assert.Equal(t, "Quote Sign-off", wf.Name)
	})

	t.Run("rejections", func(t *testing.T) {
		unknown := "does-not-exist"
		for _, tc := range []struct {
			id         *string
			entityType repository.EntityType
		}{
			{&retired.ID, repository.EntityTypeQuote},
			{&quote.ID, repository.EntityTypeInvoice},
			{&unknown, repository.EntityTypeQuote},
			{nil, repository.EntityTypeInvoice},
		} {
			_, err := catalog.FindWorkflow(ctx, tc.id, tc.entityType)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfiguration), "got %v", err)
		}
	})

	t.Run("steps", func(t *testing.T) {
		steps, err := catalog.ListSteps(ctx, quote.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "Finance", stepAt(steps, 2).StepName)
		assert.Nil(t, stepAt(steps, 3))

		_, err = catalog.ListSteps(ctx, "does-not-exist")
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfiguration))
	})
}
