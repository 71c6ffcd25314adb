package memory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func strPtr(s string) *string { return &s }

func twoStepWorkflow() *repository.WorkflowDefinition {
	return &repository.WorkflowDefinition{
		Name:         "Contract Review",
		WorkflowType: repository.EntityTypeContract,
		IsActive:     true,
		Steps: []*repository.WorkflowStep{
			{StepOrder: 1, StepName: "Finance", ApproverRole: strPtr("FINANCE")},
			{StepOrder: 2, StepName: "Legal", ApproverID: strPtr("u-legal")},
		},
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Entities(repository.EntityTypeContract).Create(ctx, &repository.Entity{ID: "c-1", Name: "NDA"}))

	boom := stderrors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		rec := &repository.ApprovalRecord{EntityType: repository.EntityTypeContract, EntityID: "c-1", Status: repository.StatusPending, CurrentStep: 1}
		require.NoError(t, s.Records().Create(ctx, rec))
		require.NoError(t, s.History().Append(ctx, &repository.ApprovalHistoryEntry{ApprovalRecordID: rec.ID, StepOrder: 1, ActorID: "u-1", Action: repository.ActionApprove}))
		require.NoError(t, s.Entities(repository.EntityTypeContract).UpdateApproval(ctx, &repository.Entity{ID: "c-1", ApprovalStatus: repository.StatusPending, ApprovalRecordID: &rec.ID}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	pending, err := s.Records().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	e, err := s.Entities(repository.EntityTypeContract).Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusNone, e.ApprovalStatus)
	assert.Nil(t, e.ApprovalRecordID)
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	assert.Panics(t, func() {
		_ = s.RunInTx(ctx, func(ctx context.Context) error {
			require.NoError(t, s.Workflows().Save(ctx, twoStepWorkflow()))
			panic("storage exploded")
		})
	})

	list, err := s.Workflows().List(ctx, nil, false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunInTxNested(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		return s.RunInTx(ctx, func(ctx context.Context) error {
			return s.Workflows().Save(ctx, twoStepWorkflow())
		})
	})
	require.NoError(t, err)

	wf, err := s.Workflows().FindActiveByType(ctx, repository.EntityTypeContract)
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Empty(t, wf.Steps)

	steps, err := s.Workflows().GetSteps(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, wf.ID, steps[1].WorkflowID)
}

func TestRecordUpdateVersionGuard(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rec := &repository.ApprovalRecord{EntityType: repository.EntityTypeQuote, EntityID: "q-1", Status: repository.StatusPending, CurrentStep: 1}
	require.NoError(t, s.Records().Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	first, err := s.Records().GetForUpdate(ctx, rec.ID)
	require.NoError(t, err)
	second, err := s.Records().GetForUpdate(ctx, rec.ID)
	require.NoError(t, err)

	first.CurrentStep = 2
	require.NoError(t, s.Records().Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.CurrentStep = 2
	err = s.Records().Update(ctx, second)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	got, err := s.Records().GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, int64(2), got.Version)
}

func TestFindActiveByTypePicksOldest(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	older := twoStepWorkflow()
	older.Name = "Older"
	require.NoError(t, s.Workflows().Save(ctx, older))

	clock = clock.Add(time.Hour)
	newer := twoStepWorkflow()
	newer.Name = "Newer"
	require.NoError(t, s.Workflows().Save(ctx, newer))

	wf, err := s.Workflows().FindActiveByType(ctx, repository.EntityTypeContract)
	require.NoError(t, err)
	assert.Equal(t, "Older", wf.Name)

	require.NoError(t, s.Workflows().SetActive(ctx, older.ID, false))
	wf, err = s.Workflows().FindActiveByType(ctx, repository.EntityTypeContract)
	require.NoError(t, err)
	assert.Equal(t, "Newer", wf.Name)

	wf, err = s.Workflows().FindActiveByType(ctx, repository.EntityTypeInvoice)
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	h := s.History()
	for _, e := range []repository.ApprovalHistoryEntry{
		{ApprovalRecordID: "r-1", StepOrder: 2, ActorID: "b", Action: repository.ActionReturn},
		{ApprovalRecordID: "r-1", StepOrder: 1, ActorID: "a", Action: repository.ActionApprove},
		{ApprovalRecordID: "r-2", StepOrder: 1, ActorID: "x", Action: repository.ActionApprove},
		{ApprovalRecordID: "r-1", StepOrder: 1, ActorID: "c", Action: repository.ActionApprove},
	} {
		entry := e
		require.NoError(t, h.Append(ctx, &entry))
	}

	entries, err := h.ListByRecord(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{entries[0].ActorID, entries[1].ActorID, entries[2].ActorID})
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := s.Identity()
	require.NoError(t, id.Save(ctx, &repository.User{ID: "u-1", DisplayName: "Ada", IsActive: true, Roles: map[string]bool{"FINANCE": true, "LEGAL": false}}))
	require.NoError(t, id.Save(ctx, &repository.User{ID: "root", IsActive: true, IsSuperuser: true}))
	require.NoError(t, id.Save(ctx, &repository.User{ID: "ghost", IsActive: false, IsSuperuser: true, Roles: map[string]bool{"FINANCE": true}}))

	tests := []struct {
		actor, role string
		want        bool
	}{
		{"u-1", "FINANCE", true},
		{"u-1", "LEGAL", false},
		{"u-1", "VP", false},
		{"ghost", "FINANCE", false},
		{"nobody", "FINANCE", false},
	}
	for _, tc := range tests {
		got, err := id.HasActiveRole(ctx, tc.actor, tc.role)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s/%s", tc.actor, tc.role)
	}

	super, _ := id.IsSuperuser(ctx, "root")
	assert.True(t, super)
	super, _ = id.IsSuperuser(ctx, "ghost")
	assert.False(t, super)

	name, ok, err := id.DisplayName(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Ada", name)

	_, ok, _ = id.DisplayName(ctx, "nobody")
	assert.False(t, ok)
}

func TestEntityNotFound(t *testing.T) {
	_, err := NewStore().Entities(repository.EntityTypeProject).Get(context.Background(), "p-404")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.Contains(t, err.Error(), `project "p-404" not found`)
}

func TestReadersOutsideTxSeeOnlyCommittedState(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Entities(repository.EntityTypeProject).Create(ctx, &repository.Entity{ID: "p-1", Name: "Rollout"}))

	var recordID string
	err := s.RunInTx(ctx, func(txCtx context.Context) error {
		rec := &repository.ApprovalRecord{EntityType: repository.EntityTypeProject, EntityID: "p-1", Status: repository.StatusPending, CurrentStep: 1}
		require.NoError(t, s.Records().Create(txCtx, rec))
		recordID = rec.ID
		require.NoError(t, s.History().Append(txCtx, &repository.ApprovalHistoryEntry{ApprovalRecordID: rec.ID, StepOrder: 1, ActorID: "u-1", Action: repository.ActionApprove}))
		require.NoError(t, s.Entities(repository.EntityTypeProject).UpdateApproval(txCtx, &repository.Entity{ID: "p-1", ApprovalStatus: repository.StatusPending, ApprovalRecordID: &rec.ID}))

		inTx, err := s.History().ListByRecord(txCtx, rec.ID)
		require.NoError(t, err)
		assert.Len(t, inTx, 1)

		outside, err := s.History().ListByRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, outside)

		_, err = s.Records().GetByID(ctx, rec.ID)
		assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

		e, err := s.Entities(repository.EntityTypeProject).Get(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusNone, e.ApprovalStatus)
		return nil
	})
	require.NoError(t, err)

	entries, err := s.History().ListByRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	e, err := s.Entities(repository.EntityTypeProject).Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, e.ApprovalStatus)
}

func TestRollbackKeepsWritesMadeOutsideTx(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	saved := make(chan error, 1)
	boom := stderrors.New("boom")
	err := s.RunInTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, s.History().Append(txCtx, &repository.ApprovalHistoryEntry{ApprovalRecordID: "r-1", StepOrder: 1, ActorID: "u-1", Action: repository.ActionApprove}))
		go func() {
			saved <- s.Identity().Save(ctx, &repository.User{ID: "u-new", DisplayName: "Newcomer", IsActive: true})
		}()
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, <-saved)

	name, ok, err := s.Identity().DisplayName(ctx, "u-new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Newcomer", name)

	entries, err := s.History().ListByRecord(ctx, "r-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
