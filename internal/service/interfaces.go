package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// TxRunner runs fn atomically. Store calls made with the ctx passed to fn
// join the transaction; any error returned by fn rolls everything back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkflowStore is the persistence behind the WorkflowCatalog.
type WorkflowStore interface {
	GetByID(ctx context.Context, id string) (*repository.WorkflowDefinition, error)
	// FindActiveByType returns nil, nil when no active workflow exists.
	FindActiveByType(ctx context.Context, entityType repository.EntityType) (*repository.WorkflowDefinition, error)
	GetSteps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error)
}

// RecordStore persists approval records. Update must fail with a Conflict
// when the stored version no longer matches the record's.
type RecordStore interface {
	Create(ctx context.Context, rec *repository.ApprovalRecord) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalRecord, error)
	GetForUpdate(ctx context.Context, id string) (*repository.ApprovalRecord, error)
	Update(ctx context.Context, rec *repository.ApprovalRecord) error
	ListByEntity(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.ApprovalRecord, error)
	ListPending(ctx context.Context) ([]*repository.ApprovalRecord, error)
}

// HistoryStore is the append-only approval audit log.
type HistoryStore interface {
	Append(ctx context.Context, entry *repository.ApprovalHistoryEntry) error
	ListByRecord(ctx context.Context, recordID string) ([]*repository.ApprovalHistoryEntry, error)
}

// EntityStore exposes the approval back-reference of one entity type.
type EntityStore interface {
	Get(ctx context.Context, id string) (*repository.Entity, error)
	GetForUpdate(ctx context.Context, id string) (*repository.Entity, error)
	UpdateApproval(ctx context.Context, e *repository.Entity) error
}

// IdentityProvider answers who an actor is and what they may do.
type IdentityProvider interface {
	IsSuperuser(ctx context.Context, actorID string) (bool, error)
	HasActiveRole(ctx context.Context, actorID, roleCode string) (bool, error)
	DisplayName(ctx context.Context, actorID string) (string, bool, error)
}

// NotificationSink receives transition events after they commit.
type NotificationSink interface {
	Notify(ctx context.Context, event repository.ApprovalEvent) error
}
