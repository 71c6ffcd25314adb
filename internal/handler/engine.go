package handler

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// Engine is the approval surface exposed over the transports.
type Engine interface {
	Submit(ctx context.Context, entityType repository.EntityType, entityID string, workflowID *string, actorID string) (*service.ApprovalStatus, error)
	Act(ctx context.Context, entityType repository.EntityType, entityID string, action repository.Action, comment, actorID string) (*service.ApprovalStatus, error)
	Cancel(ctx context.Context, entityType repository.EntityType, entityID, actorID string) (*service.ApprovalStatus, error)
	GetStatus(ctx context.Context, entityType repository.EntityType, entityID string) (*service.ApprovalStatus, error)
	GetHistory(ctx context.Context, entityType repository.EntityType, entityID string) ([]*service.HistoryItem, error)
	ListRecords(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.ApprovalRecord, error)
	ListPending(ctx context.Context, actorID string) ([]*service.ApprovalStatus, error)
}

// ActorHeader carries the authenticated actor id, as an HTTP header and as
// gRPC metadata (lower-cased).
const ActorHeader = "X-User-ID"

func parseEntityType(raw string) (repository.EntityType, error) {
	t, ok := repository.ParseEntityType(raw)
	if !ok {
		return "", errors.InvalidInput("entity_type", "unknown entity type "+strings.TrimSpace(raw))
	}
	return t, nil
}

// parseAction accepts actions in any case and surrounding whitespace.
func parseAction(raw string) repository.Action {
	return repository.Action(strings.ToUpper(strings.TrimSpace(raw)))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
