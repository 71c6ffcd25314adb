package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/tracing"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

const (
	defaultNotifyTimeout = 5 * time.Second
	cancelComment        = "approval cancelled by initiator"
)

// Dependencies are the collaborators an ApprovalEngine works through.
type Dependencies struct {
	Tx        TxRunner
	Workflows WorkflowStore
	Records   RecordStore
	History   HistoryStore
	Identity  IdentityProvider
	// Entities holds one store per enabled entity type. Types missing here
	// are rejected.
	Entities map[repository.EntityType]EntityStore
	// Notifier is optional.
	Notifier NotificationSink
}

// EngineConfig tunes engine policy.
type EngineConfig struct {
	AllowUnassignedStepApproval bool
	NotifyTimeout               time.Duration
}

// ApprovalEngine moves entities through multi-step approval workflows. Submit,
// Act and Cancel each run as one transaction covering the approval record, its
// history and the entity's back-reference.
type ApprovalEngine struct {
	tx            TxRunner
	catalog       *WorkflowCatalog
	permissions   *PermissionResolver
	records       RecordStore
	history       HistoryStore
	identity      IdentityProvider
	entities      map[repository.EntityType]EntityStore
	notifier      NotificationSink
	notifyTimeout time.Duration
	deliveries    sync.WaitGroup
	now           func() time.Time
	log           *logger.Logger
}

// NewApprovalEngine creates a new ApprovalEngine.
func NewApprovalEngine(deps Dependencies, cfg EngineConfig, log *logger.Logger) (*ApprovalEngine, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("approval engine: transaction runner is required")
	case deps.Workflows == nil, deps.Records == nil, deps.History == nil:
		return nil, fmt.Errorf("approval engine: workflow, record and history stores are required")
	case deps.Identity == nil:
		return nil, fmt.Errorf("approval engine: identity provider is required")
	case len(deps.Entities) == 0:
		return nil, fmt.Errorf("approval engine: at least one entity store is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}

	return &ApprovalEngine{
		tx:            deps.Tx,
		catalog:       NewWorkflowCatalog(deps.Workflows),
		permissions:   NewPermissionResolver(deps.Identity, cfg.AllowUnassignedStepApproval),
		records:       deps.Records,
		history:       deps.History,
		identity:      deps.Identity,
		entities:      deps.Entities,
		notifier:      deps.Notifier,
		notifyTimeout: timeout,
		now:           time.Now,
		log:           log.Named("approval_engine"),
	}, nil
}

// Close waits for in-flight notifications to be handed to the sink, or for
// ctx to end. The transports must already be stopped.
func (e *ApprovalEngine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.deliveries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Catalog exposes the engine's workflow catalog.
func (e *ApprovalEngine) Catalog() *WorkflowCatalog {
	return e.catalog
}

// Permissions exposes the engine's permission resolver.
func (e *ApprovalEngine) Permissions() *PermissionResolver {
	return e.permissions
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit starts a new approval cycle for an entity. workflowID may be nil to
// use the first active workflow for the entity type. Entities whose approval
// is NONE, REJECTED or CANCELLED may be submitted.
func (e *ApprovalEngine) Submit(
	ctx context.Context,
	entityType repository.EntityType,
	entityID string,
	workflowID *string,
	actorID string,
) (status *ApprovalStatus, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Submit", spanAttrs(entityType, entityID, actorID)...)
	defer func() { tracing.EndSpan(span, err) }()

	store, err := e.entityStore(entityType)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	var event repository.ApprovalEvent
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		entity, err := store.GetForUpdate(ctx, entityID)
		if err != nil {
			return err
		}
		switch entity.ApprovalStatus {
		case repository.StatusPending:
			return errors.Conflict("already in approval")
		case repository.StatusApproved:
			return errors.Conflict("already approved")
		}

		wf, err := e.catalog.FindWorkflow(ctx, workflowID, entityType)
		if err != nil {
			return err
		}
		steps, err := e.catalog.ListSteps(ctx, wf.ID)
		if err != nil {
			return err
		}

		rec := &repository.ApprovalRecord{
			EntityType:       entityType,
			EntityID:         entity.ID,
			WorkflowID:       wf.ID,
			CurrentStep:      1,
			Status:           repository.StatusPending,
			InitiatorID:      actorID,
			PreviousRecordID: entity.ApprovalRecordID,
		}
		if err := e.records.Create(ctx, rec); err != nil {
			return err
		}

		entity.ApprovalStatus = repository.StatusPending
		entity.ApprovalRecordID = &rec.ID
		if err := store.UpdateApproval(ctx, entity); err != nil {
			return err
		}

		status, err = e.recordStatus(ctx, entity, rec, wf, steps)
		if err != nil {
			return err
		}
		event = e.newEvent(repository.EventSubmitted, actorID, rec, entity, status.CurrentStepName)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Str("record_id", status.RecordID).
		Str("workflow", status.WorkflowName).
		Str("actor_id", actorID).
		Msg("Approval submitted")

	e.dispatch(event)
	return status, nil
}

// ── Act ───────────────────────────────────────────────────────────────────────

// Act applies APPROVE, REJECT or RETURN to the current step of an entity's
// pending approval.
func (e *ApprovalEngine) Act(
	ctx context.Context,
	entityType repository.EntityType,
	entityID string,
	action repository.Action,
	comment string,
	actorID string,
) (status *ApprovalStatus, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Act",
		append(spanAttrs(entityType, entityID, actorID), attribute.String("approval.action", string(action)))...)
	defer func() { tracing.EndSpan(span, err) }()

	switch action {
	case repository.ActionApprove, repository.ActionReject, repository.ActionReturn:
	default:
		return nil, errors.InvalidInput("action", fmt.Sprintf("unsupported action %q", action))
	}

	store, err := e.entityStore(entityType)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	var (
		event    repository.ApprovalEvent
		stepFrom int
	)
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		entity, rec, err := e.lockPending(ctx, store, entityID)
		if err != nil {
			return err
		}

		wf, err := e.catalog.workflow(ctx, rec.WorkflowID)
		if err != nil {
			return err
		}
		steps, err := e.catalog.ListSteps(ctx, rec.WorkflowID)
		if err != nil {
			return err
		}
		total := len(steps)
		if rec.CurrentStep < 1 || rec.CurrentStep > total {
			return errors.IllegalState(fmt.Sprintf("current step %d outside 1..%d", rec.CurrentStep, total))
		}
		step := stepAt(steps, rec.CurrentStep)
		if step == nil {
			return errors.IllegalState(fmt.Sprintf("workflow %s has no step %d", rec.WorkflowID, rec.CurrentStep))
		}

		allowed, err := e.permissions.CanAct(ctx, actorID, wf, step)
		if err != nil {
			return err
		}
		if !allowed {
			return errors.Forbidden("insufficient permission for this step")
		}

		if action == repository.ActionReturn && rec.CurrentStep == 1 {
			return errors.InvalidOperation("cannot return past the first step")
		}

		stepFrom = rec.CurrentStep
		if err := e.history.Append(ctx, &repository.ApprovalHistoryEntry{
			ApprovalRecordID: rec.ID,
			StepOrder:        stepFrom,
			ActorID:          actorID,
			Action:           action,
			Comment:          comment,
		}); err != nil {
			return err
		}

		kind := e.transition(rec, entity, action, total)
		if err := e.records.Update(ctx, rec); err != nil {
			return err
		}
		if rec.Status != repository.StatusPending {
			if err := store.UpdateApproval(ctx, entity); err != nil {
				return err
			}
		}

		status, err = e.recordStatus(ctx, entity, rec, wf, steps)
		if err != nil {
			return err
		}
		event = e.newEvent(kind, actorID, rec, entity, step.StepName)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Str("record_id", status.RecordID).
		Str("action", string(action)).
		Int("step", stepFrom).
		Str("status", status.Status).
		Int("progress", status.Progress).
		Str("actor_id", actorID).
		Msg("Approval action recorded")

	e.dispatch(event)
	return status, nil
}

// transition applies action to rec and entity and returns the event kind.
// The caller has already validated the action against the current step.
func (e *ApprovalEngine) transition(rec *repository.ApprovalRecord, entity *repository.Entity, action repository.Action, total int) repository.EventKind {
	switch action {
	case repository.ActionApprove:
		if rec.CurrentStep >= total {
			e.complete(rec, entity, repository.StatusApproved)
			return repository.EventApproved
		}
		rec.CurrentStep++
		return repository.EventAdvanced

	case repository.ActionReject:
		e.complete(rec, entity, repository.StatusRejected)
		return repository.EventRejected

	default: // RETURN
		rec.CurrentStep--
		return repository.EventReturned
	}
}

func (e *ApprovalEngine) complete(rec *repository.ApprovalRecord, entity *repository.Entity, status string) {
	now := e.now()
	rec.Status = status
	rec.CompletedAt = &now
	entity.ApprovalStatus = status
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// Cancel withdraws a pending approval. Only the initiator may cancel. The
// record is kept as CANCELLED but unlinked from the entity, whose approval
// status returns to NONE.
func (e *ApprovalEngine) Cancel(
	ctx context.Context,
	entityType repository.EntityType,
	entityID string,
	actorID string,
) (status *ApprovalStatus, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Cancel", spanAttrs(entityType, entityID, actorID)...)
	defer func() { tracing.EndSpan(span, err) }()

	store, err := e.entityStore(entityType)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	var (
		event    repository.ApprovalEvent
		recordID string
	)
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		entity, rec, err := e.lockPending(ctx, store, entityID)
		if err != nil {
			return err
		}
		if rec.InitiatorID != actorID {
			return errors.Forbidden("only the initiator may cancel this approval")
		}

		if err := e.history.Append(ctx, &repository.ApprovalHistoryEntry{
			ApprovalRecordID: rec.ID,
			StepOrder:        rec.CurrentStep,
			ActorID:          actorID,
			Action:           repository.ActionCancel,
			Comment:          cancelComment,
		}); err != nil {
			return err
		}

		e.complete(rec, entity, repository.StatusCancelled)
		if err := e.records.Update(ctx, rec); err != nil {
			return err
		}

		entity.ApprovalStatus = repository.StatusNone
		entity.ApprovalRecordID = nil
		if err := store.UpdateApproval(ctx, entity); err != nil {
			return err
		}

		recordID = rec.ID
		event = e.newEvent(repository.EventCancelled, actorID, rec, entity, "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Str("record_id", recordID).
		Str("actor_id", actorID).
		Msg("Approval cancelled")

	e.dispatch(event)
	return &ApprovalStatus{
		EntityType: entityType,
		EntityID:   entityID,
		RecordID:   recordID,
		Status:     repository.StatusCancelled,
	}, nil
}

// lockPending loads and locks an entity and its pending record. Any mismatch
// between the entity's claim and the record is a Conflict.
func (e *ApprovalEngine) lockPending(ctx context.Context, store EntityStore, entityID string) (*repository.Entity, *repository.ApprovalRecord, error) {
	entity, err := store.GetForUpdate(ctx, entityID)
	if err != nil {
		return nil, nil, err
	}
	if entity.ApprovalStatus != repository.StatusPending {
		return nil, nil, errors.Conflict(fmt.Sprintf("not in approval (status %s)", displayStatus(entity.ApprovalStatus)))
	}
	if entity.ApprovalRecordID == nil || *entity.ApprovalRecordID == "" {
		return nil, nil, errors.Conflict("approval record missing for pending entity")
	}

	rec, err := e.records.GetForUpdate(ctx, *entity.ApprovalRecordID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, nil, errors.Conflict("approval record missing for pending entity")
	}
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != repository.StatusPending {
		return nil, nil, errors.Conflict(fmt.Sprintf("approval record is %s", rec.Status))
	}
	return entity, rec, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetStatus reports the approval state of an entity.
func (e *ApprovalEngine) GetStatus(ctx context.Context, entityType repository.EntityType, entityID string) (status *ApprovalStatus, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.GetStatus", spanAttrs(entityType, entityID, "")...)
	defer func() { tracing.EndSpan(span, err) }()

	store, err := e.entityStore(entityType)
	if err != nil {
		return nil, err
	}
	entity, err := store.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if entity.ApprovalRecordID == nil || *entity.ApprovalRecordID == "" {
		return noRecordStatus(entity), nil
	}

	rec, err := e.records.GetByID(ctx, *entity.ApprovalRecordID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		e.log.Warn().
			Str("entity_type", string(entityType)).
			Str("entity_id", entityID).
			Str("record_id", *entity.ApprovalRecordID).
			Msg("Entity links a missing approval record")
		return noRecordStatus(entity), nil
	}
	if err != nil {
		return nil, err
	}

	return e.statusOf(ctx, entity, rec)
}

// statusOf renders rec without requiring its workflow to still be configured.
func (e *ApprovalEngine) statusOf(ctx context.Context, entity *repository.Entity, rec *repository.ApprovalRecord) (*ApprovalStatus, error) {
	wf, err := e.catalog.workflow(ctx, rec.WorkflowID)
	if err != nil && !errors.IsCode(err, errors.ErrCodeInvalidConfiguration) {
		return nil, err
	}
	steps, err := e.catalog.steps(ctx, rec.WorkflowID)
	if err != nil {
		return nil, err
	}
	return e.recordStatus(ctx, entity, rec, wf, steps)
}

// GetHistory returns the history of the entity's linked record ordered by
// step, then time. Entities without a linked record have no history.
func (e *ApprovalEngine) GetHistory(ctx context.Context, entityType repository.EntityType, entityID string) (items []*HistoryItem, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.GetHistory", spanAttrs(entityType, entityID, "")...)
	defer func() { tracing.EndSpan(span, err) }()

	store, err := e.entityStore(entityType)
	if err != nil {
		return nil, err
	}
	entity, err := store.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if entity.ApprovalRecordID == nil || *entity.ApprovalRecordID == "" {
		return []*HistoryItem{}, nil
	}

	rec, err := e.records.GetByID(ctx, *entity.ApprovalRecordID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return []*HistoryItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.recordHistory(ctx, rec)
}

// GetRecordHistory returns the history of any record, including ones no
// longer linked to their entity.
func (e *ApprovalEngine) GetRecordHistory(ctx context.Context, recordID string) ([]*HistoryItem, error) {
	rec, err := e.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return e.recordHistory(ctx, rec)
}

func (e *ApprovalEngine) recordHistory(ctx context.Context, rec *repository.ApprovalRecord) ([]*HistoryItem, error) {
	entries, err := e.history.ListByRecord(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	steps, err := e.catalog.steps(ctx, rec.WorkflowID)
	if err != nil {
		return nil, err
	}
	stepNames := make(map[int]string, len(steps))
	for _, s := range steps {
		stepNames[s.StepOrder] = s.StepName
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StepOrder != entries[j].StepOrder {
			return entries[i].StepOrder < entries[j].StepOrder
		}
		return entries[i].ActionAt.Before(entries[j].ActionAt)
	})

	actorNames := map[string]string{}
	items := make([]*HistoryItem, 0, len(entries))
	for _, entry := range entries {
		name, ok := stepNames[entry.StepOrder]
		if !ok {
			name = fmt.Sprintf("step %d", entry.StepOrder)
		}

		actorName, seen := actorNames[entry.ActorID]
		if !seen {
			display, found, err := e.identity.DisplayName(ctx, entry.ActorID)
			if err != nil {
				return nil, err
			}
			actorName = entry.ActorID
			if found && display != "" {
				actorName = display
			}
			actorNames[entry.ActorID] = actorName
		}

		items = append(items, &HistoryItem{
			StepOrder: entry.StepOrder,
			StepName:  name,
			ActorID:   entry.ActorID,
			ActorName: actorName,
			Action:    entry.Action,
			Comment:   entry.Comment,
			ActionAt:  entry.ActionAt,
		})
	}
	return items, nil
}

// ListRecords returns every approval cycle of an entity, newest first,
// including cancelled records that are no longer linked to it.
func (e *ApprovalEngine) ListRecords(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.ApprovalRecord, error) {
	store, err := e.entityStore(entityType)
	if err != nil {
		return nil, err
	}
	if _, err := store.Get(ctx, entityID); err != nil {
		return nil, err
	}
	return e.records.ListByEntity(ctx, entityType, entityID)
}

// ListPending returns the pending approvals whose current step actorID may act on.
func (e *ApprovalEngine) ListPending(ctx context.Context, actorID string) (pending []*ApprovalStatus, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.ListPending", attribute.String("approval.actor", actorID))
	defer func() { tracing.EndSpan(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	records, err := e.records.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	workflows := map[string]*repository.WorkflowDefinition{}
	stepsByWorkflow := map[string][]*repository.WorkflowStep{}
	pending = []*ApprovalStatus{}

	for _, rec := range records {
		store, ok := e.entities[rec.EntityType]
		if !ok {
			continue
		}

		wf, ok := workflows[rec.WorkflowID]
		if !ok {
			wf, err = e.catalog.workflow(ctx, rec.WorkflowID)
			if err != nil && !errors.IsCode(err, errors.ErrCodeInvalidConfiguration) {
				return nil, err
			}
			workflows[rec.WorkflowID] = wf
		}
		steps, ok := stepsByWorkflow[rec.WorkflowID]
		if !ok {
			steps, err = e.catalog.steps(ctx, rec.WorkflowID)
			if err != nil {
				return nil, err
			}
			stepsByWorkflow[rec.WorkflowID] = steps
		}

		step := stepAt(steps, rec.CurrentStep)
		if step == nil {
			continue
		}
		allowed, err := e.permissions.CanAct(ctx, actorID, wf, step)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}

		entity, err := store.Get(ctx, rec.EntityID)
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		st, err := e.recordStatus(ctx, entity, rec, wf, steps)
		if err != nil {
			return nil, err
		}
		pending = append(pending, st)
	}
	return pending, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (e *ApprovalEngine) entityStore(entityType repository.EntityType) (EntityStore, error) {
	store, ok := e.entities[entityType]
	if !ok {
		return nil, errors.InvalidInput("entity_type", fmt.Sprintf("unsupported entity type %q", entityType))
	}
	return store, nil
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return errors.New(errors.ErrCodeUnauthenticated, "actor is required")
	}
	return nil
}

func displayStatus(status string) string {
	if status == "" {
		return repository.StatusNone
	}
	return status
}

func (e *ApprovalEngine) newEvent(kind repository.EventKind, actorID string, rec *repository.ApprovalRecord, entity *repository.Entity, stepName string) repository.ApprovalEvent {
	return repository.ApprovalEvent{
		Kind:       kind,
		ActorID:    actorID,
		Record:     *rec,
		Entity:     *entity,
		StepName:   stepName,
		OccurredAt: e.now(),
	}
}

// dispatch hands event to the notifier without waiting. It runs only after
// the transaction has committed; its failures are logged and dropped.
func (e *ApprovalEngine) dispatch(event repository.ApprovalEvent) {
	if e.notifier == nil {
		return
	}

	e.deliveries.Add(1)
	go func() {
		defer e.deliveries.Done()
		defer func() {
			if p := recover(); p != nil {
				e.log.Error().Interface("panic", p).Str("event", string(event.Kind)).Msg("Notification sink panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()

		if err := e.notifier.Notify(ctx, event); err != nil {
			e.log.Warn().Err(err).
				Str("event", string(event.Kind)).
				Str("record_id", event.Record.ID).
				Msg("Failed to deliver approval notification")
		}
	}()
}

func spanAttrs(entityType repository.EntityType, entityID, actorID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("approval.entity_type", string(entityType)),
		attribute.String("approval.entity_id", entityID),
	}
	if actorID != "" {
		attrs = append(attrs, attribute.String("approval.actor", actorID))
	}
	return attrs
}
