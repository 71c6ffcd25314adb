// Package memory is an in-process implementation of the approval stores.
// A transaction works on a private copy of the tables that replaces the
// committed copy only when it succeeds. Transactions are serialized, and a
// write made outside one runs as its own transaction. Readers outside a
// transaction only ever see committed state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

type txKey struct{}

// Store holds every table in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *tables
	now  func() time.Time
}

type tables struct {
	workflows map[string]*repository.WorkflowDefinition
	records   map[string]*repository.ApprovalRecord
	history   []*repository.ApprovalHistoryEntry
	seq       int64
	entities  map[repository.EntityType]map[string]*repository.Entity
	users     map[string]*repository.User
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		data: &tables{
			workflows: map[string]*repository.WorkflowDefinition{},
			records:   map[string]*repository.ApprovalRecord{},
			entities:  map[repository.EntityType]map[string]*repository.Entity{},
			users:     map[string]*repository.User{},
		},
		now: time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// RunInTx runs fn as one transaction. Transactions are serialized; on error
// or panic every change made through ctx is discarded. Nested calls join the
// outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tables); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, working)); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

// read runs fn against the transaction's tables, or the committed ones.
func (s *Store) read(ctx context.Context, fn func(t *tables)) {
	if t, ok := ctx.Value(txKey{}).(*tables); ok {
		fn(t)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// write runs fn against the transaction's tables, or in a transaction of its
// own when ctx carries none.
func (s *Store) write(ctx context.Context, fn func(t *tables) error) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*tables))
	})
}

func (s *Store) clock() time.Time {
	s.mu.RLock()
	now := s.now
	s.mu.RUnlock()
	return now()
}

// Seed loads workflows, users and entities.
func (s *Store) Seed(ctx context.Context, seed *repository.Seed) error {
	if seed == nil {
		return nil
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		for _, wf := range seed.Workflows {
			if err := s.Workflows().Save(ctx, wf); err != nil {
				return err
			}
		}
		for _, u := range seed.Users {
			if err := s.Identity().Save(ctx, u); err != nil {
				return err
			}
		}
		for _, e := range seed.Entities {
			if err := s.Entities(e.Type).Create(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *tables) clone() *tables {
	c := &tables{
		workflows: make(map[string]*repository.WorkflowDefinition, len(t.workflows)),
		records:   make(map[string]*repository.ApprovalRecord, len(t.records)),
		history:   make([]*repository.ApprovalHistoryEntry, len(t.history)),
		seq:       t.seq,
		entities:  make(map[repository.EntityType]map[string]*repository.Entity, len(t.entities)),
		users:     make(map[string]*repository.User, len(t.users)),
	}
	for id, wf := range t.workflows {
		c.workflows[id] = cloneWorkflow(wf)
	}
	for id, rec := range t.records {
		c.records[id] = cloneRecord(rec)
	}
	// History entries are never mutated after append.
	copy(c.history, t.history)
	for typ, byID := range t.entities {
		m := make(map[string]*repository.Entity, len(byID))
		for id, e := range byID {
			m[id] = cloneEntity(e)
		}
		c.entities[typ] = m
	}
	for id, u := range t.users {
		c.users[id] = cloneUser(u)
	}
	return c
}

// ── Workflows ─────────────────────────────────────────────────────────────────

// WorkflowRepository is the in-memory workflow catalog.
type WorkflowRepository struct{ s *Store }

// Workflows returns the store's workflow repository.
func (s *Store) Workflows() *WorkflowRepository { return &WorkflowRepository{s: s} }

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (out *repository.WorkflowDefinition, err error) {
	r.s.read(ctx, func(t *tables) {
		wf, ok := t.workflows[id]
		if !ok {
			err = errors.NotFound("workflow", id)
			return
		}
		out = cloneWorkflow(wf)
		out.Steps = nil
	})
	return out, err
}

// FindActiveByType returns the oldest active workflow for entityType, or nil.
func (r *WorkflowRepository) FindActiveByType(ctx context.Context, entityType repository.EntityType) (out *repository.WorkflowDefinition, err error) {
	r.s.read(ctx, func(t *tables) {
		var found *repository.WorkflowDefinition
		for _, wf := range t.workflows {
			if !wf.IsActive || wf.WorkflowType != entityType {
				continue
			}
			if found == nil || wf.CreatedAt.Before(found.CreatedAt) ||
				(wf.CreatedAt.Equal(found.CreatedAt) && wf.ID < found.ID) {
				found = wf
			}
		}
		if found != nil {
			out = cloneWorkflow(found)
			out.Steps = nil
		}
	})
	return out, nil
}

func (r *WorkflowRepository) GetSteps(ctx context.Context, workflowID string) (steps []*repository.WorkflowStep, err error) {
	r.s.read(ctx, func(t *tables) {
		if wf, ok := t.workflows[workflowID]; ok {
			steps = cloneWorkflow(wf).Steps
		}
	})
	return steps, nil
}

// List returns workflows ordered by creation time, optionally filtered.
func (r *WorkflowRepository) List(ctx context.Context, entityType *repository.EntityType, activeOnly bool) ([]*repository.WorkflowDefinition, error) {
	var out []*repository.WorkflowDefinition
	r.s.read(ctx, func(t *tables) {
		for _, wf := range t.workflows {
			if activeOnly && !wf.IsActive {
				continue
			}
			if entityType != nil && wf.WorkflowType != *entityType {
				continue
			}
			c := cloneWorkflow(wf)
			c.Steps = nil
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Save validates and stores a workflow together with its steps.
func (r *WorkflowRepository) Save(ctx context.Context, wf *repository.WorkflowDefinition) error {
	if err := repository.ValidateWorkflow(wf); err != nil {
		return err
	}

	return r.s.write(ctx, func(t *tables) error {
		now := r.s.clock()
		if wf.ID == "" {
			wf.ID = uuid.NewString()
		}
		if existing, ok := t.workflows[wf.ID]; ok {
			wf.CreatedAt = existing.CreatedAt
		} else {
			wf.CreatedAt = now
		}
		wf.UpdatedAt = now
		for _, step := range wf.Steps {
			if step.ID == "" {
				step.ID = uuid.NewString()
			}
			step.WorkflowID = wf.ID
		}
		t.workflows[wf.ID] = cloneWorkflow(wf)
		return nil
	})
}

// SetActive toggles a workflow's active flag.
func (r *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.s.write(ctx, func(t *tables) error {
		wf, ok := t.workflows[id]
		if !ok {
			return errors.NotFound("workflow", id)
		}
		wf.IsActive = active
		wf.UpdatedAt = r.s.clock()
		return nil
	})
}

// ── Records ───────────────────────────────────────────────────────────────────

// RecordRepository is the in-memory approval record table.
type RecordRepository struct{ s *Store }

// Records returns the store's record repository.
func (s *Store) Records() *RecordRepository { return &RecordRepository{s: s} }

func (r *RecordRepository) Create(ctx context.Context, rec *repository.ApprovalRecord) error {
	return r.s.write(ctx, func(t *tables) error {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if _, ok := t.records[rec.ID]; ok {
			return errors.Conflict("approval record " + rec.ID + " already exists")
		}
		now := r.s.clock()
		rec.Version = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		t.records[rec.ID] = cloneRecord(rec)
		return nil
	})
}

func (r *RecordRepository) GetByID(ctx context.Context, id string) (out *repository.ApprovalRecord, err error) {
	r.s.read(ctx, func(t *tables) {
		rec, ok := t.records[id]
		if !ok {
			err = errors.NotFound("approval_record", id)
			return
		}
		out = cloneRecord(rec)
	})
	return out, err
}

// GetForUpdate is GetByID; transactions are already exclusive.
func (r *RecordRepository) GetForUpdate(ctx context.Context, id string) (*repository.ApprovalRecord, error) {
	return r.GetByID(ctx, id)
}

// Update stores rec if its version matches the stored one.
func (r *RecordRepository) Update(ctx context.Context, rec *repository.ApprovalRecord) error {
	return r.s.write(ctx, func(t *tables) error {
		stored, ok := t.records[rec.ID]
		if !ok || stored.Version != rec.Version {
			return errors.Conflict("approval record was modified concurrently")
		}
		rec.Version++
		rec.UpdatedAt = r.s.clock()
		t.records[rec.ID] = cloneRecord(rec)
		return nil
	})
}

func (r *RecordRepository) ListByEntity(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.ApprovalRecord, error) {
	out := r.filter(ctx, func(rec *repository.ApprovalRecord) bool {
		return rec.EntityType == entityType && rec.EntityID == entityID
	})
	sort.SliceStable(out, func(i, j int) bool { return out[j].CreatedAt.Before(out[i].CreatedAt) })
	return out, nil
}

func (r *RecordRepository) ListPending(ctx context.Context) ([]*repository.ApprovalRecord, error) {
	out := r.filter(ctx, func(rec *repository.ApprovalRecord) bool {
		return rec.Status == repository.StatusPending
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// filter returns matching records sorted by id, so that callers sorting by
// timestamp get a deterministic order for equal times.
func (r *RecordRepository) filter(ctx context.Context, match func(*repository.ApprovalRecord) bool) []*repository.ApprovalRecord {
	var out []*repository.ApprovalRecord
	r.s.read(ctx, func(t *tables) {
		for _, rec := range t.records {
			if match(rec) {
				out = append(out, cloneRecord(rec))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ── History ───────────────────────────────────────────────────────────────────

// HistoryRepository is the in-memory, append-only approval history.
type HistoryRepository struct{ s *Store }

// History returns the store's history repository.
func (s *Store) History() *HistoryRepository { return &HistoryRepository{s: s} }

func (r *HistoryRepository) Append(ctx context.Context, entry *repository.ApprovalHistoryEntry) error {
	return r.s.write(ctx, func(t *tables) error {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		t.seq++
		entry.Seq = t.seq
		entry.ActionAt = r.s.clock()

		stored := *entry
		t.history = append(t.history, &stored)
		return nil
	})
}

// ListByRecord returns a record's history ordered by step, time and
// insertion order.
func (r *HistoryRepository) ListByRecord(ctx context.Context, recordID string) ([]*repository.ApprovalHistoryEntry, error) {
	var out []*repository.ApprovalHistoryEntry
	r.s.read(ctx, func(t *tables) {
		for _, entry := range t.history {
			if entry.ApprovalRecordID == recordID {
				c := *entry
				out = append(out, &c)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StepOrder != out[j].StepOrder {
			return out[i].StepOrder < out[j].StepOrder
		}
		if !out[i].ActionAt.Equal(out[j].ActionAt) {
			return out[i].ActionAt.Before(out[j].ActionAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// ── Entities ──────────────────────────────────────────────────────────────────

// EntityRepository is the in-memory back-reference table of one entity type.
type EntityRepository struct {
	s          *Store
	entityType repository.EntityType
}

// Entities returns the repository for entityType.
func (s *Store) Entities(entityType repository.EntityType) *EntityRepository {
	return &EntityRepository{s: s, entityType: entityType}
}

// Type returns the entity type served by this repository.
func (r *EntityRepository) Type() repository.EntityType { return r.entityType }

func (r *EntityRepository) Get(ctx context.Context, id string) (out *repository.Entity, err error) {
	r.s.read(ctx, func(t *tables) {
		e, ok := t.entities[r.entityType][id]
		if !ok {
			err = errors.NotFound(resourceName(r.entityType), id)
			return
		}
		out = cloneEntity(e)
	})
	return out, err
}

func (r *EntityRepository) GetForUpdate(ctx context.Context, id string) (*repository.Entity, error) {
	return r.Get(ctx, id)
}

func (r *EntityRepository) UpdateApproval(ctx context.Context, e *repository.Entity) error {
	return r.s.write(ctx, func(t *tables) error {
		stored, ok := t.entities[r.entityType][e.ID]
		if !ok {
			return errors.NotFound(resourceName(r.entityType), e.ID)
		}
		stored.ApprovalStatus = e.ApprovalStatus
		stored.ApprovalRecordID = cloneString(e.ApprovalRecordID)
		return nil
	})
}

// Create adds an entity. Existing ids are a Conflict.
func (r *EntityRepository) Create(ctx context.Context, e *repository.Entity) error {
	return r.s.write(ctx, func(t *tables) error {
		if e.ApprovalStatus == "" {
			e.ApprovalStatus = repository.StatusNone
		}
		e.Type = r.entityType

		byID, ok := t.entities[r.entityType]
		if !ok {
			byID = map[string]*repository.Entity{}
			t.entities[r.entityType] = byID
		}
		if _, exists := byID[e.ID]; exists {
			return errors.Conflict(resourceName(r.entityType) + " " + e.ID + " already exists")
		}
		byID[e.ID] = cloneEntity(e)
		return nil
	})
}

// ── Identity ──────────────────────────────────────────────────────────────────

// IdentityRepository is the in-memory identity provider.
type IdentityRepository struct{ s *Store }

// Identity returns the store's identity repository.
func (s *Store) Identity() *IdentityRepository { return &IdentityRepository{s: s} }

// Save adds or replaces a user.
func (r *IdentityRepository) Save(ctx context.Context, u *repository.User) error {
	return r.s.write(ctx, func(t *tables) error {
		t.users[u.ID] = cloneUser(u)
		return nil
	})
}

func (r *IdentityRepository) IsSuperuser(ctx context.Context, actorID string) (ok bool, _ error) {
	r.s.read(ctx, func(t *tables) {
		u, found := t.users[actorID]
		ok = found && u.IsActive && u.IsSuperuser
	})
	return ok, nil
}

func (r *IdentityRepository) HasActiveRole(ctx context.Context, actorID, roleCode string) (ok bool, _ error) {
	r.s.read(ctx, func(t *tables) {
		u, found := t.users[actorID]
		ok = found && u.IsActive && u.Roles[roleCode]
	})
	return ok, nil
}

func (r *IdentityRepository) DisplayName(ctx context.Context, actorID string) (name string, ok bool, _ error) {
	r.s.read(ctx, func(t *tables) {
		if u, found := t.users[actorID]; found {
			name, ok = u.DisplayName, true
		}
	})
	return name, ok, nil
}

// ── copy helpers ──────────────────────────────────────────────────────────────

func resourceName(t repository.EntityType) string {
	switch t {
	case repository.EntityTypeProject:
		return "project"
	case repository.EntityTypeContract:
		return "contract"
	case repository.EntityTypeQuote:
		return "quote"
	case repository.EntityTypeInvoice:
		return "invoice"
	}
	return "entity"
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneWorkflow(wf *repository.WorkflowDefinition) *repository.WorkflowDefinition {
	c := *wf
	c.Steps = make([]*repository.WorkflowStep, len(wf.Steps))
	for i, step := range wf.Steps {
		s := *step
		s.ApproverID = cloneString(step.ApproverID)
		s.ApproverRole = cloneString(step.ApproverRole)
		if step.DueHours != nil {
			h := *step.DueHours
			s.DueHours = &h
		}
		c.Steps[i] = &s
	}
	return &c
}

func cloneRecord(rec *repository.ApprovalRecord) *repository.ApprovalRecord {
	c := *rec
	c.PreviousRecordID = cloneString(rec.PreviousRecordID)
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneEntity(e *repository.Entity) *repository.Entity {
	c := *e
	c.ApprovalRecordID = cloneString(e.ApprovalRecordID)
	return &c
}

func cloneUser(u *repository.User) *repository.User {
	c := *u
	c.Roles = make(map[string]bool, len(u.Roles))
	for role, active := range u.Roles {
		c.Roles[role] = active
	}
	return &c
}
