package repository

import (
	"strings"
	"time"
)

// ── Entity types ─────────────────────────────────────────────────────────────

// EntityType identifies the kind of business object going through approval.
// The set is closed; workflows are matched to entities by this tag.
type EntityType string

const (
	EntityTypeProject  EntityType = "PROJECT"
	EntityTypeContract EntityType = "CONTRACT"
	EntityTypeQuote    EntityType = "QUOTE"
	EntityTypeInvoice  EntityType = "INVOICE"
)

// EntityTypes lists every supported entity type.
var EntityTypes = []EntityType{EntityTypeProject, EntityTypeContract, EntityTypeQuote, EntityTypeInvoice}

// ParseEntityType maps a case-insensitive tag to an EntityType.
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range EntityTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// ── Statuses and actions ─────────────────────────────────────────────────────

// Approval statuses. StatusNone is only ever held by an entity, never by a record.
const (
	StatusNone      = "NONE"
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// IsTerminal reports whether a record status is final.
func IsTerminal(status string) bool {
	return status == StatusApproved || status == StatusRejected || status == StatusCancelled
}

// Action is something an actor does to an approval record.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionReturn  Action = "RETURN"
	ActionCancel  Action = "CANCEL"
)

// ── Workflow configuration ───────────────────────────────────────────────────

// WorkflowDefinition is a named, ordered sequence of approval steps for one
// entity type.
type WorkflowDefinition struct {
	ID           string
	WorkflowType EntityType
	Name         string
	IsActive     bool
	// AllowUnassignedStepApproval opens steps with neither approver nor role
	// to any authenticated actor.
	AllowUnassignedStepApproval bool
	Steps                       []*WorkflowStep
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// WorkflowStep is one stage of a workflow.
type WorkflowStep struct {
	ID           string
	WorkflowID   string
	StepOrder    int // 1-based
	StepName     string
	ApproverID   *string
	ApproverRole *string
	IsRequired   bool
	CanDelegate  bool
	CanWithdraw  bool
	DueHours     *int // advisory only
}

// HasApprover reports whether the step names a specific approver.
func (s *WorkflowStep) HasApprover() bool {
	return s.ApproverID != nil && *s.ApproverID != ""
}

// HasRole reports whether the step names an approver role.
func (s *WorkflowStep) HasRole() bool {
	return s.ApproverRole != nil && *s.ApproverRole != ""
}

// ── Approval state ───────────────────────────────────────────────────────────

// ApprovalRecord tracks one approval cycle of one entity.
type ApprovalRecord struct {
	ID               string
	EntityType       EntityType
	EntityID         string
	WorkflowID       string
	CurrentStep      int // meaningful only while PENDING
	Status           string
	InitiatorID      string
	PreviousRecordID *string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// ApprovalHistoryEntry is one immutable audit row.
type ApprovalHistoryEntry struct {
	ID               string
	ApprovalRecordID string
	StepOrder        int
	ActorID          string
	Action           Action
	Comment          string
	ActionAt         time.Time
	Seq              int64
}

// Entity is the approval-relevant view of an external business object.
type Entity struct {
	Type             EntityType
	ID               string
	Name             string
	ApprovalStatus   string
	ApprovalRecordID *string
}

// ── Identity ─────────────────────────────────────────────────────────────────

// User is an identity known to the identity store.
type User struct {
	ID          string
	DisplayName string
	IsSuperuser bool
	IsActive    bool
	Roles       map[string]bool // role code → active
}

// ── Notifications ────────────────────────────────────────────────────────────

// EventKind names a transition worth notifying about.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventAdvanced  EventKind = "advanced"
	EventReturned  EventKind = "returned"
	EventApproved  EventKind = "approved"
	EventRejected  EventKind = "rejected"
	EventCancelled EventKind = "cancelled"
)

// ApprovalEvent is published after a transition commits.
type ApprovalEvent struct {
	Kind       EventKind
	ActorID    string
	Record     ApprovalRecord
	Entity     Entity
	StepName   string
	OccurredAt time.Time
}
