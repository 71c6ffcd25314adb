package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "notifications.approvals"

// publisher is the slice of *nats.Conn the NotificationPublisher needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes approval transition events to NATS for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<event_kind>, for example
// notifications.approvals.approved.
type NotificationPublisher struct {
	conn   publisher
	prefix string
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients,omitempty"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. conn is usually a *nats.Conn.
func NewNotificationPublisher(conn publisher, subjectPrefix string, log *logger.Logger) *NotificationPublisher {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NotificationPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(subjectPrefix, "."),
		log:    log.Named("notifications"),
	}
}

// Connect dials NATS with reconnect logging.
func Connect(url, name string, log *logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject an event of the given kind is published on.
func (p *NotificationPublisher) Subject(kind repository.EventKind) string {
	return p.prefix + "." + string(kind)
}

// Notify publishes event. It implements service.NotificationSink.
func (p *NotificationPublisher) Notify(ctx context.Context, event repository.ApprovalEvent) error {
	if p.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(p.toNotification(event))
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Kind, err)
	}

	subject := p.Subject(event.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("record_id", event.Record.ID).
		Msg("notification: event published")
	return nil
}

func (p *NotificationPublisher) toNotification(event repository.ApprovalEvent) *NotificationEvent {
	n := &NotificationEvent{
		EventType:    string(event.Kind),
		ActorID:      event.ActorID,
		ResourceType: strings.ToLower(string(event.Entity.Type)),
		ResourceID:   event.Entity.ID,
		Severity:     "info",
		Category:     "approval",
		OccurredAt:   event.OccurredAt,
		Payload: map[string]any{
			"record_id":    event.Record.ID,
			"workflow_id":  event.Record.WorkflowID,
			"status":       event.Record.Status,
			"current_step": event.Record.CurrentStep,
			"entity_name":  event.Entity.Name,
		},
	}
	if event.StepName != "" {
		n.Payload["step_name"] = event.StepName
	}

	switch event.Kind {
	case repository.EventSubmitted, repository.EventAdvanced, repository.EventReturned:
		n.IsActionable = true
	case repository.EventApproved, repository.EventRejected:
		n.Recipients = []string{event.Record.InitiatorID}
		if event.Kind == repository.EventRejected {
			n.Severity = "warning"
		}
	}
	return n
}
