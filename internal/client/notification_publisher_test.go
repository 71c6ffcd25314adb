package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func rejectedEvent() repository.ApprovalEvent {
	return repository.ApprovalEvent{
		Kind:    repository.EventRejected,
		ActorID: "u-director",
		Record: repository.ApprovalRecord{
			ID:          "rec-1",
			WorkflowID:  "wf-1",
			Status:      repository.StatusRejected,
			CurrentStep: 2,
			InitiatorID: "u-initiator",
		},
		Entity:     repository.Entity{Type: repository.EntityTypeContract, ID: "c-9", Name: "Lease"},
		StepName:   "Director",
		OccurredAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestNotificationPublisherNotify(t *testing.T) {
	conn := &fakeConn{}
	p := NewNotificationPublisher(conn, "notifications.approvals.", nil)

	require.NoError(t, p.Notify(context.Background(), rejectedEvent()))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "notifications.approvals.rejected", conn.msgs[0].subject)

	var got NotificationEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &got))
	assert.Equal(t, "rejected", got.EventType)
	assert.Equal(t, "contract", got.ResourceType)
	assert.Equal(t, "c-9", got.ResourceID)
	assert.Equal(t, []string{"u-initiator"}, got.Recipients)
	assert.Equal(t, "warning", got.Severity)
	assert.False(t, got.IsActionable)
	assert.Equal(t, "rec-1", got.Payload["record_id"])
	assert.Equal(t, "Director", got.Payload["step_name"])
}

func TestNotificationPublisherSubjects(t *testing.T) {
	p := NewNotificationPublisher(&fakeConn{}, "", nil)
	assert.Equal(t, "notifications.approvals.submitted", p.Subject(repository.EventSubmitted))
	assert.Equal(t, "notifications.approvals.returned", p.Subject(repository.EventReturned))
}

func TestNotificationPublisherErrors(t *testing.T) {
	boom := stderrors.New("connection closed")
	p := NewNotificationPublisher(&fakeConn{err: boom}, "x", nil)
	assert.ErrorIs(t, p.Notify(context.Background(), rejectedEvent()), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := &fakeConn{}
	p = NewNotificationPublisher(ok, "x", nil)
	assert.ErrorIs(t, p.Notify(ctx, rejectedEvent()), context.Canceled)
	assert.Empty(t, ok.msgs)

	assert.NoError(t, NewNotificationPublisher(nil, "x", nil).Notify(context.Background(), rejectedEvent()))
}
