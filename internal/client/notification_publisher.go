package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes budget approval events to NATS for the
// notifications service.
//
// Subject convention: notifications.budget.<event_type>
// Event types: workflow_submitted, workflow_approved, workflow_rejected,
//              workflow_escalated, batch_created, batch_completed, batch_failed
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt approval or
// disbursement operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// BudgetEvent is the JSON schema published to NATS.
type BudgetEvent struct {
	EventType string         `json:"event_type"`
	EntityID  string         `json:"entity_id"`
	ActorID   string         `json:"actor_id"`
	Severity  string         `json:"severity,omitempty"`
	Category  string         `json:"category,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. nc may be nil; publishing then becomes a no-op.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// PublishBudgetEvent publishes a budget approval event.
// Subject: notifications.budget.<eventType>
func (p *NotificationPublisher) PublishBudgetEvent(ctx context.Context, eventType, entityID, actorID string, payload map[string]any) {
	if p.nc == nil {
		return
	}

	event := &BudgetEvent{
		EventType: eventType,
		EntityID:  entityID,
		ActorID:   actorID,
		Severity:  "info",
		Category:  "budget_approval",
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.budget.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("entity_id", entityID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("entity_id", entityID).
		Msg("notification: event published")
}
