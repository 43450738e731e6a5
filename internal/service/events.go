package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event subjects published on the bus. Downstream consumers (reporting,
// notification fan-out) subscribe by subject.
const (
	EventDeckIngested        = "deck.ingested"
	EventAssignmentCreated   = "assignment.created"
	EventSubmissionCompleted = "submission.completed"
)

// Event is the envelope placed on the bus for every domain event.
type Event struct {
	ID          string                 `json:"id"`
	Subject     string                 `json:"subject"`
	Payload     map[string]interface{} `json:"payload"`
	PublishedAt time.Time              `json:"published_at"`
}

// EventPublisher emits domain events over NATS. A nil connection disables
// publishing so local setups can run without a broker.
type EventPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

func NewEventPublisher(conn *nats.Conn, prefix string, logger zerolog.Logger) *EventPublisher {
	if prefix == "" {
		prefix = "deckquiz"
	}
	return &EventPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Publish sends one event. Failures are logged, never returned: event
// delivery is best effort and must not fail the request that triggered it.
func (p *EventPublisher) Publish(ctx context.Context, subject string, payload map[string]interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	event := Event{
		ID:          uuid.NewString(),
		Subject:     subject,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("marshal event")
		return
	}
	if err := p.conn.Publish(p.prefix+"."+subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
		return
	}
	p.logger.Debug().Str("subject", subject).Str("event_id", event.ID).Msg("event published")
}
