package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

const envelopeVersion = 1

var errEmptyEventData = errors.New("event data is empty")

// DomainEvent is what a service hands to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("unknown event type %q", e.EventType)
	}
	if want := e.EventType.Aggregate(); e.AggregateType != want {
		return fmt.Errorf("%s events belong to %s aggregates, got %q", e.EventType, want, e.AggregateType)
	}
	if e.AggregateID == uuid.Nil {
		return errors.New("aggregate id is required")
	}
	if e.Data == nil {
		return errEmptyEventData
	}
	return nil
}

// ActorRef identifies who caused the event.
type ActorRef struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// published verbatim.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// row validates the event and renders the outbox row that carries it. The
// returned id is the envelope's event id.
func (e DomainEvent) row() (models.OutboxEvent, string, error) {
	if err := e.validate(); err != nil {
		return models.OutboxEvent{}, "", err
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return models.OutboxEvent{}, "", fmt.Errorf("encode %s data: %w", e.EventType, err)
	}
	occurredAt := e.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	envelope := PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      e.Actor,
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, "", fmt.Errorf("encode %s envelope: %w", e.EventType, err)
	}
	return models.OutboxEvent{
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       payload,
	}, envelope.EventID, nil
}

// DecodeEnvelope parses a stored payload and rejects envelopes with no data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, errEmptyEventData
	}
	return envelope, nil
}
