// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads.
package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing entry for one event type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row after validation and decoding.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never publish as stored.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// EventRegistry holds one descriptor per supported event type, in
// registration order.
type EventRegistry struct {
	ordered []EventDescriptor
	byType  map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry wires order_created to the orders topic, status changes
// to the notification topic and low-stock alerts to the inventory topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[string]string{
		"orders":       cfg.OrdersTopic,
		"notification": cfg.NotificationTopic,
		"inventory":    cfg.InventoryTopic,
	}
	for name, topic := range topics {
		if strings.TrimSpace(topic) == "" {
			return nil, fmt.Errorf("%s topic is required", name)
		}
	}

	reg := &EventRegistry{byType: make(map[enums.OutboxEventType]EventDescriptor)}
	reg.add(enums.EventOrderCreated, cfg.OrdersTopic, func() any { return &payloads.OrderCreatedEvent{} })
	reg.add(enums.EventOrderStatusChanged, cfg.NotificationTopic, func() any { return &payloads.OrderStatusChangedEvent{} })
	reg.add(enums.EventLowStockReached, cfg.InventoryTopic, func() any { return &payloads.LowStockReachedEvent{} })
	return reg, nil
}

func (r *EventRegistry) add(eventType enums.OutboxEventType, topic string, factory func() any) {
	desc := EventDescriptor{
		EventType:      eventType,
		AggregateType:  eventType.Aggregate(),
		Topic:          topic,
		PayloadFactory: factory,
	}
	r.ordered = append(r.ordered, desc)
	r.byType[eventType] = desc
}

// Topics lists the distinct topics in registration order.
func (r *EventRegistry) Topics() []string {
	var topics []string
	seen := make(map[string]bool, len(r.ordered))
	for _, desc := range r.ordered {
		if !seen[desc.Topic] {
			seen[desc.Topic] = true
			topics = append(topics, desc.Topic)
		}
	}
	return topics
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the stored row will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, nonRetryable("%s: %w", event.EventType, err)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
