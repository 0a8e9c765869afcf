// Package idempotency remembers which outbox events a consumer already
// delivered. Keys look like sf:idempotency:evt:<consumer>:<event_id>.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/instance"
)

// Store is the redis surface the deduper needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	IdempotencyKey(scope, id string) string
}

// EventDeduper claims events for a single consumer. A claim holds the
// claiming instance id, so a replica only ever releases its own claims.
type EventDeduper struct {
	store    Store
	consumer string
	owner    string
	ttl      time.Duration
}

// NewEventDeduper builds a deduper for consumer. A zero ttl keeps claims
// forever.
func NewEventDeduper(store Store, consumer string, ttl time.Duration) (*EventDeduper, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &EventDeduper{store: store, consumer: consumer, owner: instance.ID(), ttl: ttl}, nil
}

// Claim returns false when a live claim exists, meaning the event was
// already delivered.
func (d *EventDeduper) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	key, err := d.key(eventID)
	if err != nil {
		return false, err
	}
	return d.store.SetNX(ctx, key, d.owner, d.ttl)
}

// Release drops this instance's claim so a failed delivery can be retried.
func (d *EventDeduper) Release(ctx context.Context, eventID uuid.UUID) error {
	key, err := d.key(eventID)
	if err != nil {
		return err
	}
	_, err = d.store.CompareAndDelete(ctx, key, d.owner)
	return err
}

func (d *EventDeduper) key(eventID uuid.UUID) (string, error) {
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return d.store.IdempotencyKey("evt:"+d.consumer, eventID.String()), nil
}
