package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "sf:idempotency:" + scope + ":" + id
}

func TestClaimOncePerEvent(t *testing.T) {
	t.Setenv("WORKER_ID", "publisher-1")
	store := newMemoryStore()
	deduper, err := NewEventDeduper(store, "outbox-publisher", 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	key := "sf:idempotency:evt:outbox-publisher:" + eventID.String()

	first, err := deduper.Claim(context.Background(), eventID)
	require.NoError(t, err)
	second, err := deduper.Claim(context.Background(), eventID)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, "publisher-1", store.values[key])
	assert.Equal(t, 24*time.Hour, store.ttls[key])
}

func TestReleaseOnlyDropsOwnClaim(t *testing.T) {
	store := newMemoryStore()
	eventID := uuid.New()
	key := "sf:idempotency:evt:outbox-publisher:" + eventID.String()

	t.Setenv("WORKER_ID", "publisher-1")
	mine, err := NewEventDeduper(store, "outbox-publisher", time.Hour)
	require.NoError(t, err)
	t.Setenv("WORKER_ID", "publisher-2")
	theirs, err := NewEventDeduper(store, "outbox-publisher", time.Hour)
	require.NoError(t, err)

	claimed, err := mine.Claim(context.Background(), eventID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, theirs.Release(context.Background(), eventID))
	assert.Contains(t, store.values, key)

	require.NoError(t, mine.Release(context.Background(), eventID))
	assert.NotContains(t, store.values, key)
}

func TestClaimErrors(t *testing.T) {
	store := newMemoryStore()
	deduper, err := NewEventDeduper(store, "outbox-publisher", time.Hour)
	require.NoError(t, err)

	_, err = deduper.Claim(context.Background(), uuid.Nil)
	assert.ErrorContains(t, err, "event id is required")

	store.err = errors.New("redis down")
	_, err = deduper.Claim(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.err)
	assert.ErrorIs(t, deduper.Release(context.Background(), uuid.New()), store.err)
}

func TestNewEventDeduperValidation(t *testing.T) {
	_, err := NewEventDeduper(nil, "outbox-publisher", time.Hour)
	assert.Error(t, err)
	_, err = NewEventDeduper(newMemoryStore(), " ", time.Hour)
	assert.Error(t, err)
	_, err = NewEventDeduper(newMemoryStore(), "outbox-publisher", -time.Second)
	assert.Error(t, err)
}
