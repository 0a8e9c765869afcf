package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRunOrder(t *testing.T) {
	jobA := &stubJob{name: "fulfillment"}
	jobB := &stubJob{name: "outbox-retention"}
	registry := NewRegistry(jobA, nil, jobB)

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, jobA, jobs[0])
	assert.Same(t, jobB, jobs[1])

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "internal slice leaked")
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry(&stubJob{name: "fulfillment"})
	require.Error(t, registry.Register(&stubJob{name: "fulfillment"}))
	require.Error(t, registry.Register(&stubJob{name: ""}))

	assert.Panics(t, func() {
		NewRegistry(&stubJob{name: "a"}, &stubJob{name: "a"})
	})
}

func TestRegistryOnly(t *testing.T) {
	registry := NewRegistry(&stubJob{name: "fulfillment"}, &stubJob{name: "outbox-retention"})

	subset, err := registry.Only("outbox-retention")
	require.NoError(t, err)
	assert.Equal(t, []string{"outbox-retention"}, subset.Names())

	all, err := registry.Only()
	require.NoError(t, err)
	assert.Len(t, all.Jobs(), 2)

	_, err = registry.Only("nightly-report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fulfillment")
}
