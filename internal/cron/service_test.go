package cron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Level: zerolog.Disabled, Output: io.Discard})
}

type fakeLock struct {
	acquired bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name string
	err  error

	mu   sync.Mutex
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	return t.err
}

func (t *testJob) runCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	logg := testLogger()
	registry := NewRegistry(&testJob{name: "success"}, &testJob{name: "fail", err: errors.New("boom")})
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     &fakeLock{},
		Interval: 0,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx := context.Background()
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if success, ok := jobs[0].(*testJob); ok {
		if success.runCount() != 1 {
			t.Fatalf("expected success job to run once, ran %d", success.runs)
		}
	} else {
		t.Fatalf("first job type mismatch")
	}
	if failure, ok := jobs[1].(*testJob); ok {
		if failure.runCount() != 1 {
			t.Fatalf("expected failure job to run once, ran %d", failure.runs)
		}
	} else {
		t.Fatalf("second job type mismatch")
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "fulfillment"}
	lock := &fakeLock{acquired: true}
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: NewRegistry(job), Lock: lock})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runCount() != 0 {
		t.Fatalf("job must not run without the lock, ran %d", job.runs)
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	job := &testJob{name: "fulfillment"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for job.runCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type panicJob struct{}

func (panicJob) Name() string              { return "explodes" }
func (panicJob) Run(context.Context) error { panic("nil order") }

type deadlineJob struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineJob) Name() string { return "deadline" }

func (d *deadlineJob) Run(ctx context.Context) error {
	d.deadline, d.ok = ctx.Deadline()
	return nil
}

func TestServiceRecoversPanickingJob(t *testing.T) {
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(panicJob{}, after),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	require.NotPanics(t, func() { require.NoError(t, service.RunOnce(context.Background())) })
	assert.Equal(t, 1, after.runCount())
	assert.False(t, lock.acquired, "lock must be released after a panic")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	failures, err := fetchCounter(mfs, "storefront_cron_job_runs_total", map[string]string{"job": "explodes", "outcome": "failure"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), failures)
}

func TestServiceBoundsJobsByInterval(t *testing.T) {
	job := &deadlineJob{}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Interval: time.Minute,
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, service.RunOnce(context.Background()))
	require.True(t, job.ok)
	assert.WithinDuration(t, start.Add(time.Minute), job.deadline, 5*time.Second)
}

func TestServiceCountsLockedCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:  testLogger(),
		Lock:    &fakeLock{acquired: true},
		Metrics: metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)
	require.NoError(t, service.RunOnce(context.Background()))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	locked, err := fetchCounter(mfs, "storefront_cron_cycles_total", map[string]string{"outcome": "locked"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), locked)
}

func fetchCounter(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue(), nil
			}
		}
	}
	return 0, fmt.Errorf("metric %q with labels %v not found", name, labels)
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	for key, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == key && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
