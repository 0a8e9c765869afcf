package cron

import (
	"context"
	"fmt"
	"sort"
)

// Job is one unit of scheduled work run under the cron lock.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs in run order. Names are unique so a single job can be
// picked out for a one-shot run.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry builds a registry from jobs, skipping nils. It panics on a
// duplicate name since that is a wiring bug.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			panic(err)
		}
	}
	return registry
}

// Register appends job. Nil jobs are ignored.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron job name is required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron job %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Names lists registered job names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	sort.Strings(names)
	return names
}

// Only returns a registry restricted to the named jobs, keeping run order.
func (r *Registry) Only(names ...string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := r.names[name]; !ok {
			return nil, fmt.Errorf("unknown cron job %q (known: %v)", name, r.Names())
		}
		wanted[name] = true
	}
	subset := &Registry{names: map[string]struct{}{}}
	for _, job := range r.jobs {
		if wanted[job.Name()] {
			_ = subset.Register(job)
		}
	}
	return subset, nil
}
