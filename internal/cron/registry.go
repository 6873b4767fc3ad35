package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// Job is one unit of scheduled work hosted by the cron worker.
type Job interface {
	// Name is unique per worker; it keys the job's lock and metrics.
	Name() string
	// Schedule is a standard five-field cron expression evaluated in UTC.
	Schedule() string
	Run(ctx context.Context) error
}

var scheduleParser = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

type entry struct {
	job      Job
	schedule robfig.Schedule
}

// Registry holds jobs whose schedules already parsed.
type Registry struct {
	entries []entry
	names   map[string]struct{}
}

// NewRegistry registers jobs in order; nil jobs are ignored.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if _, dup := r.names[job.Name()]; dup {
		return fmt.Errorf("job %s registered twice", job.Name())
	}
	schedule, err := scheduleParser.Parse(job.Schedule())
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name(), job.Schedule(), err)
	}
	r.names[job.Name()] = struct{}{}
	r.entries = append(r.entries, entry{job: job, schedule: schedule})
	return nil
}

func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Next reports when the named job fires after t, in UTC.
func (r *Registry) Next(name string, t time.Time) (time.Time, bool) {
	for _, e := range r.entries {
		if e.job.Name() == name {
			return e.schedule.Next(t.UTC()), true
		}
	}
	return time.Time{}, false
}
