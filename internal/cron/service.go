package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
)

// LockFactory returns the distributed lock guarding one job.
type LockFactory func(job string) (Lock, error)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
}

// Service executes registered cron jobs on their own schedules. Every run
// takes the job's lock first so only one worker replica executes it.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
	now      func() time.Time
}

// NewService builds a cron service over an already validated registry.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("job registry required")
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		now:      time.Now,
	}, nil
}

// Run schedules every job and blocks until the context is canceled. Runs in
// flight are allowed to finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scheduler := robfig.New(
		robfig.WithLocation(time.UTC),
		robfig.WithChain(robfig.SkipIfStillRunning(robfig.DiscardLogger)),
	)
	for _, e := range s.registry.entries {
		job := e.job
		scheduler.Schedule(e.schedule, robfig.FuncJob(func() { s.runJob(ctx, job) }))
		s.logg.Info(s.logg.WithFields(s.logg.WithJob(ctx, job.Name()), map[string]any{
			"schedule": job.Schedule(),
			"next_run": e.schedule.Next(s.now().UTC()),
		}), "job scheduled")
	}

	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// RunOnce executes every job immediately, still honoring the locks.
func (s *Service) RunOnce(ctx context.Context) {
	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithJob(ctx, job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	lock, err := s.locks(job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "failed to build job lock", err)
		s.metrics.Failed(job.Name())
		return
	}
	locked, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		s.metrics.Failed(job.Name())
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "another worker holds the job lock; skipping")
		s.metrics.Skipped(job.Name())
		return
	}
	defer func() {
		if relErr := lock.Release(jobCtx); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lock", relErr)
		}
	}()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.Finished(job.Name(), duration, err, s.now())
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
