package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

const (
	maintenanceSchedule  = "0 0 1 * *"
	defaultRetentionDays = 30
	purgeBatchSize       = 500
)

// OutboxPurger deletes delivered outbox rows in bounded batches.
type OutboxPurger interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type MaintenanceJobParams struct {
	Logger        *logger.Logger
	Outbox        OutboxPurger
	RetentionDays int
	Schedule      string
}

// NewMaintenanceJob builds the monthly housekeeping job. Today it only trims
// outbox_events; dead-lettered rows are kept for manual remediation.
func NewMaintenanceJob(params MaintenanceJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox purger required")
	}
	job := &maintenanceJob{
		logg:      params.Logger,
		outbox:    params.Outbox,
		retention: time.Duration(params.RetentionDays) * 24 * time.Hour,
		schedule:  params.Schedule,
		now:       time.Now,
	}
	if params.RetentionDays <= 0 {
		job.retention = defaultRetentionDays * 24 * time.Hour
	}
	if job.schedule == "" {
		job.schedule = maintenanceSchedule
	}
	return job, nil
}

type maintenanceJob struct {
	logg      *logger.Logger
	outbox    OutboxPurger
	retention time.Duration
	schedule  string
	now       func() time.Time
}

func (j *maintenanceJob) Name() string { return "maintenance" }

func (j *maintenanceJob) Schedule() string { return j.schedule }

func (j *maintenanceJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.outbox.DeletePublishedBefore(ctx, cutoff, purgeBatchSize)
		if err != nil {
			return fmt.Errorf("purge outbox after %d rows: %w", total, err)
		}
		total += n
		if n < purgeBatchSize {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
	}), "outbox purge complete")
	return nil
}
