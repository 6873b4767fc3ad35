package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-fulfillment/internal/payouts"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

const payoutSchedule = "0 0 * * *"

type PayoutJobParams struct {
	Logger   *logger.Logger
	Sweeper  payouts.Sweeper
	Schedule string
}

// NewPayoutJob wraps the seller payout sweep for the scheduler.
func NewPayoutJob(params PayoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("payout sweeper required")
	}
	schedule := params.Schedule
	if schedule == "" {
		schedule = payoutSchedule
	}
	return &payoutJob{logg: params.Logger, sweeper: params.Sweeper, schedule: schedule}, nil
}

type payoutJob struct {
	logg     *logger.Logger
	sweeper  payouts.Sweeper
	schedule string
}

func (j *payoutJob) Name() string { return "seller-payouts" }

func (j *payoutJob) Schedule() string { return j.schedule }

func (j *payoutJob) Run(ctx context.Context) error {
	summary, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("payout sweep: %d of %d orders failed: %w", summary.Failed, summary.Candidates, err)
	}
	return nil
}
