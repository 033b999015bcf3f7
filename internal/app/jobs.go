/**
 * @description
 * Scheduled job implementations for the billing service.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

const monthlyBillingTimeout = 15 * time.Minute

// BillGenerator is the part of the service the scheduled jobs drive.
type BillGenerator interface {
	PreviousPeriod() time.Time
	GenerateMonthlyBills(ctx context.Context, period time.Time) (*BillGenerationResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	billing BillGenerator
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(billing BillGenerator, logger *slog.Logger) *Jobs {
	return &Jobs{billing: billing, logger: logger}
}

// GenerateMonthlyBills issues bills for the month that just closed.
func (j *Jobs) GenerateMonthlyBills() {
	j.logger.Info("starting monthly billing job")
	ctx, cancel := context.WithTimeout(context.Background(), monthlyBillingTimeout)
	defer cancel()

	period := j.billing.PreviousPeriod()
	result, err := j.billing.GenerateMonthlyBills(ctx, period)
	if err != nil {
		j.logger.Error("failed to generate monthly bills", "period", period.Format("2006-01"), "error", err)
		return
	}

	j.logger.Info("monthly billing job finished",
		"period", result.Period.Format("2006-01"),
		"staff", result.Staff,
		"created", result.Created,
		"existing", result.Existing,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
}
