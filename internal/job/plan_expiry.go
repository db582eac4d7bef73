package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// PlanExpirer marks plans whose expiry has passed.
type PlanExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// PlanExpiryJob keeps plan_status in line with plan_expires_at.
// Quota checks compare expiry on every call, so this only keeps listings and reports accurate.
type PlanExpiryJob struct {
	Plans  PlanExpirer
	Logger *slog.Logger
}

func NewPlanExpiryJob(plans PlanExpirer, logger *slog.Logger) *PlanExpiryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanExpiryJob{Plans: plans, Logger: logger}
}

func (j *PlanExpiryJob) Name() string { return "plan.expiry" }

func (j *PlanExpiryJob) Run(ctx context.Context) error {
	if j == nil || j.Plans == nil {
		return errors.New("plan expiry job dependencies not configured")
	}
	n, err := j.Plans.ExpireDue(ctx)
	if err != nil {
		return fmt.Errorf("plan expiry job: %w", err)
	}
	if n > 0 {
		j.Logger.Info("plans expired", "count", n)
	} else {
		j.Logger.Debug("no plans to expire")
	}
	return nil
}
