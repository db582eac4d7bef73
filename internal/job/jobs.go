package job

import (
	"fmt"
	"log/slog"

	"github.com/veo3pk/studio/internal/notifier"
)

// Default schedules.
const (
	SpecGenerationPoll  = "@every 15s"
	SpecGenerationRetry = "@every 1m"
	SpecPlanExpiry      = "@every 10m"
	SpecEmail           = "@every 10s"
	SpecTokenGauge      = "@every 30s"
)

// Deps are the collaborators of the standard job set; nil members skip their job.
type Deps struct {
	Poller   Poller
	Retrier  Retrier
	Plans    PlanExpirer
	Pools    PoolStatter
	Emails   EmailQueue
	Notifier notifier.Service
	Logger   *slog.Logger
}

type scheduled struct {
	spec string
	job  Runnable
}

// RegisterDefaults adds every job whose dependencies are present.
func RegisterDefaults(s *Scheduler, deps Deps) error {
	var jobs []scheduled
	add := func(spec string, r Runnable) { jobs = append(jobs, scheduled{spec: spec, job: r}) }
	if deps.Poller != nil {
		add(SpecGenerationPoll, NewGenerationPollJob(deps.Poller, deps.Logger))
	}
	if deps.Retrier != nil {
		add(SpecGenerationRetry, NewGenerationRetryJob(deps.Retrier, deps.Logger))
	}
	if deps.Plans != nil {
		add(SpecPlanExpiry, NewPlanExpiryJob(deps.Plans, deps.Logger))
	}
	if deps.Pools != nil {
		add(SpecTokenGauge, NewTokenPoolGaugeJob(deps.Pools, deps.Logger))
	}
	if deps.Emails != nil && deps.Notifier != nil {
		add(SpecEmail, NewSendEmailJob(deps.Emails, deps.Notifier, deps.Logger))
	}
	for _, j := range jobs {
		if _, err := s.Register(j.spec, j.job); err != nil {
			return fmt.Errorf("register %s: %w", j.job.Name(), err)
		}
	}
	return nil
}
