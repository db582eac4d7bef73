package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Poller advances processing generations whose next poll is due.
type Poller interface {
	PollDue(ctx context.Context) (int, error)
}

// Retrier re-arms failed generations that are still within the retry budget.
type Retrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// GenerationPollJob checks upstream operations left behind by closed clients and restarts.
type GenerationPollJob struct {
	Poller Poller
	Logger *slog.Logger
}

func NewGenerationPollJob(p Poller, logger *slog.Logger) *GenerationPollJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationPollJob{Poller: p, Logger: logger}
}

func (j *GenerationPollJob) Name() string { return "generation.poll" }

func (j *GenerationPollJob) Run(ctx context.Context) error {
	if j == nil || j.Poller == nil {
		return errors.New("generation poll job dependencies not configured")
	}
	n, err := j.Poller.PollDue(ctx)
	if err != nil {
		return fmt.Errorf("generation poll job: %w", err)
	}
	if n > 0 {
		j.Logger.Debug("generations polled", "count", n)
	}
	return nil
}

// GenerationRetryJob resubmits retryable failures.
type GenerationRetryJob struct {
	Retrier Retrier
	Logger  *slog.Logger
}

func NewGenerationRetryJob(r Retrier, logger *slog.Logger) *GenerationRetryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationRetryJob{Retrier: r, Logger: logger}
}

func (j *GenerationRetryJob) Name() string { return "generation.retry" }

func (j *GenerationRetryJob) Run(ctx context.Context) error {
	if j == nil || j.Retrier == nil {
		return errors.New("generation retry job dependencies not configured")
	}
	n, err := j.Retrier.RetryFailed(ctx)
	if n > 0 {
		j.Logger.Info("failed generations retried", "count", n)
	}
	if err != nil {
		return fmt.Errorf("generation retry job: %w", err)
	}
	return nil
}
