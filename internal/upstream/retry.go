package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls in-call retries of transient failures.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the retry policy used for generation calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

func normalizeRetryConfig(cfg RetryConfig) RetryConfig {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return cfg
}

func (cfg RetryConfig) policy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = cfg.Multiplier
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(cfg.MaxRetries)), ctx)
}

// DoWithRetry runs fn until it succeeds, fails with a non-transient category,
// exhausts MaxRetries or ctx ends. Context errors come back classified.
func DoWithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return Classify(0, nil, err)
	}
	cfg = normalizeRetryConfig(cfg)
	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || !CategoryOf(err).Transient()) {
			return backoff.Permanent(err)
		}
		return err
	}, cfg.policy(ctx))
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return Classify(0, nil, err)
	}
	return err
}
