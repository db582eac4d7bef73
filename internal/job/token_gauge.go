package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veo3pk/studio/internal/repository"
)

// PoolStatter reports token pool health; implementations refresh gauges as a side effect.
type PoolStatter interface {
	Stats(ctx context.Context) ([]repository.PoolStats, error)
}

// TokenPoolGaugeJob refreshes pool gauges and warns about empty pools.
type TokenPoolGaugeJob struct {
	Pools  PoolStatter
	Logger *slog.Logger
}

func NewTokenPoolGaugeJob(pools PoolStatter, logger *slog.Logger) *TokenPoolGaugeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenPoolGaugeJob{Pools: pools, Logger: logger}
}

func (j *TokenPoolGaugeJob) Name() string { return "token.pool.gauge" }

func (j *TokenPoolGaugeJob) Run(ctx context.Context) error {
	if j == nil || j.Pools == nil {
		return errors.New("token pool gauge job dependencies not configured")
	}
	stats, err := j.Pools.Stats(ctx)
	if err != nil {
		return fmt.Errorf("token pool gauge job: %w", err)
	}
	for _, st := range stats {
		// Pools that were never stocked are not worth a warning.
		if st.Total > 0 && st.Eligible == 0 {
			j.Logger.Warn("token pool has no eligible tokens", "pool", st.Pool, "total", st.Total, "active", st.Active)
		}
	}
	return nil
}
