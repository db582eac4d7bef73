package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/veo3pk/studio/internal/events"
	"github.com/veo3pk/studio/internal/metrics"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/support/logging"
	"github.com/veo3pk/studio/internal/upstream"
)

const defaultErrorThreshold = 3

// Pools lists every known token pool.
var Pools = []string{
	repository.PoolVideo,
	repository.PoolImage,
	repository.PoolCartesia,
	repository.PoolZyphra,
	repository.PoolFlow,
}

// TokenPoolService rotates upstream credentials.
type TokenPoolService interface {
	// Acquire selects and charges one eligible token, or returns ErrNoCapacity.
	Acquire(ctx context.Context, pool string) (*repository.APIToken, error)
	HasCapacity(ctx context.Context, pool string) (bool, error)
	ReportSuccess(ctx context.Context, tokenID int64, usage repository.TokenUsage) error
	ReportFailure(ctx context.Context, tokenID int64, category upstream.Category, message string) error

	ListPools(ctx context.Context) ([]repository.TokenPool, error)
	UpdatePool(ctx context.Context, input UpdatePoolInput) (*repository.TokenPool, error)
	// Token loads one credential without charging it, e.g. to poll an operation it started.
	Token(ctx context.Context, id int64) (*repository.APIToken, error)
	ListTokens(ctx context.Context, pool string) ([]*repository.APIToken, error)
	CreateToken(ctx context.Context, input TokenInput) (*repository.APIToken, error)
	UpdateToken(ctx context.Context, id int64, input TokenInput) (*repository.APIToken, error)
	DeleteToken(ctx context.Context, id int64) error
	ResetToken(ctx context.Context, id int64) error
	Stats(ctx context.Context) ([]repository.PoolStats, error)
}

// UpdatePoolInput changes the rotation policy and error threshold of a pool.
type UpdatePoolInput struct {
	Pool           string `json:"pool"`
	Policy         string `json:"policy" validate:"required,oneof=lru round_robin"`
	ErrorThreshold int    `json:"error_threshold" validate:"min=1,max=100"`
}

// TokenInput creates or edits a credential.
type TokenInput struct {
	Pool       string `json:"pool" validate:"required,oneof=video image cartesia zyphra flow"`
	Label      string `json:"label" validate:"max=120"`
	Credential string `json:"credential" validate:"required"`
	UsageLimit int64  `json:"usage_limit" validate:"min=0"`
	IsActive   *bool  `json:"is_active"`
}

type tokenPoolService struct {
	tokens    repository.TokenRepository
	metrics   *metrics.Domain
	publisher events.Publisher
	logger    *slog.Logger
	now       Clock
}

func NewTokenPoolService(tokens repository.TokenRepository, m *metrics.Domain, publisher events.Publisher, logger *slog.Logger) TokenPoolService {
	return &tokenPoolService{
		tokens:    tokens,
		metrics:   m,
		publisher: publisher,
		logger:    logging.Component(logger, "tokenpool"),
		now:       systemClock,
	}
}

func (s *tokenPoolService) Acquire(ctx context.Context, pool string) (*repository.APIToken, error) {
	cfg, err := s.pool(ctx, pool)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	var tok *repository.APIToken
	if cfg.Policy == repository.PolicyRoundRobin {
		tok, err = s.tokens.AcquireRoundRobin(ctx, pool, threshold(cfg), now)
	} else {
		tok, err = s.tokens.AcquireLRU(ctx, pool, threshold(cfg), now)
	}
	if errors.Is(err, repository.ErrNotFound) {
		s.metrics.TokenAcquired(pool, "exhausted")
		s.logger.WarnContext(ctx, "token pool exhausted", "pool", pool)
		return nil, fmt.Errorf("%w: %s pool", ErrNoCapacity, pool)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s token: %w", pool, err)
	}
	s.metrics.TokenAcquired(pool, "ok")
	return tok, nil
}

func (s *tokenPoolService) HasCapacity(ctx context.Context, pool string) (bool, error) {
	cfg, err := s.pool(ctx, pool)
	if err != nil {
		return false, err
	}
	n, err := s.tokens.CountEligible(ctx, pool, threshold(cfg))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *tokenPoolService) ReportSuccess(ctx context.Context, tokenID int64, usage repository.TokenUsage) error {
	return mapRepoErr(s.tokens.RecordSuccess(ctx, tokenID, usage, s.now().Unix()))
}

func (s *tokenPoolService) ReportFailure(ctx context.Context, tokenID int64, category upstream.Category, message string) error {
	tok, err := s.tokens.FindByID(ctx, tokenID)
	if err != nil {
		return mapRepoErr(err)
	}
	cfg, err := s.pool(ctx, tok.Pool)
	if err != nil {
		return err
	}
	deactivated, err := s.tokens.RecordFailure(ctx, tokenID, message, category.RotatesToken(), threshold(cfg), s.now().Unix())
	if err != nil {
		return mapRepoErr(err)
	}
	if deactivated {
		s.metrics.TokenDeactivated(tok.Pool)
		s.logger.WarnContext(ctx, "token deactivated", "pool", tok.Pool, "token_id", tokenID, "label", tok.Label, "category", category)
		events.Emit(ctx, s.publisher, s.logger, events.Event{
			Type:    events.TypeTokenDeactivated,
			Payload: map[string]any{"pool": tok.Pool, "token_id": tokenID, "category": string(category)},
		})
	}
	return nil
}

func (s *tokenPoolService) ListPools(ctx context.Context) ([]repository.TokenPool, error) {
	return s.tokens.ListPools(ctx)
}

func (s *tokenPoolService) UpdatePool(ctx context.Context, input UpdatePoolInput) (*repository.TokenPool, error) {
	cfg, err := s.pool(ctx, input.Pool)
	if err != nil {
		return nil, err
	}
	if input.Policy != repository.PolicyLRU && input.Policy != repository.PolicyRoundRobin {
		return nil, invalidField("policy", "must be lru or round_robin")
	}
	if input.ErrorThreshold < 1 {
		return nil, invalidField("error_threshold", "must be at least 1")
	}
	cfg.Policy = input.Policy
	cfg.ErrorThreshold = input.ErrorThreshold
	cfg.UpdatedAt = s.now().Unix()
	if err := s.tokens.UpdatePool(ctx, cfg); err != nil {
		return nil, mapRepoErr(err)
	}
	return cfg, nil
}

func (s *tokenPoolService) Token(ctx context.Context, id int64) (*repository.APIToken, error) {
	tok, err := s.tokens.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return tok, nil
}

func (s *tokenPoolService) ListTokens(ctx context.Context, pool string) ([]*repository.APIToken, error) {
	if pool != "" && !knownPool(pool) {
		return nil, invalidField("pool", "unknown pool")
	}
	return s.tokens.List(ctx, pool)
}

func (s *tokenPoolService) CreateToken(ctx context.Context, input TokenInput) (*repository.APIToken, error) {
	if err := checkTokenInput(input); err != nil {
		return nil, err
	}
	now := s.now().Unix()
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	created, err := s.tokens.Create(ctx, &repository.APIToken{
		Pool:       input.Pool,
		Label:      strings.TrimSpace(input.Label),
		Credential: strings.TrimSpace(input.Credential),
		IsActive:   active,
		UsageLimit: input.UsageLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.logger.InfoContext(ctx, "token added", "pool", created.Pool, "token_id", created.ID)
	return created, nil
}

func (s *tokenPoolService) UpdateToken(ctx context.Context, id int64, input TokenInput) (*repository.APIToken, error) {
	tok, err := s.tokens.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if input.Pool == "" {
		input.Pool = tok.Pool
	}
	if input.Credential == "" {
		input.Credential = tok.Credential
	}
	if err := checkTokenInput(input); err != nil {
		return nil, err
	}
	tok.Pool = input.Pool
	tok.Label = strings.TrimSpace(input.Label)
	tok.Credential = strings.TrimSpace(input.Credential)
	tok.UsageLimit = input.UsageLimit
	if input.IsActive != nil {
		tok.IsActive = *input.IsActive
	}
	tok.UpdatedAt = s.now().Unix()
	if err := s.tokens.Update(ctx, tok); err != nil {
		return nil, mapRepoErr(err)
	}
	return tok, nil
}

func (s *tokenPoolService) DeleteToken(ctx context.Context, id int64) error {
	return mapRepoErr(s.tokens.Delete(ctx, id))
}

func (s *tokenPoolService) ResetToken(ctx context.Context, id int64) error {
	return mapRepoErr(s.tokens.ResetCounters(ctx, id, s.now().Unix()))
}

func (s *tokenPoolService) Stats(ctx context.Context) ([]repository.PoolStats, error) {
	stats, err := s.tokens.Stats(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range stats {
		s.metrics.SetPoolGauge(st.Pool, st.Active, st.Eligible)
	}
	return stats, nil
}

func (s *tokenPoolService) pool(ctx context.Context, pool string) (*repository.TokenPool, error) {
	if !knownPool(pool) {
		return nil, invalidField("pool", "unknown pool")
	}
	cfg, err := s.tokens.GetPool(ctx, pool)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return cfg, nil
}

func threshold(p *repository.TokenPool) int {
	if p == nil || p.ErrorThreshold <= 0 {
		return defaultErrorThreshold
	}
	return p.ErrorThreshold
}

func knownPool(pool string) bool {
	return slices.Contains(Pools, pool)
}

func checkTokenInput(input TokenInput) error {
	if !knownPool(input.Pool) {
		return invalidField("pool", "unknown pool")
	}
	if strings.TrimSpace(input.Credential) == "" {
		return invalidField("credential", "is required")
	}
	if input.UsageLimit < 0 {
		return invalidField("usage_limit", "must not be negative")
	}
	return nil
}
