package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/events"
	"github.com/veo3pk/studio/internal/metrics"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/support/logging"
)

// QuotaKind names a metered resource.
type QuotaKind string

const (
	QuotaVideo QuotaKind = "video"
	QuotaVoice QuotaKind = "voice"
)

const (
	secondsPerDay          = 24 * 60 * 60
	defaultVoiceWindowDays = 10
)

// QuotaDecision is the outcome of one CheckAndConsumeQuota call.
type QuotaDecision struct {
	Allowed       bool      `json:"allowed"`
	Kind          QuotaKind `json:"kind"`
	EffectivePlan string    `json:"effective_plan"`
	Used          int64     `json:"used"`
	Limit         int64     `json:"limit"`
	Unlimited     bool      `json:"unlimited"`
	Reason        string    `json:"reason,omitempty"`
}

// QuotaUsage is one meter of the quota dashboard.
type QuotaUsage struct {
	Used     int64 `json:"used"`
	Limit    int64 `json:"limit"`
	ResetsAt int64 `json:"resets_at"`
}

// QuotaStatus summarizes a user's plan and meters.
type QuotaStatus struct {
	PlanType      string     `json:"plan_type"`
	EffectivePlan string     `json:"effective_plan"`
	PlanStatus    string     `json:"plan_status"`
	PlanExpiresAt int64      `json:"plan_expires_at"`
	Expired       bool       `json:"expired"`
	Unlimited     bool       `json:"unlimited"`
	Video         QuotaUsage `json:"video"`
	Voice         QuotaUsage `json:"voice"`
}

// ActivationInput applies a purchased plan to a user.
type ActivationInput struct {
	UserID        int64
	PlanType      string
	DurationDays  int
	Amount        int64
	Source        string
	TransactionID string
}

// ActivationResult reports what an activation changed.
type ActivationResult struct {
	Purchase  *repository.PlanPurchase `json:"purchase"`
	Inserted  bool                     `json:"inserted"`
	Credited  bool                     `json:"credited"`
	ExpiresAt int64                    `json:"expires_at"`
}

// PlanService owns the plan catalog, quota metering and plan activation.
type PlanService interface {
	// CheckAndConsumeQuota atomically charges amount; a denial returns the decision and ErrQuotaExceeded.
	CheckAndConsumeQuota(ctx context.Context, userID int64, kind QuotaKind, amount int64) (*QuotaDecision, error)
	Quota(ctx context.Context, userID int64) (*QuotaStatus, error)
	EffectivePlan(ctx context.Context, user *repository.User) (string, error)
	ListPlans(ctx context.Context) ([]repository.Plan, error)
	GetPlan(ctx context.Context, planType string) (*repository.Plan, error)
	UpdatePlan(ctx context.Context, plan repository.Plan) (*repository.Plan, error)
	ActivatePlan(ctx context.Context, in ActivationInput) (*ActivationResult, error)
	ResetQuota(ctx context.Context, userID int64) error
	ExpireDue(ctx context.Context) (int64, error)
}

type planService struct {
	users     repository.UserRepository
	plans     repository.PlanRepository
	purchases repository.PurchaseRepository
	affiliate AffiliateService
	quota     config.QuotaConfig
	location  *time.Location
	metrics   *metrics.Domain
	publisher events.Publisher
	logger    *slog.Logger
	now       Clock
}

func NewPlanService(store repository.Store, affiliate AffiliateService, quota config.QuotaConfig,
	m *metrics.Domain, publisher events.Publisher, logger *slog.Logger) PlanService {
	if quota.VoiceWindowDays <= 0 {
		quota.VoiceWindowDays = defaultVoiceWindowDays
	}
	return &planService{
		users:     store.Users(),
		plans:     store.Plans(),
		purchases: store.Purchases(),
		affiliate: affiliate,
		quota:     quota,
		location:  quota.Location(),
		metrics:   m,
		publisher: publisher,
		logger:    logging.Component(logger, "plan"),
		now:       systemClock,
	}
}

// limits resolves the effective plan and numeric limits; zero means unlimited.
type limits struct {
	plan      string
	expired   bool
	unlimited bool
	video     int64
	voice     int64
}

func (s *planService) limitsFor(ctx context.Context, user *repository.User, now time.Time) (limits, error) {
	out := limits{plan: user.PlanType, expired: planLapsed(user, now)}
	if out.expired {
		out.plan = repository.PlanFree
	}
	if user.IsAdmin {
		out.unlimited = true
		return out, nil
	}
	plan, err := s.plans.Get(ctx, out.plan)
	if errors.Is(err, repository.ErrNotFound) && out.plan != repository.PlanFree {
		out.plan = repository.PlanFree
		plan, err = s.plans.Get(ctx, out.plan)
	}
	if err != nil {
		return out, fmt.Errorf("load plan %s: %w", out.plan, err)
	}
	out.video = plan.DailyVideoLimit
	out.voice = plan.VoiceCharacterLimit
	if user.DailyVideoLimit != nil && !out.expired {
		out.video = *user.DailyVideoLimit
	}
	return out, nil
}

// planLapsed reports whether a paid plan no longer applies.
func planLapsed(user *repository.User, now time.Time) bool {
	if user.PlanType == repository.PlanFree || user.PlanType == "" {
		return false
	}
	if user.PlanStatus == repository.PlanStatusExpired || user.PlanStatus == repository.PlanStatusCancelled {
		return true
	}
	return user.PlanExpiresAt > 0 && user.PlanExpiresAt <= now.Unix()
}

func (s *planService) CheckAndConsumeQuota(ctx context.Context, userID int64, kind QuotaKind, amount int64) (*QuotaDecision, error) {
	if amount <= 0 {
		amount = 1
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	now := s.now()
	lim, err := s.limitsFor(ctx, user, now)
	if err != nil {
		return nil, err
	}

	decision := &QuotaDecision{Kind: kind, EffectivePlan: lim.plan, Unlimited: lim.unlimited}
	var (
		used int64
		ok   bool
	)
	switch kind {
	case QuotaVideo:
		limit := lim.video
		if lim.unlimited {
			limit = 0
		}
		decision.Limit = limit
		used, ok, err = s.users.ConsumeVideoQuota(ctx, userID, s.today(now), amount, limit)
	case QuotaVoice:
		limit := lim.voice
		if lim.unlimited {
			limit = 0
		}
		decision.Limit = limit
		cutoff := now.Unix() - int64(s.quota.VoiceWindowDays)*secondsPerDay
		used, ok, err = s.users.ConsumeVoiceQuota(ctx, userID, amount, limit, cutoff, now.Unix())
	default:
		return nil, invalidField("kind", "unknown quota kind")
	}
	if err != nil {
		return nil, mapRepoErr(err)
	}
	decision.Unlimited = decision.Limit == 0
	decision.Allowed = ok
	decision.Used = used
	s.metrics.QuotaDecision(string(kind), ok)
	if !ok {
		decision.Reason = "quota_exceeded"
		if lim.expired {
			decision.Reason = "plan_expired"
		}
		return decision, fmt.Errorf("%w: %s limit %d on %s plan", ErrQuotaExceeded, kind, decision.Limit, lim.plan)
	}
	return decision, nil
}

func (s *planService) Quota(ctx context.Context, userID int64) (*QuotaStatus, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	now := s.now()
	lim, err := s.limitsFor(ctx, user, now)
	if err != nil {
		return nil, err
	}
	status := &QuotaStatus{
		PlanType:      user.PlanType,
		EffectivePlan: lim.plan,
		PlanStatus:    user.PlanStatus,
		PlanExpiresAt: user.PlanExpiresAt,
		Expired:       lim.expired,
		Unlimited:     lim.unlimited,
		Video:         QuotaUsage{Limit: lim.video, ResetsAt: s.nextMidnight(now).Unix()},
		Voice:         QuotaUsage{Limit: lim.voice},
	}
	if lim.unlimited {
		status.Video.Limit, status.Voice.Limit = 0, 0
	}
	if user.DailyResetDate == s.today(now) {
		status.Video.Used = user.DailyVideoCount
	}
	window := int64(s.quota.VoiceWindowDays) * secondsPerDay
	if user.VoiceCharactersResetAt > now.Unix()-window {
		status.Voice.Used = user.VoiceCharactersUsed
		status.Voice.ResetsAt = user.VoiceCharactersResetAt + window
	}
	return status, nil
}

func (s *planService) EffectivePlan(ctx context.Context, user *repository.User) (string, error) {
	lim, err := s.limitsFor(ctx, user, s.now())
	if err != nil {
		return "", err
	}
	return lim.plan, nil
}

func (s *planService) ListPlans(ctx context.Context) ([]repository.Plan, error) {
	return s.plans.List(ctx)
}

func (s *planService) GetPlan(ctx context.Context, planType string) (*repository.Plan, error) {
	plan, err := s.plans.Get(ctx, planType)
	return plan, mapRepoErr(err)
}

func (s *planService) UpdatePlan(ctx context.Context, plan repository.Plan) (*repository.Plan, error) {
	if _, err := s.plans.Get(ctx, plan.PlanType); err != nil {
		return nil, mapRepoErr(err)
	}
	if plan.DailyVideoLimit < 0 || plan.VoiceCharacterLimit < 0 || plan.Price < 0 || plan.DurationDays < 0 || plan.ResellerCost < 0 {
		return nil, invalidField("plan", "limits and prices must not be negative")
	}
	if strings.TrimSpace(plan.Name) == "" {
		return nil, invalidField("name", "is required")
	}
	plan.UpdatedAt = s.now().Unix()
	if err := s.plans.Upsert(ctx, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *planService) ActivatePlan(ctx context.Context, in ActivationInput) (*ActivationResult, error) {
	plan, err := s.plans.Get(ctx, in.PlanType)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if in.Source == "" {
		in.Source = repository.SourceAdmin
	}
	if strings.TrimSpace(in.TransactionID) == "" {
		in.TransactionID = in.Source + "-" + uuid.NewString()
	}
	days := in.DurationDays
	if days <= 0 {
		days = plan.DurationDays
	}
	now := s.now().Unix()
	var expires int64
	if days > 0 && in.PlanType != repository.PlanFree {
		expires = now + int64(days)*secondsPerDay
	}

	purchase, inserted, err := s.purchases.Activate(ctx, repository.PlanActivation{
		Purchase: repository.PlanPurchase{
			UserID:        in.UserID,
			PlanType:      in.PlanType,
			Amount:        in.Amount,
			Source:        in.Source,
			TransactionID: in.TransactionID,
			CreatedAt:     now,
		},
		StartedAt: now,
		ExpiresAt: expires,
	})
	if err != nil {
		return nil, fmt.Errorf("activate plan: %w", mapRepoErr(err))
	}
	result := &ActivationResult{Purchase: purchase, Inserted: inserted, ExpiresAt: expires}
	if inserted {
		s.logger.InfoContext(ctx, "plan activated", "user_id", in.UserID, "plan", in.PlanType, "source", in.Source, "transaction_id", in.TransactionID)
		events.Emit(ctx, s.publisher, s.logger, events.Event{
			Type:    events.TypePlanActivated,
			UserID:  in.UserID,
			Payload: map[string]any{"plan_type": in.PlanType, "source": in.Source, "expires_at": expires},
		})
	}

	// Crediting is idempotent, so a replayed purchase retries a credit that may have been lost.
	user, err := s.users.FindByID(ctx, in.UserID)
	if err != nil {
		return result, mapRepoErr(err)
	}
	if s.affiliate != nil && user.ReferredBy != "" && purchase.Amount > 0 {
		first, err := s.purchases.IsFirstPaid(ctx, purchase)
		if err != nil {
			return result, err
		}
		credited, err := s.affiliate.CreditReferral(ctx, ReferralCredit{
			ReferrerUID:    user.ReferredBy,
			ReferredUserID: user.ID,
			PlanType:       purchase.PlanType,
			IsFirstTime:    first,
			TransactionID:  purchase.TransactionID,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "credit referral failed", "user_id", user.ID, "transaction_id", purchase.TransactionID, "error", err)
			return result, err
		}
		result.Credited = credited
	}
	return result, nil
}

func (s *planService) ResetQuota(ctx context.Context, userID int64) error {
	return mapRepoErr(s.users.ResetQuota(ctx, userID))
}

func (s *planService) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.users.ExpirePlans(ctx, s.now().Unix())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "plans expired", "count", n)
	}
	return n, nil
}

func (s *planService) today(now time.Time) string {
	return now.In(s.location).Format("2006-01-02")
}

func (s *planService) nextMidnight(now time.Time) time.Time {
	local := now.In(s.location)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, s.location)
}
