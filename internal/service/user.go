package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/support/hash"
	"github.com/veo3pk/studio/internal/support/logging"
)

// UserView is the JSON shape of an account.
type UserView struct {
	ID               int64  `json:"id"`
	UID              string `json:"uid"`
	Username         string `json:"username"`
	Email            string `json:"email,omitempty"`
	IsAdmin          bool   `json:"is_admin"`
	Status           int    `json:"status"`
	PlanType         string `json:"plan_type"`
	PlanStatus       string `json:"plan_status"`
	PlanExpiresAt    int64  `json:"plan_expires_at"`
	DailyVideoCount  int64  `json:"daily_video_count"`
	DailyVideoLimit  *int64 `json:"daily_video_limit"`
	VoiceUsed        int64  `json:"voice_characters_used"`
	AffiliateBalance int64  `json:"affiliate_balance"`
	TotalReferrals   int64  `json:"total_referrals"`
	ReferredBy       string `json:"referred_by,omitempty"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	LastLoginAt      int64  `json:"last_login_at"`
	CreatedAt        int64  `json:"created_at"`
}

// NewUserView drops secrets from a user row.
func NewUserView(u *repository.User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{
		ID:               u.ID,
		UID:              u.UID,
		Username:         u.Username,
		Email:            u.Email,
		IsAdmin:          u.IsAdmin,
		Status:           u.Status,
		PlanType:         u.PlanType,
		PlanStatus:       u.PlanStatus,
		PlanExpiresAt:    u.PlanExpiresAt,
		DailyVideoCount:  u.DailyVideoCount,
		DailyVideoLimit:  u.DailyVideoLimit,
		VoiceUsed:        u.VoiceCharactersUsed,
		AffiliateBalance: u.AffiliateBalance,
		TotalReferrals:   u.TotalReferrals,
		ReferredBy:       u.ReferredBy,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
	}
}

// AdminUserDetail adds billing history to a user view.
type AdminUserDetail struct {
	User      *UserView                  `json:"user"`
	Purchases []*repository.PlanPurchase `json:"purchases"`
	Quota     *QuotaStatus               `json:"quota"`
}

// AdminUserUpdate lists the editable fields; nil leaves a field unchanged.
type AdminUserUpdate struct {
	Email           *string `json:"email" validate:"omitempty,email"`
	IsAdmin         *bool   `json:"is_admin"`
	Status          *int    `json:"status" validate:"omitempty,oneof=0 1"`
	PlanType        *string `json:"plan_type" validate:"omitempty,oneof=free scale empire enterprise"`
	DurationDays    *int    `json:"duration_days" validate:"omitempty,min=0"`
	DailyVideoLimit *int64  `json:"daily_video_limit" validate:"omitempty,min=0"`
	ClearVideoLimit bool    `json:"clear_video_limit"`
	ResetQuota      bool    `json:"reset_quota"`
	Password        *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// AdminUserService backs the admin console user pages.
type AdminUserService interface {
	Search(ctx context.Context, filter repository.UserSearchFilter) ([]*UserView, int64, error)
	Get(ctx context.Context, id int64) (*AdminUserDetail, error)
	Update(ctx context.Context, adminID, id int64, in AdminUserUpdate) (*UserView, error)
}

type adminUserService struct {
	users     repository.UserRepository
	purchases repository.PurchaseRepository
	plans     PlanService
	hasher    hash.Hasher
	audit     security.Recorder
	logger    *slog.Logger
}

func NewAdminUserService(store repository.Store, plans PlanService, hasher hash.Hasher, audit security.Recorder, logger *slog.Logger) AdminUserService {
	return &adminUserService{
		users:     store.Users(),
		purchases: store.Purchases(),
		plans:     plans,
		hasher:    hasher,
		audit:     audit,
		logger:    logging.Component(logger, "admin_user"),
	}
}

func (s *adminUserService) Search(ctx context.Context, filter repository.UserSearchFilter) ([]*UserView, int64, error) {
	filter.Keyword = strings.TrimSpace(filter.Keyword)
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset, 50, 200)
	users, err := s.users.Search(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.users.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	views := make([]*UserView, 0, len(users))
	for _, u := range users {
		views = append(views, NewUserView(u))
	}
	return views, total, nil
}

func (s *adminUserService) Get(ctx context.Context, id int64) (*AdminUserDetail, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	purchases, err := s.purchases.ListByUser(ctx, id, 50, 0)
	if err != nil {
		return nil, err
	}
	quota, err := s.plans.Quota(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AdminUserDetail{User: NewUserView(user), Purchases: purchases, Quota: quota}, nil
}

func (s *adminUserService) Update(ctx context.Context, adminID, id int64, in AdminUserUpdate) (*UserView, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	changes := map[string]any{}
	if in.Email != nil {
		user.Email = strings.TrimSpace(*in.Email)
		changes["email"] = user.Email
	}
	if in.IsAdmin != nil {
		if adminID == id && !*in.IsAdmin {
			return nil, invalidField("is_admin", "cannot remove your own admin role")
		}
		user.IsAdmin = *in.IsAdmin
		changes["is_admin"] = user.IsAdmin
	}
	if in.Status != nil {
		if adminID == id && *in.Status != repository.UserStatusActive {
			return nil, invalidField("status", "cannot disable your own account")
		}
		user.Status = *in.Status
		changes["status"] = user.Status
	}
	switch {
	case in.ClearVideoLimit:
		user.DailyVideoLimit = nil
		changes["daily_video_limit"] = nil
	case in.DailyVideoLimit != nil:
		user.DailyVideoLimit = ptr(*in.DailyVideoLimit)
		changes["daily_video_limit"] = *in.DailyVideoLimit
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, mapRepoErr(err)
	}

	if in.Password != nil {
		hashed, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, err
		}
		if err := s.users.UpdatePassword(ctx, id, hashed); err != nil {
			return nil, mapRepoErr(err)
		}
		changes["password"] = "changed"
	}
	if in.PlanType != nil {
		days := 0
		if in.DurationDays != nil {
			days = *in.DurationDays
		}
		if _, err := s.plans.ActivatePlan(ctx, ActivationInput{UserID: id, PlanType: *in.PlanType, DurationDays: days, Source: repository.SourceAdmin}); err != nil {
			return nil, err
		}
		changes["plan_type"] = *in.PlanType
	}
	if in.ResetQuota {
		if err := s.plans.ResetQuota(ctx, id); err != nil {
			return nil, err
		}
		changes["reset_quota"] = true
	}

	if s.audit != nil {
		changes["user_id"] = id
		s.audit.Record(ctx, security.Event{Kind: security.EventAdminUserUpdate, ActorID: strconv.FormatInt(adminID, 10), Metadata: changes})
	}
	updated, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return NewUserView(updated), nil
}
