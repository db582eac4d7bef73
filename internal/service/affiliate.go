package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/veo3pk/studio/internal/events"
	"github.com/veo3pk/studio/internal/notifier"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/support/logging"
)

const earningCredited = "credited"

// ReferralCredit describes a paid purchase by a referred user.
type ReferralCredit struct {
	ReferrerUID    string
	ReferredUserID int64
	PlanType       string
	IsFirstTime    bool
	TransactionID  string
}

// AffiliateSummary is the dashboard view of a referrer.
type AffiliateSummary struct {
	UID             string                          `json:"uid"`
	Balance         int64                           `json:"balance"`
	TotalEarned     int64                           `json:"total_earned"`
	TotalReferrals  int64                           `json:"total_referrals"`
	MinWithdrawal   int64                           `json:"min_withdrawal"`
	PendingRequest  *repository.AffiliateWithdrawal `json:"pending_withdrawal,omitempty"`
	RecentReferrals []ReferralView                  `json:"recent_referrals"`
}

// ReferralView hides private columns of referred users.
type ReferralView struct {
	Username  string `json:"username"`
	PlanType  string `json:"plan_type"`
	CreatedAt int64  `json:"created_at"`
}

// WithdrawalInput is a payout request.
type WithdrawalInput struct {
	Amount        int64  `json:"amount" validate:"required,min=1"`
	BankName      string `json:"bank_name" validate:"required,max=120"`
	AccountTitle  string `json:"account_title" validate:"required,max=120"`
	AccountNumber string `json:"account_number" validate:"required,max=64"`
}

// AffiliateService credits referral rewards and handles payouts.
type AffiliateService interface {
	// CreditReferral is idempotent per (referred user, transaction id).
	CreditReferral(ctx context.Context, in ReferralCredit) (credited bool, err error)
	Summary(ctx context.Context, userID int64) (*AffiliateSummary, error)
	ListEarnings(ctx context.Context, userID int64, limit, offset int) ([]*repository.AffiliateEarning, error)
	RequestWithdrawal(ctx context.Context, userID int64, in WithdrawalInput) (*repository.AffiliateWithdrawal, error)
	ListWithdrawals(ctx context.Context, filter repository.WithdrawalFilter) ([]*repository.AffiliateWithdrawal, error)
	ApproveWithdrawal(ctx context.Context, id, adminID int64, remarks string) (*repository.AffiliateWithdrawal, error)
	RejectWithdrawal(ctx context.Context, id, adminID int64, remarks string) (*repository.AffiliateWithdrawal, error)
}

type affiliateService struct {
	users     repository.UserRepository
	ledger    repository.AffiliateRepository
	settings  SettingsService
	notifier  notifier.Service
	audit     security.Recorder
	publisher events.Publisher
	logger    *slog.Logger
	now       Clock
}

func NewAffiliateService(users repository.UserRepository, ledger repository.AffiliateRepository, settings SettingsService,
	notify notifier.Service, audit security.Recorder, publisher events.Publisher, logger *slog.Logger) AffiliateService {
	return &affiliateService{
		users:     users,
		ledger:    ledger,
		settings:  settings,
		notifier:  notify,
		audit:     audit,
		publisher: publisher,
		logger:    logging.Component(logger, "affiliate"),
		now:       systemClock,
	}
}

func (s *affiliateService) CreditReferral(ctx context.Context, in ReferralCredit) (bool, error) {
	uid := strings.TrimSpace(in.ReferrerUID)
	if uid == "" || strings.TrimSpace(in.TransactionID) == "" {
		return false, nil
	}
	referrer, err := s.users.FindByUID(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.WarnContext(ctx, "referrer not found", "uid", uid, "transaction_id", in.TransactionID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if referrer.ID == in.ReferredUserID {
		return false, nil
	}
	cfg, err := s.settings.Affiliate(ctx)
	if err != nil {
		return false, err
	}
	amount := cfg.Commission(in.PlanType, in.IsFirstTime)
	if amount <= 0 {
		return false, nil
	}

	earning := &repository.AffiliateEarning{
		ReferrerID:     referrer.ID,
		ReferredUserID: in.ReferredUserID,
		TransactionID:  in.TransactionID,
		PlanType:       in.PlanType,
		Amount:         amount,
		IsFirstTime:    in.IsFirstTime,
		Status:         earningCredited,
		CreatedAt:      s.now().Unix(),
	}
	credited, err := s.ledger.Credit(ctx, earning)
	if err != nil {
		return false, fmt.Errorf("credit referral: %w", err)
	}
	if !credited {
		s.logger.InfoContext(ctx, "referral already credited", "referrer_id", referrer.ID, "transaction_id", in.TransactionID)
		return false, nil
	}
	s.logger.InfoContext(ctx, "referral credited", "referrer_id", referrer.ID, "amount", amount, "first_time", in.IsFirstTime)
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:   events.TypeReferralCredited,
		UserID: referrer.ID,
		Payload: map[string]any{
			"referred_user_id": in.ReferredUserID,
			"transaction_id":   in.TransactionID,
			"plan_type":        in.PlanType,
			"amount":           amount,
		},
	})
	return true, nil
}

func (s *affiliateService) Summary(ctx context.Context, userID int64) (*AffiliateSummary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	cfg, err := s.settings.Affiliate(ctx)
	if err != nil {
		return nil, err
	}
	total, err := s.ledger.TotalEarned(ctx, userID)
	if err != nil {
		return nil, err
	}
	referrals, err := s.users.ListReferrals(ctx, user.UID, 10, 0)
	if err != nil {
		return nil, err
	}
	pending, err := s.ledger.ListWithdrawals(ctx, repository.WithdrawalFilter{UserID: &userID, Status: repository.WithdrawalPending, Limit: 1})
	if err != nil {
		return nil, err
	}
	summary := &AffiliateSummary{
		UID:             user.UID,
		Balance:         user.AffiliateBalance,
		TotalEarned:     total,
		TotalReferrals:  user.TotalReferrals,
		MinWithdrawal:   cfg.MinWithdrawal,
		RecentReferrals: make([]ReferralView, 0, len(referrals)),
	}
	if len(pending) > 0 {
		summary.PendingRequest = pending[0]
	}
	for _, r := range referrals {
		summary.RecentReferrals = append(summary.RecentReferrals, ReferralView{Username: r.Username, PlanType: r.PlanType, CreatedAt: r.CreatedAt})
	}
	return summary, nil
}

func (s *affiliateService) ListEarnings(ctx context.Context, userID int64, limit, offset int) ([]*repository.AffiliateEarning, error) {
	limit, offset = clampPage(limit, offset, 20, 100)
	return s.ledger.ListEarnings(ctx, userID, limit, offset)
}

func (s *affiliateService) RequestWithdrawal(ctx context.Context, userID int64, in WithdrawalInput) (*repository.AffiliateWithdrawal, error) {
	in.BankName = strings.TrimSpace(in.BankName)
	in.AccountTitle = strings.TrimSpace(in.AccountTitle)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	if in.BankName == "" || in.AccountTitle == "" || in.AccountNumber == "" {
		return nil, invalidField("bank_name", "bank details are required")
	}
	if in.Amount <= 0 {
		return nil, invalidField("amount", "must be positive")
	}
	cfg, err := s.settings.Affiliate(ctx)
	if err != nil {
		return nil, err
	}
	if in.Amount < cfg.MinWithdrawal {
		return nil, fmt.Errorf("%w: minimum is %d", ErrWithdrawalMinimum, cfg.MinWithdrawal)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if user.AffiliateBalance < in.Amount {
		return nil, ErrInsufficientBalance
	}
	w, err := s.ledger.CreateWithdrawal(ctx, &repository.AffiliateWithdrawal{
		UserID:        userID,
		Amount:        in.Amount,
		BankName:      in.BankName,
		AccountTitle:  in.AccountTitle,
		AccountNumber: in.AccountNumber,
		CreatedAt:     s.now().Unix(),
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrWithdrawalPending
	}
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "withdrawal requested", "user_id", userID, "withdrawal_id", w.ID, "amount", w.Amount)
	return w, nil
}

func (s *affiliateService) ListWithdrawals(ctx context.Context, filter repository.WithdrawalFilter) ([]*repository.AffiliateWithdrawal, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset, 50, 200)
	return s.ledger.ListWithdrawals(ctx, filter)
}

func (s *affiliateService) ApproveWithdrawal(ctx context.Context, id, adminID int64, remarks string) (*repository.AffiliateWithdrawal, error) {
	w, err := s.ledger.ApproveWithdrawal(ctx, id, adminID, strings.TrimSpace(remarks), s.now().Unix())
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.decided(ctx, w, adminID)
	return w, nil
}

func (s *affiliateService) RejectWithdrawal(ctx context.Context, id, adminID int64, remarks string) (*repository.AffiliateWithdrawal, error) {
	w, err := s.ledger.RejectWithdrawal(ctx, id, adminID, strings.TrimSpace(remarks), s.now().Unix())
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.decided(ctx, w, adminID)
	return w, nil
}

func (s *affiliateService) decided(ctx context.Context, w *repository.AffiliateWithdrawal, adminID int64) {
	if s.audit != nil {
		s.audit.Record(ctx, security.Event{
			Kind:    security.EventWithdrawalDecided,
			ActorID: strconv.FormatInt(adminID, 10),
			Metadata: map[string]any{
				"withdrawal_id": w.ID,
				"user_id":       w.UserID,
				"status":        w.Status,
				"amount":        w.Amount,
			},
		})
	}
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.TypeWithdrawalDecided,
		UserID:  w.UserID,
		Payload: map[string]any{"withdrawal_id": w.ID, "status": w.Status, "amount": w.Amount},
	})
	if s.notifier == nil {
		return
	}
	user, err := s.users.FindByID(ctx, w.UserID)
	if err != nil || strings.TrimSpace(user.Email) == "" {
		return
	}
	err = s.notifier.SendEmail(ctx, notifier.EmailRequest{
		To:      user.Email,
		Subject: "Withdrawal " + w.Status,
		Body:    fmt.Sprintf("Your withdrawal #%d of PKR %d was %s. %s", w.ID, w.Amount, w.Status, w.Remarks),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "queue withdrawal email failed", "withdrawal_id", w.ID, "error", err)
	}
}
