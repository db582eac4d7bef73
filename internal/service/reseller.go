package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/support/logging"
)

// Ledger reasons.
const (
	ReasonTopUp     = "topup"
	ReasonProvision = "provision"
	ReasonRefund    = "refund"
	ReasonAdjust    = "adjustment"
)

// CreateResellerInput registers an existing user as a reseller.
type CreateResellerInput struct {
	UserID         int64  `json:"user_id" validate:"required,min=1"`
	Name           string `json:"name" validate:"required,max=120"`
	InitialCredits int64  `json:"initial_credits" validate:"min=0"`
}

// ProvisionInput creates a customer account paid from reseller credits.
type ProvisionInput struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"omitempty,email"`
	PlanType string `json:"plan_type" validate:"required,oneof=scale empire enterprise"`
}

// ProvisionResult is returned after a successful provision.
type ProvisionResult struct {
	User      *repository.User              `json:"-"`
	UserID    int64                         `json:"user_id"`
	Username  string                        `json:"username"`
	PlanType  string                        `json:"plan_type"`
	ExpiresAt int64                         `json:"expires_at"`
	Cost      int64                         `json:"cost"`
	Balance   int64                         `json:"balance"`
	Entry     *repository.CreditLedgerEntry `json:"ledger_entry"`
}

// LedgerAudit compares the stored balance with the ledger tail.
type LedgerAudit struct {
	ResellerID    int64 `json:"reseller_id"`
	Balance       int64 `json:"balance"`
	LedgerBalance int64 `json:"ledger_balance"`
	HasLedger     bool  `json:"has_ledger"`
	Consistent    bool  `json:"consistent"`
}

// AccountCreator creates user accounts for provisioning flows.
type AccountCreator interface {
	CreateAccount(ctx context.Context, in NewAccount) (*repository.User, error)
	RemoveAccount(ctx context.Context, userID int64) error
}

// ResellerService manages reseller balances and provisioning.
type ResellerService interface {
	// SpendCredits debits amount and returns the new balance; ErrInsufficientCredits when short.
	SpendCredits(ctx context.Context, resellerID, amount int64, reason, reference string, actorID int64) (int64, error)
	TopUp(ctx context.Context, resellerID, amount, adminID int64, note string) (*repository.CreditLedgerEntry, error)
	Create(ctx context.Context, in CreateResellerInput, adminID int64) (*repository.Reseller, error)
	SetActive(ctx context.Context, id int64, active bool) error
	List(ctx context.Context) ([]*repository.Reseller, error)
	Get(ctx context.Context, id int64) (*repository.Reseller, error)
	ForUser(ctx context.Context, userID int64) (*repository.Reseller, error)
	ProvisionUser(ctx context.Context, resellerUserID int64, in ProvisionInput) (*ProvisionResult, error)
	Ledger(ctx context.Context, resellerID int64, limit, offset int) ([]*repository.CreditLedgerEntry, error)
	Audit(ctx context.Context, resellerID int64) (*LedgerAudit, error)
}

type resellerService struct {
	resellers repository.ResellerRepository
	plans     PlanService
	accounts  AccountCreator
	audit     security.Recorder
	logger    *slog.Logger
	now       Clock
}

func NewResellerService(resellers repository.ResellerRepository, plans PlanService, accounts AccountCreator, audit security.Recorder, logger *slog.Logger) ResellerService {
	return &resellerService{
		resellers: resellers,
		plans:     plans,
		accounts:  accounts,
		audit:     audit,
		logger:    logging.Component(logger, "reseller"),
		now:       systemClock,
	}
}

func (s *resellerService) SpendCredits(ctx context.Context, resellerID, amount int64, reason, reference string, actorID int64) (int64, error) {
	if amount <= 0 {
		return 0, invalidField("amount", "must be positive")
	}
	entry, err := s.apply(ctx, resellerID, -amount, reason, reference, actorID)
	if err != nil {
		return 0, err
	}
	return entry.BalanceAfter, nil
}

func (s *resellerService) TopUp(ctx context.Context, resellerID, amount, adminID int64, note string) (*repository.CreditLedgerEntry, error) {
	if amount == 0 {
		return nil, invalidField("amount", "must not be zero")
	}
	reason := ReasonTopUp
	if amount < 0 {
		reason = ReasonAdjust
	}
	entry, err := s.apply(ctx, resellerID, amount, reason, strings.TrimSpace(note), adminID)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.Record(ctx, security.Event{
			Kind:     security.EventResellerTopUp,
			ActorID:  strconv.FormatInt(adminID, 10),
			Metadata: map[string]any{"reseller_id": resellerID, "delta": amount, "balance_after": entry.BalanceAfter},
		})
	}
	return entry, nil
}

func (s *resellerService) apply(ctx context.Context, resellerID, delta int64, reason, reference string, actorID int64) (*repository.CreditLedgerEntry, error) {
	entry, err := s.resellers.ApplyCredit(ctx, repository.CreditChange{
		ResellerID: resellerID,
		Delta:      delta,
		Reason:     reason,
		Reference:  reference,
		CreatedBy:  actorID,
		CreatedAt:  s.now().Unix(),
	})
	if errors.Is(err, repository.ErrInsufficientFunds) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return entry, nil
}

func (s *resellerService) Create(ctx context.Context, in CreateResellerInput, adminID int64) (*repository.Reseller, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalidField("name", "is required")
	}
	if in.InitialCredits < 0 {
		return nil, invalidField("initial_credits", "must not be negative")
	}
	now := s.now().Unix()
	reseller, err := s.resellers.Create(ctx, &repository.Reseller{UserID: in.UserID, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if in.InitialCredits > 0 {
		entry, err := s.TopUp(ctx, reseller.ID, in.InitialCredits, adminID, "initial credits")
		if err != nil {
			return nil, err
		}
		reseller.CreditBalance = entry.BalanceAfter
	}
	return reseller, nil
}

func (s *resellerService) SetActive(ctx context.Context, id int64, active bool) error {
	return mapRepoErr(s.resellers.SetActive(ctx, id, active, s.now().Unix()))
}

func (s *resellerService) List(ctx context.Context) ([]*repository.Reseller, error) {
	return s.resellers.List(ctx)
}

func (s *resellerService) Get(ctx context.Context, id int64) (*repository.Reseller, error) {
	r, err := s.resellers.FindByID(ctx, id)
	return r, mapRepoErr(err)
}

func (s *resellerService) ForUser(ctx context.Context, userID int64) (*repository.Reseller, error) {
	r, err := s.resellers.FindByUserID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !r.IsActive {
		return nil, ErrForbidden
	}
	return r, nil
}

func (s *resellerService) ProvisionUser(ctx context.Context, resellerUserID int64, in ProvisionInput) (*ProvisionResult, error) {
	reseller, err := s.ForUser(ctx, resellerUserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetPlan(ctx, in.PlanType)
	if err != nil {
		return nil, err
	}
	if plan.PlanType == repository.PlanFree {
		return nil, invalidField("plan_type", "free accounts do not need credits")
	}
	username := strings.TrimSpace(in.Username)
	reference := "provision:" + strings.ToLower(username)

	spend, err := s.apply(ctx, reseller.ID, -plan.ResellerCost, ReasonProvision, reference, resellerUserID)
	if err != nil {
		return nil, err
	}

	user, err := s.accounts.CreateAccount(ctx, NewAccount{Username: username, Password: in.Password, Email: in.Email})
	if err != nil {
		s.refund(ctx, reseller.ID, plan.ResellerCost, reference, resellerUserID)
		return nil, err
	}
	activation, err := s.plans.ActivatePlan(ctx, ActivationInput{
		UserID:        user.ID,
		PlanType:      plan.PlanType,
		Amount:        plan.ResellerCost,
		Source:        repository.SourceReseller,
		TransactionID: fmt.Sprintf("reseller-%d-%d", reseller.ID, spend.ID),
	})
	if err != nil {
		// Drop the half-provisioned account so the same username can be retried.
		if rmErr := s.accounts.RemoveAccount(context.WithoutCancel(ctx), user.ID); rmErr != nil {
			s.logger.ErrorContext(ctx, "remove provisioned account failed", "user_id", user.ID, "error", rmErr)
		}
		s.refund(ctx, reseller.ID, plan.ResellerCost, reference, resellerUserID)
		return nil, err
	}
	s.logger.InfoContext(ctx, "account provisioned", "reseller_id", reseller.ID, "user_id", user.ID, "plan", plan.PlanType, "cost", plan.ResellerCost)
	return &ProvisionResult{
		User:      user,
		UserID:    user.ID,
		Username:  user.Username,
		PlanType:  plan.PlanType,
		ExpiresAt: activation.ExpiresAt,
		Cost:      plan.ResellerCost,
		Balance:   spend.BalanceAfter,
		Entry:     spend,
	}, nil
}

func (s *resellerService) refund(ctx context.Context, resellerID, amount int64, reference string, actorID int64) {
	if amount <= 0 {
		return
	}
	if _, err := s.apply(ctx, resellerID, amount, ReasonRefund, reference, actorID); err != nil {
		s.logger.ErrorContext(ctx, "refund reseller credits failed", "reseller_id", resellerID, "amount", amount, "error", err)
	}
}

func (s *resellerService) Ledger(ctx context.Context, resellerID int64, limit, offset int) ([]*repository.CreditLedgerEntry, error) {
	limit, offset = clampPage(limit, offset, 50, 200)
	return s.resellers.Ledger(ctx, resellerID, limit, offset)
}

func (s *resellerService) Audit(ctx context.Context, resellerID int64) (*LedgerAudit, error) {
	reseller, err := s.resellers.FindByID(ctx, resellerID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	last, ok, err := s.resellers.LastLedgerBalance(ctx, resellerID)
	if err != nil {
		return nil, err
	}
	audit := &LedgerAudit{ResellerID: resellerID, Balance: reseller.CreditBalance, LedgerBalance: last, HasLedger: ok}
	audit.Consistent = (ok && last == reseller.CreditBalance) || (!ok && reseller.CreditBalance == 0)
	if !audit.Consistent {
		s.logger.WarnContext(ctx, "reseller ledger mismatch", "reseller_id", resellerID, "balance", reseller.CreditBalance, "ledger", last)
	}
	return audit, nil
}
