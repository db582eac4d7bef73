package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/testutil"
)

type storeAccounts struct {
	store repository.Store
	err   error
}

func (a storeAccounts) CreateAccount(ctx context.Context, in NewAccount) (*repository.User, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.store.Users().Create(ctx, &repository.User{
		UID:      "uid-" + in.Username,
		Username: in.Username,
		Email:    in.Email,
		Password: "hashed",
		Status:   repository.UserStatusActive,
	})
}

func (a storeAccounts) RemoveAccount(ctx context.Context, userID int64) error {
	return a.store.Users().Delete(ctx, userID)
}

type failingActivation struct {
	PlanService
	err error
}

func (p failingActivation) ActivatePlan(context.Context, ActivationInput) (*ActivationResult, error) {
	return nil, p.err
}

func newResellerFixture(t *testing.T, accounts AccountCreator) (*fixture, ResellerService, *repository.Reseller, *repository.User) {
	t.Helper()
	f := newFixture(t)
	if accounts == nil {
		accounts = storeAccounts{store: f.store}
	}
	svc := NewResellerService(f.store.Resellers(), f.plans, accounts, security.NewLoggerRecorder(discardLogger()), discardLogger())
	owner := testutil.CreateUser(t, f.store, repository.PlanFree)
	r, err := svc.Create(context.Background(), CreateResellerInput{UserID: owner.ID, Name: "Lahore Media", InitialCredits: 5000}, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5000), r.CreditBalance)
	return f, svc, r, owner
}

func TestSpendCreditsAppendsLedger(t *testing.T) {
	_, svc, r, owner := newResellerFixture(t, nil)
	ctx := context.Background()

	balance, err := svc.SpendCredits(ctx, r.ID, 1200, ReasonAdjust, "manual", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3800), balance)

	_, err = svc.SpendCredits(ctx, r.ID, 10000, ReasonAdjust, "too much", owner.ID)
	require.ErrorIs(t, err, ErrInsufficientCredits)

	_, err = svc.SpendCredits(ctx, r.ID, 0, ReasonAdjust, "", owner.ID)
	require.ErrorIs(t, err, ErrValidation)

	entries, err := svc.Ledger(ctx, r.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var deltas []int64
	for _, e := range entries {
		deltas = append(deltas, e.Delta)
	}
	assert.ElementsMatch(t, []int64{5000, -1200}, deltas)

	audit, err := svc.Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	assert.Equal(t, int64(3800), audit.LedgerBalance)
}

func TestProvisionUserChargesPlanCost(t *testing.T) {
	f, svc, r, owner := newResellerFixture(t, nil)
	ctx := context.Background()

	res, err := svc.ProvisionUser(ctx, owner.ID, ProvisionInput{Username: "customer1", Password: "secret123", PlanType: repository.PlanScale})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.Cost)
	assert.Equal(t, int64(3000), res.Balance)
	assert.Equal(t, ReasonProvision, res.Entry.Reason)

	customer, err := f.store.Users().FindByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.Equal(t, repository.PlanScale, customer.PlanType)
	assert.Greater(t, customer.PlanExpiresAt, int64(0))

	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), got.CreditBalance)
}

func TestProvisionRefundsWhenAccountCreationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewResellerService(f.store.Resellers(), f.plans, storeAccounts{err: ErrConflict}, nil, discardLogger())
	owner := testutil.CreateUser(t, f.store, repository.PlanFree)
	r, err := svc.Create(ctx, CreateResellerInput{UserID: owner.ID, Name: "Karachi", InitialCredits: 2500}, 1)
	require.NoError(t, err)

	_, err = svc.ProvisionUser(ctx, owner.ID, ProvisionInput{Username: "taken", Password: "secret123", PlanType: repository.PlanScale})
	require.ErrorIs(t, err, ErrConflict)

	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.CreditBalance)

	entries, err := svc.Ledger(ctx, r.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestProvisionRemovesAccountWhenActivationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plans := failingActivation{PlanService: f.plans, err: errBoom}
	svc := NewResellerService(f.store.Resellers(), plans, storeAccounts{store: f.store}, nil, discardLogger())
	owner := testutil.CreateUser(t, f.store, repository.PlanFree)
	r, err := svc.Create(ctx, CreateResellerInput{UserID: owner.ID, Name: "Multan", InitialCredits: 2500}, 1)
	require.NoError(t, err)

	in := ProvisionInput{Username: "retryme", Password: "secret123", PlanType: repository.PlanScale}
	_, err = svc.ProvisionUser(ctx, owner.ID, in)
	require.ErrorIs(t, err, errBoom)

	_, err = f.store.Users().FindByUsername(ctx, "retryme")
	require.ErrorIs(t, err, repository.ErrNotFound)
	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.CreditBalance)

	retry := NewResellerService(f.store.Resellers(), f.plans, storeAccounts{store: f.store}, nil, discardLogger())
	res, err := retry.ProvisionUser(ctx, owner.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "retryme", res.Username)
}

func TestInactiveResellerCannotProvision(t *testing.T) {
	_, svc, r, owner := newResellerFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.SetActive(ctx, r.ID, false))

	_, err := svc.ProvisionUser(ctx, owner.ID, ProvisionInput{Username: "c2", Password: "secret123", PlanType: repository.PlanScale})
	require.ErrorIs(t, err, ErrForbidden)
}
