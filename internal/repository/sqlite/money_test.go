package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/testutil"
)

func TestActivateIsIdempotentPerTransaction(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	u := testutil.CreateUser(t, store, repository.PlanFree)

	activation := repository.PlanActivation{
		Purchase:  repository.PlanPurchase{UserID: u.ID, PlanType: repository.PlanScale, Amount: 2500, Source: repository.SourceStripe, TransactionID: "tx-1", CreatedAt: 10},
		StartedAt: 10,
		ExpiresAt: 10 + 30*86400,
	}
	first, inserted, err := store.Purchases().Activate(ctx, activation)
	require.NoError(t, err)
	assert.True(t, inserted)

	again, inserted, err := store.Purchases().Activate(ctx, activation)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, again.ID)

	got, err := store.Users().FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PlanScale, got.PlanType)
	assert.Equal(t, int64(10+30*86400), got.PlanExpiresAt)

	firstPaid, err := store.Purchases().IsFirstPaid(ctx, first)
	require.NoError(t, err)
	assert.True(t, firstPaid)

	activation.Purchase.TransactionID = "tx-2"
	second, _, err := store.Purchases().Activate(ctx, activation)
	require.NoError(t, err)
	firstPaid, err = store.Purchases().IsFirstPaid(ctx, second)
	require.NoError(t, err)
	assert.False(t, firstPaid)

	list, err := store.Purchases().ListByUser(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAffiliateCreditOncePerTransaction(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	ref := testutil.CreateUser(t, store, repository.PlanEmpire)
	buyer := testutil.CreateUser(t, store, repository.PlanFree, func(u *repository.User) { u.ReferredBy = ref.UID })

	earning := func() *repository.AffiliateEarning {
		return &repository.AffiliateEarning{ReferrerID: ref.ID, ReferredUserID: buyer.ID, TransactionID: "tx-9",
			PlanType: repository.PlanEmpire, Amount: 300, IsFirstTime: true, Status: "credited", CreatedAt: 5}
	}
	ok, err := store.Affiliates().Credit(ctx, earning())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Affiliates().Credit(ctx, earning())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Users().FindByID(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.AffiliateBalance)
	assert.Equal(t, int64(1), got.TotalReferrals)

	total, err := store.Affiliates().TotalEarned(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), total)
}

func TestWithdrawalLifecycle(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	admin := testutil.CreateUser(t, store, repository.PlanFree, func(u *repository.User) { u.IsAdmin = true })
	u := testutil.CreateUser(t, store, repository.PlanEmpire)
	aff := store.Affiliates()

	_, err := aff.Credit(ctx, &repository.AffiliateEarning{ReferrerID: u.ID, ReferredUserID: 77, TransactionID: "t",
		PlanType: repository.PlanScale, Amount: 1500, Status: "credited", CreatedAt: 1})
	require.NoError(t, err)

	request := func(amount int64) (*repository.AffiliateWithdrawal, error) {
		return aff.CreateWithdrawal(ctx, &repository.AffiliateWithdrawal{UserID: u.ID, Amount: amount,
			BankName: "HBL", AccountTitle: "A", AccountNumber: "1", CreatedAt: 2})
	}
	w, err := request(1200)
	require.NoError(t, err)
	_, err = request(100)
	assert.ErrorIs(t, err, repository.ErrConflict)

	approved, err := aff.ApproveWithdrawal(ctx, w.ID, admin.ID, "paid", 3)
	require.NoError(t, err)
	assert.Equal(t, repository.WithdrawalApproved, approved.Status)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, admin.ID, *approved.ProcessedBy)

	_, err = aff.RejectWithdrawal(ctx, w.ID, admin.ID, "late", 4)
	assert.ErrorIs(t, err, repository.ErrStateChanged)
	_, err = aff.ApproveWithdrawal(ctx, 9999, admin.ID, "", 4)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := store.Users().FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.AffiliateBalance)

	// balance now short of the next request
	w2, err := request(500)
	require.NoError(t, err)
	_, err = aff.ApproveWithdrawal(ctx, w2.ID, admin.ID, "", 5)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	stillPending, err := aff.FindWithdrawal(ctx, w2.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.WithdrawalPending, stillPending.Status)

	rejected, err := aff.RejectWithdrawal(ctx, w2.ID, admin.ID, "no funds", 6)
	require.NoError(t, err)
	assert.Equal(t, repository.WithdrawalRejected, rejected.Status)

	list, err := aff.ListWithdrawals(ctx, repository.WithdrawalFilter{UserID: &u.ID})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestResellerLedgerTracksBalance(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	u := testutil.CreateUser(t, store, repository.PlanFree)
	repo := store.Resellers()

	rs, err := repo.Create(ctx, &repository.Reseller{UserID: u.ID, Name: "Shop", IsActive: true})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &repository.Reseller{UserID: u.ID, Name: "Dup"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	entry, err := repo.ApplyCredit(ctx, repository.CreditChange{ResellerID: rs.ID, Delta: 5000, Reason: "topup", CreatedAt: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), entry.BalanceAfter)

	entry, err = repo.ApplyCredit(ctx, repository.CreditChange{ResellerID: rs.ID, Delta: -2000, Reason: "spend", Reference: "scale", CreatedAt: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), entry.BalanceAfter)

	_, err = repo.ApplyCredit(ctx, repository.CreditChange{ResellerID: rs.ID, Delta: -4000, Reason: "spend", CreatedAt: 3})
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	_, err = repo.ApplyCredit(ctx, repository.CreditChange{ResellerID: 999, Delta: 1, Reason: "x", CreatedAt: 3})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := repo.FindByID(ctx, rs.ID)
	require.NoError(t, err)
	last, ok, err := repo.LastLedgerBalance(ctx, rs.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, got.CreditBalance, last)

	ledger, err := repo.Ledger(ctx, rs.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
}
