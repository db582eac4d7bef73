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

func TestAdminUserUpdate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	svc := NewAdminUserService(f.store, f.plans, f.hasher, security.NewLoggerRecorder(discardLogger()), discardLogger())
	admin := testutil.CreateUser(t, f.store, repository.PlanFree, func(u *repository.User) { u.IsAdmin = true })
	user := testutil.CreateUser(t, f.store, repository.PlanFree)

	view, err := svc.Update(ctx, admin.ID, user.ID, AdminUserUpdate{
		PlanType:        ptr(repository.PlanScale),
		DurationDays:    ptr(7),
		DailyVideoLimit: ptr(int64(12)),
		Password:        ptr("reset-by-admin"),
	})
	require.NoError(t, err)
	assert.Equal(t, repository.PlanScale, view.PlanType)
	require.NotNil(t, view.DailyVideoLimit)
	assert.Equal(t, int64(12), *view.DailyVideoLimit)
	assert.NotZero(t, view.PlanExpiresAt)

	_, err = f.auth.Login(ctx, LoginInput{Username: user.Username, Password: "reset-by-admin"})
	require.NoError(t, err)

	view, err = svc.Update(ctx, admin.ID, user.ID, AdminUserUpdate{ClearVideoLimit: true})
	require.NoError(t, err)
	assert.Nil(t, view.DailyVideoLimit)

	_, err = svc.Update(ctx, admin.ID, admin.ID, AdminUserUpdate{IsAdmin: ptr(false)})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Update(ctx, admin.ID, admin.ID, AdminUserUpdate{Status: ptr(repository.UserStatusDisabled)})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Update(ctx, admin.ID, 424242, AdminUserUpdate{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdminUserSearchAndDetail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	svc := NewAdminUserService(f.store, f.plans, f.hasher, nil, discardLogger())
	target := testutil.CreateUser(t, f.store, repository.PlanFree, func(u *repository.User) { u.Username = "findme" })
	testutil.CreateUser(t, f.store, repository.PlanFree)
	_, err := f.plans.ActivatePlan(ctx, ActivationInput{UserID: target.ID, PlanType: repository.PlanEmpire, TransactionID: "txn-detail"})
	require.NoError(t, err)

	views, total, err := svc.Search(ctx, repository.UserSearchFilter{Keyword: " findme "})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, views, 1)
	assert.Equal(t, target.ID, views[0].ID)

	detail, err := svc.Get(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, detail.Purchases, 1)
	assert.Equal(t, "txn-detail", detail.Purchases[0].TransactionID)
	assert.Equal(t, repository.PlanEmpire, detail.Quota.EffectivePlan)
}
