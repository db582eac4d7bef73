package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/testutil"
)

func TestUserCreateRejectsDuplicateUsername(t *testing.T) {
	store := testutil.NewStore(t)
	u := testutil.CreateUser(t, store, repository.PlanFree)

	_, err := store.Users().Create(context.Background(), &repository.User{UID: "other", Username: u.Username, Password: "x"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	found, err := store.Users().FindByUsername(context.Background(), u.Username)
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestConsumeVideoQuotaResetsDaily(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	u := testutil.CreateUser(t, store, repository.PlanFree)
	users := store.Users()

	count, ok, err := users.ConsumeVideoQuota(ctx, u.ID, "2025-01-01", 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), count)

	count, ok, err = users.ConsumeVideoQuota(ctx, u.ID, "2025-01-01", 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), count)

	_, ok, err = users.ConsumeVideoQuota(ctx, u.ID, "2025-01-01", 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	count, ok, err = users.ConsumeVideoQuota(ctx, u.ID, "2025-01-02", 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), count)

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02", got.DailyResetDate)
}

func TestConsumeVideoQuotaUnlimitedAndBatch(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	u := testutil.CreateUser(t, store, repository.PlanEnterprise)

	count, ok, err := store.Users().ConsumeVideoQuota(ctx, u.ID, "d", 50, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(50), count)

	_, _, err = store.Users().ConsumeVideoQuota(ctx, 9999, "d", 1, 0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConsumeVoiceQuotaRollingWindow(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	u := testutil.CreateUser(t, store, repository.PlanScale)
	users := store.Users()
	const day = int64(86400)

	used, ok, err := users.ConsumeVoiceQuota(ctx, u.ID, 400, 1000, 0, 10*day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(400), used)

	_, ok, err = users.ConsumeVoiceQuota(ctx, u.ID, 700, 1000, 5*day, 15*day)
	require.NoError(t, err)
	assert.False(t, ok)

	// window started at day 10; at day 21 the cutoff (day 11) has passed it
	used, ok, err = users.ConsumeVoiceQuota(ctx, u.ID, 700, 1000, 11*day, 21*day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(700), used)

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 21*day, got.VoiceCharactersResetAt)
}

func TestExpirePlans(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	expired := testutil.CreateUser(t, store, repository.PlanScale, func(u *repository.User) { u.PlanExpiresAt = 100 })
	live := testutil.CreateUser(t, store, repository.PlanEmpire, func(u *repository.User) { u.PlanExpiresAt = 1000 })

	n, err := store.Users().ExpirePlans(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Users().FindByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PlanStatusExpired, got.PlanStatus)
	got, err = store.Users().FindByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PlanStatusActive, got.PlanStatus)
}

func TestSearchAndReferrals(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	ref := testutil.CreateUser(t, store, repository.PlanEmpire)
	testutil.CreateUser(t, store, repository.PlanFree, func(u *repository.User) { u.ReferredBy = ref.UID })
	testutil.CreateUser(t, store, repository.PlanFree)

	referrals, err := store.Users().ListReferrals(ctx, ref.UID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, referrals, 1)

	total, err := store.Users().Count(ctx, repository.UserSearchFilter{PlanType: repository.PlanFree})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	list, err := store.Users().Search(ctx, repository.UserSearchFilter{Keyword: ref.Username})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ref.ID, list[0].ID)
}
