package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/testutil"
)

func TestCommunityVoiceLikesOncePerUser(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	u := testutil.CreateUser(t, store, repository.PlanFree)
	voices := store.Voices()

	v, err := voices.CreateCommunity(ctx, &repository.CommunityVoice{CreatorID: u.ID, CreatorName: u.Username,
		Name: "Deep", VoiceID: "v-1", Provider: "cartesia"})
	require.NoError(t, err)

	liked, err := voices.Like(ctx, v.ID, u.ID, 1)
	require.NoError(t, err)
	assert.True(t, liked)
	liked, err = voices.Like(ctx, v.ID, u.ID, 2)
	require.NoError(t, err)
	assert.False(t, liked)

	_, err = voices.Like(ctx, 999, u.ID, 3)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := voices.FindCommunity(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Likes)

	list, err := voices.ListCommunity(ctx, "popular", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, voices.DeleteCommunity(ctx, v.ID))
	assert.ErrorIs(t, voices.DeleteCommunity(ctx, v.ID), repository.ErrNotFound)
}

func TestTopVoicesSortOrder(t *testing.T) {
	ctx := context.Background()
	voices := testutil.NewStore(t).Voices()

	b, err := voices.SaveTop(ctx, &repository.TopVoice{Name: "B", VoiceID: "b", Provider: "zyphra", SortOrder: 2})
	require.NoError(t, err)
	_, err = voices.SaveTop(ctx, &repository.TopVoice{Name: "A", VoiceID: "a", Provider: "cartesia", SortOrder: 1})
	require.NoError(t, err)

	b.SortOrder = 0
	_, err = voices.SaveTop(ctx, b)
	require.NoError(t, err)

	list, err := voices.ListTop(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "B", list[0].Name)
}

func TestSeededSettingsAndPlans(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)

	s, err := store.Settings().Get(ctx, "affiliate.empire_first")
	require.NoError(t, err)
	assert.Equal(t, "300", s.Value)

	require.NoError(t, store.Settings().Upsert(ctx, &repository.Setting{Key: "maintenance.video", Value: "true", Category: "maintenance"}))
	list, err := store.Settings().ListByCategory(ctx, "maintenance")
	require.NoError(t, err)
	assert.Len(t, list, 6)

	plan, err := store.Plans().Get(ctx, repository.PlanEmpire)
	require.NoError(t, err)
	assert.Equal(t, int64(300), plan.DailyVideoLimit)
	plans, err := store.Plans().List(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 4)

	_, err = store.Settings().Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAuditLogFilters(t *testing.T) {
	ctx := context.Background()
	audit := testutil.NewStore(t).Audit()

	require.NoError(t, audit.Create(ctx, &repository.AuditLog{Kind: "auth.login.success", ActorID: "1", IP: "1.1.1.1"}))
	require.NoError(t, audit.Create(ctx, &repository.AuditLog{Kind: "auth.login.failure", ActorID: "2"}))
	assert.Error(t, audit.Create(ctx, &repository.AuditLog{}))

	list, err := audit.List(ctx, repository.AuditFilter{Kind: "auth.login.success"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1.1.1.1", list[0].IP)
	assert.Equal(t, "{}", list[0].Metadata)

	list, err = audit.List(ctx, repository.AuditFilter{ActorID: "2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].IP)
}
