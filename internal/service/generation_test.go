package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/testutil"
	"github.com/veo3pk/studio/internal/upstream"
)

func pngDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

func TestStartVideoThenPollCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	tok := f.addToken(t, repository.PoolVideo, "cred")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "a lighthouse at dusk", AspectRatio: "16:9"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessing, rec.Status)
	assert.Equal(t, fmt.Sprintf("op-veo3-%d", rec.ID), rec.OperationName)
	require.NotNil(t, rec.TokenID)
	assert.Equal(t, tok.ID, *rec.TokenID)

	done, err := f.gen.CheckStatus(ctx, user.ID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, done.Status)
	assert.Equal(t, fmt.Sprintf("https://cdn.example/veo3-%d.mp4", rec.ID), done.MediaURL)

	stored := f.reload(t, rec.ID)
	assert.Equal(t, repository.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.PollCount)
	assert.NotZero(t, stored.CompletedAt)

	quota, err := f.plans.Quota(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), quota.Video.Used)
}

func TestStartVideoWithoutCapacityCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)

	_, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "rain"})
	require.ErrorIs(t, err, ErrNoCapacity)

	page, err := f.gen.List(ctx, user.ID, HistoryQuery{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	quota, err := f.plans.Quota(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, quota.Video.Used)
}

func TestStartVideoValidatesInput(t *testing.T) {
	f := newFixture(t)
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")

	_, err := f.gen.StartVideo(context.Background(), user.ID, GenerationInput{Prompt: "", AspectRatio: "4:3"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStartVideoBlockedByMaintenanceForNonAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	admin := testutil.CreateUser(t, f.store, repository.PlanFree, func(u *repository.User) { u.IsAdmin = true })
	f.addToken(t, repository.PoolVideo, "cred")
	require.NoError(t, f.settings.UpdateMaintenance(ctx, MaintenanceFlags{Video: true}))

	_, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "x"})
	require.ErrorIs(t, err, ErrMaintenance)

	rec, err := f.gen.StartVideo(ctx, admin.ID, GenerationInput{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessing, rec.Status)
}

func TestStartVideoPolicyFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")
	f.video.startErr["forbidden subject"] = policyError("prompt blocked")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "forbidden subject"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, rec.Status)
	assert.Equal(t, string(upstream.CategoryPolicy), rec.ErrorCategory)
	assert.False(t, rec.Retryable)
	assert.Equal(t, 1, f.video.startCount())
}

func TestStartVideoRotatesPastRevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "revoked")
	good := f.addToken(t, repository.PoolVideo, "good")
	f.video.startErr["revoked"] = authError("cookie expired")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "city lights"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessing, rec.Status)
	assert.Equal(t, good.ID, *rec.TokenID)
	assert.Equal(t, []string{"revoked", "good"}, f.video.credUsed)
}

func TestStartVideoUploadsReferenceImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")
	f.addToken(t, repository.PoolFlow, "flow")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "animate this", ReferenceImage: pngDataURL()})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessing, rec.Status)
	assert.Contains(t, rec.ReferenceImageURL, "/media/references/")
	assert.Equal(t, 1, f.image.uploads)
}

func TestPollTimesOutAfterMaxPolls(t *testing.T) {
	f := newFixtureWithVideo(t, newPendingVideo())
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "slow"})
	require.NoError(t, err)

	for i := 0; i < f.cfg.MaxPolls; i++ {
		rec, err = f.gen.Poll(ctx, rec)
		require.NoError(t, err)
	}
	assert.Equal(t, repository.StatusFailed, rec.Status)
	assert.Equal(t, string(upstream.CategoryTimeout), rec.ErrorCategory)
	assert.True(t, rec.Retryable)

	again, err := f.gen.Poll(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, again.Status)
	assert.Equal(t, f.cfg.MaxPolls, f.reload(t, rec.ID).PollCount)
}

func TestScheduledPollSkipsRowsNotYetDue(t *testing.T) {
	f := newFixtureWithVideo(t, newPendingVideo())
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")

	f.gen.cfg.PollInterval = 30 * time.Second
	clock := time.Now().UTC()
	f.gen.now = func() time.Time { return clock }
	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "slow"})
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	polled, err := f.gen.PollScheduled(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, polled.PollCount)

	// A second caller inside the same interval only sees the stored row.
	again, err := f.gen.PollScheduled(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessing, again.Status)
	assert.Equal(t, 1, again.PollCount)

	n, err := f.gen.PollDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.reload(t, rec.ID).PollCount)

	clock = clock.Add(time.Minute)
	polled, err = f.gen.PollScheduled(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 2, polled.PollCount)
}

func TestUpstreamFailureReportedByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "x"})
	require.NoError(t, err)
	f.video.failAfter[rec.OperationName] = &upstream.Error{Category: upstream.CategoryServer, Message: "internal"}

	rec, err = f.gen.Poll(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, rec.Status)
	assert.Equal(t, string(upstream.CategoryServer), rec.ErrorCategory)
	assert.True(t, rec.Retryable)
}

func TestTerminalStatusIsNeverLeftExceptByRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "x"})
	require.NoError(t, err)
	rec, err = f.gen.Poll(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, repository.StatusCompleted, rec.Status)

	for _, to := range []string{repository.StatusPending, repository.StatusProcessing, repository.StatusFailed} {
		_, err := f.gen.transition(ctx, rec, to, repository.StatusPatch{})
		require.ErrorIs(t, err, ErrStateChanged, "completed -> %s", to)
	}

	failed, err := f.gen.fail(ctx, rec, errBoom)
	require.ErrorIs(t, err, ErrStateChanged)
	assert.Nil(t, failed)
	assert.Equal(t, repository.StatusCompleted, f.reload(t, rec.ID).Status)
}

func TestStaleWriterLosesConditionalTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "x"})
	require.NoError(t, err)
	stale := *rec

	_, err = f.gen.Poll(ctx, rec)
	require.NoError(t, err)

	got, err := f.gen.fail(ctx, &stale, errBoom)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, got.Status)
}

func TestRetryFailedIsBoundedByMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanScale, func(u *repository.User) {
		u.PlanExpiresAt = time.Now().Add(24 * time.Hour).Unix()
	})
	f.addToken(t, repository.PoolVideo, "cred")
	f.video.startErr["flaky"] = &upstream.Error{Category: upstream.CategoryNetwork, Message: "connection reset"}

	clock := time.Now().UTC()
	f.gen.now = func() time.Time { return clock }

	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "flaky"})
	require.NoError(t, err)
	require.Equal(t, repository.StatusFailed, rec.Status)
	require.True(t, rec.Retryable)

	n, err := f.gen.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "retry delay has not elapsed")

	for attempt := 1; attempt <= 3; attempt++ {
		clock = clock.Add(6 * time.Minute)
		n, err := f.gen.RetryFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		got := f.reload(t, rec.ID)
		assert.Equal(t, attempt, got.RetryCount)
		assert.Equal(t, repository.StatusFailed, got.Status)
	}

	clock = clock.Add(time.Hour)
	n, err = f.gen.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 4, f.video.startCount())
}

func TestRetryFailedSkipsNonRetryableAndDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")
	f.video.startErr["blocked"] = policyError("nope")
	f.video.startErr["flaky"] = &upstream.Error{Category: upstream.CategoryServer, Message: "503"}

	clock := time.Now().UTC()
	f.gen.now = func() time.Time { return clock }
	_, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "blocked"})
	require.NoError(t, err)
	_, err = f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "flaky"})
	require.NoError(t, err)

	require.NoError(t, f.settings.UpdateGeneration(ctx, GenerationSettings{MaxRetryAttempts: 3, RetryDelayMinutes: 5, AutoRetryEnabled: false}))
	clock = clock.Add(10 * time.Minute)
	n, err := f.gen.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.settings.UpdateGeneration(ctx, GenerationSettings{MaxRetryAttempts: 3, RetryDelayMinutes: 5, AutoRetryEnabled: true}))
	n, err = f.gen.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetryRecoversVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolVideo, "cred")
	f.video.startErr["flaky"] = &upstream.Error{Category: upstream.CategoryTimeout, Message: "deadline"}

	clock := time.Now().UTC()
	f.gen.now = func() time.Time { return clock }
	rec, err := f.gen.StartVideo(ctx, user.ID, GenerationInput{Prompt: "flaky"})
	require.NoError(t, err)

	delete(f.video.startErr, "flaky")
	clock = clock.Add(10 * time.Minute)
	n, err := f.gen.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.reload(t, rec.ID)
	assert.Equal(t, repository.StatusProcessing, got.Status)
	assert.Empty(t, got.ErrorCategory)
	assert.Equal(t, 1, got.RetryCount)

	clock = clock.Add(time.Minute)
	polled, err := f.gen.PollDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, polled)
	assert.Equal(t, repository.StatusCompleted, f.reload(t, rec.ID).Status)
}

func TestGenerateImageStoresResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolImage, "img")

	rec, err := f.gen.GenerateImage(ctx, user.ID, GenerationInput{Prompt: "a red kite", AspectRatio: "1:1"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, rec.Status)
	assert.Contains(t, rec.MediaURL, "/media/images/")
	assert.Equal(t, repository.KindImage, rec.Kind)

	data, contentType, err := f.media.Load(ctx, rec.MediaURL)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, "image/png", contentType)
}

func TestRegenerateCreatesFreshRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolImage, "img")

	first, err := f.gen.GenerateImage(ctx, user.ID, GenerationInput{Prompt: "harbour", SceneNumber: 4})
	require.NoError(t, err)

	second, err := f.gen.Regenerate(ctx, user.ID, first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, 4, second.SceneNumber)
	assert.Equal(t, repository.StatusCompleted, second.Status)

	other := testutil.CreateUser(t, f.store, repository.PlanFree)
	_, err = f.gen.Regenerate(ctx, other.ID, first.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteHidesRowFromOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	f.addToken(t, repository.PoolImage, "img")

	rec, err := f.gen.GenerateImage(ctx, user.ID, GenerationInput{Prompt: "desert"})
	require.NoError(t, err)

	require.ErrorIs(t, f.gen.Delete(ctx, user.ID, repository.KindVideo, rec.ID), ErrNotFound)
	require.NoError(t, f.gen.Delete(ctx, user.ID, repository.KindImage, rec.ID))
	require.ErrorIs(t, f.gen.Delete(ctx, user.ID, repository.KindImage, rec.ID), ErrNotFound)

	page, err := f.gen.List(ctx, user.ID, HistoryQuery{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	all, err := f.gen.ListAll(ctx, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, all.Items, 1)
	assert.True(t, all.Items[0].DeletedByUser)
}

func TestSnapshotRoundTripKeepsSeed(t *testing.T) {
	snap := requestSnapshot{Seed: 42, ReferenceKey: "references/1/a.png", Chain: true}
	assert.Equal(t, snap, decodeSnapshot(encodeSnapshot(snap)))
	assert.Equal(t, requestSnapshot{}, decodeSnapshot([]byte("not msgpack")))
}
