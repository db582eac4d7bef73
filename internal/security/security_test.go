package security

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/cache"
	"github.com/veo3pk/studio/internal/repository"
)

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	limiter, err := NewRateLimiter(cache.NewStore(cache.Options{}))
	require.NoError(t, err)
	ctx := context.Background()
	rule := Rule{Scope: "login", Limit: 3, Window: time.Minute}

	for i := range 3 {
		res, err := limiter.Allow(ctx, rule, "alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}
	res, err := limiter.Allow(ctx, rule, " Alice ")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "subjects are normalized")

	other, err := limiter.Allow(ctx, Rule{Scope: "2fa", Limit: 3, Window: time.Minute}, "alice")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "scopes count separately")

	limiter.Reset(ctx, rule, "alice")
	res, err = limiter.Allow(ctx, rule, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRateLimiterRejectsInvalidRule(t *testing.T) {
	limiter, err := NewRateLimiter(cache.NewStore(cache.Options{}))
	require.NoError(t, err)
	_, err = limiter.Allow(context.Background(), Rule{Scope: "k"}, "x")
	assert.Error(t, err)

	var disabled *RateLimiter
	res, err := disabled.Allow(context.Background(), LoginRule, "x")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTOTPEnrollAndValidate(t *testing.T) {
	helper := NewTOTP("VEO3.pk")
	enrollment, err := helper.Enroll("alice")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.True(t, strings.HasPrefix(enrollment.URL, "otpauth://totp/"))
	assert.True(t, strings.HasPrefix(enrollment.QRCodePNG, "data:image/png;base64,"))

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	assert.True(t, helper.Validate(code, enrollment.Secret))
	assert.False(t, helper.Validate("000000x", enrollment.Secret))
	assert.False(t, helper.Validate(code, ""))
}

type memoryAudit struct {
	entries []*repository.AuditLog
}

func (m *memoryAudit) Create(_ context.Context, entry *repository.AuditLog) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAudit) List(context.Context, repository.AuditFilter) ([]*repository.AuditLog, error) {
	return m.entries, nil
}

func TestStoreRecorderPersistsMetadata(t *testing.T) {
	repo := &memoryAudit{}
	rec := NewStoreRecorder(repo, nil)
	rec.Record(context.Background(), Event{
		Kind:     EventLoginFailure,
		ActorID:  "alice",
		IP:       "10.0.0.1",
		Metadata: map[string]any{"reason": "bad_password"},
	})

	require.Len(t, repo.entries, 1)
	got := repo.entries[0]
	assert.Equal(t, EventLoginFailure, got.Kind)
	assert.JSONEq(t, `{"reason":"bad_password"}`, got.Metadata)
	assert.NotZero(t, got.CreatedAt)
}
