package service

import (
	"context"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/veo3pk/studio/internal/auth/token"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/support/hash"
	"github.com/veo3pk/studio/internal/testutil"
)

type authFixture struct {
	*fixture
	auth      AuthService
	twoFactor TwoFactorService
	hasher    hash.Hasher
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := newFixture(t)
	bc, err := hash.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hasher := hash.NewLegacyAwareHasher(bc)
	tokens, err := token.NewManager(token.Options{SigningKey: []byte("test-signing-key"), Issuer: "veo3", TTL: time.Hour})
	require.NoError(t, err)
	limiter, err := security.NewRateLimiter(f.cache)
	require.NoError(t, err)
	totpSvc := security.NewTOTP("VEO3.pk")
	audit := security.NewLoggerRecorder(discardLogger())
	return &authFixture{
		fixture: f,
		auth: NewAuthService(AuthDeps{
			Users:       f.store.Users(),
			Settings:    f.settings,
			Hasher:      hasher,
			Tokens:      tokens,
			TOTP:        totpSvc,
			RateLimiter: limiter,
			Audit:       audit,
			Cache:       f.cache,
			Logger:      discardLogger(),
		}),
		twoFactor: NewTwoFactorService(f.store.Users(), totpSvc, audit),
		hasher:    hasher,
	}
}

func TestRegisterLoginAndLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	reg, err := f.auth.Register(ctx, RegisterInput{Username: " Ayesha_K ", Password: "correct-horse", Email: "A@Example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, reg.Token)
	assert.Equal(t, "ayesha_k", reg.User.Username)
	assert.Equal(t, "a@example.com", reg.User.Email)
	assert.Equal(t, repository.PlanFree, reg.User.PlanType)
	assert.Len(t, reg.User.UID, 8)

	_, err = f.auth.Register(ctx, RegisterInput{Username: "ayesha_k", Password: "another-pass"})
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.auth.Login(ctx, LoginInput{Username: "ayesha_k", Password: "wrong-password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := f.auth.Login(ctx, LoginInput{Username: "AYESHA_K", Password: "correct-horse"})
	require.NoError(t, err)
	require.False(t, login.TwoFactorRequired)

	session, err := f.auth.Authenticate(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, session.UserID)
	assert.False(t, session.IsAdmin)

	require.NoError(t, f.auth.Logout(ctx, session, RequestMeta{}))
	_, err = f.auth.Authenticate(ctx, login.Token)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.auth.Authenticate(ctx, "garbage")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegisterValidationAndClosedRegistration(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.auth.Register(ctx, RegisterInput{Username: "ab", Password: "long-enough"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.auth.Register(ctx, RegisterInput{Username: "valid_name", Password: "short"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.auth.Register(ctx, RegisterInput{Username: "bad name!", Password: "long-enough"})
	require.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.settings.UpdateMaintenance(ctx, MaintenanceFlags{Registration: true}))
	_, err = f.auth.Register(ctx, RegisterInput{Username: "valid_name", Password: "long-enough"})
	require.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestRegisterRecordsKnownReferrer(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	referrer := testutil.CreateUser(t, f.store, repository.PlanEmpire)

	res, err := f.auth.Register(ctx, RegisterInput{Username: "invited", Password: "long-enough", ReferralCode: referrer.UID})
	require.NoError(t, err)
	assert.Equal(t, referrer.UID, res.User.ReferredBy)

	res, err = f.auth.Register(ctx, RegisterInput{Username: "uninvited", Password: "long-enough", ReferralCode: "NOPE1234"})
	require.NoError(t, err)
	assert.Empty(t, res.User.ReferredBy)
}

func TestLoginRejectsDisabledAccounts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	hashed, err := f.hasher.Hash("long-enough")
	require.NoError(t, err)
	testutil.CreateUser(t, f.store, repository.PlanFree, func(u *repository.User) {
		u.Username = "banned"
		u.Password = hashed
		u.Status = repository.UserStatusDisabled
	})

	_, err = f.auth.Login(ctx, LoginInput{Username: "banned", Password: "long-enough"})
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestLoginRateLimited(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for range security.LoginRule.Limit {
		_, err := f.auth.Login(ctx, LoginInput{Username: "ghost", Password: "whatever"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := f.auth.Login(ctx, LoginInput{Username: "ghost", Password: "whatever"})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestLoginMigratesArgon2Hashes(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	legacy, err := argon2id.CreateHash("imported-pass", argon2id.DefaultParams)
	require.NoError(t, err)
	user := testutil.CreateUser(t, f.store, repository.PlanFree, func(u *repository.User) {
		u.Username = "imported"
		u.Password = legacy
	})

	_, err = f.auth.Login(ctx, LoginInput{Username: "imported", Password: "imported-pass"})
	require.NoError(t, err)

	got, err := f.store.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, legacy, got.Password)
	assert.False(t, f.hasher.NeedsRehash(got.Password))
}

func TestTwoFactorEnrollmentAndChallenge(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	reg, err := f.auth.Register(ctx, RegisterInput{Username: "secure", Password: "long-enough"})
	require.NoError(t, err)
	userID := reg.User.ID

	require.ErrorIs(t, f.twoFactor.Enable(ctx, userID, "123456", RequestMeta{}), ErrTwoFactorNotEnrolled)

	enrollment, err := f.twoFactor.Setup(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, enrollment.URL, "otpauth://totp/")
	assert.Contains(t, enrollment.QRCodePNG, "data:image/png;base64,")

	require.ErrorIs(t, f.twoFactor.Enable(ctx, userID, "000000x", RequestMeta{}), ErrTwoFactorInvalid)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.twoFactor.Enable(ctx, userID, code, RequestMeta{}))

	login, err := f.auth.Login(ctx, LoginInput{Username: "secure", Password: "long-enough"})
	require.NoError(t, err)
	require.True(t, login.TwoFactorRequired)
	assert.Empty(t, login.Token)

	// The challenge is not a session.
	_, err = f.auth.Authenticate(ctx, login.ChallengeToken)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.auth.VerifyTwoFactor(ctx, login.ChallengeToken, "not-a-code", RequestMeta{})
	require.ErrorIs(t, err, ErrTwoFactorInvalid)

	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	verified, err := f.auth.VerifyTwoFactor(ctx, login.ChallengeToken, code, RequestMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, verified.Token)
	assert.True(t, verified.User.TwoFactorEnabled)

	_, err = f.twoFactor.Setup(ctx, userID)
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, f.twoFactor.Disable(ctx, userID, code, RequestMeta{}))
	require.ErrorIs(t, f.twoFactor.Disable(ctx, userID, code, RequestMeta{}), ErrTwoFactorNotEnrolled)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	reg, err := f.auth.Register(ctx, RegisterInput{Username: "changer", Password: "first-pass"})
	require.NoError(t, err)

	require.ErrorIs(t, f.auth.ChangePassword(ctx, reg.User.ID, "nope-nope", "second-pass", RequestMeta{}), ErrInvalidCredentials)
	require.ErrorIs(t, f.auth.ChangePassword(ctx, reg.User.ID, "first-pass", "short", RequestMeta{}), ErrValidation)
	require.NoError(t, f.auth.ChangePassword(ctx, reg.User.ID, "first-pass", "second-pass", RequestMeta{}))

	_, err = f.auth.Login(ctx, LoginInput{Username: "changer", Password: "second-pass"})
	require.NoError(t, err)
}
