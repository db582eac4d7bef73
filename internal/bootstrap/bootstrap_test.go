package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/bootstrap"
	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/support/logging"
	"github.com/veo3pk/studio/internal/testutil"
)

func TestResolveSigningKeyPrefersConfig(t *testing.T) {
	key, source, err := bootstrap.ResolveSigningKey(context.Background(), nil, "configured-secret", time.Now)
	require.NoError(t, err)
	assert.Equal(t, "configured-secret", key)
	assert.Equal(t, bootstrap.KeyFromConfig, source)
}

func TestResolveSigningKeyGeneratesOnce(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	first, source, err := bootstrap.ResolveSigningKey(ctx, db, "change-me", time.Now)
	require.NoError(t, err)
	assert.Equal(t, bootstrap.KeyFromGenerated, source)
	assert.Len(t, first, 64)

	second, source, err := bootstrap.ResolveSigningKey(ctx, db, "", time.Now)
	require.NoError(t, err)
	assert.Equal(t, bootstrap.KeyFromSettings, source)
	assert.Equal(t, first, second)
}

func TestResolveSigningKeyNeedsDB(t *testing.T) {
	_, _, err := bootstrap.ResolveSigningKey(context.Background(), nil, "change-me", time.Now)
	assert.ErrorContains(t, err, "VEO3_AUTH_SIGNING_KEY")
}

func TestBuildInfrastructureDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.SigningKey = "test-signing-key-0123456789abcdef"
	cfg.Auth.BcryptCost = 4
	cfg.Auth.TokenTTL = time.Hour
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Storage.BaseURL = "/media"

	infra, err := bootstrap.BuildInfrastructure(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.Close() })

	assert.NotNil(t, infra.Cache)
	assert.NotNil(t, infra.Token)
	assert.NotNil(t, infra.TOTP)
	assert.NotNil(t, infra.Storage)
	assert.Equal(t, 0, infra.EmailQueue.PendingEmails())
}

func TestBuildInfrastructureRejectsDefaultKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.SigningKey = "change-me"
	_, err := bootstrap.BuildInfrastructure(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := bootstrap.OpenSQLite("")
	assert.Error(t, err)
}
