package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, 15*time.Second, cfg.Generation.PollInterval)
	assert.Equal(t, 40, cfg.Generation.MaxPolls)
	assert.Equal(t, 20, cfg.Generation.MaxConcurrency)
	assert.Equal(t, 10, cfg.Quota.VoiceWindowDays)
	assert.Equal(t, "veo3_session", cfg.Auth.CookieName)
}

func TestLoadFileEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "http:\n  addr: 127.0.0.1:9000\ngeneration:\n  max_polls: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("VEO3_GENERATION_MAX_POLLS", "25")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 25, cfg.Generation.MaxPolls)
	assert.Equal(t, "whsec_test", cfg.Billing.StripeWebhookSecret)
}

func TestLoadFileMissingExplicitPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestQuotaLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, QuotaConfig{Timezone: "Mars/Olympus"}.Location())
	assert.Equal(t, time.UTC, QuotaConfig{}.Location())
}
