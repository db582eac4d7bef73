package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("database:\n  path: %s\nstorage:\n  local_dir: %s\nauth:\n  bcrypt_cost: 4\n",
		filepath.Join(dir, "veo3.db"), filepath.Join(dir, "media"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	c, err := config.LoadFile(path)
	require.NoError(t, err)
	return c
}

func TestNewAppWiresServicesAndJobs(t *testing.T) {
	c := testConfig(t)
	a, err := newApp(context.Background(), c, nil, time.Now())
	require.NoError(t, err)
	defer a.Close()

	assert.NotEqual(t, "change-me", c.Auth.SigningKey)
	assert.NotNil(t, a.services.Generation)
	assert.NotNil(t, a.services.AdminSystem)

	var names []string
	for _, e := range a.scheduler.Entries() {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{
		"generation.poll", "generation.retry", "plan.expiry", "token.pool.gauge", "notification.email",
	}, names)

	ctx := context.Background()
	tok, err := a.services.Tokens.CreateToken(ctx, mustParse(t, "tokens:\n  - pool: video\n    credential: abc\n")[0])
	require.NoError(t, err)
	require.NoError(t, a.scheduler.RunNow(ctx, "token.pool.gauge"))
	assert.Equal(t, "video", tok.Pool)
}

func TestSigningKeyPersistsAcrossRuns(t *testing.T) {
	c := testConfig(t)
	first, err := newApp(context.Background(), c, nil, time.Now())
	require.NoError(t, err)
	key := c.Auth.SigningKey
	require.NoError(t, first.Close())

	again := *c
	again.Auth.SigningKey = "change-me"
	second, err := newApp(context.Background(), &again, nil, time.Now())
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, key, again.Auth.SigningKey)
}

func mustParse(t *testing.T, doc string) []service.TokenInput {
	t.Helper()
	inputs, err := parseTokenFile(strings.NewReader(doc))
	require.NoError(t, err)
	return inputs
}

func TestParseTokenFile(t *testing.T) {
	inputs := mustParse(t, `
tokens:
  - pool: cartesia
    label: primary
    credential: sk-1
    usage_limit: 100000
  - pool: zyphra
    credential: zy-2
    disabled: true
`)
	require.Len(t, inputs, 2)
	assert.Equal(t, "cartesia", inputs[0].Pool)
	assert.Equal(t, int64(100000), inputs[0].UsageLimit)
	assert.True(t, *inputs[0].IsActive)
	assert.False(t, *inputs[1].IsActive)

	_, err := parseTokenFile(strings.NewReader("tokens:\n  - pool: video\n"))
	require.ErrorContains(t, err, "token 1")

	_, err = parseTokenFile(strings.NewReader("tokens:\n  - pool: video\n    credential: x\n    secret: y\n"))
	require.Error(t, err)

	inputs, err = parseTokenFile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, inputs)
}
