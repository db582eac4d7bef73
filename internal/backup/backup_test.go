package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/bootstrap"
	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/repository"
	sqliterepo "github.com/veo3pk/studio/internal/repository/sqlite"
	"github.com/veo3pk/studio/internal/testutil"
)

func TestCompressedBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	user := testutil.CreateUser(t, store, repository.PlanEmpire)

	dir := t.TempDir()
	fixed := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	path, err := Create(ctx, store.DB(), Options{Dir: dir, Compress: true, Now: func() time.Time { return fixed }})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "veo3_20260301_103000.db.gz"), path)
	_, err = os.Stat(strings.TrimSuffix(path, ".gz"))
	assert.True(t, os.IsNotExist(err), "uncompressed snapshot should be removed")

	target := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(target, []byte("stale"), 0o600))
	safety, err := Restore(path, target, fixed)
	require.NoError(t, err)
	assert.Equal(t, target+".pre_restore_20260301_103000", safety)
	stale, err := os.ReadFile(safety)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(stale))

	db, err := bootstrap.OpenSQLite(target)
	require.NoError(t, err)
	defer db.Close()
	got, err := sqliterepo.NewStore(db).Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)
}

func TestPlainBackupToExplicitOutput(t *testing.T) {
	store := testutil.NewStore(t)
	out := filepath.Join(t.TempDir(), "nested", "snap.db")
	path, err := Create(context.Background(), store.DB(), Options{Output: out})
	require.NoError(t, err)
	assert.Equal(t, out, path)
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRestoreMissingFile(t *testing.T) {
	_, err := Restore(filepath.Join(t.TempDir(), "nope.db"), filepath.Join(t.TempDir(), "x.db"), time.Now())
	require.Error(t, err)
}

func TestUploadRequiresHost(t *testing.T) {
	require.Error(t, Upload(context.Background(), config.FTPConfig{}, "x"))
}

func TestListAndPruneKeepNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"veo3_20260101_000000.db",
		"veo3_20260102_000000.db.gz",
		"veo3_20260103_000000.db",
		"notes.txt",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o600))
	}

	snaps, err := List(dir)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, filepath.Join(dir, "veo3_20260103_000000.db"), snaps[0].Path)

	removed, err := Prune(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "veo3_20260101_000000.db")}, removed)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	removed, err = Prune(dir, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)

	snaps, err = List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
