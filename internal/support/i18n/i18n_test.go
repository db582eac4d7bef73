package i18n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateFallsBack(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, "Please sign in to continue", m.Translate("en-US", "error.unauthorized"))
	assert.Equal(t, "ur-PK", m.Resolve("ur"))
	assert.NotEqual(t, m.Translate("en-US", "error.forbidden"), m.Translate("ur", "error.forbidden"))
	assert.Equal(t, "Please sign in to continue", m.Translate("xx-unknown", "error.unauthorized"))
	assert.Equal(t, "missing.key", m.Translate("en-US", "missing.key"))
}

func TestLoadFromDirOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en-US.json"), []byte(`{"success":"Done"}`), 0o600))

	m, err := NewManager()
	require.NoError(t, err)
	require.NoError(t, m.LoadFromDir(dir))
	require.NoError(t, m.LoadFromDir(filepath.Join(dir, "missing")))

	assert.Equal(t, "Done", m.Translate("en-US", "success"))
	assert.Contains(t, m.SupportedLanguages(), "ur-PK")
}

func TestLoadFromDirSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fr-FR.json"), []byte(`{not json`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de-DE.json"), []byte(`{"success":"Fertig"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte(`ignored`), 0o600))

	m, err := NewManager()
	require.NoError(t, err)
	require.NoError(t, m.LoadFromDir(dir))

	assert.Equal(t, []string{"de-DE", "en-US", "ur-PK"}, m.SupportedLanguages())
	assert.Equal(t, "Fertig", m.Translate("de", "success"))
}
