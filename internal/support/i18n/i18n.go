package i18n

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var builtin embed.FS

// Manager holds translation tables keyed by BCP 47 tag.
type Manager struct {
	mu       sync.RWMutex
	fallback string
	tables   map[string]map[string]string
	tags     []language.Tag
	matcher  language.Matcher
	logger   *slog.Logger
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithDefaultLang(lang string) Option {
	return func(m *Manager) { m.fallback = lang }
}

// NewManager loads the built-in locale files.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		fallback: "en-US",
		tables:   map[string]map[string]string{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.load(builtin, "locales", true); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFromDir merges operator-provided overrides; a missing directory is
// ignored and unreadable files are skipped with a warning.
func (m *Manager) LoadFromDir(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return m.load(os.DirFS(dir), ".", false)
}

// load merges every <lang>.json under dir. strict turns per-file problems
// into errors instead of warnings.
func (m *Manager) load(fsys fs.FS, dir string, strict bool) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("i18n: read %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		lang, ok := strings.CutSuffix(name, ".json")
		if e.IsDir() || !ok {
			continue
		}
		table, err := readTable(fsys, path.Join(dir, name))
		if err != nil {
			if strict {
				return err
			}
			m.logger.Warn("skip locale file", "file", name, "error", err)
			continue
		}
		m.mu.Lock()
		if m.tables[lang] == nil {
			m.tables[lang] = make(map[string]string, len(table))
		}
		maps.Copy(m.tables[lang], table)
		m.mu.Unlock()
	}
	m.mu.Lock()
	m.indexLocked()
	m.mu.Unlock()
	return nil
}

func readTable(fsys fs.FS, name string) (map[string]string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("i18n: read %s: %w", name, err)
	}
	var table map[string]string
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("i18n: decode %s: %w", name, err)
	}
	return table, nil
}

// indexLocked rebuilds the matcher with the fallback language first, so that
// unmatched requests resolve to it.
func (m *Manager) indexLocked() {
	m.tags = []language.Tag{language.Make(m.fallback)}
	for _, lang := range slices.Sorted(maps.Keys(m.tables)) {
		if lang != m.fallback {
			m.tags = append(m.tags, language.Make(lang))
		}
	}
	m.matcher = language.NewMatcher(m.tags)
}

// Resolve maps any language tag (e.g. "ur", "en-GB") onto a loaded locale.
func (m *Manager) Resolve(lang string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolveLocked(lang)
}

func (m *Manager) resolveLocked(lang string) string {
	if _, ok := m.tables[lang]; ok {
		return lang
	}
	tag, err := language.Parse(lang)
	if err != nil || m.matcher == nil {
		return m.fallback
	}
	if _, i, conf := m.matcher.Match(tag); conf != language.No {
		return m.tags[i].String()
	}
	return m.fallback
}

// Translate returns the message for key, falling back to the default language and then the key.
func (m *Manager) Translate(lang, key string, args ...any) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.tables[m.resolveLocked(lang)][key]
	if !ok {
		if msg, ok = m.tables[m.fallback][key]; !ok {
			return key
		}
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// SupportedLanguages lists the loaded locales in sorted order.
func (m *Manager) SupportedLanguages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.tables))
}
