package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/repository"
)

type fakeSource struct {
	stats  []repository.PoolStats
	tokens map[string][]*repository.APIToken
	err    error
}

func (f *fakeSource) Stats(context.Context) ([]repository.PoolStats, error) {
	return f.stats, f.err
}

func (f *fakeSource) ListTokens(_ context.Context, pool string) ([]*repository.APIToken, error) {
	return f.tokens[pool], f.err
}

func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(Model)
}

func TestPoolAndTokenHealth(t *testing.T) {
	assert.Equal(t, HealthDown, poolHealth(repository.PoolStats{Total: 2, Eligible: 0}))
	assert.Equal(t, HealthDegraded, poolHealth(repository.PoolStats{Total: 2, Eligible: 1}))
	assert.Equal(t, HealthOK, poolHealth(repository.PoolStats{Total: 2, Eligible: 2}))

	assert.Equal(t, HealthDown, tokenHealth(&repository.APIToken{IsActive: false}, 3))
	assert.Equal(t, HealthDown, tokenHealth(&repository.APIToken{IsActive: true, UsageLimit: 5, RequestCount: 5}, 3))
	assert.Equal(t, HealthDown, tokenHealth(&repository.APIToken{IsActive: true, ConsecutiveErrors: 3}, 3))
	assert.Equal(t, HealthDegraded, tokenHealth(&repository.APIToken{IsActive: true, ConsecutiveErrors: 1}, 3))
	assert.Equal(t, HealthOK, tokenHealth(&repository.APIToken{IsActive: true}, 3))
}

func TestNavigatePoolsIntoTokenDetail(t *testing.T) {
	src := &fakeSource{
		stats: []repository.PoolStats{
			{Pool: "video", Policy: "lru", Total: 2, Active: 2, Eligible: 2, ErrorThreshold: 3},
			{Pool: "image", Policy: "round_robin", Total: 1, Active: 0, Eligible: 0, ErrorThreshold: 3},
		},
		tokens: map[string][]*repository.APIToken{
			"image": {{ID: 7, Pool: "image", Label: "spare", IsActive: false, LastError: "quota"}},
		},
	}
	m := NewModel(src, 0)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(Model)
	m = run(t, m, m.loadPools())
	require.Len(t, m.pools, 2)
	assert.Contains(t, m.View(), "Token Pools")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.selectedPool)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Equal(t, ViewTokenList, m.view)
	m = run(t, m, cmd)
	require.Len(t, m.tokens, 1)
	assert.Equal(t, HealthDown, m.tokens[0].Health)
	assert.Contains(t, m.View(), "Pool: image")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Equal(t, ViewTokenDetail, m.view)
	assert.Contains(t, m.View(), "quota")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	assert.Equal(t, ViewPoolList, m.view)
	assert.Nil(t, m.currentPool)
}

func TestLoadErrorIsShown(t *testing.T) {
	m := NewModel(&fakeSource{err: errors.New("database is locked")}, 0)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = run(t, next.(Model), m.loadPools())
	assert.Contains(t, m.View(), "database is locked")
}

func TestSelectionWraps(t *testing.T) {
	assert.Equal(t, 2, wrap(-1, 3))
	assert.Equal(t, 0, wrap(3, 3))
	assert.Equal(t, 0, wrap(5, 0))
}
