// Package tui is the terminal monitor for upstream token pools.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/veo3pk/studio/internal/repository"
)

// ViewType selects the screen being rendered.
type ViewType int

const (
	ViewPoolList ViewType = iota
	ViewTokenList
	ViewTokenDetail
)

// Health is the computed state shown next to pools and tokens.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

// Source is the read side of the token pool service.
type Source interface {
	Stats(ctx context.Context) ([]repository.PoolStats, error)
	ListTokens(ctx context.Context, pool string) ([]*repository.APIToken, error)
}

// PoolInfo pairs pool counters with their health.
type PoolInfo struct {
	Stats  repository.PoolStats
	Health Health
}

// TokenInfo pairs a credential with its health.
type TokenInfo struct {
	Token  *repository.APIToken
	Health Health
}

// Model is the root bubbletea model.
type Model struct {
	pools        []PoolInfo
	selectedPool int

	tokens        []TokenInfo
	selectedToken int

	view        ViewType
	detail      *TokenInfo
	currentPool *PoolInfo

	source   Source
	interval time.Duration

	width  int
	height int

	detailScrollOffset int

	loading bool
	err     error

	keys keyMap
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Enter   key.Binding
	Back    key.Binding
	Quit    key.Binding
	Refresh key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "details"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "backspace"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
	}
}

// NewModel builds a monitor refreshing every interval (5s when zero).
func NewModel(source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return Model{
		source:   source,
		interval: interval,
		view:     ViewPoolList,
		keys:     defaultKeyMap(),
		loading:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadPools(), m.tick())
}

type poolsLoadedMsg struct {
	pools []PoolInfo
}

type tokensLoadedMsg struct {
	tokens []TokenInfo
}

type errorMsg struct {
	err error
}

type tickMsg time.Time

func (m Model) loadPools() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.source.Stats(context.Background())
		if err != nil {
			return errorMsg{err: err}
		}
		pools := make([]PoolInfo, len(stats))
		for i, s := range stats {
			pools[i] = PoolInfo{Stats: s, Health: poolHealth(s)}
		}
		return poolsLoadedMsg{pools: pools}
	}
}

func (m Model) loadTokens(pool string, threshold int) tea.Cmd {
	return func() tea.Msg {
		tokens, err := m.source.ListTokens(context.Background(), pool)
		if err != nil {
			return errorMsg{err: err}
		}
		infos := make([]TokenInfo, len(tokens))
		for i, t := range tokens {
			infos[i] = TokenInfo{Token: t, Health: tokenHealth(t, threshold)}
		}
		return tokensLoadedMsg{tokens: infos}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func poolHealth(s repository.PoolStats) Health {
	switch {
	case s.Eligible == 0:
		return HealthDown
	case s.Eligible < s.Total:
		return HealthDegraded
	default:
		return HealthOK
	}
}

func tokenHealth(t *repository.APIToken, threshold int) Health {
	switch {
	case !t.IsActive:
		return HealthDown
	case t.UsageLimit > 0 && t.RequestCount >= t.UsageLimit:
		return HealthDown
	case threshold > 0 && t.ConsecutiveErrors >= threshold:
		return HealthDown
	case t.ConsecutiveErrors > 0:
		return HealthDegraded
	default:
		return HealthOK
	}
}
