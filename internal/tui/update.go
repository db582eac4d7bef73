package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case poolsLoadedMsg:
		m.loading = false
		m.pools = msg.pools
		m.err = nil
		if m.selectedPool >= len(m.pools) {
			m.selectedPool = 0
		}
		return m, nil

	case tokensLoadedMsg:
		m.loading = false
		m.tokens = msg.tokens
		m.err = nil
		if m.selectedToken >= len(m.tokens) {
			m.selectedToken = 0
		}

		if m.view == ViewTokenDetail && m.detail != nil {
			for i := range m.tokens {
				if m.tokens[i].Token.ID == m.detail.Token.ID {
					m.detail = &m.tokens[i]
					break
				}
			}
		}
		return m, nil

	case errorMsg:
		m.loading = false
		m.err = msg.err
		return m, nil

	case tickMsg:
		switch m.view {
		case ViewPoolList:
			return m, tea.Batch(m.loadPools(), m.tick())
		case ViewTokenList, ViewTokenDetail:
			if m.currentPool != nil {
				return m, tea.Batch(m.loadCurrentPool(), m.tick())
			}
		}
		return m, m.tick()
	}

	return m, nil
}

func (m Model) loadCurrentPool() tea.Cmd {
	return m.loadTokens(m.currentPool.Stats.Pool, m.currentPool.Stats.ErrorThreshold)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		return m.move(-1), nil
	case key.Matches(msg, m.keys.Down):
		return m.move(1), nil
	case key.Matches(msg, m.keys.Enter):
		return m.handleEnter()
	case key.Matches(msg, m.keys.Back):
		return m.handleBack(), nil
	case key.Matches(msg, m.keys.Refresh):
		return m.handleRefresh()
	}
	return m, nil
}

// move shifts the selection by delta, wrapping around, or scrolls the detail view.
func (m Model) move(delta int) Model {
	switch m.view {
	case ViewPoolList:
		m.selectedPool = wrap(m.selectedPool+delta, len(m.pools))
	case ViewTokenList:
		m.selectedToken = wrap(m.selectedToken+delta, len(m.tokens))
	case ViewTokenDetail:
		m.detailScrollOffset += delta
		if m.detailScrollOffset < 0 {
			m.detailScrollOffset = 0
		}
	}
	return m
}

func wrap(i, n int) int {
	if n == 0 {
		return 0
	}
	return ((i % n) + n) % n
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewPoolList:
		if len(m.pools) > 0 {
			pool := m.pools[m.selectedPool]
			m.currentPool = &pool
			m.view = ViewTokenList
			m.selectedToken = 0
			m.tokens = nil
			m.loading = true
			return m, m.loadCurrentPool()
		}
	case ViewTokenList:
		if len(m.tokens) > 0 {
			m.detail = &m.tokens[m.selectedToken]
			m.view = ViewTokenDetail
			m.detailScrollOffset = 0
		}
	}
	return m, nil
}

func (m Model) handleBack() Model {
	switch m.view {
	case ViewTokenDetail:
		m.view = ViewTokenList
		m.detail = nil
	case ViewTokenList:
		m.view = ViewPoolList
		m.currentPool = nil
		m.tokens = nil
		m.selectedToken = 0
	}
	return m
}

func (m Model) handleRefresh() (tea.Model, tea.Cmd) {
	m.loading = true
	if m.view != ViewPoolList && m.currentPool != nil {
		return m, m.loadCurrentPool()
	}
	return m, m.loadPools()
}
