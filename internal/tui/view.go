package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View implements tea.Model
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	switch m.view {
	case ViewTokenList:
		return m.renderTokenListView()
	case ViewTokenDetail:
		return m.renderTokenDetailView()
	default:
		return m.renderPoolListView()
	}
}

func (m Model) renderStatusLines(b *strings.Builder) {
	if m.err != nil {
		b.WriteString(styleDown.Render(fmt.Sprintf("  Error: %v", m.err)))
		b.WriteString("\n\n")
	}
	if m.loading {
		b.WriteString(styleMuted().Render("  Loading..."))
		b.WriteString("\n\n")
	}
}

// visibleWindow returns the [start,end) slice of rows that keeps selected on screen.
func visibleWindow(selected, total, rows int) (int, int) {
	if rows < 5 {
		rows = 5
	}
	start := 0
	if selected >= rows {
		start = selected - rows + 1
	}
	end := start + rows
	if end > total {
		end = total
	}
	return start, end
}

func (m Model) renderPoolListView() string {
	var b strings.Builder

	b.WriteString(styleHeader.Width(m.width).Render("  VEO3.pk Token Pools"))
	b.WriteString("\n\n")
	m.renderStatusLines(&b)

	tableHeader := fmt.Sprintf(
		"  %-10s │ %-12s │ %-7s │ %-7s │ %-8s │ %-10s │ %-8s │ %s",
		"Pool", "Policy", "Total", "Active", "Eligible", "Requests", "Errors", "Threshold",
	)
	b.WriteString(styleTableHeader.Width(m.width).Render(tableHeader))
	b.WriteString("\n")
	b.WriteString(styleMuted().Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	if len(m.pools) == 0 {
		b.WriteString(styleMuted().Render("  No pools configured."))
		b.WriteString("\n")
	} else {
		start, end := visibleWindow(m.selectedPool, len(m.pools), m.height-12)
		for i := start; i < end; i++ {
			b.WriteString(m.renderPoolRow(m.pools[i], i == m.selectedPool))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderPoolSummary())
	b.WriteString("\n\n")
	b.WriteString(styleHelp.Render("  [↑/↓] Navigate  [Enter] Tokens  [r] Refresh  [q] Quit"))
	return b.String()
}

func (m Model) renderPoolRow(p PoolInfo, selected bool) string {
	s := p.Stats
	row := fmt.Sprintf(
		"  %s %-8s │ %-12s │ %-7d │ %-7d │ %-8d │ %-10d │ %-8d │ %d",
		HealthIcon(p.Health),
		truncate(s.Pool, 8),
		truncate(s.Policy, 12),
		s.Total,
		s.Active,
		s.Eligible,
		s.Requests,
		s.Errors,
		s.ErrorThreshold,
	)
	if selected {
		return styleTableRowSelected.Width(m.width).Render("▶" + row[1:])
	}
	return styleTableRow.Render(row)
}

func (m Model) renderPoolSummary() string {
	var eligible, total int64
	for _, p := range m.pools {
		eligible += p.Stats.Eligible
		total += p.Stats.Total
	}
	ok, degraded, down := countHealth(len(m.pools), func(i int) Health { return m.pools[i].Health })
	return fmt.Sprintf(
		"  %s %d  %s %d  %s %d  │  %d of %d tokens eligible",
		styleOK.Render("●"), ok,
		styleDegraded.Render("◐"), degraded,
		styleDown.Render("○"), down,
		eligible, total,
	)
}

func countHealth(n int, at func(int) Health) (ok, degraded, down int) {
	for i := 0; i < n; i++ {
		switch at(i) {
		case HealthOK:
			ok++
		case HealthDegraded:
			degraded++
		default:
			down++
		}
	}
	return ok, degraded, down
}

func (m Model) renderTokenListView() string {
	var b strings.Builder

	pool := "?"
	if m.currentPool != nil {
		pool = m.currentPool.Stats.Pool
	}
	b.WriteString(styleHeader.Width(m.width).Render(fmt.Sprintf("  Pool: %s", pool)))
	b.WriteString("\n\n")
	m.renderStatusLines(&b)

	tableHeader := fmt.Sprintf(
		"  %-5s │ %-20s │ %-14s │ %-8s │ %-6s │ %s",
		"ID", "Label", "Usage", "Errors", "Streak", "Last Used",
	)
	b.WriteString(styleTableHeader.Width(m.width).Render(tableHeader))
	b.WriteString("\n")
	b.WriteString(styleMuted().Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	if len(m.tokens) == 0 {
		b.WriteString(styleMuted().Render("  No tokens in this pool. Add one with `veo3 token add`."))
		b.WriteString("\n")
	} else {
		start, end := visibleWindow(m.selectedToken, len(m.tokens), m.height-10)
		for i := start; i < end; i++ {
			b.WriteString(m.renderTokenRow(m.tokens[i], i == m.selectedToken))
			b.WriteString("\n")
		}
		if len(m.tokens) > end-start {
			b.WriteString(styleMuted().Render(fmt.Sprintf("  Showing %d-%d of %d tokens", start+1, end, len(m.tokens))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	ok, degraded, down := countHealth(len(m.tokens), func(i int) Health { return m.tokens[i].Health })
	b.WriteString(fmt.Sprintf(
		"  %s %d  %s %d  %s %d  │  Total: %d tokens",
		styleOK.Render("●"), ok,
		styleDegraded.Render("◐"), degraded,
		styleDown.Render("○"), down,
		len(m.tokens),
	))
	b.WriteString("\n\n")
	b.WriteString(styleHelp.Render("  [↑/↓] Navigate  [Enter] Details  [Esc] Back  [r] Refresh  [q] Quit"))
	return b.String()
}

func (m Model) renderTokenRow(t TokenInfo, selected bool) string {
	tok := t.Token
	label := tok.Label
	if label == "" {
		label = fmt.Sprintf("token-%d", tok.ID)
	}
	row := fmt.Sprintf(
		"  %-5d │ %s %-18s │ %-14s │ %-8d │ %-6d │ %s",
		tok.ID,
		HealthIcon(t.Health),
		truncate(label, 18),
		formatUsage(tok.RequestCount, tok.UsageLimit),
		tok.ErrorCount,
		tok.ConsecutiveErrors,
		formatLastSeen(tok.LastUsedAt),
	)
	if selected {
		return styleTableRowSelected.Width(m.width).Render("▶" + row[1:])
	}
	return styleTableRow.Render(row)
}

func (m Model) renderTokenDetailView() string {
	if m.detail == nil {
		return "No token selected"
	}
	tok := m.detail.Token

	var contentLines []string
	title := fmt.Sprintf("  Token #%d (%s)", tok.ID, tok.Pool)
	contentLines = append(contentLines, styleHeader.Width(m.width).Render(title), "")

	info := field("Health:", HealthLabel(m.detail.Health))
	info = append(info, field("Label:", styleValue.Render(tok.Label))...)
	info = append(info, field("Active:", styleValue.Render(yesNo(tok.IsActive)))...)
	info = append(info, field("Created:", styleValue.Render(formatTime(tok.CreatedAt)))...)
	info = append(info, field("Last Used:", styleValue.Render(formatLastSeen(tok.LastUsedAt)))...)
	box := styleDetailBox.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, info...))
	contentLines = append(contentLines, strings.Split(box, "\n")...)
	contentLines = append(contentLines, "")

	usage := []string{styleTitle.Render("Usage"), ""}
	usage = append(usage, field("Requests:", styleValue.Render(formatUsage(tok.RequestCount, tok.UsageLimit)))...)
	if tok.UsageLimit > 0 {
		pct := float64(tok.RequestCount) / float64(tok.UsageLimit) * 100
		usage = append(usage, field("", ProgressBar(pct, 30))...)
	}
	usage = append(usage, field("Characters:", styleValue.Render(fmt.Sprintf("%d", tok.CharactersUsed)))...)
	usage = append(usage, field("Seconds:", styleValue.Render(fmt.Sprintf("%d", tok.SecondsUsed)))...)
	box = styleBox.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, usage...))
	contentLines = append(contentLines, strings.Split(box, "\n")...)
	contentLines = append(contentLines, "")

	errs := []string{styleTitle.Render("Errors"), ""}
	errs = append(errs, field("Total:", styleValue.Render(fmt.Sprintf("%d", tok.ErrorCount)))...)
	threshold := 0
	if m.currentPool != nil {
		threshold = m.currentPool.Stats.ErrorThreshold
	}
	errs = append(errs, field("Streak:", styleValue.Render(fmt.Sprintf("%d / %d", tok.ConsecutiveErrors, threshold)))...)
	lastErr := tok.LastError
	if lastErr == "" {
		lastErr = "-"
	}
	errs = append(errs, field("Last Error:", styleValue.Render(lastErr))...)
	box = styleBox.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, errs...))
	contentLines = append(contentLines, strings.Split(box, "\n")...)

	return m.scrolled(contentLines, "  [↑/↓] Scroll  [Esc] Back  [r] Refresh  [q] Quit")
}

// scrolled clips lines to the viewport at the current detail offset and appends help.
func (m Model) scrolled(lines []string, help string) string {
	viewport := m.height - 4
	if viewport < 5 {
		viewport = 5
	}
	maxScroll := len(lines) - viewport
	if maxScroll < 0 {
		maxScroll = 0
	}
	offset := m.detailScrollOffset
	if offset > maxScroll {
		offset = maxScroll
	}
	end := offset + viewport
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines[offset:end], "\n"))
	if len(lines) > viewport {
		b.WriteString("\n")
		b.WriteString(styleMuted().Render(fmt.Sprintf(" [%d/%d]", offset+1, maxScroll+1)))
	}
	b.WriteString("\n")
	b.WriteString(styleHelp.Render(help))
	return b.String()
}

func field(label, value string) []string {
	return []string{lipgloss.JoinHorizontal(lipgloss.Left, styleLabel.Render(label), value)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatUsage(count, limit int64) string {
	if limit <= 0 {
		return fmt.Sprintf("%d / ∞", count)
	}
	return fmt.Sprintf("%d / %d", count, limit)
}

func formatTime(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04")
}

func formatLastSeen(ts int64) string {
	if ts == 0 {
		return "Never"
	}

	t := time.Unix(ts, 0)
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}
