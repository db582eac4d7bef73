package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	sky      = lipgloss.Color("#0EA5E9")
	green    = lipgloss.Color("#22C55E")
	amber    = lipgloss.Color("#F59E0B")
	red      = lipgloss.Color("#EF4444")
	grey     = lipgloss.Color("#6B7280")
	slate    = lipgloss.Color("#374151")
	white    = lipgloss.Color("#FFFFFF")
	selectBg = lipgloss.Color("#1F2937")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func padded() lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) }

func bar() lipgloss.Style {
	return padded().Bold(true).Foreground(white).Background(sky)
}

func boxed(border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(1, 2)
}

var (
	styleTitle       = padded().Bold(true).Foreground(sky)
	styleHeader      = bar()
	styleTableHeader = bar()
	styleHelp        = padded().Foreground(grey)

	styleTableRow         = padded()
	styleTableRowSelected = padded().Background(selectBg).Foreground(white)

	styleBox       = boxed(slate)
	styleDetailBox = boxed(sky)
	styleLabel     = fg(grey).Width(16)
	styleValue     = fg(white)

	styleOK       = fg(green).Bold(true)
	styleDegraded = fg(amber).Bold(true)
	styleDown     = fg(red).Bold(true)
)

func styleMuted() lipgloss.Style { return fg(grey) }

type healthMark struct {
	glyph string
	text  string
	style lipgloss.Style
}

var healthMarks = map[Health]healthMark{
	HealthOK:       {"●", "OK", styleOK},
	HealthDegraded: {"◐", "Degraded", styleDegraded},
	HealthDown:     {"○", "Down", styleDown},
}

func markFor(h Health) healthMark {
	if m, ok := healthMarks[h]; ok {
		return m
	}
	return healthMark{"?", "Unknown", styleMuted()}
}

// HealthLabel renders a colored health indicator with text.
func HealthLabel(h Health) string {
	m := markFor(h)
	return m.style.Render(m.glyph + " " + m.text)
}

// HealthIcon renders the single-glyph indicator used in tables.
func HealthIcon(h Health) string {
	m := markFor(h)
	return m.style.Render(m.glyph)
}

// ProgressBar renders percent (clamped to 0..100) as a bar of width cells.
func ProgressBar(percent float64, width int) string {
	percent = max(0, min(percent, 100))
	filled := int(float64(width) * percent / 100)
	return fg(green).Render(strings.Repeat("█", filled)) +
		fg(grey).Render(strings.Repeat("░", width-filled))
}
