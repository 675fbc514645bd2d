package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/task"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
)

func statusStyle(s task.Status) lipgloss.Style {
	switch s {
	case task.StatusDone:
		return okStyle
	case task.StatusInProgress:
		return infoStyle
	case task.StatusBlocked:
		return warnStyle
	case task.StatusFailed:
		return failStyle
	default:
		return dimStyle
	}
}

func levelStyle(level string) lipgloss.Style {
	switch logging.ParseLevel(level) {
	case logging.LevelDebug:
		return dimStyle
	case logging.LevelWarn:
		return warnStyle
	case logging.LevelError:
		return failStyle
	default:
		return infoStyle
	}
}

// section renders a heading.
func section(title string) string {
	return titleStyle.Render(title)
}
