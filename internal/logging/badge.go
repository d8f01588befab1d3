package logging

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// RunningBadge renders a running/stopped indicator.
func RunningBadge(running bool) string {
	if running {
		return okStyle.Render("● running")
	}
	return dimStyle.Render("○ stopped")
}

// StateBadge renders a lifecycle or health state name.
func StateBadge(state string) string {
	switch state {
	case "running", "healthy":
		return okStyle.Render("● " + state)
	case "launching", "stopping", "degraded":
		return warnStyle.Render("◐ " + state)
	case "crashed":
		return failStyle.Render("✗ " + state)
	default:
		return dimStyle.Render("○ " + state)
	}
}

// StatusBadge renders an HTTP status code; zero means the request never
// produced a response.
func StatusBadge(status int) string {
	switch {
	case status == 0:
		return failStyle.Render("ERR")
	case status >= 200 && status < 300:
		return okStyle.Render(strconv.Itoa(status))
	case status >= 400:
		return failStyle.Render(strconv.Itoa(status))
	default:
		return warnStyle.Render(strconv.Itoa(status))
	}
}

// Dim renders secondary text.
func Dim(s string) string {
	return dimStyle.Render(s)
}
