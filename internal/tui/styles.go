package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/marcin-skalski/prwatch/internal/pr"
)

var (
	colorMuted   = lipgloss.Color("240") // gray
	colorWarn    = lipgloss.Color("214") // orange
	colorFailing = lipgloss.Color("196") // red
	colorRunning = lipgloss.Color("33")  // blue
	colorComment = lipgloss.Color("135") // purple
	colorGood    = lipgloss.Color("46")  // green
	colorText    = lipgloss.Color("252")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			PaddingLeft(1).
			PaddingRight(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginTop(1)

	prStyle = lipgloss.NewStyle().
		Foreground(colorText)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Background(lipgloss.Color("237"))

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(12)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	emptyStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)
)

func reviewIcon(s pr.ReviewStatus) string {
	switch s {
	case pr.ReviewApproved:
		return "✅"
	case pr.ReviewChangesRequested:
		return "🔧"
	case pr.ReviewCommented:
		return "💬"
	case pr.ReviewRequested:
		return "📋"
	case pr.ReviewPending:
		return "⏳"
	default:
		return "❓"
	}
}

func reviewColor(s pr.ReviewStatus) lipgloss.Color {
	switch s {
	case pr.ReviewApproved:
		return colorGood
	case pr.ReviewChangesRequested:
		return colorFailing
	case pr.ReviewCommented:
		return colorComment
	case pr.ReviewRequested, pr.ReviewPending:
		return colorWarn
	default:
		return colorText
	}
}

func ciIcon(s pr.CIStatus) string {
	switch s {
	case pr.CISuccess:
		return "✔"
	case pr.CIFailure:
		return "✘"
	case pr.CIPending:
		return "⚙"
	case pr.CINeutral:
		return "○"
	default:
		return "?"
	}
}

func ciColor(s pr.CIStatus) lipgloss.Color {
	switch s {
	case pr.CISuccess:
		return colorGood
	case pr.CIFailure:
		return colorFailing
	case pr.CIPending:
		return colorRunning
	default:
		return colorMuted
	}
}

func connColor(c ConnState) lipgloss.Color {
	switch c {
	case ConnLive:
		return colorGood
	case ConnDisconnected:
		return colorFailing
	default:
		return colorWarn
	}
}
