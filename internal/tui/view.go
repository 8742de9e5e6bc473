package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/marcin-skalski/prwatch/internal/pr"
)

const titleWidth = 60

func renderListView(url string, board Board, selected int) string {
	var b strings.Builder

	header := fmt.Sprintf("prwatch │ %s │ %d open PRs │ %s",
		url, len(board.PRs), lipgloss.NewStyle().Foreground(connColor(board.Conn)).Render("● "+board.Conn.String()))
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("📦 Open Pull Requests"))
	b.WriteString("\n")
	b.WriteString(renderPRList(board.PRs, selected))

	b.WriteString("\n")
	footer := fmt.Sprintf("Last pong: %s │ last event: %s │ q:quit r:refresh ↑↓:select enter:detail",
		formatClock(board.LastPong), orDash(board.LastEvent))
	if board.Status != "" {
		footer += "\n" + board.Status
	}
	b.WriteString(footerStyle.Render(footer))

	return b.String()
}

func renderPRList(prs []pr.Record, selected int) string {
	if len(prs) == 0 {
		return emptyStyle.Render("  (no open PRs)")
	}

	var b strings.Builder
	for i, r := range prs {
		prefix := "├─"
		if i == len(prs)-1 {
			prefix = "└─"
		}

		title := r.Title
		if r.IsDraft {
			title = "[draft] " + title
		}
		if runewidth.StringWidth(title) > titleWidth {
			title = runewidth.Truncate(title, titleWidth-3, "...")
		}

		line := fmt.Sprintf("%s #%-5d %s (%s)", prefix, r.Number, title, r.Author.Login)
		style := prStyle
		if i == selected {
			style = selectedStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("  ")
		b.WriteString(lipgloss.NewStyle().Foreground(reviewColor(r.ReviewStatus)).
			Render(reviewIcon(r.ReviewStatus) + " " + string(r.ReviewStatus)))
		b.WriteString("  ")
		b.WriteString(lipgloss.NewStyle().Foreground(ciColor(r.CIStatus)).
			Render(ciIcon(r.CIStatus) + " " + string(r.CIStatus)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderDetailView(r pr.Record) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("#%d %s", r.Number, r.Title)))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("URL", r.URL)
	row("Branch", r.Branch)
	row("Author", r.Author.Login)
	row("Draft", fmt.Sprintf("%t", r.IsDraft))
	row("Review", lipgloss.NewStyle().Foreground(reviewColor(r.ReviewStatus)).
		Render(reviewIcon(r.ReviewStatus)+" "+string(r.ReviewStatus)))
	row("CI", lipgloss.NewStyle().Foreground(ciColor(r.CIStatus)).
		Render(ciIcon(r.CIStatus)+" "+string(r.CIStatus)))
	row("Reviewers", orDash(strings.Join(r.Reviewers, ", ")))
	row("Labels", orDash(strings.Join(r.Labels, ", ")))
	row("Created", r.CreatedAt.Local().Format(time.DateTime))
	row("Updated", r.UpdatedAt.Local().Format(time.DateTime))

	b.WriteString(footerStyle.Render("esc:back q:quit"))
	return b.String()
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
