package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcin-skalski/prwatch/internal/logging"
	"github.com/marcin-skalski/prwatch/internal/tui"
)

type WatchCmd struct {
	URL          string        `help:"Stream endpoint of a prwatch server" default:"ws://localhost:8787/api/ws" env:"PRWATCH_URL"`
	PingInterval time.Duration `help:"Heartbeat interval" default:"20s"`
	LogFile      string        `help:"Write logs to this file (the dashboard owns the terminal)" type:"path"`
}

func (w *WatchCmd) Run(cli *CLI) error {
	if w.PingInterval <= 0 {
		return fmt.Errorf("--ping-interval must be positive")
	}

	logger, closeLog, err := logging.SetupLogger(w.LogFile, cli.level("info"), true)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer closeLog()

	p := tea.NewProgram(tui.NewModel(w.URL, w.PingInterval, logger), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
