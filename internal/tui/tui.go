package tui

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcin-skalski/prwatch/internal/protocol"
)

const reconnectDelay = 3 * time.Second

type viewMode int

const (
	viewModeList viewMode = iota
	viewModeDetail
)

type Model struct {
	url          string
	pingInterval time.Duration
	logger       *slog.Logger
	httpClient   *http.Client

	feed     *Feed
	board    Board
	mode     viewMode
	selected int // -1 = none
	now      func() time.Time
}

type (
	feedOpenMsg   struct{ feed *Feed }
	feedErrMsg    struct{ err error }
	feedClosedMsg struct{ err error }
	frameMsg      protocol.ServerMessage
	reconnectMsg  struct{}
	pingTickMsg   time.Time
	refreshedMsg  struct{ err error }
)

func NewModel(wsURL string, pingInterval time.Duration, logger *slog.Logger) Model {
	return Model{
		url:          wsURL,
		pingInterval: pingInterval,
		logger:       logger,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		board:        Board{Conn: ConnConnecting},
		selected:     -1,
		now:          time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.connectCmd(), pingCmd(m.pingInterval))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case feedOpenMsg:
		m.feed = msg.feed
		m.board.Conn = ConnLive
		m.board.Status = ""
		return m, waitFrame(m.feed)

	case feedErrMsg:
		m.board.Conn = ConnDisconnected
		m.board.Status = msg.err.Error()
		return m, reconnectCmd()

	case feedClosedMsg:
		if m.feed != nil {
			_ = m.feed.Close()
			m.feed = nil
		}
		m.board.Conn = ConnDisconnected
		if msg.err != nil {
			m.board.Status = msg.err.Error()
		}
		return m, reconnectCmd()

	case reconnectMsg:
		m.board.Conn = ConnConnecting
		return m, m.connectCmd()

	case frameMsg:
		m.board.Apply(protocol.ServerMessage(msg))
		m.clampSelection()
		return m, waitFrame(m.feed)

	case pingTickMsg:
		if m.feed != nil {
			if err := m.feed.Ping(); err != nil {
				m.logger.Debug("ping failed", "err", err)
			}
		}
		return m, pingCmd(m.pingInterval)

	case refreshedMsg:
		if msg.err != nil {
			m.board.Status = "refresh failed: " + msg.err.Error()
		} else {
			m.board.Status = "refresh requested " + m.now().Format("15:04:05")
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.feed != nil {
			_ = m.feed.Close()
		}
		return m, tea.Quit
	}

	switch m.mode {
	case viewModeList:
		switch msg.String() {
		case "r":
			return m, m.refreshCmd()
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.board.PRs)-1 {
				m.selected++
			}
		case "enter", " ":
			if m.selected >= 0 && m.selected < len(m.board.PRs) {
				m.mode = viewModeDetail
			}
		}
	case viewModeDetail:
		if msg.String() == "esc" {
			m.mode = viewModeList
		}
	}
	return m, nil
}

// clampSelection keeps the cursor on a valid row after the list changed and
// leaves the detail view when its PR is gone.
func (m *Model) clampSelection() {
	if m.selected == -1 && len(m.board.PRs) > 0 {
		m.selected = 0
	}
	if m.selected >= len(m.board.PRs) {
		m.selected = len(m.board.PRs) - 1
	}
	if m.selected < 0 {
		m.mode = viewModeList
	}
}

func (m Model) View() string {
	if m.mode == viewModeDetail && m.selected >= 0 && m.selected < len(m.board.PRs) {
		return renderDetailView(m.board.PRs[m.selected])
	}
	return renderListView(m.url, m.board, m.selected)
}

func (m Model) connectCmd() tea.Cmd {
	url, logger := m.url, m.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		feed, err := Dial(ctx, url, logger)
		if err != nil {
			logger.Warn("connect failed", "err", err)
			return feedErrMsg{err: err}
		}
		return feedOpenMsg{feed: feed}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	client, wsURL := m.httpClient, m.url
	return func() tea.Msg {
		target, err := refreshURL(wsURL)
		if err != nil {
			return refreshedMsg{err: err}
		}
		return refreshedMsg{err: requestRefresh(context.Background(), client, target)}
	}
}

func waitFrame(feed *Feed) tea.Cmd {
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		msg, err := feed.Next()
		if err != nil {
			return feedClosedMsg{err: err}
		}
		return frameMsg(msg)
	}
}

func reconnectCmd() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })
}

func pingCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return pingTickMsg(t)
	})
}
