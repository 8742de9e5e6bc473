package tui

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcin-skalski/prwatch/internal/protocol"
)

// Feed is one streaming connection to a prwatch server.
type Feed struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu sync.Mutex // serializes writes
}

func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Feed, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	logger.Info("connected", "url", wsURL)
	return &Feed{conn: conn, logger: logger}, nil
}

// Next blocks until the next frame the client understands. Frames that fail
// to decode are skipped. Only one goroutine may call Next.
func (f *Feed) Next() (protocol.ServerMessage, error) {
	for {
		_, frame, err := f.conn.ReadMessage()
		if err != nil {
			return protocol.ServerMessage{}, err
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			f.logger.Debug("skipping frame", "err", err)
			continue
		}
		return msg, nil
	}
}

func (f *Feed) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return f.conn.WriteMessage(websocket.TextMessage, protocol.Ping())
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return f.conn.Close()
}

// refreshURL maps ws[s]://host/api/ws to http[s]://host/api/refresh.
func refreshURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/refresh"
	u.RawQuery = ""
	return u.String(), nil
}

func requestRefresh(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh: %s", resp.Status)
	}
	return nil
}
