package server

import (
	_ "embed"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/protocol"
	"github.com/marcin-skalski/prwatch/internal/webhook"
)

//go:embed static/index.html
var indexHTML []byte

type prsResponse struct {
	PRs         []pr.Record `json:"prs"`
	LastUpdated *string     `json:"lastUpdated"`
	RepoURL     string      `json:"repoUrl"`
}

type statsResponse struct {
	ConnectedClients int     `json:"connectedClients"`
	CachedPRCount    int     `json:"cachedPRCount"`
	LastFetch        *string `json:"lastFetch"`
}

// wireTime renders t like every other timestamp the server emits; the zero
// time (never fetched) becomes null.
func wireTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(protocol.TimeFormat)
	return &s
}

func (h *Handler) HandleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (h *Handler) HandlePRs(c *gin.Context) {
	view, err := h.coord.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "NOT_READY", "snapshot not available")
		return
	}
	prs := view.PRs
	if prs == nil {
		prs = []pr.Record{}
	}
	c.JSON(http.StatusOK, prsResponse{
		PRs:         prs,
		LastUpdated: wireTime(view.LastUpdated),
		RepoURL:     view.RepoURL,
	})
}

// HandleRefresh always answers success: a failed fetch is logged by the
// coordinator and the cached count is returned.
func (h *Handler) HandleRefresh(c *gin.Context) {
	res := h.coord.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "count": res.Count})
}

func (h *Handler) HandleStats(c *gin.Context) {
	stats, err := h.coord.Stats(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "NOT_READY", "stats not available")
		return
	}
	c.JSON(http.StatusOK, statsResponse{
		ConnectedClients: stats.ConnectedClients,
		CachedPRCount:    stats.CachedPRCount,
		LastFetch:        wireTime(stats.LastFetch),
	})
}

func (h *Handler) HandleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)

	ev, err := h.gate.Verify(c.Request)
	if err != nil {
		h.logger.Warn("webhook rejected", "err", err, "client_ip", c.ClientIP())
		msg := "invalid signature"
		if errors.Is(err, webhook.ErrNoSecret) {
			msg = "webhook secret not configured"
		}
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", msg)
		return
	}

	h.coord.OnExternalEvent(c.Request.Context(), ev)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleStream upgrades to a WebSocket, opens a session and pumps client
// frames into the coordinator until the connection drops.
func (h *Handler) HandleStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxClientFrame)

	ch := newWSChannel(conn, h.writeTimeout)
	ctx := c.Request.Context()

	id, err := h.coord.OpenSession(ctx, ch)
	if err != nil {
		h.logger.Warn("open session failed", "err", err)
		_ = ch.Close()
		return
	}
	defer h.coord.CloseSession(id)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("session read failed", "session", id, "err", err)
			}
			return
		}
		h.coord.HandleMessage(ctx, id, frame)
	}
}
