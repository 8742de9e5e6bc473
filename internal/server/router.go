package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/marcin-skalski/prwatch/internal/coordinator"
	"github.com/marcin-skalski/prwatch/internal/session"
	"github.com/marcin-skalski/prwatch/internal/webhook"
)

const (
	DefaultWriteTimeout = 10 * time.Second

	maxClientFrame = 4 << 10
	maxWebhookBody = 25 << 20
)

// Coordinator is the part of *coordinator.Coordinator the edge needs.
type Coordinator interface {
	Snapshot(ctx context.Context) (coordinator.View, error)
	Refresh(ctx context.Context) coordinator.RefreshResult
	OnExternalEvent(ctx context.Context, ev webhook.Event) coordinator.RefreshResult
	OpenSession(ctx context.Context, ch session.Channel) (string, error)
	CloseSession(id string)
	HandleMessage(ctx context.Context, id string, frame []byte)
	Stats(ctx context.Context) (coordinator.Stats, error)
}

type Options struct {
	WriteTimeout time.Duration // per-frame write deadline on streaming sessions
}

type Handler struct {
	coord        Coordinator
	gate         *webhook.Gate
	logger       *slog.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

func NewRouter(coord Coordinator, gate *webhook.Gate, opts Options, logger *slog.Logger) *gin.Engine {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	h := &Handler{
		coord:        coord,
		gate:         gate,
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(requestLogger(logger))
	r.Use(gin.CustomRecoveryWithWriter(io.Discard, h.recovered))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/", h.HandleIndex)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.GET("/prs", h.HandlePRs)
	api.POST("/refresh", h.HandleRefresh)
	api.GET("/ws", h.HandleStream)
	api.GET("/stats", h.HandleStats)

	r.POST("/webhook/github", h.HandleWebhook)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

func (h *Handler) recovered(c *gin.Context, err any) {
	h.logger.Error("panic in handler", "path", c.Request.URL.Path, "panic", err)
	writeError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
