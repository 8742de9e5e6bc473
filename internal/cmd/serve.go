package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/marcin-skalski/prwatch/internal/config"
	"github.com/marcin-skalski/prwatch/internal/coordinator"
	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/logging"
	"github.com/marcin-skalski/prwatch/internal/server"
	"github.com/marcin-skalski/prwatch/internal/store"
	"github.com/marcin-skalski/prwatch/internal/store/postgres"
	"github.com/marcin-skalski/prwatch/internal/store/sqlite"
	"github.com/marcin-skalski/prwatch/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

type ServeCmd struct {
	Config string `help:"Path to config file" type:"path" default:"config.yaml" short:"c"`
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(s.Config)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.SetupLogger(cfg.LogFile, cli.level(cfg.Log.Level), false)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger.With("component", "store"))
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.GitHubToken == "" {
		logger.Warn("GITHUB_TOKEN not set, using unauthenticated API requests")
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("PRWATCH_WEBHOOK_SECRET not set, webhook deliveries will be rejected")
	}

	source := github.NewClient(cfg.GitHubToken, cfg.GitHub.GraphQLURL, cfg.Repo.Owner, cfg.Repo.Name,
		cfg.FetchTimeout, logger.With("component", "github"))

	coord := coordinator.New(source, st, coordinator.Options{
		RepoURL:      cfg.Repo.URL(),
		StaleAfter:   cfg.StaleAfter,
		PollInterval: cfg.PollInterval,
	}, logger.With("component", "coordinator", "repo", cfg.Repo.Slug()))

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(coord,
		webhook.NewGate(cfg.WebhookSecret, logger.With("component", "webhook")),
		server.Options{WriteTimeout: cfg.Stream.WriteTimeout},
		logger.With("component", "http"))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("prwatch listening", "addr", cfg.Listen, "repo", cfg.Repo.Slug(), "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "none":
		logger.Info("persistence disabled")
		return store.Nop{}, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		b, err := postgres.Open(ctx, cfg.Storage.DSN, cfg.Repo.Slug(), logger)
		if err != nil {
			return nil, err
		}
		return store.New(b), nil
	default:
		b, err := sqlite.Open(cfg.Storage.Path, cfg.Repo.Slug(), logger)
		if err != nil {
			return nil, err
		}
		return store.New(b), nil
	}
}
