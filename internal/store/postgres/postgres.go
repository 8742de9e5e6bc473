package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcin-skalski/prwatch/internal/store"
)

type Backend struct {
	pool   *pgxpool.Pool
	repo   string
	logger *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

func Open(ctx context.Context, dsn, repo string, logger *slog.Logger) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	b := &Backend{pool: pool, repo: repo, logger: logger}
	if err := b.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("connected to Postgres", "repo", repo)
	return b, nil
}

func (b *Backend) ensureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tracker_state (
			repo        TEXT NOT NULL,
			state_key   TEXT NOT NULL,
			state_value TEXT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (repo, state_key)
		);
	`)
	return err
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.pool.QueryRow(ctx,
		`SELECT state_value FROM tracker_state WHERE repo = $1 AND state_key = $2`,
		b.repo, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (b *Backend) Put(ctx context.Context, entries ...store.Entry) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			b.logger.Warn("rollback failed", "err", err)
		}
	}()

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO tracker_state (repo, state_key, state_value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (repo, state_key)
			DO UPDATE SET
				state_value = EXCLUDED.state_value,
				updated_at = EXCLUDED.updated_at;
		`, b.repo, e.Key, e.Value)
		if err != nil {
			return fmt.Errorf("put %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	b.logger.Debug("saved state", "repo", b.repo, "keys", len(entries))
	return nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
