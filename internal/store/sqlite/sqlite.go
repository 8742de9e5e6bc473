package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/marcin-skalski/prwatch/internal/store"
)

// StateModel is one keyed value of a repository's persisted snapshot.
type StateModel struct {
	Repo      string `gorm:"primaryKey"`
	Key       string `gorm:"column:state_key;primaryKey"`
	Value     string `gorm:"column:state_value;not null"`
	UpdatedAt time.Time
}

func (StateModel) TableName() string { return "tracker_state" }

type Backend struct {
	db   *gorm.DB
	repo string
}

var _ store.Backend = (*Backend)(nil)

// Open creates (or reuses) the database at path and scopes every read and
// write to repo.
func Open(path, repo string, log *slog.Logger) (*Backend, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  &gormLogger{log: log, level: logger.Warn},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA synchronous=NORMAL")

	if err := db.AutoMigrate(&StateModel{}); err != nil {
		return nil, fmt.Errorf("migrate tracker_state: %w", err)
	}

	return &Backend{db: db, repo: repo}, nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	var m StateModel
	err := b.db.WithContext(ctx).
		Where("repo = ? AND state_key = ?", b.repo, key).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return m.Value, true, nil
}

func (b *Backend) Put(ctx context.Context, entries ...store.Entry) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			m := StateModel{Repo: b.repo, Key: e.Key, Value: e.Value}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "repo"}, {Name: "state_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"state_value", "updated_at"}),
			}).Create(&m).Error
			if err != nil {
				return fmt.Errorf("put %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogger routes GORM's own logging into slog.
type gormLogger struct {
	log   *slog.Logger
	level logger.LogLevel
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{log: l.log, level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.log.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		l.log.ErrorContext(ctx, "gorm query error", "err", err, "duration", elapsed, "sql", sql, "rows", rows)
	case elapsed > 200*time.Millisecond && l.level >= logger.Warn:
		sql, rows := fc()
		l.log.WarnContext(ctx, "slow query", "duration", elapsed, "sql", sql, "rows", rows)
	case l.level >= logger.Info:
		sql, rows := fc()
		l.log.DebugContext(ctx, "gorm query", "duration", elapsed, "sql", sql, "rows", rows)
	}
}
