package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/store"
)

func openTestStore(t *testing.T, path, repo string) *store.KeyedStore {
	t.Helper()
	b, err := Open(path, repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	s := store.New(b)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_SaveLoadSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	fetched := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := pr.Snapshot{
		FetchedAt: fetched,
		PRs: []pr.Record{
			{Number: 5, Title: "five", State: pr.StateOpen, UpdatedAt: fetched, Labels: []string{"x"}},
			{Number: 3, Title: "three", State: pr.StateOpen, UpdatedAt: fetched.Add(-time.Minute)},
		},
	}

	first, err := Open(path, "acme/widgets", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, store.New(first).Save(ctx, snap))
	require.NoError(t, first.Close())

	s := openTestStore(t, path, "acme/widgets")
	got, ok, err := s.Load(ctx)

	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, fetched.Equal(got.FetchedAt))
	require.Len(t, got.PRs, 2)
	assert.Equal(t, []int{5, 3}, []int{got.PRs[0].Number, got.PRs[1].Number})
	assert.Equal(t, []string{"x"}, got.PRs[0].Labels)
}

func TestSQLite_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"), "acme/widgets")

	require.NoError(t, s.Save(ctx, pr.Snapshot{PRs: []pr.Record{{Number: 1}, {Number: 2}}, FetchedAt: time.Now()}))
	require.NoError(t, s.Save(ctx, pr.Snapshot{PRs: []pr.Record{{Number: 9}}, FetchedAt: time.Now()}))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.PRs, 1)
	assert.Equal(t, 9, got.PRs[0].Number)
}

func TestSQLite_ScopedByRepo(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	widgets := openTestStore(t, path, "acme/widgets")
	require.NoError(t, widgets.Save(ctx, pr.Snapshot{PRs: []pr.Record{{Number: 1}}, FetchedAt: time.Now()}))

	gadgets := openTestStore(t, path, "acme/gadgets")
	_, ok, err := gadgets.Load(ctx)

	require.NoError(t, err)
	assert.False(t, ok)
}
