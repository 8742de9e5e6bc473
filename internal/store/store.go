// Package store persists the coordinator's snapshot as two independently
// readable keyed values: the PR list and the last fetch time.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcin-skalski/prwatch/internal/pr"
)

const (
	KeyPRs       = "prs"
	KeyLastFetch = "lastFetch"
)

type Store interface {
	// Load returns ok=false with no error when nothing was ever saved.
	Load(ctx context.Context) (pr.Snapshot, bool, error)
	Save(ctx context.Context, snap pr.Snapshot) error
	Close() error
}

type Entry struct {
	Key   string
	Value string
}

// Backend is a tiny key/value table scoped to one repository.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Put writes all entries in one transaction.
	Put(ctx context.Context, entries ...Entry) error
	Close() error
}

type KeyedStore struct {
	backend Backend
}

var _ Store = (*KeyedStore)(nil)

func New(b Backend) *KeyedStore {
	return &KeyedStore{backend: b}
}

func (s *KeyedStore) LoadPRs(ctx context.Context) ([]pr.Record, bool, error) {
	raw, ok, err := s.backend.Get(ctx, KeyPRs)
	if err != nil || !ok {
		return nil, false, err
	}
	var prs []pr.Record
	if err := json.Unmarshal([]byte(raw), &prs); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", KeyPRs, err)
	}
	return prs, true, nil
}

func (s *KeyedStore) LoadLastFetch(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.backend.Get(ctx, KeyLastFetch)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", KeyLastFetch, err)
	}
	return t, true, nil
}

func (s *KeyedStore) Load(ctx context.Context) (pr.Snapshot, bool, error) {
	prs, ok, err := s.LoadPRs(ctx)
	if err != nil || !ok {
		return pr.Snapshot{}, false, err
	}
	fetched, _, err := s.LoadLastFetch(ctx)
	if err != nil {
		return pr.Snapshot{}, false, err
	}
	return pr.Snapshot{PRs: prs, FetchedAt: fetched}, true, nil
}

func (s *KeyedStore) Save(ctx context.Context, snap pr.Snapshot) error {
	prs := snap.PRs
	if prs == nil {
		prs = []pr.Record{}
	}
	data, err := json.Marshal(prs)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyPRs, err)
	}
	return s.backend.Put(ctx,
		Entry{Key: KeyPRs, Value: string(data)},
		Entry{Key: KeyLastFetch, Value: snap.FetchedAt.UTC().Format(time.RFC3339Nano)},
	)
}

func (s *KeyedStore) Close() error {
	return s.backend.Close()
}

// Nop is used when persistence is disabled.
type Nop struct{}

var _ Store = Nop{}

func (Nop) Load(context.Context) (pr.Snapshot, bool, error) { return pr.Snapshot{}, false, nil }
func (Nop) Save(context.Context, pr.Snapshot) error         { return nil }
func (Nop) Close() error                                    { return nil }
