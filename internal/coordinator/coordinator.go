package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/protocol"
	"github.com/marcin-skalski/prwatch/internal/session"
	"github.com/marcin-skalski/prwatch/internal/webhook"
)

const (
	DefaultStaleAfter  = 30 * time.Second
	DefaultLoadTimeout = 10 * time.Second
)

type Source interface {
	ListOpenPRs(ctx context.Context) ([]pr.Record, error)
}

type Persister interface {
	Load(ctx context.Context) (pr.Snapshot, bool, error)
	Save(ctx context.Context, snap pr.Snapshot) error
}

type Options struct {
	RepoURL      string
	StaleAfter   time.Duration
	PollInterval time.Duration // <= 0 disables background polling
	LoadTimeout  time.Duration
	Now          func() time.Time
}

// Coordinator owns the snapshot of one repository and the sessions that
// watch it. Every exported method runs as a single critical section, so a
// refresh (fetch, diff, replace, persist, broadcast) never interleaves with
// another refresh, a session being opened, or a read.
type Coordinator struct {
	source Source
	store  Persister
	opts   Options
	logger *slog.Logger
	ready  chan struct{}

	mu       sync.Mutex
	snapshot pr.Snapshot
	sessions *session.Registry
}

type View struct {
	PRs         []pr.Record
	LastUpdated time.Time
	RepoURL     string
}

type Stats struct {
	ConnectedClients int
	CachedPRCount    int
	LastFetch        time.Time
}

type RefreshResult struct {
	Changes []pr.ChangeEvent
	Count   int   // PRs in the snapshot after the refresh
	Err     error // fetch failure; already logged, snapshot untouched
}

// New returns immediately; the persisted snapshot is loaded in the background
// and every operation waits for that load to finish. A failed load leaves the
// coordinator serving an empty snapshot.
func New(source Source, store Persister, opts Options, logger *slog.Logger) *Coordinator {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		source:   source,
		store:    store,
		opts:     opts,
		logger:   logger,
		ready:    make(chan struct{}),
		sessions: session.NewRegistry(logger),
	}
	go c.load()
	return c
}

func (c *Coordinator) load() {
	defer close(c.ready)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LoadTimeout)
	defer cancel()

	snap, ok, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Error("load snapshot failed, starting empty", "err", err)
		return
	}
	if !ok {
		c.logger.Info("no stored snapshot")
		return
	}

	snap.PRs = pr.Dedupe(snap.PRs)
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
	c.logger.Info("loaded snapshot", "prs", len(snap.PRs), "fetched_at", snap.FetchedAt)
}

// Ready is closed once the coordinator has finished loading.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

func (c *Coordinator) wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) Refresh(ctx context.Context) RefreshResult {
	if err := c.wait(ctx); err != nil {
		return RefreshResult{Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Coordinator) refreshLocked(ctx context.Context) RefreshResult {
	fetched, err := c.source.ListOpenPRs(ctx)
	if err != nil {
		c.logger.Error("refresh failed, keeping snapshot", "err", err, "prs", len(c.snapshot.PRs))
		return RefreshResult{Count: len(c.snapshot.PRs), Err: fmt.Errorf("fetch open PRs: %w", err)}
	}

	next := make([]pr.Record, 0, len(fetched))
	for _, r := range pr.Dedupe(fetched) {
		if r.State == pr.StateClosed || r.State == pr.StateMerged {
			continue
		}
		next = append(next, r)
	}

	changes := pr.Diff(c.snapshot.PRs, next)
	now := c.opts.Now()
	c.snapshot = pr.Snapshot{PRs: next, FetchedAt: now}

	// The caller may go away mid-refresh; persistence and fan-out still finish.
	bg := context.WithoutCancel(ctx)
	if err := c.store.Save(bg, c.snapshot); err != nil {
		c.logger.Warn("persist snapshot failed", "err", err)
	}

	for _, ev := range changes {
		frame, err := protocol.Change(ev, now)
		if err != nil {
			c.logger.Error("encode change", "kind", ev.Kind, "pr", ev.PR.Number, "err", err)
			continue
		}
		if pruned := c.sessions.Broadcast(bg, frame); len(pruned) > 0 {
			c.logger.Info("pruned dead sessions", "count", len(pruned), "remaining", c.sessions.Len())
		}
	}

	c.logger.Info("refreshed",
		"prs", len(next),
		"changes", len(changes),
		"sessions", c.sessions.Len())
	return RefreshResult{Changes: changes, Count: len(next)}
}

// Snapshot returns the current PR list, refreshing first when it is older
// than the staleness threshold.
func (c *Coordinator) Snapshot(ctx context.Context) (View, error) {
	if err := c.wait(ctx); err != nil {
		return View{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot.Stale(c.opts.Now(), c.opts.StaleAfter) {
		c.refreshLocked(ctx)
	}
	snap := c.snapshot.Clone()
	return View{PRs: snap.PRs, LastUpdated: snap.FetchedAt, RepoURL: c.opts.RepoURL}, nil
}

// OnExternalEvent handles a verified webhook delivery. The payload is only a
// trigger: the coordinator always refetches from the source.
func (c *Coordinator) OnExternalEvent(ctx context.Context, ev webhook.Event) RefreshResult {
	c.logger.Info("external event",
		"event", ev.Type,
		"action", ev.Action,
		"delivery", ev.DeliveryID,
		"pr", ev.Number)
	return c.Refresh(ctx)
}

// OpenSession registers ch and sends it the full current snapshot as its
// first frame. Registration and that first send happen in one critical
// section, so the session sees every broadcast that starts afterwards and
// none from before.
func (c *Coordinator) OpenSession(ctx context.Context, ch session.Channel) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	now := c.opts.Now()
	c.sessions.Add(id, ch, now)

	frame, err := protocol.Connected(c.snapshot.PRs, now)
	if err != nil {
		c.sessions.Remove(id)
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.sessions.Send(context.WithoutCancel(ctx), id, frame); err != nil {
		return "", fmt.Errorf("send snapshot: %w", err)
	}

	c.logger.Info("session opened", "session", id, "sessions", c.sessions.Len())
	return id, nil
}

// CloseSession is a no-op for unknown or already closed sessions.
func (c *Coordinator) CloseSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions.Remove(id) {
		c.logger.Info("session closed", "session", id, "sessions", c.sessions.Len())
	}
}

// HandleMessage processes one client frame. Only ping is understood; it is
// answered with a pong on the same session. Everything else is dropped.
func (c *Coordinator) HandleMessage(ctx context.Context, id string, frame []byte) {
	msg, ok := protocol.ParseClient(frame)
	if !ok {
		return
	}
	switch msg.Type {
	case protocol.TypePing:
		c.mu.Lock()
		defer c.mu.Unlock()
		pong, err := protocol.Pong(c.opts.Now())
		if err != nil {
			return
		}
		if err := c.sessions.Send(context.WithoutCancel(ctx), id, pong); err != nil {
			c.logger.Debug("pong not delivered", "session", id, "err", err)
		}
	default:
		c.logger.Debug("ignoring client message", "session", id, "type", msg.Type)
	}
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	if err := c.wait(ctx); err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ConnectedClients: c.sessions.Len(),
		CachedPRCount:    len(c.snapshot.PRs),
		LastFetch:        c.snapshot.FetchedAt,
	}, nil
}

// Run refreshes once, then every PollInterval until ctx is done. On exit all
// sessions are closed.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", "poll_interval", c.opts.PollInterval, "stale_after", c.opts.StaleAfter)
	defer c.shutdown()

	if err := c.wait(ctx); err != nil {
		return nil
	}
	c.Refresh(ctx)

	if c.opts.PollInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

func (c *Coordinator) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.sessions.Len()
	c.sessions.CloseAll()
	c.logger.Info("coordinator stopped", "closed_sessions", n)
}
