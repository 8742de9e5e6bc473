package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/protocol"
	"github.com/marcin-skalski/prwatch/internal/webhook"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	prs   []pr.Record
	err   error
	calls int
	next  func(call int) []pr.Record
}

func (f *fakeSource) ListOpenPRs(context.Context) ([]pr.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.next != nil {
		return f.next(f.calls), nil
	}
	out := make([]pr.Record, len(f.prs))
	copy(out, f.prs)
	return out, nil
}

func (f *fakeSource) set(prs ...pr.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs = prs
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	stored  *pr.Snapshot
	loadErr error
	saveErr error
	saved   []pr.Snapshot
	block   chan struct{}
}

func (f *fakeStore) Load(ctx context.Context) (pr.Snapshot, bool, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pr.Snapshot{}, false, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return pr.Snapshot{}, false, f.loadErr
	}
	if f.stored == nil {
		return pr.Snapshot{}, false, nil
	}
	return *f.stored, true, nil
}

func (f *fakeStore) Save(_ context.Context, snap pr.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return f.saveErr
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeChannel struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  int
}

func (f *fakeChannel) Send(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeChannel) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeChannel) messages(t *testing.T) []protocol.ServerMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ServerMessage, 0, len(f.frames))
	for _, fr := range f.frames {
		msg, err := protocol.Decode(fr)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func record(n int, updated time.Time) pr.Record {
	return pr.Record{Number: n, Title: "PR", State: pr.StateOpen, UpdatedAt: updated}
}

func newTestCoordinator(t *testing.T, src *fakeSource, st *fakeStore, clk *clock) *Coordinator {
	t.Helper()
	c := New(src, st, Options{
		RepoURL: "https://github.com/acme/widgets",
		Now:     clk.Now,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator never became ready")
	}
	return c
}

func numbers(prs []pr.Record) []int {
	out := make([]int, len(prs))
	for i, r := range prs {
		out[i] = r.Number
	}
	return out
}

func TestNew_LoadsStoredSnapshot(t *testing.T) {
	clk := &clock{now: t0}
	src := &fakeSource{}
	st := &fakeStore{stored: &pr.Snapshot{PRs: []pr.Record{record(1, t0), record(2, t0)}, FetchedAt: t0}}
	c := newTestCoordinator(t, src, st, clk)

	view, err := c.Snapshot(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, numbers(view.PRs))
	assert.True(t, t0.Equal(view.LastUpdated))
	assert.Equal(t, "https://github.com/acme/widgets", view.RepoURL)
	assert.Zero(t, src.callCount(), "fresh snapshot must not trigger a fetch")
}

func TestNew_LoadErrorStartsEmpty(t *testing.T) {
	clk := &clock{now: t0}
	c := newTestCoordinator(t, &fakeSource{}, &fakeStore{loadErr: errors.New("disk gone")}, clk)

	stats, err := c.Stats(context.Background())

	require.NoError(t, err)
	assert.Zero(t, stats.CachedPRCount)
	assert.True(t, stats.LastFetch.IsZero())
}

func TestOperationsWaitForLoad(t *testing.T) {
	st := &fakeStore{block: make(chan struct{})}
	c := New(&fakeSource{}, st, Options{Now: (&clock{now: t0}).Now}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(st.block)
	<-c.Ready()
	_, err = c.Stats(context.Background())
	assert.NoError(t, err)
}

func TestRefresh_BroadcastsScenario(t *testing.T) {
	clk := &clock{now: t0}
	t1, t2 := t0.Add(-time.Hour), t0.Add(-time.Minute)
	src := &fakeSource{}
	st := &fakeStore{stored: &pr.Snapshot{PRs: []pr.Record{record(1, t1), record(2, t1)}, FetchedAt: t1}}
	c := newTestCoordinator(t, src, st, clk)

	ch := &fakeChannel{}
	_, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)

	src.set(record(2, t2), record(3, t1))
	res := c.Refresh(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Changes, 3)

	msgs := ch.messages(t)
	require.Len(t, msgs, 4)
	assert.Equal(t, protocol.TypeConnected, msgs[0].Type)
	assert.Equal(t, []int{1, 2}, numbers(msgs[0].PRs))

	got := make(map[protocol.Type]int)
	for _, m := range msgs[1:] {
		got[m.Type] = m.PR.Number
	}
	assert.Equal(t, map[protocol.Type]int{
		protocol.TypePRNew:    3,
		protocol.TypePRUpdate: 2,
		protocol.TypePRClosed: 1,
	}, got)

	view, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, numbers(view.PRs))
	assert.True(t, t0.Equal(view.LastUpdated))

	require.Equal(t, 1, st.savedCount())
	assert.Equal(t, []int{2, 3}, numbers(st.saved[0].PRs))
}

func TestRefresh_Idempotent(t *testing.T) {
	clk := &clock{now: t0}
	src := &fakeSource{}
	src.set(record(1, t0), record(2, t0))
	c := newTestCoordinator(t, src, &fakeStore{}, clk)
	ch := &fakeChannel{}
	_, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)

	first := c.Refresh(context.Background())
	second := c.Refresh(context.Background())

	assert.Len(t, first.Changes, 2)
	assert.Empty(t, second.Changes)
	assert.Len(t, ch.messages(t), 3, "connected plus two pr_new")
}

func TestRefresh_SourceFailureKeepsSnapshot(t *testing.T) {
	clk := &clock{now: t0}
	src := &fakeSource{err: errors.New("rate limited")}
	st := &fakeStore{stored: &pr.Snapshot{PRs: []pr.Record{record(1, t0)}, FetchedAt: t0}}
	c := newTestCoordinator(t, src, st, clk)
	ch := &fakeChannel{}
	_, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)

	res := c.Refresh(context.Background())

	require.Error(t, res.Err)
	assert.Equal(t, 1, res.Count)
	assert.Zero(t, st.savedCount())
	assert.Len(t, ch.messages(t), 1)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CachedPRCount)
	assert.True(t, t0.Equal(stats.LastFetch))
}

func TestRefresh_SaveFailureStillBroadcasts(t *testing.T) {
	clk := &clock{now: t0}
	src := &fakeSource{}
	src.set(record(9, t0))
	c := newTestCoordinator(t, src, &fakeStore{saveErr: errors.New("read-only fs")}, clk)
	ch := &fakeChannel{}
	_, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)

	res := c.Refresh(context.Background())

	require.NoError(t, res.Err)
	msgs := ch.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.TypePRNew, msgs[1].Type)
	assert.Equal(t, 9, msgs[1].PR.Number)
}

func TestRefresh_DropsClosedAndDuplicateRecords(t *testing.T) {
	clk := &clock{now: t0}
	src := &fakeSource{}
	merged := record(2, t0)
	merged.State = pr.StateMerged
	dup := record(1, t0.Add(time.Minute))
	src.set(record(1, t0), merged, dup)
	c := newTestCoordinator(t, src, &fakeStore{}, clk)

	res := c.Refresh(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Count)
	view, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, view.PRs, 1)
	assert.True(t, t0.Equal(view.PRs[0].UpdatedAt))
}

func TestRefresh_DeadSessionIsPrunedOthersContinue(t *testing.T) {
	clk := &clock{now: t0}
	src := &fakeSource{}
	c := newTestCoordinator(t, src, &fakeStore{}, clk)

	dead, live := &fakeChannel{}, &fakeChannel{}
	_, err := c.OpenSession(context.Background(), dead)
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	_, err = c.OpenSession(context.Background(), live)
	require.NoError(t, err)
	dead.fail(errors.New("connection reset"))

	src.set(record(1, t0))
	c.Refresh(context.Background())

	assert.Len(t, live.messages(t), 2)
	assert.Equal(t, 1, dead.closed)
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConnectedClients)
}

func TestOpenSession_SendFailureIsReported(t *testing.T) {
	c := newTestCoordinator(t, &fakeSource{}, &fakeStore{}, &clock{now: t0})
	ch := &fakeChannel{sendErr: errors.New("closed")}

	_, err := c.OpenSession(context.Background(), ch)

	require.Error(t, err)
	assert.Equal(t, 1, ch.closed)
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ConnectedClients)
}

func TestOpenSession_EmptySnapshot(t *testing.T) {
	c := newTestCoordinator(t, &fakeSource{}, &fakeStore{}, &clock{now: t0})
	ch := &fakeChannel{}

	id, err := c.OpenSession(context.Background(), ch)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	msgs := ch.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeConnected, msgs[0].Type)
	assert.Empty(t, msgs[0].PRs)
	assert.True(t, t0.Equal(msgs[0].Timestamp))
}

func TestSnapshot_RefreshesWhenStale(t *testing.T) {
	clk := &clock{now: t0}
	src := &fakeSource{}
	src.set(record(4, t0))
	st := &fakeStore{stored: &pr.Snapshot{PRs: []pr.Record{record(1, t0)}, FetchedAt: t0}}
	c := newTestCoordinator(t, src, st, clk)

	clk.Advance(DefaultStaleAfter)
	view, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, numbers(view.PRs), "exactly at the threshold is still fresh")
	assert.Zero(t, src.callCount())

	clk.Advance(time.Second)
	view, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4}, numbers(view.PRs))
	assert.Equal(t, 1, src.callCount())
}

func TestSnapshot_StaleAndSourceDownServesCache(t *testing.T) {
	clk := &clock{now: t0.Add(time.Hour)}
	src := &fakeSource{err: errors.New("timeout")}
	st := &fakeStore{stored: &pr.Snapshot{PRs: []pr.Record{record(1, t0)}, FetchedAt: t0}}
	c := newTestCoordinator(t, src, st, clk)

	view, err := c.Snapshot(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{1}, numbers(view.PRs))
	assert.True(t, t0.Equal(view.LastUpdated))
}

func TestHandleMessage(t *testing.T) {
	clk := &clock{now: t0}
	c := newTestCoordinator(t, &fakeSource{}, &fakeStore{}, clk)
	ch, other := &fakeChannel{}, &fakeChannel{}
	id, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)
	_, err = c.OpenSession(context.Background(), other)
	require.NoError(t, err)

	c.HandleMessage(context.Background(), id, []byte(`not json`))
	c.HandleMessage(context.Background(), id, []byte(`{"type":"subscribe"}`))
	c.HandleMessage(context.Background(), id, []byte(`{"type":"ping"}`))
	c.HandleMessage(context.Background(), "unknown-session", []byte(`{"type":"ping"}`))

	msgs := ch.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.TypePong, msgs[1].Type)
	assert.True(t, t0.Equal(msgs[1].Timestamp))
	assert.Len(t, other.messages(t), 1, "pong goes to the asking session only")
}

func TestCloseSession_Idempotent(t *testing.T) {
	c := newTestCoordinator(t, &fakeSource{}, &fakeStore{}, &clock{now: t0})
	ch := &fakeChannel{}
	id, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)

	c.CloseSession(id)
	c.CloseSession(id)
	c.CloseSession("never-existed")

	assert.Equal(t, 1, ch.closed)
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ConnectedClients)
}

func TestOnExternalEvent_Refreshes(t *testing.T) {
	src := &fakeSource{}
	src.set(record(12, t0))
	c := newTestCoordinator(t, src, &fakeStore{}, &clock{now: t0})

	res := c.OnExternalEvent(context.Background(), webhook.Event{Type: "pull_request", Action: "opened", Number: 12})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, src.callCount())
	require.Len(t, res.Changes, 1)
	assert.Equal(t, pr.EventNew, res.Changes[0].Kind)
}

func TestRefresh_ConcurrentCallsAreSerialized(t *testing.T) {
	src := &fakeSource{next: func(call int) []pr.Record {
		return []pr.Record{record(1, t0.Add(time.Duration(call)*time.Second))}
	}}
	c := newTestCoordinator(t, src, &fakeStore{}, &clock{now: t0})
	ch := &fakeChannel{}
	_, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)

	const n = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.Refresh(context.Background())
			mu.Lock()
			total += len(res.Changes)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n, total, "one pr_new then one pr_update per refresh")
	msgs := ch.messages(t)
	require.Len(t, msgs, n+1)
	assert.Equal(t, protocol.TypePRNew, msgs[1].Type)
	for _, m := range msgs[2:] {
		assert.Equal(t, protocol.TypePRUpdate, m.Type)
	}
}

func TestRun_PollsAndClosesSessionsOnExit(t *testing.T) {
	src := &fakeSource{}
	c := New(src, &fakeStore{}, Options{PollInterval: 5 * time.Millisecond, Now: (&clock{now: t0}).Now},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	<-c.Ready()
	ch := &fakeChannel{}
	_, err := c.OpenSession(context.Background(), ch)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return src.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, ch.closed)
}
