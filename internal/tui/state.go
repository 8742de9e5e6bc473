package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/protocol"
)

type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnLive
	ConnDisconnected
)

func (c ConnState) String() string {
	switch c {
	case ConnLive:
		return "live"
	case ConnDisconnected:
		return "disconnected"
	default:
		return "connecting"
	}
}

// Board is the client-side mirror of the server snapshot, rebuilt from the
// connected frame and patched by change frames.
type Board struct {
	PRs         []pr.Record // most recently updated first
	Conn        ConnState
	LastPong    time.Time
	LastEvent   string
	LastEventAt time.Time
	Status      string
}

func (b *Board) Apply(msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeConnected:
		b.PRs = append([]pr.Record(nil), msg.PRs...)
		b.LastEvent = fmt.Sprintf("snapshot (%d PRs)", len(msg.PRs))
	case protocol.TypePRNew, protocol.TypePRUpdate:
		b.upsert(msg.PR)
		b.LastEvent = fmt.Sprintf("%s #%d", msg.Type, msg.PR.Number)
	case protocol.TypePRClosed:
		b.remove(msg.PR.Number)
		b.LastEvent = fmt.Sprintf("%s #%d", msg.Type, msg.PR.Number)
	case protocol.TypePong:
		b.LastPong = msg.Timestamp
		return
	default:
		return
	}
	b.LastEventAt = msg.Timestamp
	b.sort()
}

func (b *Board) upsert(r pr.Record) {
	for i := range b.PRs {
		if b.PRs[i].Number == r.Number {
			b.PRs[i] = r
			return
		}
	}
	b.PRs = append(b.PRs, r)
}

func (b *Board) remove(number int) {
	for i := range b.PRs {
		if b.PRs[i].Number == number {
			b.PRs = append(b.PRs[:i], b.PRs[i+1:]...)
			return
		}
	}
}

func (b *Board) sort() {
	sort.SliceStable(b.PRs, func(i, j int) bool {
		if b.PRs[i].UpdatedAt.Equal(b.PRs[j].UpdatedAt) {
			return b.PRs[i].Number > b.PRs[j].Number
		}
		return b.PRs[i].UpdatedAt.After(b.PRs[j].UpdatedAt)
	})
}
