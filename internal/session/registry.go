// Package session holds the set of connected streaming clients.
//
// A Registry is not safe for concurrent use. It belongs to exactly one owner
// (the coordinator), which serializes every call.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"
)

var ErrUnknownSession = errors.New("unknown session")

// Channel is the send side of one client connection. A non-nil error from Send
// means the client is gone.
type Channel interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

type Session struct {
	ID          string
	ConnectedAt time.Time
	channel     Channel
}

type Registry struct {
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

func (r *Registry) Add(id string, ch Channel, connectedAt time.Time) *Session {
	s := &Session{ID: id, ConnectedAt: connectedAt, channel: ch}
	r.sessions[id] = s
	return s
}

// Remove drops the session and closes its channel. Unknown ids are ignored.
func (r *Registry) Remove(id string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	if err := s.channel.Close(); err != nil {
		r.logger.Debug("close session channel", "session", id, "err", err)
	}
	return true
}

// Send delivers a frame to one session, pruning it if the send fails.
func (r *Registry) Send(ctx context.Context, id string, frame []byte) error {
	s, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if err := s.channel.Send(ctx, frame); err != nil {
		r.logger.Debug("send failed, dropping session", "session", id, "err", err)
		r.Remove(id)
		return err
	}
	return nil
}

// Broadcast sends one serialized frame to every session. Sessions whose send
// fails are removed on the spot; delivery to the rest continues. It returns
// the ids that were pruned.
func (r *Registry) Broadcast(ctx context.Context, frame []byte) []string {
	var pruned []string
	for _, id := range r.IDs() {
		s := r.sessions[id]
		if err := s.channel.Send(ctx, frame); err != nil {
			r.logger.Debug("broadcast failed, dropping session", "session", id, "err", err)
			r.Remove(id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// IDs returns the registered ids in connection order.
func (r *Registry) IDs() []string {
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ConnectedAt.Equal(list[j].ConnectedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].ConnectedAt.Before(list[j].ConnectedAt)
	})
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids
}

func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
