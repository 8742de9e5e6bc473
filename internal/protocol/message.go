// Package protocol defines the JSON text frames exchanged over the streaming
// channel between the coordinator and its clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcin-skalski/prwatch/internal/pr"
)

type Type string

const (
	TypeConnected Type = "connected"
	TypePRNew     Type = Type(pr.EventNew)
	TypePRUpdate  Type = Type(pr.EventUpdate)
	TypePRClosed  Type = Type(pr.EventClosed)
	TypePing      Type = "ping"
	TypePong      Type = "pong"
)

// TimeFormat is used for every timestamp the server puts on the wire.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

type envelope struct {
	Type      Type   `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func stamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Connected encodes the first frame a session receives: the full snapshot.
func Connected(prs []pr.Record, at time.Time) ([]byte, error) {
	if prs == nil {
		prs = []pr.Record{}
	}
	return json.Marshal(envelope{Type: TypeConnected, Data: prs, Timestamp: stamp(at)})
}

func Change(ev pr.ChangeEvent, at time.Time) ([]byte, error) {
	return json.Marshal(envelope{Type: Type(ev.Kind), Data: ev.PR, Timestamp: stamp(at)})
}

func Pong(at time.Time) ([]byte, error) {
	return json.Marshal(envelope{Type: TypePong, Timestamp: stamp(at)})
}

func Ping() []byte {
	return []byte(`{"type":"ping"}`)
}

type ClientMessage struct {
	Type Type `json:"type"`
}

// ParseClient decodes a client frame. Frames that are not JSON objects or carry
// no type report false and are meant to be dropped silently.
func ParseClient(frame []byte) (ClientMessage, bool) {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ClientMessage{}, false
	}
	if msg.Type == "" {
		return ClientMessage{}, false
	}
	return msg, true
}

// ServerMessage is a decoded server frame. Exactly one of PRs / PR is set,
// depending on Type; pong frames carry neither.
type ServerMessage struct {
	Type      Type
	PRs       []pr.Record
	PR        pr.Record
	Timestamp time.Time
}

func Decode(frame []byte) (ServerMessage, error) {
	var raw struct {
		Type      Type            `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return ServerMessage{}, fmt.Errorf("decode frame: %w", err)
	}

	msg := ServerMessage{Type: raw.Type}
	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			return ServerMessage{}, fmt.Errorf("parse timestamp %q: %w", raw.Timestamp, err)
		}
		msg.Timestamp = ts
	}

	switch raw.Type {
	case TypeConnected:
		if err := json.Unmarshal(raw.Data, &msg.PRs); err != nil {
			return ServerMessage{}, fmt.Errorf("decode %s data: %w", raw.Type, err)
		}
	case TypePRNew, TypePRUpdate, TypePRClosed:
		if err := json.Unmarshal(raw.Data, &msg.PR); err != nil {
			return ServerMessage{}, fmt.Errorf("decode %s data: %w", raw.Type, err)
		}
	case TypePong:
	default:
		return ServerMessage{}, fmt.Errorf("unknown frame type %q", raw.Type)
	}
	return msg, nil
}
