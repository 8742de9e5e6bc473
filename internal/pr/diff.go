package pr

type EventKind string

const (
	EventNew    EventKind = "pr_new"
	EventUpdate EventKind = "pr_update"
	EventClosed EventKind = "pr_closed"
)

// ChangeEvent is produced by Diff and only ever broadcast, never stored.
type ChangeEvent struct {
	Kind EventKind
	PR   Record
}

// Diff compares the previous snapshot with a freshly fetched list.
//
// UpdatedAt is the only change detector: a record whose other fields changed
// while UpdatedAt stayed put produces no event. Closed PRs carry the last
// record seen for them.
//
// Events are grouped: every pr_new (in next order), then every pr_update (in
// next order), then every pr_closed (in prev order).
func Diff(prev, next []Record) []ChangeEvent {
	before := make(map[int]Record, len(prev))
	for _, r := range prev {
		before[r.Number] = r
	}

	var created, updated, closed []ChangeEvent
	seen := make(map[int]struct{}, len(next))
	for _, r := range next {
		seen[r.Number] = struct{}{}
		old, ok := before[r.Number]
		switch {
		case !ok:
			created = append(created, ChangeEvent{Kind: EventNew, PR: r})
		case !old.UpdatedAt.Equal(r.UpdatedAt):
			updated = append(updated, ChangeEvent{Kind: EventUpdate, PR: r})
		}
	}
	for _, r := range prev {
		if _, ok := seen[r.Number]; !ok {
			closed = append(closed, ChangeEvent{Kind: EventClosed, PR: r})
		}
	}

	events := make([]ChangeEvent, 0, len(created)+len(updated)+len(closed))
	events = append(events, created...)
	events = append(events, updated...)
	return append(events, closed...)
}
