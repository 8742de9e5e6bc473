package pr

import "time"

type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
	StateMerged State = "MERGED"
)

type Author struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
}

// Record is one open pull request as known to the tracker. Number is its
// identity within a repository.
type Record struct {
	Number       int          `json:"number"`
	Title        string       `json:"title"`
	URL          string       `json:"url"`
	State        State        `json:"state"`
	IsDraft      bool         `json:"isDraft"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Branch       string       `json:"branch"`
	Author       Author       `json:"author"`
	ReviewStatus ReviewStatus `json:"reviewStatus"`
	CIStatus     CIStatus     `json:"ciStatus"`
	Reviewers    []string     `json:"reviewers"`
	Labels       []string     `json:"labels"`
}

// Snapshot is the authoritative open-PR list, most recently updated first.
// It is only ever replaced as a whole.
type Snapshot struct {
	PRs       []Record
	FetchedAt time.Time
}

func (s Snapshot) Index() map[int]Record {
	idx := make(map[int]Record, len(s.PRs))
	for _, r := range s.PRs {
		idx[r.Number] = r
	}
	return idx
}

// Stale reports whether the snapshot was never fetched or is older than maxAge.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if s.FetchedAt.IsZero() {
		return true
	}
	return now.Sub(s.FetchedAt) > maxAge
}

// Clone returns a copy whose PR slice can be handed out without sharing.
func (s Snapshot) Clone() Snapshot {
	prs := make([]Record, len(s.PRs))
	copy(prs, s.PRs)
	return Snapshot{PRs: prs, FetchedAt: s.FetchedAt}
}

// Dedupe drops records whose number was already seen, keeping the first.
// The source should never return duplicates; this keeps the snapshot keyed
// by number even if it does.
func Dedupe(records []Record) []Record {
	seen := make(map[int]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Number]; ok {
			continue
		}
		seen[r.Number] = struct{}{}
		out = append(out, r)
	}
	return out
}
