package pr

import (
	"sort"
	"strings"
)

type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewRequested        ReviewStatus = "review_requested"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewCommented        ReviewStatus = "commented"
)

type CIStatus string

const (
	CIPending CIStatus = "pending"
	CISuccess CIStatus = "success"
	CIFailure CIStatus = "failure"
	CINeutral CIStatus = "neutral"
	CIUnknown CIStatus = "unknown"
)

// Check is a single CI check or commit status, already normalized: Status is
// upper case (QUEUED, IN_PROGRESS, COMPLETED, ...), Conclusion lower case.
type Check struct {
	Name       string
	Status     string
	Conclusion string
}

// DeriveReviewStatus folds GitHub's review decision, the latest review state
// per reviewer and the number of outstanding review requests into one status.
func DeriveReviewStatus(decision string, latestReviews []string, pendingRequests int) ReviewStatus {
	switch strings.ToUpper(decision) {
	case "APPROVED":
		return ReviewApproved
	case "CHANGES_REQUESTED":
		return ReviewChangesRequested
	}

	var approved, commented bool
	for _, s := range latestReviews {
		switch strings.ToUpper(s) {
		case "CHANGES_REQUESTED":
			return ReviewChangesRequested
		case "APPROVED":
			approved = true
		case "COMMENTED":
			commented = true
		}
	}

	switch {
	case approved:
		return ReviewApproved
	case commented:
		return ReviewCommented
	case pendingRequests > 0:
		return ReviewRequested
	default:
		return ReviewPending
	}
}

// DeriveCIStatus maps the head commit's status rollup plus its individual
// checks onto a CIStatus. An empty rollup means GitHub reported none.
func DeriveCIStatus(rollup string, checks []Check) CIStatus {
	switch strings.ToUpper(rollup) {
	case "FAILURE", "ERROR":
		return CIFailure
	case "PENDING", "EXPECTED":
		return CIPending
	case "SUCCESS":
		if len(checks) > 0 && allNeutral(checks) {
			return CINeutral
		}
		return CISuccess
	}

	if len(checks) == 0 {
		return CIUnknown
	}

	var pending, success bool
	for _, c := range checks {
		switch {
		case isFailure(c.Conclusion):
			return CIFailure
		case c.Conclusion == "" && c.Status != "COMPLETED":
			pending = true
		case c.Conclusion == "success":
			success = true
		}
	}
	switch {
	case pending:
		return CIPending
	case success:
		return CISuccess
	default:
		return CINeutral
	}
}

func isFailure(conclusion string) bool {
	switch conclusion {
	case "failure", "error", "timed_out", "cancelled", "action_required", "startup_failure":
		return true
	}
	return false
}

func allNeutral(checks []Check) bool {
	for _, c := range checks {
		if c.Conclusion != "neutral" && c.Conclusion != "skipped" {
			return false
		}
	}
	return true
}

// NormalizeReviewers returns the union of the given logins, sorted, without
// blanks. Reviewers are a set; sorting keeps records comparable.
func NormalizeReviewers(groups ...[]string) []string {
	set := make(map[string]struct{})
	for _, g := range groups {
		for _, login := range g {
			if login == "" {
				continue
			}
			set[login] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for login := range set {
		out = append(out, login)
	}
	sort.Strings(out)
	return out
}
