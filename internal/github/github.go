package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/marcin-skalski/prwatch/internal/pr"
)

const (
	DefaultGraphQLURL = "https://api.github.com/graphql"

	pageSize = 50
	maxPages = 10
)

// ErrTooManyPRs is returned when the repository has more open pull requests
// than one listing pages through. A partial list would read as closed PRs.
var ErrTooManyPRs = errors.New("too many open pull requests")

// Client lists the open pull requests of one repository through the GitHub
// GraphQL API.
type Client struct {
	gql    *githubv4.Client
	owner  string
	name   string
	logger *slog.Logger
}

// NewClient builds a client for owner/name. An empty token sends
// unauthenticated requests; timeout bounds every HTTP round trip.
func NewClient(token, graphqlURL, owner, name string, timeout time.Duration, logger *slog.Logger) *Client {
	if graphqlURL == "" {
		graphqlURL = DefaultGraphQLURL
	}

	httpClient := &http.Client{}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), src)
	}
	httpClient.Timeout = timeout

	return &Client{
		gql:    githubv4.NewEnterpriseClient(graphqlURL, httpClient),
		owner:  owner,
		name:   name,
		logger: logger,
	}
}

type checkNode struct {
	CheckRun struct {
		Name       string
		Status     string
		Conclusion string
	} `graphql:"... on CheckRun"`
	StatusContext struct {
		Context string
		State   string
	} `graphql:"... on StatusContext"`
}

type prNode struct {
	Number      int
	Title       string
	URL         string
	State       string
	IsDraft     bool
	CreatedAt   githubv4.DateTime
	UpdatedAt   githubv4.DateTime
	HeadRefName string
	Author      struct {
		Login     string
		AvatarURL string `graphql:"avatarUrl(size: 64)"`
	}
	ReviewDecision string
	ReviewRequests struct {
		Nodes []struct {
			RequestedReviewer struct {
				User struct {
					Login string
				} `graphql:"... on User"`
			}
		}
	} `graphql:"reviewRequests(first: 20)"`
	LatestReviews struct {
		Nodes []struct {
			State  string
			Author struct {
				Login string
			}
		}
	} `graphql:"latestReviews(first: 20)"`
	Labels struct {
		Nodes []struct {
			Name string
		}
	} `graphql:"labels(first: 20)"`
	Commits struct {
		Nodes []struct {
			Commit struct {
				StatusCheckRollup *struct {
					State    string
					Contexts struct {
						Nodes []checkNode
					} `graphql:"contexts(first: 50)"`
				}
			}
		}
	} `graphql:"commits(last: 1)"`
}

type openPRsQuery struct {
	Repository struct {
		PullRequests struct {
			Nodes    []prNode
			PageInfo struct {
				EndCursor   githubv4.String
				HasNextPage bool
			}
		} `graphql:"pullRequests(first: $first, after: $cursor, states: OPEN, orderBy: {field: UPDATED_AT, direction: DESC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// ListOpenPRs returns every open pull request, most recently updated first.
func (c *Client) ListOpenPRs(ctx context.Context) ([]pr.Record, error) {
	vars := map[string]any{
		"owner":  githubv4.String(c.owner),
		"name":   githubv4.String(c.name),
		"first":  githubv4.Int(pageSize),
		"cursor": (*githubv4.String)(nil),
	}

	start := time.Now()
	var records []pr.Record
	for page := 0; page < maxPages; page++ {
		var q openPRsQuery
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, fmt.Errorf("list PRs %s/%s: %w", c.owner, c.name, err)
		}

		conn := q.Repository.PullRequests
		for _, n := range conn.Nodes {
			records = append(records, toRecord(n))
		}
		if !conn.PageInfo.HasNextPage {
			break
		}
		if page == maxPages-1 {
			return nil, fmt.Errorf("list PRs %s/%s: %w: more than %d", c.owner, c.name, ErrTooManyPRs, len(records))
		}
		vars["cursor"] = githubv4.NewString(conn.PageInfo.EndCursor)
	}

	c.logger.Debug("listed open PRs", "repo", c.owner+"/"+c.name, "prs", len(records), "took", time.Since(start))
	return records, nil
}

func toRecord(n prNode) pr.Record {
	var requested []string
	for _, r := range n.ReviewRequests.Nodes {
		requested = append(requested, r.RequestedReviewer.User.Login)
	}

	var reviewed, reviewStates []string
	for _, r := range n.LatestReviews.Nodes {
		reviewed = append(reviewed, r.Author.Login)
		reviewStates = append(reviewStates, r.State)
	}

	labels := make([]string, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, l.Name)
	}

	var rollup string
	var checks []pr.Check
	if len(n.Commits.Nodes) > 0 {
		if r := n.Commits.Nodes[0].Commit.StatusCheckRollup; r != nil {
			rollup = r.State
			checks = normalizeChecks(r.Contexts.Nodes)
		}
	}

	state := pr.State(strings.ToUpper(n.State))
	if state == "" {
		state = pr.StateOpen
	}

	return pr.Record{
		Number:    n.Number,
		Title:     n.Title,
		URL:       n.URL,
		State:     state,
		IsDraft:   n.IsDraft,
		CreatedAt: n.CreatedAt.UTC(),
		UpdatedAt: n.UpdatedAt.UTC(),
		Branch:    n.HeadRefName,
		Author: pr.Author{
			Login:     n.Author.Login,
			AvatarURL: n.Author.AvatarURL,
		},
		ReviewStatus: pr.DeriveReviewStatus(n.ReviewDecision, reviewStates, len(requested)),
		CIStatus:     pr.DeriveCIStatus(rollup, checks),
		Reviewers:    pr.NormalizeReviewers(requested, reviewed),
		Labels:       labels,
	}
}

// normalizeChecks flattens check runs and legacy commit statuses into one
// shape. Commit statuses have no separate conclusion, so it is derived from
// their terminal state.
func normalizeChecks(nodes []checkNode) []pr.Check {
	var checks []pr.Check
	for _, n := range nodes {
		name := n.CheckRun.Name
		if name == "" {
			name = n.StatusContext.Context
		}
		status := n.CheckRun.Status
		if status == "" {
			status = n.StatusContext.State
		}
		conclusion := n.CheckRun.Conclusion
		if conclusion == "" {
			switch n.StatusContext.State {
			case "SUCCESS":
				conclusion = "success"
			case "FAILURE":
				conclusion = "failure"
			case "ERROR":
				conclusion = "error"
			}
		}
		if conclusion != "" && n.CheckRun.Status == "" {
			status = "COMPLETED"
		}
		checks = append(checks, pr.Check{
			Name:       name,
			Status:     strings.ToUpper(status),
			Conclusion: strings.ToLower(conclusion),
		})
	}
	return checks
}
