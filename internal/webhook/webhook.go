// Package webhook authenticates GitHub webhook deliveries. A verified delivery
// is only ever used as a refresh trigger; its payload is read for logging.
package webhook

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/go-github/v74/github"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNoSecret         = errors.New("webhook secret not configured")
)

// Event describes a verified delivery.
type Event struct {
	Type       string
	DeliveryID string
	Action     string
	Number     int
}

type Gate struct {
	secret []byte
	logger *slog.Logger
}

// NewGate returns a gate for secret. With an empty secret every delivery is
// rejected with ErrNoSecret.
func NewGate(secret string, logger *slog.Logger) *Gate {
	return &Gate{secret: []byte(secret), logger: logger}
}

const signaturePrefix = "sha256="

// Verify checks the HMAC-SHA256 signature of r against the raw body. It
// consumes the body. The legacy SHA-1 header is not accepted.
func (g *Gate) Verify(r *http.Request) (Event, error) {
	if len(g.secret) == 0 {
		return Event{}, ErrNoSecret
	}

	sig := r.Header.Get(github.SHA256SignatureHeader)
	if !strings.HasPrefix(sig, signaturePrefix) {
		return Event{}, fmt.Errorf("%w: %s must carry a %s digest", ErrInvalidSignature, github.SHA256SignatureHeader, signaturePrefix)
	}

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	payload, err := github.ValidatePayloadFromBody(contentType, r.Body, sig, g.secret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev := Event{
		Type:       github.WebHookType(r),
		DeliveryID: github.DeliveryID(r),
	}

	parsed, err := github.ParseWebHook(ev.Type, payload)
	if err != nil {
		g.logger.Debug("unparsed webhook payload", "event", ev.Type, "delivery", ev.DeliveryID, "err", err)
		return ev, nil
	}

	switch p := parsed.(type) {
	case *github.PullRequestEvent:
		ev.Action = p.GetAction()
		ev.Number = p.GetNumber()
	case *github.PullRequestReviewEvent:
		ev.Action = p.GetAction()
		ev.Number = p.GetPullRequest().GetNumber()
	case *github.PullRequestReviewCommentEvent:
		ev.Action = p.GetAction()
		ev.Number = p.GetPullRequest().GetNumber()
	case *github.CheckRunEvent:
		ev.Action = p.GetAction()
	case *github.CheckSuiteEvent:
		ev.Action = p.GetAction()
	case *github.StatusEvent:
		ev.Action = p.GetState()
	}
	return ev, nil
}
