package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

const (
	markerPrefix    = "<!-- reviewpilot:last-reviewed-sha:"
	markerSuffix    = " -->"
	attributionLine = "_Automated review by reviewpilot_"
)

var (
	markerRe  = regexp.MustCompile(`<!-- reviewpilot:last-reviewed-sha:([0-9a-fA-F]{7,64}) -->`)
	billingRe = regexp.MustCompile(`(?m)^Tokens: \d+ in / \d+ out · est\. cost \$\d+\.\d{4}$`)
)

// Marker renders the hidden checkpoint marker for a head commit. It is the
// sole state carried forward between sessions.
func Marker(sha string) string {
	return markerPrefix + sha + markerSuffix
}

// ExtractCheckpoint pulls the checkpoint sha out of a comment body.
func ExtractCheckpoint(body string) (string, bool) {
	m := markerRe.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FindCheckpoint scans a comment listing for the most recently updated
// comment carrying a checkpoint marker and returns its sha.
func FindCheckpoint(comments []models.ExistingComment) (string, bool) {
	var (
		sha   string
		found bool
		best  int
	)
	for i, c := range comments {
		candidate, ok := ExtractCheckpoint(c.Body)
		if !ok {
			continue
		}
		if !found || c.UpdatedAt.After(comments[best].UpdatedAt) {
			sha = candidate
			found = true
			best = i
		}
	}
	return sha, found
}

// Usage carries the billing figures surfaced in the summary footer.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

func billingLine(u Usage) string {
	return fmt.Sprintf("Tokens: %d in / %d out · est. cost $%.4f", u.InputTokens, u.OutputTokens, u.CostUSD)
}

// finalizeSummaryBody appends the footer idempotently: only the parts missing
// from the caller-supplied body are added, and an existing marker is amended
// to the current head rather than duplicated.
func finalizeSummaryBody(body, headSHA string, usage Usage) string {
	out := strings.TrimRight(body, "\n")

	if !strings.Contains(out, attributionLine) {
		out += "\n\n---\n" + attributionLine
	}
	if !billingRe.MatchString(out) {
		out += "\n" + billingLine(usage)
	}
	if markerRe.MatchString(out) {
		out = markerRe.ReplaceAllString(out, Marker(headSHA))
	} else {
		out += "\n" + Marker(headSHA)
	}
	return out
}

// PostSummary posts the terminating session summary at most once. The
// posted flag is set before the network call is awaited, so a second
// invocation fired in rapid succession short-circuits to a duplicate no-op.
func (p *Poster) PostSummary(ctx context.Context, body, headSHA string, usage Usage) (models.PostOutcome, error) {
	if strings.TrimSpace(body) == "" {
		return models.PostOutcome{}, validationErr("body", "must not be empty")
	}
	if headSHA == "" {
		return models.PostOutcome{}, validationErr("headSHA", "must not be empty")
	}
	if p.state.summaryPosted {
		return models.PostOutcome{Kind: models.OutcomeDuplicate}, nil
	}
	p.state.summaryPosted = true

	full := finalizeSummaryBody(body, headSHA, usage)

	var created *models.ExistingComment
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		created, callErr = p.creator.CreateIssueComment(ctx, full)
		return callErr
	}, postAttempts, retry.IsRetryable)
	if err != nil {
		return models.PostOutcome{}, fmt.Errorf("posting summary: %w", err)
	}

	outcome := models.PostOutcome{Kind: models.OutcomePosted}
	if created != nil {
		outcome.CommentID = created.ID
		outcome.URL = created.URL
	}
	return outcome, nil
}
