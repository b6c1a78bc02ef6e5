// Package scope decides whether a re-run has new, reviewable content and
// what that content is, tolerating history rewrites between runs.
package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/reviewpilot/reviewpilot/internal/providers"
	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

const compareAttempts = 3

// Resolver computes the review scope for one session.
type Resolver struct {
	client  providers.DiffLister
	retrier *retry.Controller
	logger  zerolog.Logger
}

func NewResolver(client providers.DiffLister, retrier *retry.Controller, logger zerolog.Logger) *Resolver {
	return &Resolver{client: client, retrier: retrier, logger: logger}
}

// Resolve evaluates the decision matrix in order:
//
//  1. checkpoint equals head: skip with confidence.
//  2. no checkpoint recorded: review the full fallback list.
//  3. comparison 404 (history rewritten): review the full fallback list,
//     with a warning.
//  4. comparison reports zero changed files: review the full fallback list.
//  5. clean ancestor relationship: review the fallback entries whose
//     filenames the comparison also lists.
//  6. diverged histories: same scoped intersection, with a warning.
//
// Scoped matches keep the fallback list's own per-file metadata: a diverged
// comparison range can include unrelated base-branch commits, so the
// comparison determines which filenames are new, never the diff hunks.
// Comparison errors other than 404 propagate to the caller.
func (r *Resolver) Resolve(ctx context.Context, lastCheckpoint, head string, fallback []models.ChangedFile) (models.ReviewScopeDecision, error) {
	if lastCheckpoint != "" && lastCheckpoint == head {
		return models.ReviewScopeDecision{
			Decision: models.DecisionSkipConfident,
			Reason:   models.ReasonBaseEqualsHeadSkip,
			Detail:   fmt.Sprintf("head %s already reviewed", abbrev(head)),
			Files:    nil,
		}, nil
	}

	if lastCheckpoint == "" {
		return models.ReviewScopeDecision{
			Decision: models.DecisionReview,
			Reason:   models.ReasonNoPreviousCheckpointFull,
			Detail:   "no previous review checkpoint; reviewing full PR diff",
			Files:    fallback,
		}, nil
	}

	var cmp *providers.Comparison
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		var compareErr error
		cmp, compareErr = r.client.Compare(ctx, lastCheckpoint, head)
		return compareErr
	}, compareAttempts, func(err error) bool {
		if errors.Is(err, providers.ErrHistoryNotFound) {
			return false
		}
		return retry.IsRetryable(err)
	})
	if err != nil {
		if errors.Is(err, providers.ErrHistoryNotFound) {
			r.logger.Warn().
				Str("checkpoint", lastCheckpoint).
				Msg("review checkpoint no longer reachable, falling back to full diff")
			return models.ReviewScopeDecision{
				Decision: models.DecisionReview,
				Reason:   models.ReasonCompareNotFoundFull,
				Detail:   fmt.Sprintf("checkpoint %s is not reachable from the current history", abbrev(lastCheckpoint)),
				Files:    fallback,
				Warning:  "previous checkpoint no longer exists; reviewing full PR diff",
			}, nil
		}
		return models.ReviewScopeDecision{}, fmt.Errorf("comparing %s..%s: %w", lastCheckpoint, head, err)
	}

	if len(cmp.Files) == 0 {
		return models.ReviewScopeDecision{
			Decision: models.DecisionReview,
			Reason:   models.ReasonCompareEmptyFull,
			Detail:   "comparison reported no changed files; reviewing full PR diff",
			Files:    fallback,
		}, nil
	}

	scoped := intersect(fallback, cmp.Files)

	if cmp.Status == models.CompareDiverged {
		// When the intersection is empty the comparison range told us nothing
		// usable about the PR, so the full fallback list is reviewed instead
		// of silently skipping content.
		files := scoped
		if len(files) == 0 {
			files = fallback
		}
		return models.ReviewScopeDecision{
			Decision: models.DecisionReview,
			Reason:   models.ReasonDivergedScopedReview,
			Detail: fmt.Sprintf("histories diverged since %s (%d ahead, %d behind)",
				abbrev(lastCheckpoint), cmp.AheadBy, cmp.BehindBy),
			Files:   files,
			Warning: "scoped to current PR diff",
		}, nil
	}

	return models.ReviewScopeDecision{
		Decision: models.DecisionReview,
		Reason:   models.ReasonScopedReview,
		Detail:   fmt.Sprintf("%d of %d PR files changed since %s", len(scoped), len(fallback), abbrev(lastCheckpoint)),
		Files:    scoped,
	}, nil
}

// intersect returns the fallback entries whose filenames the comparison also
// lists, preserving the fallback metadata verbatim.
func intersect(fallback, compared []models.ChangedFile) []models.ChangedFile {
	names := make(map[string]struct{}, len(compared))
	for _, f := range compared {
		names[f.Filename] = struct{}{}
	}
	var out []models.ChangedFile
	for _, f := range fallback {
		if _, ok := names[f.Filename]; ok {
			out = append(out, f)
		}
	}
	return out
}

func abbrev(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}
