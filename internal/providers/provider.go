package providers

import (
	"context"
	"errors"

	"github.com/reviewpilot/reviewpilot/pkg/models"
)

// ErrHistoryNotFound marks a comparison whose base commit is no longer
// reachable, typically after a force-push or rebase. It is a recognized
// scope-resolution branch, not a failure.
var ErrHistoryNotFound = errors.New("comparison base not found")

// Comparison is the result of a base..head comparison call.
type Comparison struct {
	Status   models.CompareStatus
	Files    []models.ChangedFile
	AheadBy  int
	BehindBy int
}

// DiffLister exposes the provider's diff listings: the pull request's own
// file list and an arbitrary base..head comparison.
type DiffLister interface {
	ListChangedFiles(ctx context.Context) ([]models.ChangedFile, error)
	Compare(ctx context.Context, base, head string) (*Comparison, error)
}

// CommentLister exposes the paginated comment listings fetched at session
// start. Implementations drain pagination internally and return full lists.
type CommentLister interface {
	ListIssueComments(ctx context.Context) ([]models.ExistingComment, error)
	ListReviewComments(ctx context.Context) ([]models.ExistingComment, error)
}

// ThreadLister exposes the provider's review-thread listing. Providers
// without a thread API return ErrThreadsUnavailable; callers then synthesize
// threads from the flat review-comment list.
type ThreadLister interface {
	ListReviewThreads(ctx context.Context) ([]models.ReviewThread, error)
}

// ErrThreadsUnavailable signals that the provider has no thread API and the
// caller should fall back to flat-comment synthesis.
var ErrThreadsUnavailable = errors.New("review thread listing unavailable")

// CommentCreator posts comments. Each call maps to a single provider request.
type CommentCreator interface {
	// CreateReviewComment opens a new top-level inline comment at a location.
	CreateReviewComment(ctx context.Context, path string, line int, side models.Side, body string) (*models.ExistingComment, error)
	// CreateReply adds a reply under the thread rooted at rootID.
	CreateReply(ctx context.Context, rootID int64, body string) (*models.ExistingComment, error)
	// CreateIssueComment posts a PR-level comment outside any diff location.
	CreateIssueComment(ctx context.Context, body string) (*models.ExistingComment, error)
}

// Client bundles everything a review session needs from the provider.
type Client interface {
	DiffLister
	CommentLister
	ThreadLister
	CommentCreator
	HeadSHA(ctx context.Context) (string, error)
}
