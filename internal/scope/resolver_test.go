package scope

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/reviewpilot/internal/providers"
	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

type fakeDiffLister struct {
	comparison *providers.Comparison
	err        error
	calls      int
}

func (f *fakeDiffLister) ListChangedFiles(context.Context) ([]models.ChangedFile, error) {
	return nil, nil
}

func (f *fakeDiffLister) Compare(context.Context, string, string) (*providers.Comparison, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.comparison, nil
}

func instantRetrier() *retry.Controller {
	now := time.Now()
	return retry.New(
		retry.WithClock(
			func() time.Time { return now },
			func(context.Context, time.Duration) error { return nil },
		),
		retry.WithJitterSource(func() float64 { return 0 }),
	)
}

func newResolver(client providers.DiffLister) *Resolver {
	return NewResolver(client, instantRetrier(), zerolog.Nop())
}

func fallbackFiles() []models.ChangedFile {
	return []models.ChangedFile{
		{Filename: "internal/server.go", Status: models.FileModified, Additions: 12, Deletions: 4, Changes: 16, Patch: "@@ -1,4 +1,12 @@ server"},
		{Filename: "internal/server_test.go", Status: models.FileAdded, Additions: 40, Changes: 40, Patch: "@@ -0,0 +1,40 @@ tests"},
		{Filename: "docs/setup.md", Status: models.FileRemoved, Deletions: 9, Changes: 9},
	}
}

func TestResolve_CheckpointEqualsHead(t *testing.T) {
	client := &fakeDiffLister{}
	decision, err := newResolver(client).Resolve(context.Background(), "abc123", "abc123", fallbackFiles())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionSkipConfident, decision.Decision)
	assert.Equal(t, models.ReasonBaseEqualsHeadSkip, decision.Reason)
	assert.Empty(t, decision.Files)
	assert.Empty(t, decision.Warning)
	assert.Zero(t, client.calls, "no comparison call expected")
}

func TestResolve_NoCheckpoint(t *testing.T) {
	client := &fakeDiffLister{}
	fallback := fallbackFiles()
	decision, err := newResolver(client).Resolve(context.Background(), "", "abc123", fallback)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionReview, decision.Decision)
	assert.Equal(t, models.ReasonNoPreviousCheckpointFull, decision.Reason)
	assert.Empty(t, cmp.Diff(fallback, decision.Files))
	assert.Empty(t, decision.Warning)
	assert.Zero(t, client.calls)
}

func TestResolve_CompareNotFound(t *testing.T) {
	client := &fakeDiffLister{err: fmt.Errorf("GET compare: %w", providers.ErrHistoryNotFound)}
	fallback := fallbackFiles()
	decision, err := newResolver(client).Resolve(context.Background(), "gone", "abc123", fallback)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionReview, decision.Decision)
	assert.Equal(t, models.ReasonCompareNotFoundFull, decision.Reason)
	assert.Empty(t, cmp.Diff(fallback, decision.Files))
	assert.Contains(t, decision.Warning, "previous checkpoint no longer exists")
	assert.Equal(t, 1, client.calls, "a 404 must not be retried")
}

func TestResolve_CompareEmpty(t *testing.T) {
	client := &fakeDiffLister{comparison: &providers.Comparison{Status: models.CompareAhead}}
	fallback := fallbackFiles()
	decision, err := newResolver(client).Resolve(context.Background(), "old", "new", fallback)
	require.NoError(t, err)

	assert.Equal(t, models.ReasonCompareEmptyFull, decision.Reason)
	assert.Empty(t, cmp.Diff(fallback, decision.Files))
	assert.Empty(t, decision.Warning)
}

func TestResolve_ScopedReviewKeepsFallbackMetadata(t *testing.T) {
	// The comparison carries its own hunks for server.go; the decision must
	// keep the fallback entry untouched instead.
	client := &fakeDiffLister{comparison: &providers.Comparison{
		Status: models.CompareAhead,
		Files: []models.ChangedFile{
			{Filename: "internal/server.go", Status: models.FileModified, Additions: 99, Patch: "comparison-sourced hunk"},
			{Filename: "unrelated/base.go", Status: models.FileModified},
		},
	}}
	fallback := fallbackFiles()
	decision, err := newResolver(client).Resolve(context.Background(), "old", "new", fallback)
	require.NoError(t, err)

	assert.Equal(t, models.ReasonScopedReview, decision.Reason)
	require.Len(t, decision.Files, 1)
	assert.Empty(t, cmp.Diff(fallback[0], decision.Files[0]),
		"scoped entry must round-trip the fallback metadata verbatim")
	assert.Empty(t, decision.Warning)
}

func TestResolve_DivergedScopedReview(t *testing.T) {
	client := &fakeDiffLister{comparison: &providers.Comparison{
		Status:   models.CompareDiverged,
		AheadBy:  2,
		BehindBy: 5,
		Files: []models.ChangedFile{
			{Filename: "internal/server.go", Patch: "comparison hunk"},
			{Filename: "docs/setup.md"},
		},
	}}
	fallback := fallbackFiles()
	decision, err := newResolver(client).Resolve(context.Background(), "old", "new", fallback)
	require.NoError(t, err)

	assert.Equal(t, models.ReasonDivergedScopedReview, decision.Reason)
	assert.Equal(t, "scoped to current PR diff", decision.Warning)
	want := []models.ChangedFile{fallback[0], fallback[2]}
	assert.Empty(t, cmp.Diff(want, decision.Files))
}

func TestResolve_DivergedEmptyIntersectionFallsBackToFullList(t *testing.T) {
	client := &fakeDiffLister{comparison: &providers.Comparison{
		Status: models.CompareDiverged,
		Files:  []models.ChangedFile{{Filename: "totally/elsewhere.go"}},
	}}
	fallback := fallbackFiles()
	decision, err := newResolver(client).Resolve(context.Background(), "old", "new", fallback)
	require.NoError(t, err)

	assert.Equal(t, models.ReasonDivergedScopedReview, decision.Reason)
	assert.Empty(t, cmp.Diff(fallback, decision.Files))
	assert.Equal(t, "scoped to current PR diff", decision.Warning)
}

func TestResolve_OtherCompareErrorPropagates(t *testing.T) {
	boom := errors.New("compare rejected: bad credentials")
	client := &fakeDiffLister{err: boom}
	_, err := newResolver(client).Resolve(context.Background(), "old", "new", fallbackFiles())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, client.calls, "a non-retryable failure is not retried")
}
