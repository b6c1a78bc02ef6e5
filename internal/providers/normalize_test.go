package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/reviewpilot/pkg/models"
)

func strp(s string) *string        { return &s }
func intp(n int) *int              { return &n }
func timep(t time.Time) *time.Time { return &t }

func TestNormalizeCommentDefaults(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	c := NormalizeComment(RawComment{
		ID:        7,
		Author:    strp("alice"),
		Body:      strp("looks wrong"),
		Path:      strp("main.go"),
		Line:      intp(12),
		CreatedAt: timep(created),
	}, models.CommentReview)

	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, models.SideRight, c.Side, "missing side defaults to RIGHT")
	assert.Equal(t, created, c.UpdatedAt, "UpdatedAt falls back to CreatedAt")
	assert.Equal(t, 12, c.Line)
}

func TestNormalizeCommentIssueDropsLocation(t *testing.T) {
	c := NormalizeComment(RawComment{
		ID:   3,
		Body: strp("summary text"),
		Path: strp("main.go"),
		Line: intp(5),
		Side: strp("LEFT"),
	}, models.CommentIssue)

	assert.Equal(t, models.CommentIssue, c.Type)
	assert.Empty(t, c.Path)
	assert.Zero(t, c.Line)
	assert.Empty(t, c.Side)
}

func TestNormalizeCommentLeftSide(t *testing.T) {
	c := NormalizeComment(RawComment{
		ID:   4,
		Path: strp("main.go"),
		Line: intp(8),
		Side: strp("LEFT"),
	}, models.CommentReview)

	assert.Equal(t, models.SideLeft, c.Side)
}

func TestSynthesizeThreadsGroupsAndAggregates(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	comments := []models.ExistingComment{
		{ID: 1, Type: models.CommentReview, Path: "a.go", Line: 5, Side: models.SideRight, Author: "alice", UpdatedAt: base},
		{ID: 2, Type: models.CommentReview, Path: "a.go", Line: 5, Side: models.SideRight, InReplyTo: 1, UpdatedAt: base.Add(2 * time.Hour)},
		{ID: 3, Type: models.CommentReview, Path: "b.go", Line: 9, Side: models.SideLeft, Author: "bob", UpdatedAt: base.Add(time.Hour)},
	}

	threads := SynthesizeThreads(comments)
	require.Len(t, threads, 2)

	assert.Equal(t, "synthetic-1", threads[0].ID)
	assert.Equal(t, int64(1), threads[0].RootCommentID)
	assert.Equal(t, base.Add(2*time.Hour), threads[0].LastUpdatedAt,
		"reply activity counts toward the root's thread")

	assert.Equal(t, "synthetic-3", threads[1].ID)
	assert.Equal(t, models.SideLeft, threads[1].Side)
	assert.Equal(t, base.Add(time.Hour), threads[1].LastUpdatedAt)
}

func TestSynthesizeThreadsSortedByPathThenRoot(t *testing.T) {
	comments := []models.ExistingComment{
		{ID: 9, Type: models.CommentReview, Path: "z.go", Line: 1},
		{ID: 2, Type: models.CommentReview, Path: "a.go", Line: 1},
		{ID: 5, Type: models.CommentReview, Path: "a.go", Line: 3},
	}

	threads := SynthesizeThreads(comments)
	require.Len(t, threads, 3)
	assert.Equal(t, int64(2), threads[0].RootCommentID)
	assert.Equal(t, int64(5), threads[1].RootCommentID)
	assert.Equal(t, int64(9), threads[2].RootCommentID)
}

func TestSynthesizeThreadsToleratesMissingParent(t *testing.T) {
	// Reply whose parent was lost to a pagination gap becomes its own root.
	comments := []models.ExistingComment{
		{ID: 4, Type: models.CommentReview, Path: "a.go", Line: 2, InReplyTo: 99},
	}

	threads := SynthesizeThreads(comments)
	assert.Empty(t, threads, "an orphan reply never becomes a thread root")
}

func TestRootOfBreaksCycles(t *testing.T) {
	byID := map[int64]models.ExistingComment{
		1: {ID: 1, InReplyTo: 2},
		2: {ID: 2, InReplyTo: 1},
	}

	// Must terminate and return a member of the cycle.
	root := rootOf(byID[1], byID)
	assert.Contains(t, []int64{1, 2}, root)
}
