package providers

import (
	"fmt"
	"sort"
	"time"

	"github.com/reviewpilot/reviewpilot/pkg/models"
)

// RawComment is the loosely-typed comment shape providers hand back: optional
// fields are pointers, and review-specific fields may be absent on issue
// comments. Normalization converts it into the strict entity before any
// reconciliation logic runs, so reconciliation never branches on field
// presence.
type RawComment struct {
	ID        int64
	Author    *string
	Body      *string
	URL       *string
	Path      *string
	Line      *int
	Side      *string
	InReplyTo *int64
	UpdatedAt *time.Time
	CreatedAt *time.Time
}

// NormalizeComment converts a raw provider comment into an ExistingComment.
// Issue comments carry no location; review comments default to the RIGHT
// side when the provider omits one.
func NormalizeComment(raw RawComment, kind models.CommentType) models.ExistingComment {
	c := models.ExistingComment{
		ID:   raw.ID,
		Type: kind,
	}
	if raw.Author != nil {
		c.Author = *raw.Author
	}
	if raw.Body != nil {
		c.Body = *raw.Body
	}
	if raw.URL != nil {
		c.URL = *raw.URL
	}
	if raw.UpdatedAt != nil {
		c.UpdatedAt = *raw.UpdatedAt
	} else if raw.CreatedAt != nil {
		c.UpdatedAt = *raw.CreatedAt
	}
	if kind != models.CommentReview {
		return c
	}
	if raw.Path != nil {
		c.Path = *raw.Path
	}
	if raw.Line != nil {
		c.Line = *raw.Line
	}
	c.Side = models.SideRight
	if raw.Side != nil && *raw.Side == string(models.SideLeft) {
		c.Side = models.SideLeft
	}
	if raw.InReplyTo != nil {
		c.InReplyTo = *raw.InReplyTo
	}
	return c
}

// SynthesizeThreads builds thread records from a flat review-comment listing
// for providers without a thread API: comments are grouped on (path, line)
// and entries without a reply parent become thread roots. The thread's last
// activity aggregates the root and every reply beneath it.
func SynthesizeThreads(comments []models.ExistingComment) []models.ReviewThread {
	byID := make(map[int64]models.ExistingComment, len(comments))
	for _, c := range comments {
		byID[c.ID] = c
	}

	// Latest activity per root, including replies.
	activity := make(map[int64]time.Time)
	replies := make(map[int64]int)
	for _, c := range comments {
		root := rootOf(c, byID)
		if c.InReplyTo != 0 {
			replies[root]++
		}
		if c.UpdatedAt.After(activity[root]) {
			activity[root] = c.UpdatedAt
		}
	}

	var threads []models.ReviewThread
	for _, c := range comments {
		if c.InReplyTo != 0 || c.Type != models.CommentReview {
			continue
		}
		line := c.Line
		threads = append(threads, models.ReviewThread{
			ID:            fmt.Sprintf("synthetic-%d", c.ID),
			Path:          c.Path,
			Line:          &line,
			Side:          c.Side,
			LastUpdatedAt: activity[c.ID],
			LastActor:     c.Author,
			RootCommentID: c.ID,
			URL:           c.URL,
		})
	}

	sort.Slice(threads, func(i, j int) bool {
		if threads[i].Path != threads[j].Path {
			return threads[i].Path < threads[j].Path
		}
		return threads[i].RootCommentID < threads[j].RootCommentID
	})
	return threads
}

// rootOf follows the reply-parent chain to the thread root, tolerating
// parents missing from the listing (pagination gaps).
func rootOf(c models.ExistingComment, byID map[int64]models.ExistingComment) int64 {
	id := c.ID
	seen := map[int64]bool{id: true}
	for {
		current, ok := byID[id]
		if !ok || current.InReplyTo == 0 {
			return id
		}
		next := current.InReplyTo
		if seen[next] {
			return id
		}
		seen[next] = true
		id = next
	}
}
