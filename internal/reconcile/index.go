package reconcile

import (
	"time"

	"github.com/reviewpilot/reviewpilot/pkg/models"
)

type pathLine struct {
	path string
	line int
}

type location struct {
	path string
	line int
	side models.Side
}

// Index holds the session's read-only view of existing discussion threads
// and comments. Built once from the listings fetched at session start.
type Index struct {
	hasThreadData bool

	threadsByID  map[string]models.ReviewThread
	threadsByLoc map[pathLine][]models.ReviewThread

	// Flat-comment fallback when no thread API data exists.
	rootsByLoc   map[location][]models.ExistingComment
	activity     map[int64]time.Time // root comment id -> latest aggregate activity
	commentsByID map[int64]models.ExistingComment
}

// BuildIndex indexes threads and review comments by location. An empty
// thread slice puts the index into flat-comment fallback mode.
func BuildIndex(threads []models.ReviewThread, comments []models.ExistingComment) *Index {
	idx := &Index{
		hasThreadData: len(threads) > 0,
		threadsByID:   make(map[string]models.ReviewThread, len(threads)),
		threadsByLoc:  make(map[pathLine][]models.ReviewThread),
		rootsByLoc:    make(map[location][]models.ExistingComment),
		activity:      make(map[int64]time.Time),
		commentsByID:  make(map[int64]models.ExistingComment, len(comments)),
	}

	for _, t := range threads {
		idx.threadsByID[t.ID] = t
		if t.Line == nil {
			continue
		}
		key := pathLine{path: t.Path, line: *t.Line}
		idx.threadsByLoc[key] = append(idx.threadsByLoc[key], t)
	}

	for _, c := range comments {
		idx.commentsByID[c.ID] = c
	}
	for _, c := range comments {
		if c.Type != models.CommentReview {
			continue
		}
		root := idx.rootID(c)
		if c.UpdatedAt.After(idx.activity[root]) {
			idx.activity[root] = c.UpdatedAt
		}
		if c.InReplyTo == 0 {
			key := location{path: c.Path, line: c.Line, side: c.Side}
			idx.rootsByLoc[key] = append(idx.rootsByLoc[key], c)
		}
	}

	return idx
}

// ThreadsAt lists the threads anchored at (path, line), all sides.
func (idx *Index) ThreadsAt(path string, line int) []models.ReviewThread {
	return idx.threadsByLoc[pathLine{path: path, line: line}]
}

// Thread resolves a thread id.
func (idx *Index) Thread(id string) (models.ReviewThread, bool) {
	t, ok := idx.threadsByID[id]
	return t, ok
}

// mostActiveRootAt returns the flat root comment at (path, line, side) with
// the most recent aggregate activity across the root and all its replies.
func (idx *Index) mostActiveRootAt(path string, line int, side models.Side) (models.ExistingComment, bool) {
	roots := idx.rootsByLoc[location{path: path, line: line, side: side}]
	if len(roots) == 0 {
		return models.ExistingComment{}, false
	}
	best := roots[0]
	bestAt := idx.activity[best.ID]
	for _, root := range roots[1:] {
		if at := idx.activity[root.ID]; at.After(bestAt) {
			best = root
			bestAt = at
		}
	}
	return best, true
}

func (idx *Index) rootID(c models.ExistingComment) int64 {
	id := c.ID
	seen := map[int64]bool{id: true}
	for {
		current, ok := idx.commentsByID[id]
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
