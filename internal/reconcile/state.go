// Package reconcile maps intended review comments onto existing discussion
// threads, guaranteeing at most one delivery per semantically-identical
// comment per session and across sessions.
package reconcile

import (
	"github.com/google/uuid"

	"github.com/reviewpilot/reviewpilot/pkg/models"
)

// State is the session-scoped reconciliation state: dedup keys posted this
// session, keys observed in the pre-session listing, posting counters, and
// the one-shot summary flag. It is owned by the caller and passed into each
// operation; nothing here is process-wide, so concurrent sessions under test
// cannot leak into one another.
//
// State assumes the sequential posting discipline of a single agent loop.
// The summary flag is set before the network call is awaited, which closes
// the realistic race of a "post summary" action fired twice in rapid
// succession.
type State struct {
	SessionID string

	postedKeys   map[uint64]struct{}
	existingKeys map[uint64]struct{}

	inlineComments int
	suggestions    int
	summaryPosted  bool
}

func NewState() *State {
	return &State{
		SessionID:    uuid.NewString(),
		postedKeys:   make(map[uint64]struct{}),
		existingKeys: make(map[uint64]struct{}),
	}
}

// SeedExisting records the dedup keys of the pre-session comment listing so
// re-runs cannot repost a comment an earlier session already delivered.
func (s *State) SeedExisting(comments []models.ExistingComment) {
	for _, c := range comments {
		if c.Type != models.CommentReview || c.Path == "" {
			continue
		}
		s.existingKeys[DedupKey(c.Path, c.Line, c.Body)] = struct{}{}
	}
}

// Seen reports whether a key was posted this session or already present in
// the pre-session listing.
func (s *State) Seen(key uint64) bool {
	if _, ok := s.postedKeys[key]; ok {
		return true
	}
	_, ok := s.existingKeys[key]
	return ok
}

func (s *State) recordPosted(key uint64) {
	s.postedKeys[key] = struct{}{}
}

// Counters returns the running session counters consulted by the context
// compactor's state summary.
func (s *State) Counters() (inlineComments, suggestions int, summaryPosted bool) {
	return s.inlineComments, s.suggestions, s.summaryPosted
}
