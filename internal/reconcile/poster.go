package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reviewpilot/reviewpilot/internal/providers"
	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

const postAttempts = 3

// Poster executes comment and suggestion postings against one session's
// index and state. It assumes the sequential posting discipline of a single
// agent loop; it is not safe for concurrent use.
type Poster struct {
	creator providers.CommentCreator
	retrier *retry.Controller
	index   *Index
	state   *State
	logger  zerolog.Logger
}

func NewPoster(creator providers.CommentCreator, retrier *retry.Controller, index *Index, state *State, logger zerolog.Logger) *Poster {
	return &Poster{creator: creator, retrier: retrier, index: index, state: state, logger: logger}
}

// PostRequest describes an intended comment.
type PostRequest struct {
	Path string
	Line int
	// Side is optional; empty means unspecified.
	Side models.Side
	Body string
	// ThreadID targets a specific thread. When set, no matching happens.
	ThreadID string
	// AllowNewThread skips thread matching and opens a new top-level comment.
	AllowNewThread bool
}

// SuggestionRequest describes a replacement suggestion: optional lead-in
// prose plus the replacement block rendered as a suggestion fence.
type SuggestionRequest struct {
	Path           string
	Line           int
	Side           models.Side
	LeadIn         string
	Replacement    string
	ThreadID       string
	AllowNewThread bool
}

// PostComment runs the reconciliation algorithm for one intended comment:
// dedup first, explicit thread target second, thread matching third, flat
// activity fallback last. Ambiguity and unresolvable targets come back as
// outcomes, not errors.
func (p *Poster) PostComment(ctx context.Context, req PostRequest) (models.PostOutcome, error) {
	return p.post(ctx, req, false)
}

// PostSuggestion wraps the replacement in a suggestion fence and posts it
// through the same algorithm, counted separately from plain comments.
func (p *Poster) PostSuggestion(ctx context.Context, req SuggestionRequest) (models.PostOutcome, error) {
	if strings.TrimSpace(req.Replacement) == "" {
		return models.PostOutcome{}, validationErr("replacement", "must not be empty")
	}
	body := renderSuggestion(req.LeadIn, req.Replacement)
	return p.post(ctx, PostRequest{
		Path:           req.Path,
		Line:           req.Line,
		Side:           req.Side,
		Body:           body,
		ThreadID:       req.ThreadID,
		AllowNewThread: req.AllowNewThread,
	}, true)
}

func renderSuggestion(leadIn, replacement string) string {
	var b strings.Builder
	if strings.TrimSpace(leadIn) != "" {
		b.WriteString(strings.TrimRight(leadIn, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("```suggestion\n")
	b.WriteString(strings.TrimRight(replacement, "\n"))
	b.WriteString("\n```")
	return b.String()
}

func (p *Poster) post(ctx context.Context, req PostRequest, suggestion bool) (models.PostOutcome, error) {
	if err := p.validate(req); err != nil {
		return models.PostOutcome{}, err
	}

	key := DedupKey(req.Path, req.Line, req.Body)
	if p.state.Seen(key) {
		p.logger.Debug().
			Str("path", req.Path).
			Int("line", req.Line).
			Msg("duplicate comment suppressed")
		return models.PostOutcome{Kind: models.OutcomeDuplicate}, nil
	}

	if req.ThreadID != "" {
		return p.replyToThread(ctx, req, key, suggestion)
	}

	if req.AllowNewThread {
		return p.createTopLevel(ctx, req, key, suggestion)
	}

	if p.index.hasThreadData {
		return p.matchThreads(ctx, req, key, suggestion)
	}

	return p.flatFallback(ctx, req, key, suggestion)
}

func (p *Poster) validate(req PostRequest) error {
	if strings.TrimSpace(req.Body) == "" {
		return validationErr("body", "must not be empty")
	}
	if req.Path == "" {
		return validationErr("path", "must not be empty")
	}
	if req.Line < 1 {
		return validationErr("line", fmt.Sprintf("must be positive, got %d", req.Line))
	}
	if req.Side != "" && req.Side != models.SideLeft && req.Side != models.SideRight {
		return validationErr("side", fmt.Sprintf("must be LEFT or RIGHT, got %q", req.Side))
	}
	return nil
}

// replyToThread targets an explicit thread id. An unresolvable id is an
// explicit not-found outcome, never a silent fallback.
func (p *Poster) replyToThread(ctx context.Context, req PostRequest, key uint64, suggestion bool) (models.PostOutcome, error) {
	thread, ok := p.index.Thread(req.ThreadID)
	if !ok || thread.RootCommentID == 0 {
		return models.PostOutcome{
			Kind: models.OutcomeNotFound,
			Hint: fmt.Sprintf("thread %s was not found in this session's listing", req.ThreadID),
		}, nil
	}
	return p.reply(ctx, thread.RootCommentID, thread.ID, req, key, suggestion)
}

// matchThreads resolves the target thread from the location index.
func (p *Poster) matchThreads(ctx context.Context, req PostRequest, key uint64, suggestion bool) (models.PostOutcome, error) {
	threads := p.index.ThreadsAt(req.Path, req.Line)
	if len(threads) == 0 {
		return p.flatFallback(ctx, req, key, suggestion)
	}

	if req.Side != "" {
		var matches []models.ReviewThread
		for _, t := range threads {
			if t.Side == req.Side {
				matches = append(matches, t)
			}
		}
		switch len(matches) {
		case 0:
			// Nothing on this side; a new top-level comment is unambiguous.
			return p.createTopLevel(ctx, req, key, suggestion)
		case 1:
			return p.reply(ctx, matches[0].RootCommentID, matches[0].ID, req, key, suggestion)
		default:
			return ambiguous(matches, "multiple threads on the same side; supply threadId or set allowNewThread"), nil
		}
	}

	if len(threads) == 1 {
		return p.reply(ctx, threads[0].RootCommentID, threads[0].ID, req, key, suggestion)
	}
	return ambiguous(threads, "multiple threads at this location; supply side or threadId, or set allowNewThread"), nil
}

// flatFallback ranks flat root comments by aggregate activity when no thread
// data exists at the location.
func (p *Poster) flatFallback(ctx context.Context, req PostRequest, key uint64, suggestion bool) (models.PostOutcome, error) {
	side := req.Side
	if side == "" {
		side = models.SideRight
	}
	if root, ok := p.index.mostActiveRootAt(req.Path, req.Line, side); ok {
		return p.reply(ctx, root.ID, "", req, key, suggestion)
	}
	return p.createTopLevel(ctx, req, key, suggestion)
}

func ambiguous(threads []models.ReviewThread, hint string) models.PostOutcome {
	candidates := make([]models.ThreadCandidate, 0, len(threads))
	for _, t := range threads {
		candidates = append(candidates, models.ThreadCandidate{
			ThreadID:      t.ID,
			Side:          t.Side,
			Resolved:      t.Resolved,
			Outdated:      t.Outdated,
			LastUpdatedAt: t.LastUpdatedAt,
		})
	}
	return models.PostOutcome{
		Kind:       models.OutcomeAmbiguous,
		Candidates: candidates,
		Hint:       hint,
	}
}

func (p *Poster) reply(ctx context.Context, rootID int64, threadID string, req PostRequest, key uint64, suggestion bool) (models.PostOutcome, error) {
	var created *models.ExistingComment
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		created, callErr = p.creator.CreateReply(ctx, rootID, req.Body)
		return callErr
	}, postAttempts, retry.IsRetryable)
	if err != nil {
		return models.PostOutcome{}, fmt.Errorf("replying to comment %d: %w", rootID, err)
	}
	p.recordSuccess(key, suggestion)
	outcome := models.PostOutcome{Kind: models.OutcomePosted, ThreadID: threadID}
	if created != nil {
		outcome.CommentID = created.ID
		outcome.URL = created.URL
	}
	return outcome, nil
}

func (p *Poster) createTopLevel(ctx context.Context, req PostRequest, key uint64, suggestion bool) (models.PostOutcome, error) {
	side := req.Side
	if side == "" {
		side = models.SideRight
	}
	var created *models.ExistingComment
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		created, callErr = p.creator.CreateReviewComment(ctx, req.Path, req.Line, side, req.Body)
		return callErr
	}, postAttempts, retry.IsRetryable)
	if err != nil {
		return models.PostOutcome{}, fmt.Errorf("creating comment at %s:%d: %w", req.Path, req.Line, err)
	}
	p.recordSuccess(key, suggestion)
	outcome := models.PostOutcome{Kind: models.OutcomePosted}
	if created != nil {
		outcome.CommentID = created.ID
		outcome.URL = created.URL
	}
	return outcome, nil
}

func (p *Poster) recordSuccess(key uint64, suggestion bool) {
	p.state.recordPosted(key)
	if suggestion {
		p.state.suggestions++
	} else {
		p.state.inlineComments++
	}
}
