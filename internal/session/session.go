// Package session orchestrates one review run: scope resolution, listing
// fetches, the agent loop with compaction, and the terminating summary.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/reviewpilot/reviewpilot/internal/compact"
	"github.com/reviewpilot/reviewpilot/internal/providers"
	"github.com/reviewpilot/reviewpilot/internal/reconcile"
	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/internal/scope"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

const listAttempts = 3

// Listings bundles everything fetched from the provider at session start.
type Listings struct {
	IssueComments  []models.ExistingComment
	ReviewComments []models.ExistingComment
	Threads        []models.ReviewThread
}

// FetchListings issues the three read-only listing calls concurrently and
// merges the results once all have resolved. A provider without a thread
// API yields synthesized threads from the flat review comments.
func FetchListings(ctx context.Context, client providers.Client, retrier *retry.Controller) (*Listings, error) {
	var listings Listings

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return retrier.Do(gctx, func(ctx context.Context) error {
			var err error
			listings.IssueComments, err = client.ListIssueComments(ctx)
			return err
		}, listAttempts, retry.IsRetryable)
	})
	g.Go(func() error {
		return retrier.Do(gctx, func(ctx context.Context) error {
			var err error
			listings.ReviewComments, err = client.ListReviewComments(ctx)
			return err
		}, listAttempts, retry.IsRetryable)
	})
	g.Go(func() error {
		err := retrier.Do(gctx, func(ctx context.Context) error {
			var err error
			listings.Threads, err = client.ListReviewThreads(ctx)
			return err
		}, listAttempts, retry.IsRetryable)
		if errors.Is(err, providers.ErrThreadsUnavailable) {
			listings.Threads = nil
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetching session listings: %w", err)
	}

	if listings.Threads == nil {
		listings.Threads = providers.SynthesizeThreads(listings.ReviewComments)
	}
	return &listings, nil
}

// TurnFunc runs one agent turn over the (possibly compacted) transcript and
// reports whether the session is finished.
type TurnFunc func(ctx context.Context, poster *reconcile.Poster, decision models.ReviewScopeDecision, msgs []models.ConversationMessage) ([]models.ConversationMessage, bool, error)

// Config bounds a session.
type Config struct {
	MaxTurns              int
	MaxDelegateIterations int
	ContextWindow         int
}

// Session ties the core components together for one run.
type Session struct {
	client     providers.Client
	retrier    *retry.Controller
	summarizer compact.Summarizer
	cfg        Config
	logger     zerolog.Logger
}

func New(client providers.Client, retrier *retry.Controller, summarizer compact.Summarizer, cfg Config, logger zerolog.Logger) *Session {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 50
	}
	if cfg.MaxDelegateIterations <= 0 {
		cfg.MaxDelegateIterations = 10
	}
	return &Session{client: client, retrier: retrier, summarizer: summarizer, cfg: cfg, logger: logger}
}

// Result reports what a session did.
type Result struct {
	Decision models.ReviewScopeDecision
	Skipped  bool
	Turns    int
}

// Run resolves the review scope and, when there is reviewable content,
// drives the agent loop with compaction applied before every model turn.
// On a confident skip it posts a short notice instead of reviewing.
func (s *Session) Run(ctx context.Context, seed []models.ConversationMessage, turn TurnFunc) (*Result, error) {
	listings, err := FetchListings(ctx, s.client, s.retrier)
	if err != nil {
		return nil, err
	}

	var fallback []models.ChangedFile
	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		var listErr error
		fallback, listErr = s.client.ListChangedFiles(ctx)
		return listErr
	}, listAttempts, retry.IsRetryable)
	if err != nil {
		return nil, fmt.Errorf("listing changed files: %w", err)
	}

	head, err := s.client.HeadSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving head: %w", err)
	}

	checkpoint, _ := reconcile.FindCheckpoint(listings.IssueComments)
	resolver := scope.NewResolver(s.client, s.retrier, s.logger)
	decision, err := resolver.Resolve(ctx, checkpoint, head, fallback)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("decision", string(decision.Decision)).
		Str("reason", string(decision.Reason)).
		Int("files", len(decision.Files)).
		Msg("review scope resolved")

	if decision.Decision == models.DecisionSkipConfident {
		err := s.retrier.Do(ctx, func(ctx context.Context) error {
			_, postErr := s.client.CreateIssueComment(ctx,
				fmt.Sprintf("No new changes to review since the last run (%s).", decision.Detail))
			return postErr
		}, listAttempts, retry.IsRetryable)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to post skip notice")
		}
		return &Result{Decision: decision, Skipped: true}, nil
	}

	state := reconcile.NewState()
	state.SeedExisting(listings.ReviewComments)
	index := reconcile.BuildIndex(listings.Threads, listings.ReviewComments)
	poster := reconcile.NewPoster(s.client, s.retrier, index, state, s.logger)
	files := models.NewContextState()
	for _, f := range decision.Files {
		files.MarkDiffed(f.Filename)
	}
	compactor := compact.New(s.cfg.ContextWindow, s.summarizer, s.retrier, state, files, s.logger)

	msgs := seed
	result := &Result{Decision: decision}
	for result.Turns < s.cfg.MaxTurns {
		msgs = compactor.Transform(ctx, msgs)

		var done bool
		msgs, done, err = turn(ctx, poster, decision, msgs)
		result.Turns++
		if err != nil {
			return result, fmt.Errorf("agent turn %d: %w", result.Turns, err)
		}
		if done {
			return result, nil
		}
	}
	return result, fmt.Errorf("session exceeded %d turns without terminating", s.cfg.MaxTurns)
}

// DelegateLimitError reports a delegated sub-session that hit its iteration
// cap and was aborted.
type DelegateLimitError struct {
	Iterations int
}

func (e *DelegateLimitError) Error() string {
	return fmt.Sprintf("delegated task aborted after %d iterations", e.Iterations)
}

// Delegate runs fn as a delegated sub-session under the session's
// configured iteration cap.
func (s *Session) Delegate(ctx context.Context, fn func(ctx context.Context, iteration int) (bool, error)) error {
	return RunDelegate(ctx, s.cfg.MaxDelegateIterations, fn)
}

// RunDelegate drives a delegated sub-session under an iteration cap.
// Exceeding the cap cancels the delegate's context and returns a bounded
// failure report instead of hanging.
func RunDelegate(ctx context.Context, limit int, fn func(ctx context.Context, iteration int) (bool, error)) error {
	if limit <= 0 {
		limit = 10
	}
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < limit; i++ {
		done, err := fn(dctx, i)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	cancel()
	return &DelegateLimitError{Iterations: limit}
}
