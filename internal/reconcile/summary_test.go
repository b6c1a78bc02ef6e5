package reconcile

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/reviewpilot/pkg/models"
)

func TestPostSummary_OnlyOnce(t *testing.T) {
	poster, creator, _ := newPoster(t, nil, nil)

	first, err := poster.PostSummary(context.Background(), "All good overall.", "deadbeef01", Usage{InputTokens: 1200, OutputTokens: 340, CostUSD: 0.0123})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePosted, first.Kind)

	second, err := poster.PostSummary(context.Background(), "All good overall.", "deadbeef01", Usage{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, second.Kind)
	assert.Len(t, creator.issueBodies, 1)
}

// slowCreator blocks the first issue-comment call until released, simulating
// an in-flight summary post when a second invocation arrives.
type slowCreator struct {
	fakeCreator
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	first   bool
}

func (s *slowCreator) CreateIssueComment(ctx context.Context, body string) (*models.ExistingComment, error) {
	s.mu.Lock()
	firstCall := !s.first
	s.first = true
	s.mu.Unlock()
	if firstCall {
		close(s.started)
		<-s.release
	}
	return s.fakeCreator.CreateIssueComment(ctx, body)
}

func TestPostSummary_FlagSetBeforeAwait(t *testing.T) {
	creator := &slowCreator{started: make(chan struct{}), release: make(chan struct{})}
	state := NewState()
	index := BuildIndex(nil, nil)
	poster := NewPoster(creator, instantRetrier(), index, state, zerolog.Nop())

	done := make(chan models.PostOutcome, 1)
	go func() {
		outcome, _ := poster.PostSummary(context.Background(), "Summary body.", "cafebabe02", Usage{})
		done <- outcome
	}()

	// The first post is in flight; a second trigger must short-circuit
	// without another network call.
	<-creator.started
	outcome, err := poster.PostSummary(context.Background(), "Summary body.", "cafebabe02", Usage{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, outcome.Kind)

	close(creator.release)
	first := <-done
	assert.Equal(t, models.OutcomePosted, first.Kind)
	assert.Len(t, creator.issueBodies, 1)
}

func TestFinalizeSummaryBody_AppendsFullFooter(t *testing.T) {
	body := finalizeSummaryBody("Review finished.", "0123456789ab", Usage{InputTokens: 10, OutputTokens: 5, CostUSD: 0.01})

	assert.Contains(t, body, attributionLine)
	assert.Contains(t, body, "Tokens: 10 in / 5 out")
	assert.Contains(t, body, Marker("0123456789ab"))
}

func TestFinalizeSummaryBody_AmendsWithoutDuplicating(t *testing.T) {
	prior := "Review finished.\n\n---\n" + attributionLine + "\nTokens: 1 in / 1 out · est. cost $0.0001\n" + Marker("aaaaaaaaaaaa")

	body := finalizeSummaryBody(prior, "bbbbbbbbbbbb", Usage{InputTokens: 99, OutputTokens: 99})

	assert.Equal(t, 1, strings.Count(body, attributionLine), "attribution must not repeat")
	assert.Equal(t, 1, strings.Count(body, "Tokens: "), "billing line must not repeat")
	assert.NotContains(t, body, "aaaaaaaaaaaa", "stale marker must be amended")
	assert.Contains(t, body, Marker("bbbbbbbbbbbb"))
}

func TestFinalizeSummaryBody_BodyMentioningTokensStillBilled(t *testing.T) {
	// A summary that talks about tokens must not suppress the billing line.
	body := finalizeSummaryBody("Tokens: the parser drops trailing ones.", "0123456789ab", Usage{InputTokens: 7, OutputTokens: 3, CostUSD: 0.002})

	assert.Contains(t, body, "Tokens: 7 in / 3 out · est. cost $0.0020")
}

func TestMarkerRoundTrip(t *testing.T) {
	sha, ok := ExtractCheckpoint("intro text\n" + Marker("deadbeef42") + "\ntrailer")
	require.True(t, ok)
	assert.Equal(t, "deadbeef42", sha)

	_, ok = ExtractCheckpoint("no marker here")
	assert.False(t, ok)
}

func TestFindCheckpoint_PicksMostRecent(t *testing.T) {
	comments := []models.ExistingComment{
		{ID: 1, Body: "summary\n" + Marker("1111111111"), UpdatedAt: at("2026-08-01T00:00:00Z")},
		{ID: 2, Body: "irrelevant"},
		{ID: 3, Body: "summary\n" + Marker("2222222222"), UpdatedAt: at("2026-08-20T00:00:00Z")},
	}
	sha, ok := FindCheckpoint(comments)
	require.True(t, ok)
	assert.Equal(t, "2222222222", sha)
}
