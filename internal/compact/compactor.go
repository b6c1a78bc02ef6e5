package compact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewpilot/reviewpilot/internal/reconcile"
	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

const (
	// triggerRatio is the occupancy above which compaction kicks in.
	triggerRatio = 0.8
	// keepRatio bounds the kept suffix after compaction.
	keepRatio = 0.3

	// promptMessageCap limits how much of each pruned message the
	// summarization prompt carries.
	promptMessageCap = 1500

	// fileListCap limits each file listing in the state summary.
	fileListCap = 15

	summarizeAttempts = 3
	fallbackTexts     = 3
)

// Summarizer issues the summarization call used for compaction. Configured
// separately from the review model so a cheaper model can be used.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Compactor transforms a conversation to fit a model's context window. It
// operates purely on the in-memory message list plus the session's counters;
// it never mutates retained messages.
type Compactor struct {
	window     int        // model context window, in tokens
	summarizer Summarizer // nil when no compaction model is configured
	retrier    *retry.Controller
	state      *reconcile.State
	files      *models.ContextState
	logger     zerolog.Logger
}

func New(window int, summarizer Summarizer, retrier *retry.Controller, state *reconcile.State, files *models.ContextState, logger zerolog.Logger) *Compactor {
	return &Compactor{
		window:     window,
		summarizer: summarizer,
		retrier:    retrier,
		state:      state,
		files:      files,
		logger:     logger,
	}
}

// Transform returns the messages unchanged while the estimate stays below
// 80% of the window. Above that it prunes everything older than the most
// recent ~30%-of-window suffix, summarizes the pruned prefix, and returns
// [state summary, prose summary, ...kept suffix]. The prefix is replaced
// atomically, never edited in place.
func (c *Compactor) Transform(ctx context.Context, msgs []models.ConversationMessage) []models.ConversationMessage {
	estimate := EstimateTokens(msgs)
	if float64(estimate) < triggerRatio*float64(c.window) {
		return msgs
	}

	kept, pruned := c.partition(msgs)
	if len(pruned) == 0 {
		return msgs
	}

	c.logger.Info().
		Int("estimated_tokens", estimate).
		Int("window", c.window).
		Int("pruned", len(pruned)).
		Int("kept", len(kept)).
		Msg("compacting conversation")

	summary := c.summarize(ctx, pruned)

	out := make([]models.ConversationMessage, 0, len(kept)+2)
	out = append(out, c.stateSummary(len(pruned)))
	out = append(out, models.TextMessage(models.RoleUser, "Summary of the earlier conversation:\n\n"+summary))
	out = append(out, kept...)
	return out
}

// partition walks newest to oldest, keeping messages until the next one
// would push the kept suffix past keepRatio of the window. The newest
// message is kept even when it alone exceeds the budget, so the in-flight
// turn is never summarized away.
func (c *Compactor) partition(msgs []models.ConversationMessage) (kept, pruned []models.ConversationMessage) {
	budget := int(keepRatio * float64(c.window))
	total := 0
	cut := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := estimateMessage(msgs[i])
		if total+cost > budget && i != len(msgs)-1 {
			break
		}
		total += cost
		cut = i
	}
	return msgs[cut:], msgs[:cut]
}

// summarize produces prose for the pruned prefix: a retry-wrapped model call
// when a compaction model is configured, otherwise (or when the call yields
// nothing usable) a deterministic summary from the last assistant texts.
func (c *Compactor) summarize(ctx context.Context, pruned []models.ConversationMessage) string {
	if c.summarizer != nil {
		var text string
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			var callErr error
			text, callErr = c.summarizer.Summarize(ctx, buildPrompt(pruned))
			return callErr
		}, summarizeAttempts, retry.IsRetryable)
		if err != nil {
			c.logger.Warn().Err(err).Msg("summarization call failed, using deterministic fallback")
		} else if strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return fallbackSummary(pruned)
}

func buildPrompt(pruned []models.ConversationMessage) string {
	var b strings.Builder
	b.WriteString("The following is the transcript of a code review session that must be condensed.\n\n")
	for _, m := range pruned {
		text := m.JoinedText()
		if text == "" {
			continue
		}
		if len(text) > promptMessageCap {
			text = text[:promptMessageCap] + "…"
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, text)
	}
	b.WriteString("\nSummarize the conversation above as concise bullet points covering: findings so far, decisions made, outstanding issues, and files discussed.")
	return b.String()
}

// fallbackSummary builds a deterministic stand-in from the last few
// assistant-authored texts in the pruned prefix.
func fallbackSummary(pruned []models.ConversationMessage) string {
	var texts []string
	for i := len(pruned) - 1; i >= 0 && len(texts) < fallbackTexts; i-- {
		if pruned[i].Role != models.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(pruned[i].JoinedText())
		if text == "" {
			continue
		}
		if len(text) > promptMessageCap {
			text = text[:promptMessageCap] + "…"
		}
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return "Earlier conversation pruned to fit the context window; no assistant summary was available."
	}
	// Restore chronological order.
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return "Most recent assistant notes before compaction:\n- " + strings.Join(texts, "\n- ")
}

// stateSummary synthesizes the traceable-state message: pruned count, file
// listings, and the session counters.
func (c *Compactor) stateSummary(prunedCount int) models.ConversationMessage {
	inline, suggestions, summaryPosted := c.state.Counters()

	var b strings.Builder
	fmt.Fprintf(&b, "[Conversation compacted: %d earlier messages were summarized.]\n", prunedCount)
	writeFileList(&b, "Files read", c.files.FilesRead)
	writeFileList(&b, "Files diffed", c.files.FilesDiffed)
	writeFileList(&b, "Partially read", c.files.PartialReads)
	writeFileList(&b, "Truncated reads", c.files.TruncatedReads)
	fmt.Fprintf(&b, "Inline comments posted: %d · Suggestions posted: %d · Summary posted: %v",
		inline, suggestions, summaryPosted)

	msg := models.TextMessage(models.RoleUser, b.String())
	msg.Timestamp = time.Now()
	return msg
}

func writeFileList(b *strings.Builder, label string, set map[string]struct{}) {
	if len(set) == 0 {
		return
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	shown := paths
	overflow := 0
	if len(paths) > fileListCap {
		shown = paths[:fileListCap]
		overflow = len(paths) - fileListCap
	}
	fmt.Fprintf(b, "%s (%d): %s", label, len(paths), strings.Join(shown, ", "))
	if overflow > 0 {
		fmt.Fprintf(b, " (+%d more)", overflow)
	}
	b.WriteString("\n")
}
