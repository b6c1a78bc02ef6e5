// Package agent implements the model-driven review turn: it prompts the
// model with the scoped diff, parses the structured findings, and delivers
// them through the reconciling poster.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/reviewpilot/reviewpilot/internal/reconcile"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

// ErrMalformedOutput marks model output that could not be decoded even after
// repair. Callers may re-prompt on it, unlike transport errors.
var ErrMalformedOutput = errors.New("malformed model output")

// Finding is one model-produced review comment.
type Finding struct {
	Path        string `json:"path"`
	Line        int    `json:"line"`
	Side        string `json:"side"`
	Body        string `json:"body"`
	Replacement string `json:"replacement,omitempty"`
}

// Review is the structured output the model is asked to produce.
type Review struct {
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
}

// Reviewer runs one review pass over a set of changed files.
type Reviewer struct {
	model       llms.Model
	temperature float64
	logger      zerolog.Logger
}

func NewReviewer(model llms.Model, temperature float64, logger zerolog.Logger) *Reviewer {
	return &Reviewer{model: model, temperature: temperature, logger: logger}
}

const reviewInstructions = `You are a senior code reviewer. Review the following merge request diff.
Respond with a single JSON object: {"summary": "...", "findings": [{"path": "...", "line": N, "side": "LEFT"|"RIGHT", "body": "...", "replacement": "optional replacement code"}]}.
Only flag real problems. Keep the summary under 300 words.`

// Result carries what one review pass produced: the summary body, the token
// usage billed for the model call, and the prompt/response pair for the
// session transcript.
type Result struct {
	Summary  string
	Usage    reconcile.Usage
	Messages []models.ConversationMessage
}

// Review prompts the model once and reconciles every finding through the
// poster. On a parse failure the returned Result still carries the usage and
// transcript of the failed call, so callers can bill and re-prompt.
func (r *Reviewer) Review(ctx context.Context, poster *reconcile.Poster, files []models.ChangedFile) (*Result, error) {
	prompt := r.buildPrompt(files)

	resp, err := r.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(r.temperature))
	if err != nil {
		return nil, fmt.Errorf("generating review: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}
	choice := resp.Choices[0]

	res := &Result{
		Usage: usageFromInfo(choice.GenerationInfo),
		Messages: []models.ConversationMessage{
			models.TextMessage(models.RoleUser, prompt),
			models.TextMessage(models.RoleAssistant, choice.Content),
		},
	}

	review, err := parseReview(choice.Content)
	if err != nil {
		return res, fmt.Errorf("parsing review output: %w", err)
	}
	res.Summary = review.Summary

	for _, f := range review.Findings {
		outcome, err := r.deliver(ctx, poster, f)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", f.Path).Int("line", f.Line).Msg("finding delivery failed")
			continue
		}
		if outcome.Kind != models.OutcomePosted {
			r.logger.Debug().
				Str("kind", string(outcome.Kind)).
				Str("path", f.Path).Int("line", f.Line).
				Msg("finding not posted")
		}
	}
	return res, nil
}

// usageFromInfo reads token counts out of the backend's generation metadata.
// The googleai backend reports them as input_tokens/output_tokens; values
// arrive as assorted integer widths depending on the backend.
func usageFromInfo(info map[string]any) reconcile.Usage {
	return reconcile.Usage{
		InputTokens:  tokenCount(info, "input_tokens", "prompt_tokens"),
		OutputTokens: tokenCount(info, "output_tokens", "completion_tokens"),
	}
}

func tokenCount(info map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

func (r *Reviewer) deliver(ctx context.Context, poster *reconcile.Poster, f Finding) (models.PostOutcome, error) {
	side := models.SideRight
	if strings.EqualFold(f.Side, "LEFT") {
		side = models.SideLeft
	}
	if f.Replacement != "" {
		return poster.PostSuggestion(ctx, reconcile.SuggestionRequest{
			Path:           f.Path,
			Line:           f.Line,
			Side:           side,
			LeadIn:         f.Body,
			Replacement:    f.Replacement,
			AllowNewThread: true,
		})
	}
	return poster.PostComment(ctx, reconcile.PostRequest{
		Path:           f.Path,
		Line:           f.Line,
		Side:           side,
		Body:           f.Body,
		AllowNewThread: true,
	})
}

func (r *Reviewer) buildPrompt(files []models.ChangedFile) string {
	var b strings.Builder
	b.WriteString(reviewInstructions)
	b.WriteString("\n\nChanged files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%s, +%d -%d)\n", f.Filename, f.Status, f.Additions, f.Deletions)
	}
	b.WriteString("\nDiff (OLD|NEW line numbers annotate each content line):\n")
	for _, f := range files {
		if f.Patch == "" {
			continue
		}
		fmt.Fprintf(&b, "--- %s\n%s\n", f.Filename, annotatePatch(f.Patch))
	}
	return b.String()
}

// parseReview decodes the model's JSON, stripping markdown fences and
// repairing malformed output before giving up.
func parseReview(text string) (*Review, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var review Review
	if err := json.Unmarshal([]byte(raw), &review); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: unmarshalling review: %v", ErrMalformedOutput, err)
		}
		if err := json.Unmarshal([]byte(repaired), &review); err != nil {
			return nil, fmt.Errorf("%w: unmarshalling repaired review: %v", ErrMalformedOutput, err)
		}
	}
	if review.Summary == "" && len(review.Findings) == 0 {
		return nil, fmt.Errorf("%w: empty review", ErrMalformedOutput)
	}
	return &review, nil
}
