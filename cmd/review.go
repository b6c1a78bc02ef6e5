package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/reviewpilot/internal/agent"
	"github.com/reviewpilot/reviewpilot/internal/compact"
	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/logging"
	"github.com/reviewpilot/reviewpilot/internal/providers/gitlab"
	"github.com/reviewpilot/reviewpilot/internal/reconcile"
	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/internal/session"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

// ReviewCommand returns the review command
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Review a merge request",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Resolve scope and generate the review without posting",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Mirror session logs to the console",
			},
		},
		ArgsUsage: "MR_URL",
		Action:    runReview,
	}
}

func runReview(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: MR URL")
	}

	mrURL := c.Args().Get(0)
	dryRun := c.Bool("dry-run")
	verbose := c.Bool("verbose")

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	baseURL, projectID, mrIID, err := parseMergeRequestURL(mrURL)
	if err != nil {
		return err
	}

	sessionLog, err := logging.NewSessionLogger(fmt.Sprintf("%s-%d", strings.ReplaceAll(projectID, "/", "-"), mrIID), verbose)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	defer sessionLog.Close()

	client, err := gitlab.NewClient(baseURL, cfg.GitLab.Token, projectID, mrIID, sessionLog.Component("gitlab"))
	if err != nil {
		return fmt.Errorf("failed to create gitlab client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	model, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.Model.APIKey),
		googleai.WithDefaultModel(cfg.General.Model))
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	retrier := retry.New(retry.WithLogger(sessionLog.Component("retry")))
	reviewer := agent.NewReviewer(model, cfg.Model.Temperature, sessionLog.Component("agent"))
	summarizer := compact.NewLLMSummarizer(model)

	sess := session.New(client, retrier, summarizer, session.Config{
		MaxTurns:              cfg.Session.MaxTurns,
		MaxDelegateIterations: cfg.Session.MaxDelegateIterations,
		ContextWindow:         cfg.Model.ContextWindow,
	}, sessionLog.Component("session"))

	head, err := client.HeadSHA(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve MR head: %w", err)
	}

	var usage reconcile.Usage
	turn := func(ctx context.Context, poster *reconcile.Poster, decision models.ReviewScopeDecision, msgs []models.ConversationMessage) ([]models.ConversationMessage, bool, error) {
		if dryRun {
			fmt.Printf("Would review %d files at %s (%s)\n", len(decision.Files), head, decision.Reason)
			return msgs, true, nil
		}

		// Malformed model output is re-prompted under the delegate cap;
		// every attempt is billed and lands in the transcript.
		var res *agent.Result
		err := sess.Delegate(ctx, func(ctx context.Context, _ int) (bool, error) {
			var revErr error
			res, revErr = reviewer.Review(ctx, poster, decision.Files)
			if res != nil {
				msgs = append(msgs, res.Messages...)
				usage.InputTokens += res.Usage.InputTokens
				usage.OutputTokens += res.Usage.OutputTokens
			}
			if errors.Is(revErr, agent.ErrMalformedOutput) {
				return false, nil
			}
			return revErr == nil, revErr
		})
		if err != nil {
			return msgs, false, err
		}
		usage.CostUSD = estimateCost(usage, cfg)

		outcome, err := poster.PostSummary(ctx, res.Summary, head, usage)
		if err != nil {
			return msgs, false, fmt.Errorf("posting summary: %w", err)
		}
		fmt.Printf("Review summary %s\n", outcome.Kind)
		return msgs, true, nil
	}

	result, err := sess.Run(ctx, nil, turn)
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Println("No new changes since the last review; skipped.")
		return nil
	}
	fmt.Printf("Review complete: %d files, %d turns (%s)\n", len(result.Decision.Files), result.Turns, result.Decision.Reason)
	return nil
}

// estimateCost prices accumulated token usage at the configured per-million
// rates.
func estimateCost(u reconcile.Usage, cfg *config.Config) float64 {
	return float64(u.InputTokens)/1e6*cfg.Model.InputCostPerMTok +
		float64(u.OutputTokens)/1e6*cfg.Model.OutputCostPerMTok
}

// parseMergeRequestURL splits a GitLab MR URL into its API base, project
// path, and MR IID. Accepts both /-/merge_requests/ and the legacy form.
func parseMergeRequestURL(raw string) (baseURL, projectID string, mrIID int, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", 0, fmt.Errorf("invalid MR URL: %s", raw)
	}

	marker := "/-/merge_requests/"
	idx := strings.Index(u.Path, marker)
	if idx < 0 {
		marker = "/merge_requests/"
		idx = strings.Index(u.Path, marker)
	}
	if idx < 0 {
		return "", "", 0, fmt.Errorf("URL does not point at a merge request: %s", raw)
	}

	projectID = strings.Trim(u.Path[:idx], "/")
	rest := strings.TrimPrefix(u.Path[idx+len(marker):], "/")
	iidPart := strings.SplitN(rest, "/", 2)[0]
	mrIID, err = strconv.Atoi(iidPart)
	if err != nil || mrIID <= 0 {
		return "", "", 0, fmt.Errorf("invalid MR IID in URL: %s", raw)
	}

	baseURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	return baseURL, projectID, mrIID, nil
}
