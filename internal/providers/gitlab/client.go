// Package gitlab implements the provider interfaces against the GitLab
// merge request APIs.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/reviewpilot/reviewpilot/internal/providers"
	"github.com/reviewpilot/reviewpilot/internal/retry"
	"github.com/reviewpilot/reviewpilot/pkg/models"
)

const perPage = 100

// Client talks to one merge request. It implements providers.Client.
type Client struct {
	api       *gitlab.Client
	projectID string
	mrIID     int
	limiter   *rate.Limiter
	logger    zerolog.Logger

	// Populated lazily from the MR details and the discussion listing.
	mr *gitlab.MergeRequest
	// discussionByNote maps a root note id to its discussion id, which the
	// reply API requires.
	discussionByNote map[int64]string
}

// NewClient builds a client for projectID's merge request mrIID. baseURL may
// be empty for gitlab.com.
func NewClient(baseURL, token, projectID string, mrIID int, logger zerolog.Logger) (*Client, error) {
	opts := []gitlab.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	api, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &Client{
		api:       api,
		projectID: projectID,
		mrIID:     mrIID,
		// GitLab.com allows bursts but sustained traffic is throttled hard;
		// 5 rps keeps a full-session listing well clear of that.
		limiter:          rate.NewLimiter(rate.Limit(5), 10),
		logger:           logger,
		discussionByNote: make(map[int64]string),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *Client) details(ctx context.Context) (*gitlab.MergeRequest, error) {
	if c.mr != nil {
		return c.mr, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	mr, resp, err := c.api.MergeRequests.GetMergeRequest(c.projectID, c.mrIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("fetching merge request", resp, err)
	}
	c.mr = mr
	return mr, nil
}

// HeadSHA returns the current head commit of the merge request.
func (c *Client) HeadSHA(ctx context.Context) (string, error) {
	mr, err := c.details(ctx)
	if err != nil {
		return "", err
	}
	return mr.SHA, nil
}

// ListChangedFiles returns the MR's own diff listing.
func (c *Client) ListChangedFiles(ctx context.Context) ([]models.ChangedFile, error) {
	var out []models.ChangedFile
	opt := &gitlab.ListMergeRequestDiffsOptions{
		ListOptions: gitlab.ListOptions{PerPage: perPage},
	}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		diffs, resp, err := c.api.MergeRequests.ListMergeRequestDiffs(c.projectID, c.mrIID, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapAPIError("listing merge request diffs", resp, err)
		}
		for _, d := range diffs {
			out = append(out, convertDiff(d.NewPath, d.OldPath, d.Diff, d.NewFile, d.DeletedFile, d.RenamedFile))
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

// Compare compares base..head. Divergence is detected by comparing in both
// directions: unique commits on each side mean the histories forked.
func (c *Client) Compare(ctx context.Context, base, head string) (*providers.Comparison, error) {
	forward, err := c.compareOnce(ctx, base, head)
	if err != nil {
		return nil, err
	}
	reverse, err := c.compareOnce(ctx, head, base)
	if err != nil {
		return nil, err
	}

	cmp := &providers.Comparison{
		AheadBy:  len(forward.Commits),
		BehindBy: len(reverse.Commits),
	}
	for _, d := range forward.Diffs {
		cmp.Files = append(cmp.Files, convertDiff(d.NewPath, d.OldPath, d.Diff, d.NewFile, d.DeletedFile, d.RenamedFile))
	}

	switch {
	case cmp.AheadBy == 0 && cmp.BehindBy == 0:
		cmp.Status = models.CompareIdentical
	case cmp.AheadBy > 0 && cmp.BehindBy > 0:
		cmp.Status = models.CompareDiverged
	case cmp.AheadBy > 0:
		cmp.Status = models.CompareAhead
	default:
		cmp.Status = models.CompareBehind
	}
	return cmp, nil
}

func (c *Client) compareOnce(ctx context.Context, from, to string) (*gitlab.Compare, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	result, resp, err := c.api.Repositories.Compare(c.projectID, &gitlab.CompareOptions{
		From:     gitlab.Ptr(from),
		To:       gitlab.Ptr(to),
		Straight: gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("comparing %s..%s: %w", from, to, providers.ErrHistoryNotFound)
		}
		return nil, wrapAPIError("comparing commits", resp, err)
	}
	return result, nil
}

// ListIssueComments returns the MR's non-positioned, non-system notes.
func (c *Client) ListIssueComments(ctx context.Context) ([]models.ExistingComment, error) {
	notes, err := c.listNotes(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.ExistingComment
	for _, n := range notes {
		if n.System || n.Position != nil {
			continue
		}
		out = append(out, c.convertNote(n, models.CommentIssue))
	}
	return out, nil
}

// ListReviewComments flattens the MR's positioned discussion notes.
func (c *Client) ListReviewComments(ctx context.Context) ([]models.ExistingComment, error) {
	discussions, err := c.listDiscussions(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.ExistingComment
	for _, d := range discussions {
		var rootID int64
		for i, n := range d.Notes {
			if n.System || n.Position == nil {
				continue
			}
			comment := c.convertNote(n, models.CommentReview)
			if i == 0 || rootID == 0 {
				rootID = int64(n.ID)
				c.discussionByNote[rootID] = d.ID
			} else {
				comment.InReplyTo = rootID
			}
			out = append(out, comment)
		}
	}
	return out, nil
}

// ListReviewThreads maps GitLab discussions to threads.
func (c *Client) ListReviewThreads(ctx context.Context) ([]models.ReviewThread, error) {
	discussions, err := c.listDiscussions(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.ReviewThread
	for _, d := range discussions {
		root := firstPositionedNote(d)
		if root == nil {
			continue
		}
		rootID := int64(root.ID)
		c.discussionByNote[rootID] = d.ID

		thread := models.ReviewThread{
			ID:            d.ID,
			RootCommentID: rootID,
			Resolved:      allResolved(d),
			URL:           c.noteURL(rootID),
		}
		var line int
		thread.Path, line, thread.Side = positionAnchor(root.Position)
		thread.Line = &line
		for _, n := range d.Notes {
			if n.UpdatedAt != nil && n.UpdatedAt.After(thread.LastUpdatedAt) {
				thread.LastUpdatedAt = *n.UpdatedAt
				thread.LastActor = n.Author.Username
			}
		}
		out = append(out, thread)
	}
	return out, nil
}

// CreateReviewComment opens a new positioned discussion at path:line.
func (c *Client) CreateReviewComment(ctx context.Context, path string, line int, side models.Side, body string) (*models.ExistingComment, error) {
	mr, err := c.details(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	position := &gitlab.PositionOptions{
		BaseSHA:      gitlab.Ptr(mr.DiffRefs.BaseSha),
		HeadSHA:      gitlab.Ptr(mr.DiffRefs.HeadSha),
		StartSHA:     gitlab.Ptr(mr.DiffRefs.StartSha),
		PositionType: gitlab.Ptr("text"),
		NewPath:      gitlab.Ptr(path),
		OldPath:      gitlab.Ptr(path),
	}
	if side == models.SideLeft {
		position.OldLine = gitlab.Ptr(line)
	} else {
		position.NewLine = gitlab.Ptr(line)
	}

	discussion, resp, err := c.api.Discussions.CreateMergeRequestDiscussion(c.projectID, c.mrIID, &gitlab.CreateMergeRequestDiscussionOptions{
		Body:     gitlab.Ptr(body),
		Position: position,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("creating discussion", resp, err)
	}

	root := firstPositionedNote(discussion)
	if root == nil && len(discussion.Notes) > 0 {
		root = discussion.Notes[0]
	}
	if root == nil {
		return nil, fmt.Errorf("discussion %s created without notes", discussion.ID)
	}
	rootID := int64(root.ID)
	c.discussionByNote[rootID] = discussion.ID
	created := c.convertNote(root, models.CommentReview)
	return &created, nil
}

// CreateReply adds a note under the discussion rooted at rootID.
func (c *Client) CreateReply(ctx context.Context, rootID int64, body string) (*models.ExistingComment, error) {
	discussionID, ok := c.discussionByNote[rootID]
	if !ok {
		return nil, fmt.Errorf("no discussion known for root comment %d", rootID)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	note, resp, err := c.api.Discussions.AddMergeRequestDiscussionNote(c.projectID, c.mrIID, discussionID, &gitlab.AddMergeRequestDiscussionNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("replying to discussion", resp, err)
	}
	created := c.convertNote(note, models.CommentReview)
	created.InReplyTo = rootID
	return &created, nil
}

// CreateIssueComment posts an MR-level note.
func (c *Client) CreateIssueComment(ctx context.Context, body string) (*models.ExistingComment, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	note, resp, err := c.api.Notes.CreateMergeRequestNote(c.projectID, c.mrIID, &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("creating merge request note", resp, err)
	}
	created := c.convertNote(note, models.CommentIssue)
	return &created, nil
}

func (c *Client) listNotes(ctx context.Context) ([]*gitlab.Note, error) {
	var out []*gitlab.Note
	opt := &gitlab.ListMergeRequestNotesOptions{
		ListOptions: gitlab.ListOptions{PerPage: perPage},
	}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		notes, resp, err := c.api.Notes.ListMergeRequestNotes(c.projectID, c.mrIID, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapAPIError("listing merge request notes", resp, err)
		}
		out = append(out, notes...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) listDiscussions(ctx context.Context) ([]*gitlab.Discussion, error) {
	var out []*gitlab.Discussion
	opt := &gitlab.ListMergeRequestDiscussionsOptions{PerPage: perPage}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		discussions, resp, err := c.api.Discussions.ListMergeRequestDiscussions(c.projectID, c.mrIID, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapAPIError("listing merge request discussions", resp, err)
		}
		out = append(out, discussions...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) convertNote(n *gitlab.Note, kind models.CommentType) models.ExistingComment {
	raw := providers.RawComment{
		ID:     int64(n.ID),
		Author: gitlab.Ptr(n.Author.Username),
		Body:   gitlab.Ptr(n.Body),
		URL:    gitlab.Ptr(c.noteURL(int64(n.ID))),
	}
	if n.UpdatedAt != nil {
		raw.UpdatedAt = n.UpdatedAt
	}
	if n.CreatedAt != nil {
		raw.CreatedAt = n.CreatedAt
	}
	if kind == models.CommentReview && n.Position != nil {
		path, line, side := positionAnchor(n.Position)
		raw.Path = gitlab.Ptr(path)
		raw.Line = gitlab.Ptr(line)
		raw.Side = gitlab.Ptr(string(side))
	}
	return providers.NormalizeComment(raw, kind)
}

func (c *Client) noteURL(noteID int64) string {
	if c.mr == nil || c.mr.WebURL == "" {
		return ""
	}
	return c.mr.WebURL + "#note_" + strconv.FormatInt(noteID, 10)
}

// positionAnchor maps a GitLab note position to (path, line, side): old-line
// positions anchor LEFT, everything else RIGHT.
func positionAnchor(p *gitlab.NotePosition) (string, int, models.Side) {
	if p == nil {
		return "", 0, models.SideRight
	}
	if p.NewLine != 0 {
		return p.NewPath, p.NewLine, models.SideRight
	}
	if p.OldLine != 0 {
		path := p.OldPath
		if path == "" {
			path = p.NewPath
		}
		return path, p.OldLine, models.SideLeft
	}
	return p.NewPath, 0, models.SideRight
}

func firstPositionedNote(d *gitlab.Discussion) *gitlab.Note {
	for _, n := range d.Notes {
		if !n.System && n.Position != nil {
			return n
		}
	}
	return nil
}

func allResolved(d *gitlab.Discussion) bool {
	resolved := false
	for _, n := range d.Notes {
		if n.Resolvable {
			if !n.Resolved {
				return false
			}
			resolved = true
		}
	}
	return resolved
}

// convertDiff maps one GitLab diff entry to a ChangedFile, deriving the
// addition/deletion counts from the patch text.
func convertDiff(newPath, oldPath, patch string, isNew, isDeleted, isRenamed bool) models.ChangedFile {
	f := models.ChangedFile{
		Filename: newPath,
		Patch:    patch,
		Status:   models.FileModified,
	}
	switch {
	case isNew:
		f.Status = models.FileAdded
	case isDeleted:
		f.Status = models.FileRemoved
		f.Filename = oldPath
	case isRenamed:
		f.Status = models.FileRenamed
		f.PreviousFilename = oldPath
	}
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			f.Additions++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			f.Deletions++
		}
	}
	f.Changes = f.Additions + f.Deletions
	return f
}

// wrapAPIError converts a client-go failure into an HTTPError-compatible
// message, preserving the status code and Retry-After hint for the retry
// controller's classification.
func wrapAPIError(op string, resp *gitlab.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, &retry.HTTPError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Message:    err.Error(),
	})
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
