package models

import (
	"time"
)

// FileStatus describes how a file changed within a diff listing.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
	FileCopied   FileStatus = "copied"
	FileChanged  FileStatus = "changed"
)

// ChangedFile is a single entry of a provider diff listing. Instances are
// immutable once fetched; scoped subsets are derived, never mutated in place.
type ChangedFile struct {
	Filename         string     `json:"filename"`
	PreviousFilename string     `json:"previous_filename,omitempty"`
	Status           FileStatus `json:"status"`
	Additions        int        `json:"additions"`
	Deletions        int        `json:"deletions"`
	Changes          int        `json:"changes"`
	Patch            string     `json:"patch,omitempty"` // empty for binary or oversized files
}

// ScopeDecision is the verdict on whether a review session should run.
type ScopeDecision string

const (
	DecisionReview        ScopeDecision = "review"
	DecisionSkipConfident ScopeDecision = "skip_confident"
)

// ScopeReason is the closed set of reasons a scope decision can carry.
type ScopeReason string

const (
	ReasonBaseEqualsHeadSkip            ScopeReason = "base_equals_head_skip"
	ReasonNoPreviousCheckpointFull      ScopeReason = "no_previous_checkpoint_review_full"
	ReasonCompareNotFoundFull           ScopeReason = "compare_not_found_review_full"
	ReasonCompareEmptyFull              ScopeReason = "compare_empty_review_full"
	ReasonScopedReview                  ScopeReason = "scoped_review"
	ReasonDivergedScopedReview          ScopeReason = "diverged_scoped_review"
)

// ReviewScopeDecision is produced once per session by the scope resolver.
// Decision == DecisionSkipConfident implies Files is empty.
type ReviewScopeDecision struct {
	Decision ScopeDecision
	Reason   ScopeReason
	Detail   string // human-readable explanation
	Files    []ChangedFile
	Warning  string // non-empty when the caller should surface a caveat
}

// CompareStatus describes the relationship between a checkpoint commit and
// the current head, as reported by the provider's comparison call.
type CompareStatus string

const (
	CompareIdentical CompareStatus = "identical"
	CompareAhead     CompareStatus = "ahead"
	CompareBehind    CompareStatus = "behind"
	CompareDiverged  CompareStatus = "diverged"
)

// CommentType distinguishes issue-level comments from inline review comments.
type CommentType string

const (
	CommentIssue  CommentType = "issue"
	CommentReview CommentType = "review"
)

// Side is the diff side an inline comment anchors to.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// ExistingComment is a comment already present on the pull request, fetched
// fresh at session start and normalized at the provider boundary. The
// reconciler only reads these to build its indices.
type ExistingComment struct {
	ID        int64
	Author    string
	Body      string
	URL       string
	Type      CommentType
	Path      string // review comments only
	Line      int    // review comments only
	Side      Side   // review comments only
	InReplyTo int64  // 0 for thread roots
	UpdatedAt time.Time
}

// ReviewThread is a provider-side grouping of a root comment and its replies.
// When the provider exposes no thread API, threads are synthesized from the
// flat comment listing.
type ReviewThread struct {
	ID            string
	Path          string
	Line          *int
	Side          Side
	Outdated      bool
	Resolved      bool
	LastUpdatedAt time.Time
	LastActor     string
	RootCommentID int64
	URL           string
}

// Role of a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind identifies the shape of a message content part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartThinking   PartKind = "thinking"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// ContentPart is one typed piece of a message. Text carries the payload for
// text and thinking parts; tool parts keep their name and serialized payload.
type ContentPart struct {
	Kind    PartKind `json:"kind"`
	Text    string   `json:"text,omitempty"`
	Name    string   `json:"name,omitempty"`
	Payload string   `json:"payload,omitempty"`
}

// ConversationMessage is one turn of the agent transcript.
type ConversationMessage struct {
	Role      Role
	Parts     []ContentPart
	Timestamp time.Time
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) ConversationMessage {
	return ConversationMessage{
		Role:      role,
		Parts:     []ContentPart{{Kind: PartText, Text: text}},
		Timestamp: time.Now(),
	}
}

// JoinedText concatenates the textual parts of a message.
func (m ConversationMessage) JoinedText() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText || p.Kind == PartThinking {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// ContextState accumulates which files the session has touched. The compactor
// consults it when synthesizing a state-summary message but does not own it.
type ContextState struct {
	FilesRead      map[string]struct{}
	FilesDiffed    map[string]struct{}
	TruncatedReads map[string]struct{}
	PartialReads   map[string]struct{}
}

func NewContextState() *ContextState {
	return &ContextState{
		FilesRead:      make(map[string]struct{}),
		FilesDiffed:    make(map[string]struct{}),
		TruncatedReads: make(map[string]struct{}),
		PartialReads:   make(map[string]struct{}),
	}
}

func (s *ContextState) MarkRead(path string)          { s.FilesRead[path] = struct{}{} }
func (s *ContextState) MarkDiffed(path string)        { s.FilesDiffed[path] = struct{}{} }
func (s *ContextState) MarkTruncatedRead(path string) { s.TruncatedReads[path] = struct{}{} }
func (s *ContextState) MarkPartialRead(path string)   { s.PartialReads[path] = struct{}{} }

// PostOutcomeKind is the closed set of results a posting operation can yield.
// Ambiguity and not-found are expected control-flow outcomes, not errors.
type PostOutcomeKind string

const (
	OutcomePosted    PostOutcomeKind = "posted"
	OutcomeDuplicate PostOutcomeKind = "duplicate"
	OutcomeAmbiguous PostOutcomeKind = "ambiguous"
	OutcomeNotFound  PostOutcomeKind = "not_found"
)

// ThreadCandidate describes one of several threads competing for a reply, so
// the caller can disambiguate by side or thread id.
type ThreadCandidate struct {
	ThreadID      string
	Side          Side
	Resolved      bool
	Outdated      bool
	LastUpdatedAt time.Time
}

// PostOutcome is the result of a comment, suggestion, or summary posting.
type PostOutcome struct {
	Kind       PostOutcomeKind
	CommentID  int64  // set when Kind == OutcomePosted
	ThreadID   string // thread replied to or created, when known
	URL        string
	Candidates []ThreadCandidate // set when Kind == OutcomeAmbiguous
	Hint       string            // actionable guidance for ambiguous/not-found outcomes
}
