// Package mcp exposes the course tutor as Model Context Protocol tools.
package mcp

import "github.com/bull/course-tutor/internal/tutor"

// Every output carries an optional Error. A failed call sets it, marks the
// tool result as an error and leaves the other fields empty. Timestamps are
// RFC 3339 strings.

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	Question     string   `json:"question" jsonschema:"the student's question"`
	SessionID    string   `json:"session_id,omitempty" jsonschema:"session to continue; a new session is started when empty"`
	UseRetrieval *bool    `json:"use_retrieval,omitempty" jsonschema:"whether to consult the ingested course materials (default true)"`
	TopK         int      `json:"top_k,omitempty" jsonschema:"number of course material sections to retrieve"`
	MinScore     *float64 `json:"min_score,omitempty" jsonschema:"minimum relevance score of retrieved sections (-1 to 1)"`
}

// AskOutput contains the tutor's answer.
type AskOutput struct {
	Answer             string           `json:"answer"`
	SessionID          string           `json:"session_id"`
	Sources            []tutor.Source   `json:"sources"`
	FromCourseMaterial bool             `json:"from_course_material"`
	Notice             string           `json:"notice,omitempty"`
	Verification       *ComputeOutput   `json:"verification,omitempty"`
	VerificationError  *tutor.ErrorInfo `json:"verification_error,omitempty"`
	Error              *tutor.ErrorInfo `json:"error,omitempty"`
}

// ComputeInput defines the input parameters for the compute tool.
type ComputeInput struct {
	Operation  string `json:"operation" jsonschema:"one of simplify, solve, derivative, integral, expand, factor"`
	Expression string `json:"expression" jsonschema:"expression such as x**2 - 5*x + 6; solve also accepts lhs = rhs"`
	Variable   string `json:"variable,omitempty" jsonschema:"variable to solve for or differentiate by; detected when the expression has one symbol"`
	Order      int    `json:"order,omitempty" jsonschema:"derivative order (default 1)"`
	Lower      string `json:"lower,omitempty" jsonschema:"lower bound of a definite integral"`
	Upper      string `json:"upper,omitempty" jsonschema:"upper bound of a definite integral"`
}

// ComputeOutput contains an exact symbolic result.
type ComputeOutput struct {
	Operation      string           `json:"operation"`
	Input          string           `json:"input"`
	Variable       string           `json:"variable,omitempty"`
	Result         string           `json:"result"`
	LaTeX          string           `json:"latex"`
	Solutions      []string         `json:"solutions,omitempty"`
	SolutionsLaTeX []string         `json:"solutions_latex,omitempty"`
	Formatted      string           `json:"formatted"`
	Error          *tutor.ErrorInfo `json:"error,omitempty"`
}

// QuizInput defines the input parameters for the quiz tool.
type QuizInput struct {
	Topic        string `json:"topic" jsonschema:"topic of the practice problems"`
	Count        int    `json:"count,omitempty" jsonschema:"number of problems, 1 to 10 (default 3)"`
	UseMaterials *bool  `json:"use_materials,omitempty" jsonschema:"ground the problems in matching course materials (default true)"`
}

// QuizOutput contains generated practice problems.
type QuizOutput struct {
	Topic              string           `json:"topic"`
	Count              int              `json:"count"`
	Problems           string           `json:"problems"`
	Sources            []string         `json:"sources"`
	FromCourseMaterial bool             `json:"from_course_material"`
	Error              *tutor.ErrorInfo `json:"error,omitempty"`
}

// IngestInput defines the input parameters for the ingest tool.
type IngestInput struct {
	Paths     []string `json:"paths,omitempty" jsonschema:"files or directories on the server to ingest (pdf, txt, md)"`
	GitHub    bool     `json:"github,omitempty" jsonschema:"ingest the configured GitHub course repository instead of paths"`
	SessionID string   `json:"session_id,omitempty" jsonschema:"session whose ingestion counters are updated"`
}

// FailedDocument is a document that could not be ingested.
type FailedDocument struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestOutput summarizes an ingestion run.
type IngestOutput struct {
	TotalDocs      int              `json:"total_docs"`
	SuccessfulDocs int              `json:"successful_docs"`
	SkippedDocs    int              `json:"skipped_docs"`
	Chunks         int              `json:"chunks"`
	Failed         []FailedDocument `json:"failed"`
	CommitSHA      string           `json:"commit_sha,omitempty"`
	Error          *tutor.ErrorInfo `json:"error,omitempty"`
}

// ListDocumentsInput takes no parameters.
type ListDocumentsInput struct{}

// DocumentInfo describes one ingested document.
type DocumentInfo struct {
	ID         string   `json:"id"`
	SourcePath string   `json:"source_path"`
	Format     string   `json:"format"`
	Chunks     int      `json:"chunks"`
	Summary    string   `json:"summary,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	IngestedAt string   `json:"ingested_at"`
}

// ListDocumentsOutput lists every ingested document.
type ListDocumentsOutput struct {
	Documents []DocumentInfo   `json:"documents"`
	Count     int              `json:"count"`
	Error     *tutor.ErrorInfo `json:"error,omitempty"`
}

// DeleteDocumentInput defines the input parameters for the delete_document tool.
type DeleteDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"id of the document to remove"`
}

// DeleteOutput reports whether something was removed.
type DeleteOutput struct {
	Deleted bool             `json:"deleted"`
	Error   *tutor.ErrorInfo `json:"error,omitempty"`
}

// StatsInput takes no parameters.
type StatsInput struct{}

// StatsOutput reports index and session statistics.
type StatsOutput struct {
	Backend            string           `json:"backend"`
	Documents          int              `json:"documents"`
	Chunks             int              `json:"chunks"`
	Dimension          int              `json:"dimension"`
	Sessions           int              `json:"sessions"`
	SessionIdleTimeout string           `json:"session_idle_timeout"`
	CachedComputations int              `json:"cached_computations"`
	Error              *tutor.ErrorInfo `json:"error,omitempty"`
}

// SessionInput identifies a session.
type SessionInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session id; create_session generates one when empty"`
}

// SessionInfo is a session's bookkeeping.
type SessionInfo struct {
	ID                string `json:"id"`
	State             string `json:"state"`
	CreatedAt         string `json:"created_at"`
	LastActiveAt      string `json:"last_active_at"`
	Turns             int    `json:"turns"`
	DocumentsIngested int    `json:"documents_ingested"`
	ChunksIngested    int    `json:"chunks_ingested"`
}

// SessionOutput describes a session.
type SessionOutput struct {
	Session *SessionInfo     `json:"session,omitempty"`
	Error   *tutor.ErrorInfo `json:"error,omitempty"`
}

// ListSessionsInput takes no parameters.
type ListSessionsInput struct{}

// ListSessionsOutput lists the live sessions, most recently active first.
type ListSessionsOutput struct {
	Sessions []SessionInfo    `json:"sessions"`
	Count    int              `json:"count"`
	Error    *tutor.ErrorInfo `json:"error,omitempty"`
}

// TurnInfo is one message of a conversation.
type TurnInfo struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// HistoryInput defines the input parameters for the session_history tool.
type HistoryInput struct {
	SessionID string `json:"session_id" jsonschema:"session id"`
	Limit     int    `json:"limit,omitempty" jsonschema:"most recent turns to return; all when 0"`
	Clear     bool   `json:"clear,omitempty" jsonschema:"clear the history after returning it"`
}

// HistoryOutput contains a session's turns, oldest first.
type HistoryOutput struct {
	SessionID string           `json:"session_id"`
	Turns     []TurnInfo       `json:"turns"`
	Cleared   bool             `json:"cleared,omitempty"`
	Error     *tutor.ErrorInfo `json:"error,omitempty"`
}
