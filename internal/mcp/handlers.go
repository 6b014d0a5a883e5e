package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/indexer"
	"github.com/bull/course-tutor/internal/session"
	"github.com/bull/course-tutor/internal/symbolic"
	"github.com/bull/course-tutor/internal/tutor"
)

// failure logs err and builds the error result a tool returns alongside an
// output whose Error field is set to the returned info.
func (s *Server) failure(tool string, err error) (*mcp.CallToolResult, *tutor.ErrorInfo) {
	info := tutor.Describe(err)
	s.logger.Warn("tool failed", "tool", tool, "kind", info.Kind, "error", err)

	text, _ := json.Marshal(struct {
		Error tutor.ErrorInfo `json:"error"`
	}{info})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
	}, &info
}

// handleAsk answers a student question.
func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult, AskOutput, error,
) {
	answer, err := s.tutor.Ask(ctx, tutor.AskRequest{
		SessionID:     input.SessionID,
		Question:      input.Question,
		SkipRetrieval: input.UseRetrieval != nil && !*input.UseRetrieval,
		TopK:          input.TopK,
		MinScore:      input.MinScore,
	})
	if err != nil {
		res, info := s.failure("ask", err)
		return res, AskOutput{Sources: []tutor.Source{}, Error: info}, nil
	}

	out := AskOutput{
		Answer:             answer.Text,
		SessionID:          answer.SessionID,
		Sources:            answer.Sources,
		FromCourseMaterial: answer.FromCourseMaterial,
		Notice:             answer.Notice,
		VerificationError:  answer.VerificationError,
	}
	if answer.Verification != nil {
		v := toComputeOutput(*answer.Verification)
		out.Verification = &v
	}
	return nil, out, nil
}

// handleCompute runs an exact symbolic computation.
func (s *Server) handleCompute(ctx context.Context, _ *mcp.CallToolRequest, input ComputeInput) (
	*mcp.CallToolResult, ComputeOutput, error,
) {
	op, err := symbolic.ParseOperation(input.Operation)
	if err != nil {
		res, info := s.failure("compute", err)
		return res, ComputeOutput{Error: info}, nil
	}
	result, err := s.tutor.Compute(ctx, symbolic.Request{
		Operation:  op,
		Expression: input.Expression,
		Variable:   input.Variable,
		Order:      input.Order,
		Lower:      input.Lower,
		Upper:      input.Upper,
	})
	if err != nil {
		res, info := s.failure("compute", err)
		return res, ComputeOutput{Error: info}, nil
	}
	return nil, toComputeOutput(result), nil
}

func toComputeOutput(r symbolic.Result) ComputeOutput {
	return ComputeOutput{
		Operation:      r.Operation.String(),
		Input:          r.Input,
		Variable:       r.Variable,
		Result:         r.Text,
		LaTeX:          r.LaTeX,
		Solutions:      r.Solutions,
		SolutionsLaTeX: r.SolutionsLaTeX,
		Formatted:      r.Format(),
	}
}

// handleQuiz generates practice problems.
func (s *Server) handleQuiz(ctx context.Context, _ *mcp.CallToolRequest, input QuizInput) (
	*mcp.CallToolResult, QuizOutput, error,
) {
	quiz, err := s.tutor.Quiz(ctx, tutor.QuizRequest{
		Topic:         input.Topic,
		Count:         input.Count,
		SkipRetrieval: input.UseMaterials != nil && !*input.UseMaterials,
	})
	if err != nil {
		res, info := s.failure("quiz", err)
		return res, QuizOutput{Sources: []string{}, Error: info}, nil
	}
	sources := quiz.Sources
	if sources == nil {
		sources = []string{}
	}
	return nil, QuizOutput{
		Topic:              quiz.Topic,
		Count:              quiz.Count,
		Problems:           quiz.Text,
		Sources:            sources,
		FromCourseMaterial: quiz.FromCourseMaterial,
	}, nil
}

// handleIngest indexes server-side paths or the configured GitHub repository.
func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult, IngestOutput, error,
) {
	var (
		result *indexer.IndexResult
		err    error
	)
	switch {
	case input.GitHub && len(input.Paths) > 0:
		err = fmt.Errorf("%w: give either paths or github, not both", tutor.ErrInvalidRequest)
	case input.GitHub && s.github == nil:
		err = fmt.Errorf("%w: no GitHub course repository is configured", config.ErrConfig)
	case input.GitHub:
		result, err = s.tutor.IngestGitHub(ctx, input.SessionID, s.github)
	default:
		result, err = s.tutor.Ingest(ctx, input.SessionID, input.Paths...)
	}
	if err != nil {
		res, info := s.failure("ingest", err)
		return res, IngestOutput{Failed: []FailedDocument{}, Error: info}, nil
	}

	out := IngestOutput{
		TotalDocs:      result.TotalDocs,
		SuccessfulDocs: result.SuccessfulDocs,
		SkippedDocs:    result.SkippedDocs,
		Chunks:         result.TotalChunks,
		Failed:         make([]FailedDocument, 0, len(result.FailedDocs)),
		CommitSHA:      result.CommitSHA,
	}
	for _, f := range result.FailedDocs {
		out.Failed = append(out.Failed, FailedDocument{Path: f.Path, Reason: f.Reason})
	}
	return nil, out, nil
}

// handleListDocuments lists the ingested documents.
func (s *Server) handleListDocuments(ctx context.Context, _ *mcp.CallToolRequest, _ ListDocumentsInput) (
	*mcp.CallToolResult, ListDocumentsOutput, error,
) {
	docs, err := s.tutor.Documents(ctx)
	if err != nil {
		res, info := s.failure("list_documents", err)
		return res, ListDocumentsOutput{Documents: []DocumentInfo{}, Error: info}, nil
	}
	out := ListDocumentsOutput{Documents: make([]DocumentInfo, 0, len(docs)), Count: len(docs)}
	for _, d := range docs {
		out.Documents = append(out.Documents, DocumentInfo{
			ID:         d.ID,
			SourcePath: d.SourcePath,
			Format:     d.Format,
			Chunks:     d.ChunkCount,
			Summary:    d.Summary,
			Topics:     d.Topics,
			IngestedAt: timestamp(d.IngestedAt),
		})
	}
	return nil, out, nil
}

// handleDeleteDocument removes a document and its chunks.
func (s *Server) handleDeleteDocument(ctx context.Context, _ *mcp.CallToolRequest, input DeleteDocumentInput) (
	*mcp.CallToolResult, DeleteOutput, error,
) {
	if input.DocumentID == "" {
		res, info := s.failure("delete_document", fmt.Errorf("%w: document_id is required", tutor.ErrInvalidRequest))
		return res, DeleteOutput{Error: info}, nil
	}
	if err := s.tutor.DeleteDocument(ctx, input.DocumentID); err != nil {
		res, info := s.failure("delete_document", err)
		return res, DeleteOutput{Error: info}, nil
	}
	return nil, DeleteOutput{Deleted: true}, nil
}

// handleStats reports index and session statistics.
func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
	*mcp.CallToolResult, StatsOutput, error,
) {
	stats, err := s.tutor.Stats(ctx)
	if err != nil {
		res, info := s.failure("stats", err)
		return res, StatsOutput{Error: info}, nil
	}
	idle := "unbounded"
	if stats.SessionIdleTimeout > 0 {
		idle = stats.SessionIdleTimeout.String()
	}
	return nil, StatsOutput{
		Backend:            stats.Backend,
		Documents:          stats.Documents,
		Chunks:             stats.Chunks,
		Dimension:          stats.Dimension,
		Sessions:           stats.Sessions,
		SessionIdleTimeout: idle,
		CachedComputations: stats.CachedComputations,
	}, nil
}

// handleCreateSession starts a conversation.
func (s *Server) handleCreateSession(_ context.Context, _ *mcp.CallToolRequest, input SessionInput) (
	*mcp.CallToolResult, SessionOutput, error,
) {
	snap, err := s.tutor.CreateSession(input.SessionID)
	if err != nil {
		res, info := s.failure("create_session", err)
		return res, SessionOutput{Error: info}, nil
	}
	return nil, SessionOutput{Session: toSessionInfo(snap)}, nil
}

// handleGetSession returns a live session's bookkeeping.
func (s *Server) handleGetSession(_ context.Context, _ *mcp.CallToolRequest, input SessionInput) (
	*mcp.CallToolResult, SessionOutput, error,
) {
	snap, err := s.tutor.GetSession(input.SessionID)
	if err != nil {
		res, info := s.failure("get_session", err)
		return res, SessionOutput{Error: info}, nil
	}
	return nil, SessionOutput{Session: toSessionInfo(snap)}, nil
}

// handleDeleteSession closes a conversation and discards its history.
func (s *Server) handleDeleteSession(_ context.Context, _ *mcp.CallToolRequest, input SessionInput) (
	*mcp.CallToolResult, DeleteOutput, error,
) {
	if err := s.tutor.DeleteSession(input.SessionID); err != nil {
		res, info := s.failure("delete_session", err)
		return res, DeleteOutput{Error: info}, nil
	}
	return nil, DeleteOutput{Deleted: true}, nil
}

// handleListSessions lists the live sessions.
func (s *Server) handleListSessions(_ context.Context, _ *mcp.CallToolRequest, _ ListSessionsInput) (
	*mcp.CallToolResult, ListSessionsOutput, error,
) {
	snaps := s.tutor.ListSessions()
	out := ListSessionsOutput{Sessions: make([]SessionInfo, 0, len(snaps)), Count: len(snaps)}
	for _, snap := range snaps {
		out.Sessions = append(out.Sessions, *toSessionInfo(snap))
	}
	return nil, out, nil
}

// handleHistory returns a session's turns, optionally clearing them.
func (s *Server) handleHistory(_ context.Context, _ *mcp.CallToolRequest, input HistoryInput) (
	*mcp.CallToolResult, HistoryOutput, error,
) {
	turns, err := s.tutor.History(input.SessionID, input.Limit)
	if err == nil && input.Clear {
		err = s.tutor.ClearHistory(input.SessionID)
	}
	if err != nil {
		res, info := s.failure("session_history", err)
		return res, HistoryOutput{SessionID: input.SessionID, Turns: []TurnInfo{}, Error: info}, nil
	}

	out := HistoryOutput{
		SessionID: input.SessionID,
		Turns:     make([]TurnInfo, 0, len(turns)),
		Cleared:   input.Clear,
	}
	for _, t := range turns {
		out.Turns = append(out.Turns, TurnInfo{
			Role:      string(t.Role),
			Content:   t.Content,
			Timestamp: timestamp(t.Timestamp),
		})
	}
	return nil, out, nil
}

func toSessionInfo(snap session.Snapshot) *SessionInfo {
	return &SessionInfo{
		ID:                snap.ID,
		State:             snap.State,
		CreatedAt:         timestamp(snap.CreatedAt),
		LastActiveAt:      timestamp(snap.LastActiveAt),
		Turns:             snap.Turns,
		DocumentsIngested: snap.Documents,
		ChunksIngested:    snap.Chunks,
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
