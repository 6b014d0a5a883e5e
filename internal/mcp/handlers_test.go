package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/storage"
	"github.com/bull/course-tutor/internal/tutor"
)

const testDim = 128

type cannedLLM struct {
	reply string
	err   error
}

func (c cannedLLM) Generate(context.Context, llm.Prompt) (string, error) {
	return c.reply, c.err
}

func (c cannedLLM) Stream(context.Context, llm.Prompt) (llm.Stream, error) {
	return nil, errors.New("streaming not used")
}

func newTestServer(t *testing.T, gateway llm.Gateway) (*Server, *tutor.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Provider = config.ProviderHash
	cfg.Embedding.Dimension = testDim
	cfg.Index.Backend = config.BackendMemory

	svc, err := tutor.New(cfg, tutor.Deps{
		Index:    storage.NewMemory(testDim),
		Embedder: embedding.NewHashEmbedder(testDim),
		LLM:      gateway,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	return NewServer(&Config{Tutor: svc, Version: "test"}), svc
}

func writeNotes(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.md")
	content := "# Limits\n\nA limit describes the value a function approaches as its input approaches a point.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func errorText(t *testing.T, res *mcp.CallToolResult) tutor.ErrorInfo {
	t.Helper()
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var body struct {
		Error tutor.ErrorInfo `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &body))
	return body.Error
}

func TestNewServer_RegistersTools(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{})

	var names []string
	for _, tool := range s.Tools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{
		"ask", "compute", "quiz", "ingest", "list_documents", "delete_document", "stats",
		"create_session", "get_session", "list_sessions", "delete_session", "session_history",
	}, names)
	assert.NotNil(t, s.MCPServer())
}

func TestHandleIngestThenAsk(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{reply: "A limit is the value f(x) approaches."})
	ctx := context.Background()

	res, ingest, err := s.handleIngest(ctx, nil, IngestInput{Paths: []string{writeNotes(t)}, SessionID: "s1"})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Nil(t, ingest.Error)
	assert.Equal(t, 1, ingest.SuccessfulDocs)
	assert.Positive(t, ingest.Chunks)
	assert.Empty(t, ingest.Failed)

	minScore := -1.0
	res, out, err := s.handleAsk(ctx, nil, AskInput{
		Question:  "What is a limit of a function?",
		SessionID: "s1",
		MinScore:  &minScore,
	})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Nil(t, out.Error)
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, "A limit is the value f(x) approaches.", out.Answer)
	assert.True(t, out.FromCourseMaterial)
	require.NotEmpty(t, out.Sources)
	assert.Contains(t, out.Sources[0].Source, "limits.md")

	_, session, err := s.handleGetSession(ctx, nil, SessionInput{SessionID: "s1"})
	require.NoError(t, err)
	require.NotNil(t, session.Session)
	assert.Equal(t, 2, session.Session.Turns)
	assert.Equal(t, 1, session.Session.DocumentsIngested)
}

func TestHandleAsk_ReportsErrorKind(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{})

	res, out, err := s.handleAsk(context.Background(), nil, AskInput{Question: "   "})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, tutor.KindInvalidRequest, out.Error.Kind)
	assert.Equal(t, tutor.KindInvalidRequest, errorText(t, res).Kind)
}

func TestHandleAsk_GatewayFailureIsRetryable(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{err: llm.ErrGateway})

	use := false
	res, out, err := s.handleAsk(context.Background(), nil, AskInput{Question: "What is a limit?", UseRetrieval: &use})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, tutor.KindGateway, out.Error.Kind)
	assert.True(t, out.Error.Kind.Retryable())
	assert.True(t, res.IsError)
}

func TestHandleAsk_VerifiesComputation(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{reply: "The roots are 2 and 3."})

	_, out, err := s.handleAsk(context.Background(), nil, AskInput{Question: "Solve `x**2 - 5*x + 6 = 0`"})
	require.NoError(t, err)
	require.NotNil(t, out.Verification)
	assert.Equal(t, []string{"2", "3"}, out.Verification.Solutions)
	assert.Nil(t, out.VerificationError)
	assert.NotEmpty(t, out.Notice)
}

func TestHandleCompute(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{})
	ctx := context.Background()

	res, out, err := s.handleCompute(ctx, nil, ComputeInput{Operation: "solve", Expression: "x**2 - 5*x + 6"})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "solve", out.Operation)
	assert.Equal(t, "x", out.Variable)
	assert.Equal(t, "[2, 3]", out.Result)
	assert.Equal(t, `\left[2, 3\right]`, out.LaTeX)
	assert.Contains(t, out.Formatted, "Solutions: 2, 3")

	tests := []struct {
		name  string
		input ComputeInput
		kind  tutor.Kind
	}{
		{"unknown operation", ComputeInput{Operation: "limit", Expression: "x"}, tutor.KindUnsupportedOperation},
		{"parse error", ComputeInput{Operation: "simplify", Expression: "x +* 2"}, tutor.KindParse},
		{"ambiguous variable", ComputeInput{Operation: "solve", Expression: "x + y"}, tutor.KindAmbiguousVariable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, out, err := s.handleCompute(ctx, nil, tt.input)
			require.NoError(t, err)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.kind, out.Error.Kind)
			assert.Equal(t, tt.kind, errorText(t, res).Kind)
		})
	}
}

func TestHandleQuiz(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{reply: "1. Evaluate lim x->0 of sin(x)/x."})
	ctx := context.Background()

	res, out, err := s.handleQuiz(ctx, nil, QuizInput{Topic: "limits", Count: 1})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "1. Evaluate lim x->0 of sin(x)/x.", out.Problems)
	assert.False(t, out.FromCourseMaterial)
	assert.NotNil(t, out.Sources)

	_, out, err = s.handleQuiz(ctx, nil, QuizInput{Topic: "limits", Count: 11})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, tutor.KindInvalidRequest, out.Error.Kind)
}

func TestHandleIngest_GitHubNotConfigured(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{})

	_, out, err := s.handleIngest(context.Background(), nil, IngestInput{GitHub: true})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, tutor.KindConfig, out.Error.Kind)

	_, out, err = s.handleIngest(context.Background(), nil, IngestInput{})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, tutor.KindInvalidRequest, out.Error.Kind)
}

func TestHandleDocuments(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{})
	ctx := context.Background()

	_, _, err := s.handleIngest(ctx, nil, IngestInput{Paths: []string{writeNotes(t)}})
	require.NoError(t, err)

	_, list, err := s.handleListDocuments(ctx, nil, ListDocumentsInput{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	doc := list.Documents[0]
	assert.Equal(t, "md", doc.Format)
	assert.NotEmpty(t, doc.IngestedAt)

	_, stats, err := s.handleStats(ctx, nil, StatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, testDim, stats.Dimension)
	assert.Equal(t, "30m0s", stats.SessionIdleTimeout)

	_, del, err := s.handleDeleteDocument(ctx, nil, DeleteDocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.True(t, del.Deleted)

	_, del, err = s.handleDeleteDocument(ctx, nil, DeleteDocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	require.NotNil(t, del.Error)
	assert.Equal(t, tutor.KindNotFound, del.Error.Kind)
}

func TestHandleSessions(t *testing.T) {
	s, svc := newTestServer(t, cannedLLM{reply: "Sure."})
	ctx := context.Background()

	_, created, err := s.handleCreateSession(ctx, nil, SessionInput{})
	require.NoError(t, err)
	require.NotNil(t, created.Session)
	id := created.Session.ID
	assert.NotEmpty(t, id)
	assert.Equal(t, "active", created.Session.State)

	_, dup, err := s.handleCreateSession(ctx, nil, SessionInput{SessionID: id})
	require.NoError(t, err)
	require.NotNil(t, dup.Error)
	assert.Equal(t, tutor.KindInvalidRequest, dup.Error.Kind)

	_, err = svc.Ask(ctx, tutor.AskRequest{SessionID: id, Question: "Help me with limits", SkipRetrieval: true})
	require.NoError(t, err)

	_, list, err := s.handleListSessions(ctx, nil, ListSessionsInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	_, history, err := s.handleHistory(ctx, nil, HistoryInput{SessionID: id, Clear: true})
	require.NoError(t, err)
	require.Len(t, history.Turns, 2)
	assert.Equal(t, "user", history.Turns[0].Role)
	assert.Equal(t, "Help me with limits", history.Turns[0].Content)
	assert.Equal(t, "tutor", history.Turns[1].Role)
	assert.True(t, history.Cleared)

	_, history, err = s.handleHistory(ctx, nil, HistoryInput{SessionID: id})
	require.NoError(t, err)
	assert.Empty(t, history.Turns)

	_, deleted, err := s.handleDeleteSession(ctx, nil, SessionInput{SessionID: id})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	_, missing, err := s.handleGetSession(ctx, nil, SessionInput{SessionID: id})
	require.NoError(t, err)
	require.NotNil(t, missing.Error)
	assert.Equal(t, tutor.KindSessionNotFound, missing.Error.Kind)
}

type healthFunc func(context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func TestRouter(t *testing.T) {
	s, _ := newTestServer(t, cannedLLM{})

	tests := []struct {
		name    string
		checker HealthChecker
		status  int
		health  string
	}{
		{"healthy", healthFunc(func(context.Context) error { return nil }), http.StatusOK, "healthy"},
		{"unhealthy", healthFunc(func(context.Context) error { return errors.New("dial tcp: refused") }), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(s, tt.checker, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, rec.Code)
			var body HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.health, body.Status)
		})
	}

	router := NewRouter(s, healthFunc(func(context.Context) error { return nil }), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_history")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
