package tutor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/course-tutor/internal/assembler"
	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/retrieval"
	"github.com/bull/course-tutor/internal/session"
	"github.com/bull/course-tutor/internal/storage"
	"github.com/bull/course-tutor/internal/symbolic"
)

const testDim = 256

const derivativesNotes = `# Derivatives

The derivative measures the instantaneous rate of change of a function.

## Chain rule

The chain rule differentiates a composition: the derivative of f(g(x)) is f'(g(x)) times g'(x).
`

type fakeLLM struct {
	mu        sync.Mutex
	reply     string
	fragments []string
	err       error
	prompts   []llm.Prompt
}

func (f *fakeLLM) Generate(ctx context.Context, p llm.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) Stream(ctx context.Context, p llm.Prompt) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{fragments: f.fragments}, nil
}

func (f *fakeLLM) lastPrompt(t *testing.T) llm.Prompt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.prompts)
	return f.prompts[len(f.prompts)-1]
}

type sliceStream struct {
	fragments []string
	next      int
	current   string
}

func (s *sliceStream) Next() bool {
	if s.next >= len(s.fragments) {
		return false
	}
	s.current = s.fragments[s.next]
	s.next++
	return true
}

func (s *sliceStream) Fragment() string { return s.current }
func (s *sliceStream) Err() error       { return nil }
func (s *sliceStream) Close() error     { return nil }

// downEmbedder fails every call, as an unreachable embedding service would.
type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: connection refused", embedding.ErrGateway)
}

func (downEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: connection refused", embedding.ErrGateway)
}

func (downEmbedder) Dimension() int { return testDim }

func newFailingRetriever(svc *Service) *retrieval.Retriever {
	return retrieval.New(downEmbedder{}, svc.index, nil)
}

func newTestService(t *testing.T, gateway *fakeLLM) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Provider = config.ProviderHash
	cfg.Embedding.Dimension = testDim
	cfg.Index.Backend = config.BackendMemory

	svc, err := New(cfg, Deps{
		Index:    storage.NewMemory(testDim),
		Embedder: embedding.NewHashEmbedder(testDim),
		LLM:      gateway,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func writeNotes(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ingestDerivatives(t *testing.T, svc *Service) string {
	t.Helper()
	path := writeNotes(t, "derivatives.md", derivativesNotes)
	result, err := svc.Ingest(context.Background(), "", path)
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessfulDocs)
	return path
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(config.Default(), Deps{}, nil)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestAsk_GroundedAnswerCommitsTurnPair(t *testing.T) {
	gateway := &fakeLLM{reply: "Differentiate the outer function, then multiply by the inner derivative."}
	svc := newTestService(t, gateway)
	ingestDerivatives(t, svc)

	answer, err := svc.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "Explain the chain rule for derivatives"})
	require.NoError(t, err)

	assert.Equal(t, "s1", answer.SessionID)
	assert.Equal(t, gateway.reply, answer.Text)
	assert.True(t, answer.FromCourseMaterial)
	assert.Empty(t, answer.Notice)
	require.NotEmpty(t, answer.Sources)
	assert.Contains(t, answer.Sources[0].Source, "derivatives.md")
	assert.Positive(t, answer.PromptTokens)

	prompt := gateway.lastPrompt(t)
	assert.Contains(t, prompt.System, "TUTORING PRINCIPLES")
	assert.NotContains(t, prompt.System, assembler.NoContextInstruction)
	user := prompt.Messages[len(prompt.Messages)-1].Content
	assert.Contains(t, user, "RELEVANT COURSE MATERIALS:")
	assert.Contains(t, user, "STUDENT QUESTION:\nExplain the chain rule for derivatives")

	turns, err := svc.History("s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "Explain the chain rule for derivatives", turns[0].Content)
	assert.Equal(t, session.RoleTutor, turns[1].Role)
	assert.Equal(t, gateway.reply, turns[1].Content)
}

func TestAsk_EmptyIndexFallsBack(t *testing.T) {
	gateway := &fakeLLM{reply: "General answer."}
	svc := newTestService(t, gateway)

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "What is a limit?"})
	require.NoError(t, err)

	assert.NotEmpty(t, answer.SessionID)
	assert.False(t, answer.FromCourseMaterial)
	assert.Equal(t, NoMaterialNotice, answer.Notice)
	assert.Empty(t, answer.Sources)
	assert.Contains(t, gateway.lastPrompt(t).System, assembler.NoContextInstruction)
}

func TestAsk_UnrelatedMaterialBelowMinScoreFallsBack(t *testing.T) {
	gateway := &fakeLLM{reply: "Integration by parts reverses the product rule."}
	svc := newTestService(t, gateway)
	ingestDerivatives(t, svc)

	minScore := 0.8
	answer, err := svc.Ask(context.Background(), AskRequest{Question: "integration by parts", MinScore: &minScore})
	require.NoError(t, err)

	assert.False(t, answer.FromCourseMaterial)
	assert.Equal(t, NoMaterialNotice, answer.Notice)
	assert.Contains(t, gateway.lastPrompt(t).System, assembler.NoContextInstruction)
}

func TestAsk_SkipRetrieval(t *testing.T) {
	gateway := &fakeLLM{reply: "ok"}
	svc := newTestService(t, gateway)
	ingestDerivatives(t, svc)

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "chain rule derivatives", SkipRetrieval: true})
	require.NoError(t, err)
	assert.False(t, answer.FromCourseMaterial)
	assert.Equal(t, RetrievalDisabledNotice, answer.Notice)
	assert.NotContains(t, gateway.lastPrompt(t).Messages[0].Content, "RELEVANT COURSE MATERIALS:")
}

func TestAsk_HistoryCarriesIntoNextPrompt(t *testing.T) {
	gateway := &fakeLLM{reply: "first reply"}
	svc := newTestService(t, gateway)

	_, err := svc.Ask(context.Background(), AskRequest{SessionID: "h", Question: "first question"})
	require.NoError(t, err)
	_, err = svc.Ask(context.Background(), AskRequest{SessionID: "h", Question: "second question"})
	require.NoError(t, err)

	msgs := gateway.lastPrompt(t).Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "first question"}, msgs[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "first reply"}, msgs[1])
	assert.Contains(t, msgs[2].Content, "second question")
}

func TestAsk_GatewayFailureCommitsNothing(t *testing.T) {
	gateway := &fakeLLM{err: fmt.Errorf("%w: upstream 503", llm.ErrGateway)}
	svc := newTestService(t, gateway)

	_, err := svc.Ask(context.Background(), AskRequest{SessionID: "g", Question: "What is a derivative?"})
	require.Error(t, err)
	assert.Equal(t, KindGateway, KindOf(err))
	assert.True(t, KindOf(err).Retryable())

	turns, err := svc.History("g", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAsk_RetrievalFailureIsNotMaskedAsNoMaterial(t *testing.T) {
	gateway := &fakeLLM{reply: "unused"}
	svc := newTestService(t, gateway)
	svc.retriever = newFailingRetriever(svc)

	_, err := svc.Ask(context.Background(), AskRequest{Question: "What is a derivative?"})
	assert.Equal(t, KindRetrievalUnavailable, KindOf(err))
	assert.Empty(t, gateway.prompts)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	svc := newTestService(t, &fakeLLM{})
	_, err := svc.Ask(context.Background(), AskRequest{Question: "   "})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestAsk_VerifiesDetectedComputation(t *testing.T) {
	gateway := &fakeLLM{reply: "The roots are 2 and 3."}
	svc := newTestService(t, gateway)

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "Can you solve `x**2 - 5*x + 6 = 0` for me?"})
	require.NoError(t, err)
	require.NotNil(t, answer.Verification)
	assert.Nil(t, answer.VerificationError)
	assert.Equal(t, []string{"2", "3"}, answer.Verification.Solutions)
	assert.Contains(t, gateway.lastPrompt(t).System, "Solutions: 2, 3")
}

func TestAsk_ReportsUnverifiableComputation(t *testing.T) {
	gateway := &fakeLLM{reply: "Let's look at that expression."}
	svc := newTestService(t, gateway)

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "Please simplify $x +$"})
	require.NoError(t, err)
	assert.Nil(t, answer.Verification)
	require.NotNil(t, answer.VerificationError)
	assert.Equal(t, KindParse, answer.VerificationError.Kind)
	assert.Equal(t, gateway.reply, answer.Text)
}

func TestAskStream_CommitsFullResponse(t *testing.T) {
	gateway := &fakeLLM{fragments: []string{"Hel", "lo", " there"}}
	svc := newTestService(t, gateway)

	var got []string
	answer, err := svc.AskStream(context.Background(), AskRequest{SessionID: "st", Question: "hi"}, func(f string) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", " there"}, got)
	assert.Equal(t, "Hello there", answer.Text)

	turns, err := svc.History("st", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello there", turns[1].Content)
}

func TestAskStream_CancelCommitsNothing(t *testing.T) {
	gateway := &fakeLLM{fragments: []string{"partial", " answer"}}
	svc := newTestService(t, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := svc.AskStream(ctx, AskRequest{SessionID: "c", Question: "hi"}, func(string) error {
		cancel()
		return nil
	})
	assert.Equal(t, KindCanceled, KindOf(err))

	turns, err := svc.History("c", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAskStream_CallbackErrorCommitsNothing(t *testing.T) {
	gateway := &fakeLLM{fragments: []string{"a", "b"}}
	svc := newTestService(t, gateway)

	stop := fmt.Errorf("client went away")
	_, err := svc.AskStream(context.Background(), AskRequest{SessionID: "cb", Question: "hi"}, func(string) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)

	turns, err := svc.History("cb", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAsk_ConcurrentQuestionsKeepPairsTogether(t *testing.T) {
	gateway := &fakeLLM{reply: "answer"}
	svc := newTestService(t, gateway)
	_, err := svc.CreateSession("busy")
	require.NoError(t, err)

	const askers = 20
	var wg sync.WaitGroup
	for i := range askers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ask(context.Background(), AskRequest{SessionID: "busy", Question: fmt.Sprintf("question %d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns, err := svc.History("busy", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2*askers)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, session.RoleUser, turns[i].Role)
		assert.True(t, strings.HasPrefix(turns[i].Content, "question "))
		assert.Equal(t, session.RoleTutor, turns[i+1].Role)
	}
}

func TestCompute_Memoizes(t *testing.T) {
	svc := newTestService(t, &fakeLLM{})
	ctx := context.Background()

	req := symbolic.Request{Operation: symbolic.OpFactor, Expression: "x**2 - 4"}
	first, err := svc.Compute(ctx, req)
	require.NoError(t, err)
	second, err := svc.Compute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "(x - 2)*(x + 2)", first.Text)

	_, err = svc.Compute(ctx, symbolic.Request{Operation: symbolic.OpSolve, Expression: "x*y - 1"})
	assert.Equal(t, KindAmbiguousVariable, KindOf(err))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CachedComputations)
}

func TestQuiz(t *testing.T) {
	gateway := &fakeLLM{reply: "1. Differentiate x**2."}
	svc := newTestService(t, gateway)
	ingestDerivatives(t, svc)
	ctx := context.Background()

	quiz, err := svc.Quiz(ctx, QuizRequest{Topic: "chain rule derivatives"})
	require.NoError(t, err)
	assert.Equal(t, 3, quiz.Count)
	assert.Equal(t, gateway.reply, quiz.Text)
	assert.True(t, quiz.FromCourseMaterial)
	assert.NotEmpty(t, quiz.Sources)

	prompt := gateway.lastPrompt(t)
	assert.Equal(t, quizInstructions, prompt.System)
	assert.Contains(t, prompt.Messages[0].Content, "Generate 3 practice problems on the topic: chain rule derivatives")

	quiz, err = svc.Quiz(ctx, QuizRequest{Topic: "limits", Count: 5, SkipRetrieval: true})
	require.NoError(t, err)
	assert.False(t, quiz.FromCourseMaterial)
	assert.Contains(t, gateway.lastPrompt(t).Messages[0].Content, "Generate 5 practice problems")

	for _, count := range []int{-1, 11} {
		_, err = svc.Quiz(ctx, QuizRequest{Topic: "limits", Count: count})
		assert.Equal(t, KindInvalidRequest, KindOf(err), "count %d", count)
	}
	_, err = svc.Quiz(ctx, QuizRequest{Count: 2})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestDocumentsAndDelete(t *testing.T) {
	svc := newTestService(t, &fakeLLM{})
	ctx := context.Background()
	ingestDerivatives(t, svc)

	docs, err := svc.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Positive(t, stats.Chunks)
	assert.Equal(t, "memory", stats.Backend)

	require.NoError(t, svc.DeleteDocument(ctx, docs[0].ID))
	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Chunks)

	assert.Equal(t, KindNotFound, KindOf(svc.DeleteDocument(ctx, docs[0].ID)))
}

func TestIngest_RecordsSessionStats(t *testing.T) {
	svc := newTestService(t, &fakeLLM{})
	path := writeNotes(t, "derivatives.md", derivativesNotes)
	missing := filepath.Join(t.TempDir(), "missing.pdf")

	result, err := svc.Ingest(context.Background(), "learner", path, missing)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessfulDocs)
	assert.Len(t, result.FailedDocs, 1)

	snap, err := svc.GetSession("learner")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Documents)
	assert.Equal(t, result.TotalChunks, snap.Chunks)

	_, err = svc.Ingest(context.Background(), "learner")
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestSessionLifecycle(t *testing.T) {
	gateway := &fakeLLM{reply: "hello"}
	svc := newTestService(t, gateway)

	snap, err := svc.CreateSession("")
	require.NoError(t, err)
	id := snap.ID
	assert.Equal(t, "active", snap.State)

	_, err = svc.CreateSession(id)
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	_, err = svc.Ask(context.Background(), AskRequest{SessionID: id, Question: "hi"})
	require.NoError(t, err)
	assert.Len(t, svc.ListSessions(), 1)

	last, err := svc.History(id, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "hello", last[0].Content)

	require.NoError(t, svc.ClearHistory(id))
	all, err := svc.History(id, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, svc.DeleteSession(id))
	_, err = svc.GetSession(id)
	assert.Equal(t, KindSessionNotFound, KindOf(err))
	assert.Equal(t, KindSessionNotFound, KindOf(svc.DeleteSession(id)))
	_, err = svc.History(id, 0)
	assert.Equal(t, KindSessionNotFound, KindOf(err))
}
