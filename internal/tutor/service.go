// Package tutor composes retrieval, prompt assembly, the language model,
// symbolic computation and session state into the commands the CLI and the
// MCP server expose.
package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/bull/course-tutor/internal/assembler"
	"github.com/bull/course-tutor/internal/chunker"
	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/github"
	"github.com/bull/course-tutor/internal/indexer"
	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/metadata"
	"github.com/bull/course-tutor/internal/retrieval"
	"github.com/bull/course-tutor/internal/session"
	"github.com/bull/course-tutor/internal/storage"
	"github.com/bull/course-tutor/internal/symbolic"
)

const (
	defaultQuizCount = 3
	maxQuizCount     = 10
)

// Deps are the collaborators a Service is built from.
type Deps struct {
	Index    storage.Index
	Embedder embedding.Gateway
	LLM      llm.Gateway
	Sessions *session.Store // Optional; created from the session config when nil
}

// Service runs tutor commands. It is safe for concurrent use.
type Service struct {
	cfg       config.Config
	index     storage.Index
	pipeline  *indexer.Pipeline
	retriever *retrieval.Retriever
	assembler *assembler.Assembler
	llm       llm.Gateway
	sessions  *session.Store
	computed  *cache.Cache
	logger    *slog.Logger
}

// New creates a service.
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Index == nil || deps.Embedder == nil || deps.LLM == nil {
		return nil, fmt.Errorf("%w: index, embedder and language model are required", config.ErrConfig)
	}

	ch, err := chunker.New(cfg.Chunking.MaxTokens, cfg.Chunking.OverlapTokens)
	if err != nil {
		return nil, err
	}
	var generator *metadata.Generator
	if cfg.GenerateMetadata {
		generator = metadata.NewGenerator(deps.LLM, 0, logger)
	}
	pipeline := indexer.NewPipeline(ch, deps.Embedder, generator, deps.Index, indexer.Options{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		Documents:   cfg.IngestConcurrency,
	}, logger)

	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewStore(cfg.Session.IdleTimeout, logger)
	}

	ttl, cleanup := cache.NoExpiration, time.Duration(0)
	if cfg.ComputeCacheTTL > 0 {
		ttl, cleanup = cfg.ComputeCacheTTL, cfg.ComputeCacheTTL
	}

	return &Service{
		cfg:       cfg,
		index:     deps.Index,
		pipeline:  pipeline,
		retriever: retrieval.New(deps.Embedder, deps.Index, logger),
		assembler: assembler.New(cfg.Prompt),
		llm:       deps.LLM,
		sessions:  sessions,
		computed:  cache.New(ttl, cleanup),
		logger:    logger,
	}, nil
}

// Pipeline returns the ingestion pipeline, for watch mode.
func (s *Service) Pipeline() *indexer.Pipeline { return s.pipeline }

// Config returns the configuration the service was built with.
func (s *Service) Config() config.Config { return s.cfg }

// Health checks the vector index.
func (s *Service) Health(ctx context.Context) error { return s.index.Health(ctx) }

// Close closes every session and the index.
func (s *Service) Close() error {
	s.sessions.Close()
	return s.index.Close()
}

// Ingest indexes files and directories. With a session id the session's
// ingestion counters are updated.
func (s *Service) Ingest(ctx context.Context, sessionID string, paths ...string) (*indexer.IndexResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths to ingest", ErrInvalidRequest)
	}
	sess, err := s.optionalSession(sessionID)
	if err != nil {
		return nil, err
	}
	result, err := s.pipeline.IngestPaths(ctx, paths...)
	if err != nil {
		return result, err
	}
	return result, s.recordIngestion(sess, result)
}

// IngestGitHub indexes the course files under the fetcher's directory.
func (s *Service) IngestGitHub(ctx context.Context, sessionID string, fetcher *github.Fetcher) (*indexer.IndexResult, error) {
	sess, err := s.optionalSession(sessionID)
	if err != nil {
		return nil, err
	}
	result, err := s.pipeline.IngestGitHub(ctx, fetcher)
	if err != nil {
		return result, err
	}
	return result, s.recordIngestion(sess, result)
}

func (s *Service) optionalSession(id string) (*session.Session, error) {
	if id == "" {
		return nil, nil
	}
	return s.sessions.GetOrCreate(id)
}

func (s *Service) recordIngestion(sess *session.Session, result *indexer.IndexResult) error {
	if sess == nil {
		return nil
	}
	return sess.RecordIngestion(result.SuccessfulDocs, result.TotalChunks)
}

// AskRequest is one student question.
type AskRequest struct {
	SessionID     string // Empty starts a new session
	Question      string
	SkipRetrieval bool     // Answer without consulting course material
	TopK          int      // 0 uses the configured value
	MinScore      *float64 // nil uses the configured value
}

// Source is a piece of course material an answer drew on.
type Source struct {
	Source     string  `json:"source"`
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
}

// Answer is the tutor's reply to a question.
type Answer struct {
	SessionID          string
	Text               string
	Sources            []Source
	FromCourseMaterial bool
	Notice             string           // Set when the answer is not grounded in course material
	Verification       *symbolic.Result // Exact result for a detected computation
	VerificationError  *ErrorInfo       // Why a detected computation could not be verified
	PromptTokens       int
}

// pendingTurn is a prepared question whose turn pair is committed only after
// a complete response.
type pendingTurn struct {
	sess     *session.Session
	question string
	prompt   llm.Prompt
	answer   Answer
}

func (s *Service) prepare(ctx context.Context, req AskRequest) (*pendingTurn, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidRequest)
	}
	sess, err := s.sessions.GetOrCreate(req.SessionID)
	if err != nil {
		return nil, err
	}

	answer := Answer{SessionID: sess.ID()}
	var results []storage.Result
	if !req.SkipRetrieval {
		topK := req.TopK
		if topK <= 0 {
			topK = s.cfg.Retrieval.TopK
		}
		minScore := s.cfg.Retrieval.MinScore
		if req.MinScore != nil {
			minScore = *req.MinScore
		}
		if results, err = s.retriever.Retrieve(ctx, question, topK, minScore); err != nil {
			return nil, err
		}
	}

	instructions := tutorInstructions
	if creq, ok := detectComputation(question); ok {
		res, err := s.Compute(ctx, creq)
		if err != nil {
			info := Describe(err)
			answer.VerificationError = &info
			s.logger.Info("computation not verified", "operation", creq.Operation, "error", err)
		} else {
			answer.Verification = &res
			instructions += "\n\n" + verifiedHeader + "\n" + res.Format()
		}
	}

	prompt, report, err := s.assembler.Build(assembler.Input{
		Question:     question + "\n\n" + answerGuidance,
		Results:      results,
		History:      toMessages(sess.History(0)),
		Instructions: instructions,
	})
	if err != nil {
		return nil, err
	}

	answer.FromCourseMaterial = !report.NoContext
	answer.PromptTokens = report.Tokens
	answer.Sources = make([]Source, 0, report.IncludedResults)
	for _, r := range results[:report.IncludedResults] {
		answer.Sources = append(answer.Sources, Source{
			Source:     r.Source(),
			DocumentID: r.DocumentID,
			ChunkID:    r.ChunkID,
			Score:      r.Score,
		})
	}
	switch {
	case req.SkipRetrieval:
		answer.Notice = RetrievalDisabledNotice
	case report.NoContext:
		answer.Notice = NoMaterialNotice
	}

	s.logger.Debug("prompt assembled",
		"session", sess.ID(),
		"tokens", report.Tokens,
		"results", report.IncludedResults,
		"dropped_results", report.DroppedResults,
		"turns", report.IncludedTurns,
	)
	return &pendingTurn{sess: sess, question: question, prompt: prompt, answer: answer}, nil
}

// commit appends the question and the answer to the session as one unit.
func (p *pendingTurn) commit(text string) (*Answer, error) {
	if err := p.sess.Append(
		session.Turn{Role: session.RoleUser, Content: p.question},
		session.Turn{Role: session.RoleTutor, Content: text},
	); err != nil {
		return nil, err
	}
	p.answer.Text = text
	return &p.answer, nil
}

// Ask answers a question and records the exchange in the session.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	turn, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	text, err := s.llm.Generate(ctx, turn.prompt)
	if err != nil {
		return nil, err
	}
	return turn.commit(text)
}

// AskStream answers a question, passing each response fragment to
// onFragment as it arrives. The exchange is recorded only when the whole
// response was received; an error from onFragment or a cancelled ctx leaves
// the session unchanged.
func (s *Service) AskStream(ctx context.Context, req AskRequest, onFragment func(string) error) (*Answer, error) {
	turn, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	stream, err := s.llm.Stream(ctx, turn.prompt)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		fragment := stream.Fragment()
		sb.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return turn.commit(sb.String())
}

// Compute runs a symbolic computation. Results are memoized; failures are
// deterministic and returned as is.
func (s *Service) Compute(ctx context.Context, req symbolic.Request) (symbolic.Result, error) {
	if err := ctx.Err(); err != nil {
		return symbolic.Result{}, err
	}
	key := computeKey(req)
	if v, ok := s.computed.Get(key); ok {
		return v.(symbolic.Result), nil
	}
	res, err := symbolic.Compute(req)
	if err != nil {
		return symbolic.Result{}, err
	}
	s.computed.Set(key, res, cache.DefaultExpiration)
	return res, nil
}

func computeKey(req symbolic.Request) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%s\x00%s",
		req.Operation, strings.TrimSpace(req.Expression), strings.TrimSpace(req.Variable),
		req.Order, strings.TrimSpace(req.Lower), strings.TrimSpace(req.Upper))
}

// QuizRequest asks for practice problems.
type QuizRequest struct {
	Topic         string
	Count         int  // 1 to 10; 0 means 3
	SkipRetrieval bool // Do not ground the problems in course material
}

// Quiz is a set of generated practice problems.
type Quiz struct {
	Topic              string
	Count              int
	Text               string
	Sources            []string
	FromCourseMaterial bool
}

// Quiz generates practice problems on a topic, drawing on matching course
// material when there is any.
func (s *Service) Quiz(ctx context.Context, req QuizRequest) (*Quiz, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: quiz topic is empty", ErrInvalidRequest)
	}
	count := req.Count
	if count == 0 {
		count = defaultQuizCount
	}
	if count < 1 || count > maxQuizCount {
		return nil, fmt.Errorf("%w: quiz count must be between 1 and %d, got %d", ErrInvalidRequest, maxQuizCount, req.Count)
	}

	var results []storage.Result
	if !req.SkipRetrieval {
		var err error
		if results, err = s.retriever.Retrieve(ctx, topic, s.cfg.Retrieval.TopK, s.cfg.Retrieval.MinScore); err != nil {
			return nil, err
		}
	}

	quiz := &Quiz{Topic: topic, Count: count}
	request := quizPrompt(topic, count)
	prompt := llm.Prompt{
		System:   quizInstructions,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: request}},
	}
	if len(results) > 0 {
		built, report, err := s.assembler.Build(assembler.Input{
			Question:     request,
			Results:      results,
			Instructions: quizInstructions,
		})
		if err != nil {
			return nil, err
		}
		if !report.NoContext {
			prompt = built
			quiz.Sources = report.Sources
			quiz.FromCourseMaterial = true
		}
	}

	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	quiz.Text = text
	return quiz, nil
}

// Stats summarizes the index and the tutor's in-memory state.
type Stats struct {
	Backend            string        `json:"backend"`
	Documents          int           `json:"documents"`
	Chunks             int           `json:"chunks"`
	Dimension          int           `json:"dimension"`
	Sessions           int           `json:"sessions"`
	SessionIdleTimeout time.Duration `json:"session_idle_timeout"`
	CachedComputations int           `json:"cached_computations"`
}

// Stats reports index and session counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	is, err := s.index.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Backend:            is.Backend,
		Documents:          is.Documents,
		Chunks:             is.Chunks,
		Dimension:          is.Dimension,
		Sessions:           s.sessions.Count(),
		SessionIdleTimeout: s.sessions.IdleTimeout(),
		CachedComputations: s.computed.ItemCount(),
	}, nil
}

// Documents lists the ingested documents.
func (s *Service) Documents(ctx context.Context) ([]storage.Document, error) {
	return s.index.Documents(ctx)
}

// DeleteDocument removes a document and its chunks.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.index.Document(ctx, id); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document deleted", "document", id)
	return nil
}

// CreateSession starts a session; an empty id gets a generated one.
func (s *Service) CreateSession(id string) (session.Snapshot, error) {
	sess, err := s.sessions.Create(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// GetSession returns a live session's bookkeeping.
func (s *Service) GetSession(id string) (session.Snapshot, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// DeleteSession closes and removes a session.
func (s *Service) DeleteSession(id string) error {
	return s.sessions.Delete(id)
}

// ListSessions returns the live sessions, most recently active first.
func (s *Service) ListSessions() []session.Snapshot {
	return s.sessions.List()
}

// History returns the most recent limit turns of a session; 0 returns all.
func (s *Service) History(id string, limit int) ([]session.Turn, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.History(limit), nil
}

// ClearHistory drops a session's turns.
func (s *Service) ClearHistory(id string) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	return sess.Clear()
}

func toMessages(turns []session.Turn) []llm.Message {
	messages := make([]llm.Message, len(turns))
	for i, t := range turns {
		role := llm.RoleUser
		if t.Role == session.RoleTutor {
			role = llm.RoleAssistant
		}
		messages[i] = llm.Message{Role: role, Content: t.Content}
	}
	return messages
}
