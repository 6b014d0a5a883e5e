package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/indexer"
	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/storage"
	"github.com/bull/course-tutor/internal/tutor"
)

type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, p llm.Prompt) (string, error) {
	return "answer", nil
}

func (echoLLM) Stream(context.Context, llm.Prompt) (llm.Stream, error) {
	return &wordStream{words: []string{"a ", "streamed ", "answer"}}, nil
}

type wordStream struct {
	words []string
	cur   string
}

func (s *wordStream) Next() bool {
	if len(s.words) == 0 {
		return false
	}
	s.cur, s.words = s.words[0], s.words[1:]
	return true
}

func (s *wordStream) Fragment() string { return s.cur }
func (s *wordStream) Err() error       { return nil }
func (s *wordStream) Close() error     { return nil }

func newTerminal(t *testing.T, stream bool) (*terminal, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	cfg := config.Default()
	cfg.Embedding.Provider = config.ProviderHash
	cfg.Embedding.Dimension = 64
	cfg.Index.Backend = config.BackendMemory
	svc, err := tutor.New(cfg, tutor.Deps{
		Index:    storage.NewMemory(64),
		Embedder: embedding.NewHashEmbedder(64),
		LLM:      echoLLM{},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	var out bytes.Buffer
	return &terminal{svc: svc, out: &out, stream: stream}, &out
}

func TestTerminalAsk(t *testing.T) {
	term, out := newTerminal(t, false)

	require.NoError(t, term.ask(context.Background(), "What is a limit?"))
	assert.Contains(t, out.String(), "answer\n")
	assert.Contains(t, out.String(), tutor.NoMaterialNotice)
	assert.NotEmpty(t, term.sessionID)
}

func TestTerminalAsk_Streams(t *testing.T) {
	term, out := newTerminal(t, true)

	require.NoError(t, term.ask(context.Background(), "Differentiate `x**3`"))
	assert.Contains(t, out.String(), "a streamed answer\n")
	assert.Contains(t, out.String(), "Verified: 3*x**2")
}

func TestTerminalChat(t *testing.T) {
	term, out := newTerminal(t, true)

	input := strings.Join([]string{
		"What is a limit?",
		"/history",
		"/session",
		"/clear",
		"/history",
		"/quit",
		"never read",
	}, "\n")
	require.NoError(t, term.chat(context.Background(), strings.NewReader(input)))

	text := out.String()
	assert.Contains(t, text, "user: What is a limit?")
	assert.Contains(t, text, "tutor: a streamed answer")
	assert.Contains(t, text, "2 turns")
	assert.Contains(t, text, "Conversation cleared.")
	assert.Contains(t, text, "No conversation yet.")
	assert.NotContains(t, text, "never read")

	// The chat session is removed on exit.
	_, err := term.svc.GetSession(term.sessionID)
	assert.Error(t, err)
}

func TestTerminalCommand_Unknown(t *testing.T) {
	term, _ := newTerminal(t, false)
	snap, err := term.svc.CreateSession("")
	require.NoError(t, err)
	term.sessionID = snap.ID

	quit, err := term.command("/dance")
	assert.False(t, quit)
	assert.ErrorIs(t, err, tutor.ErrInvalidRequest)

	_, err = term.command("/history -1")
	assert.ErrorIs(t, err, tutor.ErrInvalidRequest)
}

func TestPrintIngestResult(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	printIngestResult(&out, &indexer.IndexResult{
		TotalDocs:      3,
		SuccessfulDocs: 2,
		SkippedDocs:    1,
		TotalChunks:    14,
		Duration:       1500 * time.Millisecond,
		FailedDocs:     []indexer.FailedDoc{{Path: "notes.docx", Reason: "unsupported format", Err: errors.New("x")}},
	})

	text := out.String()
	assert.Contains(t, text, "Documents: 2/3 (1 unchanged)")
	assert.Contains(t, text, "Chunks: 14")
	assert.Contains(t, text, "- notes.docx: unsupported format")
	assert.NotContains(t, text, "Commit:")
}
