package indexer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	gogithub "github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/course-tutor/internal/chunker"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/extract"
	"github.com/bull/course-tutor/internal/github"
	"github.com/bull/course-tutor/internal/storage"
)

const testDim = 64

const derivativesNotes = `# Derivatives

The derivative measures the instantaneous rate of change of a function.

## Chain rule

The chain rule differentiates a composition: (f(g(x)))' = f'(g(x)) * g'(x).
`

// failingEmbedder fails every call after the first ok calls.
type failingEmbedder struct {
	*embedding.HashEmbedder
	ok    int32
	calls atomic.Int32
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) > f.ok {
		return nil, embedding.ErrGateway
	}
	return f.HashEmbedder.EmbedBatch(ctx, texts)
}

func newTestPipeline(t *testing.T, embedder embedding.Gateway, opts Options) (*Pipeline, *storage.Memory) {
	t.Helper()
	c, err := chunker.New(50, 10)
	require.NoError(t, err)
	idx := storage.NewMemory(testDim)
	return NewPipeline(c, embedder, nil, idx, opts, nil), idx
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPipeline_IngestDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "derivatives.md"), derivativesNotes)
	writeFile(t, filepath.Join(dir, "week2", "limits.txt"), "A limit describes the value a function approaches.")
	writeFile(t, filepath.Join(dir, ".draft.md"), "# Hidden")
	writeFile(t, filepath.Join(dir, "diagram.png"), "not text")

	p, idx := newTestPipeline(t, embedding.NewHashEmbedder(testDim), Options{})
	ctx := context.Background()

	result, err := p.IngestPaths(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDocs)
	assert.Equal(t, 2, result.SuccessfulDocs)
	assert.Empty(t, result.FailedDocs)

	docs, err := idx.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "md", docs[0].Format)
	assert.True(t, filepath.IsAbs(docs[0].SourcePath))
	assert.Equal(t, docs[0].ID, storage.DocumentID(docs[0].SourcePath))

	query, err := embedding.NewHashEmbedder(testDim).Embed(ctx, "chain rule composition")
	require.NoError(t, err)
	results, err := idx.Query(ctx, query, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "chain rule")
	assert.Equal(t, "# Derivatives", results[0].Metadata[storage.MetaHeaderPath])
	assert.Equal(t, "md", results[0].Metadata[storage.MetaFormat])
}

func TestPipeline_SkipsUnchangedAndReplacesChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.txt")
	writeFile(t, path, "A geometric series converges when the ratio is below one.")

	p, idx := newTestPipeline(t, embedding.NewHashEmbedder(testDim), Options{})
	ctx := context.Background()

	_, err := p.IngestPaths(ctx, path)
	require.NoError(t, err)

	again, err := p.IngestPaths(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, again.SkippedDocs)
	assert.Zero(t, again.SuccessfulDocs)

	long := strings.Repeat("The ratio test compares consecutive terms. ", 30)
	writeFile(t, path, long)
	changed, err := p.IngestPaths(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, changed.SuccessfulDocs)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, changed.TotalChunks, stats.Chunks)
	assert.Greater(t, stats.Chunks, 1)
}

func TestPipeline_ForceReingests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, path, derivativesNotes)

	p, _ := newTestPipeline(t, embedding.NewHashEmbedder(testDim), Options{Force: true})
	ctx := context.Background()

	_, err := p.IngestPaths(ctx, path)
	require.NoError(t, err)
	again, err := p.IngestPaths(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, again.SuccessfulDocs)
	assert.Zero(t, again.SkippedDocs)
}

func TestPipeline_FailuresArePerDocument(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	writeFile(t, good, "Integration by parts reverses the product rule.")
	unsupported := filepath.Join(dir, "slides.pptx")
	writeFile(t, unsupported, "binary")

	p, _ := newTestPipeline(t, embedding.NewHashEmbedder(testDim), Options{})

	result, err := p.IngestPaths(context.Background(), filepath.Join(dir, "missing.md"), unsupported, good)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalDocs)
	assert.Equal(t, 1, result.SuccessfulDocs)
	require.Len(t, result.FailedDocs, 2)
	assert.ErrorIs(t, result.FailedDocs[1].Err, extract.ErrUnsupportedFormat)
}

func TestPipeline_EmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.txt")
	writeFile(t, path, strings.Repeat("Taylor polynomials approximate smooth functions. ", 40))

	embedder := &failingEmbedder{HashEmbedder: embedding.NewHashEmbedder(testDim), ok: 1}
	p, idx := newTestPipeline(t, embedder, Options{BatchSize: 2, Concurrency: 1})

	result, err := p.IngestPaths(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.FailedDocs, 1)
	assert.ErrorIs(t, result.FailedDocs[0].Err, embedding.ErrGateway)

	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, stats.Documents)
}

func TestPipeline_ParallelBatchesKeepOrder(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "Fact %d holds. ", i)
	}
	hash := embedding.NewHashEmbedder(testDim * 4)
	c, err := chunker.New(50, 10)
	require.NoError(t, err)
	idx := storage.NewMemory(0)
	p := NewPipeline(c, hash, nil, idx, Options{BatchSize: 2, Concurrency: 4}, nil)
	ctx := context.Background()

	result, err := p.IngestSources(ctx, []Source{{SourcePath: "mem:facts.txt", Format: extract.FormatText, Data: []byte(sb.String())}})
	require.NoError(t, err)
	require.Greater(t, result.TotalChunks, 4)

	doc, err := idx.Document(ctx, storage.DocumentID("mem:facts.txt"))
	require.NoError(t, err)
	assert.Equal(t, result.TotalChunks, doc.ChunkCount)

	probe := make([]float32, testDim*4)
	probe[0] = 1
	all, err := idx.Query(ctx, probe, result.TotalChunks)
	require.NoError(t, err)
	require.Len(t, all, result.TotalChunks)

	// Each stored chunk must carry the embedding of its own text.
	for _, chunk := range all {
		vec, err := hash.Embed(ctx, chunk.Text)
		require.NoError(t, err)
		results, err := idx.Query(ctx, vec, 1)
		require.NoError(t, err)
		assert.Equal(t, chunk.SequenceIndex, results[0].SequenceIndex)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	}
}

func TestPipeline_DeleteSource(t *testing.T) {
	p, idx := newTestPipeline(t, embedding.NewHashEmbedder(testDim), Options{})
	ctx := context.Background()
	_, err := p.IngestSources(ctx, []Source{{SourcePath: "mem:a.txt", Format: extract.FormatText, Data: []byte("alpha")}})
	require.NoError(t, err)

	require.NoError(t, p.DeleteSource(ctx, "mem:a.txt"))
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
}

func TestPipeline_IngestGitHub(t *testing.T) {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/repos/uni/calculus/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{{"sha": "c0ffee"}})
	})
	mux.HandleFunc("/repos/uni/calculus/contents/notes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{
			{"type": "file", "name": "limits.md", "path": "notes/limits.md"},
			{"type": "file", "name": "broken.txt", "path": "notes/broken.txt"},
		})
	})
	mux.HandleFunc("/repos/uni/calculus/contents/notes/limits.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"type": "file", "name": "limits.md", "sha": "1",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Limits\n\nEpsilon-delta definition.")),
		})
	})
	mux.HandleFunc("/repos/uni/calculus/contents/notes/broken.txt", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gh := gogithub.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base
	fetcher := github.NewFetcher(&github.Client{Client: gh}, "uni", "calculus", "notes", "")

	p, idx := newTestPipeline(t, embedding.NewHashEmbedder(testDim), Options{})
	result, err := p.IngestGitHub(context.Background(), fetcher)
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", result.CommitSHA)
	assert.Equal(t, 2, result.TotalDocs)
	assert.Equal(t, 1, result.SuccessfulDocs)
	assert.Len(t, result.FailedDocs, 1)

	_, err = idx.Document(context.Background(), storage.DocumentID("github:uni/calculus/notes/limits.md"))
	assert.NoError(t, err)
}

func TestHandleFsEvent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.md")
	writeFile(t, file, "# Notes")
	sub := filepath.Join(dir, "week3")
	require.NoError(t, os.Mkdir(sub, 0o755))

	tests := []struct {
		name     string
		event    fsnotify.Event
		expected Change
		ok       bool
	}{
		{"create file", fsnotify.Event{Name: file, Op: fsnotify.Create}, Change{ChangeUpdated, file}, true},
		{"write file", fsnotify.Event{Name: file, Op: fsnotify.Write}, Change{ChangeUpdated, file}, true},
		{"remove file", fsnotify.Event{Name: filepath.Join(dir, "gone.pdf"), Op: fsnotify.Remove}, Change{ChangeDeleted, filepath.Join(dir, "gone.pdf")}, true},
		{"rename file", fsnotify.Event{Name: filepath.Join(dir, "old.txt"), Op: fsnotify.Rename}, Change{ChangeDeleted, filepath.Join(dir, "old.txt")}, true},
		{"chmod ignored", fsnotify.Event{Name: file, Op: fsnotify.Chmod}, Change{}, false},
		{"directory ignored", fsnotify.Event{Name: sub, Op: fsnotify.Create}, Change{}, false},
		{"hidden ignored", fsnotify.Event{Name: filepath.Join(dir, ".notes.md.swp"), Op: fsnotify.Write}, Change{}, false},
		{"unsupported ignored", fsnotify.Event{Name: filepath.Join(dir, "x.png"), Op: fsnotify.Remove}, Change{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, ok := handleFsEvent(tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, change)
		})
	}
}

func TestPipeline_Watch(t *testing.T) {
	dir := t.TempDir()
	p, idx := newTestPipeline(t, embedding.NewHashEmbedder(testDim), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Change, 10)
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, []string{dir}, 20*time.Millisecond, func(c Change, _ *IndexResult, err error) {
			if err == nil {
				select {
				case changes <- c:
				default:
				}
			}
		})
	}()

	path := filepath.Join(dir, "new.txt")
	deadline := time.After(5 * time.Second)
	// The watcher registers asynchronously; rewrite until it reports.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for got := false; !got; {
		select {
		case c := <-changes:
			assert.Equal(t, ChangeUpdated, c.Type)
			got = true
		case <-ticker.C:
			writeFile(t, path, "L'Hopital's rule resolves indeterminate forms.")
		case <-deadline:
			t.Fatal("timeout waiting for file change")
		}
	}

	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	_, err = idx.Document(context.Background(), storage.DocumentID(abs))
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestIndexResult_Merge(t *testing.T) {
	r := &IndexResult{TotalDocs: 1, SuccessfulDocs: 1, TotalChunks: 3}
	r.merge(&IndexResult{TotalDocs: 2, SkippedDocs: 1, FailedDocs: []FailedDoc{{Path: "x", Err: errors.New("boom")}}})
	assert.Equal(t, 3, r.TotalDocs)
	assert.Equal(t, 1, r.SkippedDocs)
	assert.Len(t, r.FailedDocs, 1)
}
