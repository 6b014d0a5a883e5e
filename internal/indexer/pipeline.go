// Package indexer turns course files into embedded chunks in a vector index.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/course-tutor/internal/chunker"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/extract"
	"github.com/bull/course-tutor/internal/markdown"
	"github.com/bull/course-tutor/internal/metadata"
	"github.com/bull/course-tutor/internal/storage"
)

// IndexResult contains statistics about an indexing operation.
type IndexResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	SkippedDocs    int // Unchanged since the last ingestion
	FailedDocs     []FailedDoc
	CommitSHA      string // Set for GitHub ingestion
	Duration       time.Duration
}

// FailedDoc represents a document that failed to index.
type FailedDoc struct {
	Path   string
	Reason string
	Err    error
}

// merge adds other's counts to r.
func (r *IndexResult) merge(other *IndexResult) {
	r.TotalDocs += other.TotalDocs
	r.TotalChunks += other.TotalChunks
	r.SuccessfulDocs += other.SuccessfulDocs
	r.SkippedDocs += other.SkippedDocs
	r.FailedDocs = append(r.FailedDocs, other.FailedDocs...)
}

// Source is one course file ready for ingestion.
type Source struct {
	SourcePath string // Stable identifier; the document ID derives from it
	Format     extract.Format
	Data       []byte
}

// Options tunes a pipeline.
type Options struct {
	BatchSize   int  // Texts per embedding request
	Concurrency int  // Embedding requests in flight per document
	Documents   int  // Documents processed at once
	Force       bool // Re-ingest documents whose content is unchanged
}

// Pipeline orchestrates extraction, chunking, embedding and storage.
type Pipeline struct {
	chunker   *chunker.Chunker
	outliner  *markdown.Outliner
	embedder  embedding.Gateway
	generator *metadata.Generator
	index     storage.Index
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a new indexing pipeline. generator may be nil to skip
// summaries and topics.
func NewPipeline(
	chunker *chunker.Chunker,
	embedder embedding.Gateway,
	generator *metadata.Generator,
	index storage.Index,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Documents <= 0 {
		opts.Documents = 1
	}
	return &Pipeline{
		chunker:   chunker,
		outliner:  markdown.NewOutliner(),
		embedder:  embedder,
		generator: generator,
		index:     index,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// IngestSources indexes each source, up to Options.Documents at a time.
// Failures are recorded per document and never abort the remaining sources;
// only cancellation does.
func (p *Pipeline) IngestSources(ctx context.Context, sources []Source) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{TotalDocs: len(sources)}

	type outcome struct {
		done    bool
		chunks  int
		skipped bool
		err     error
	}
	outcomes := make([]outcome, len(sources))

	g := new(errgroup.Group)
	g.SetLimit(p.opts.Documents)
	for i, src := range sources {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			chunks, skipped, err := p.processDocument(ctx, src)
			outcomes[i] = outcome{done: err == nil || ctx.Err() == nil, chunks: chunks, skipped: skipped, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case !o.done:
		case o.err != nil:
			p.logger.Warn("Failed to process document", "path", sources[i].SourcePath, "error", o.err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{
				Path:   sources[i].SourcePath,
				Reason: o.err.Error(),
				Err:    o.err,
			})
		case o.skipped:
			result.SkippedDocs++
		default:
			result.SuccessfulDocs++
			result.TotalChunks += o.chunks
		}
	}

	result.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	p.logger.Info("Indexing complete",
		"successful", result.SuccessfulDocs,
		"skipped", result.SkippedDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// processDocument handles the full pipeline for a single document.
// Returns the number of chunks stored, or skipped when the content is unchanged.
func (p *Pipeline) processDocument(ctx context.Context, src Source) (int, bool, error) {
	text, err := extract.ExtractBytes(src.SourcePath, src.Data, src.Format)
	if err != nil {
		return 0, false, fmt.Errorf("extract: %w", err)
	}

	doc := storage.Document{
		ID:          storage.DocumentID(src.SourcePath),
		SourcePath:  src.SourcePath,
		Format:      string(src.Format),
		IngestedAt:  p.now().UTC(),
		ContentHash: storage.ContentHash(text),
	}

	if !p.opts.Force {
		if existing, err := p.index.Document(ctx, doc.ID); err == nil && existing.ContentHash == doc.ContentHash {
			p.logger.Debug("Document unchanged", "path", src.SourcePath)
			return 0, true, nil
		}
	}

	pieces := p.chunker.Chunk(text)
	p.logger.Debug("Chunked document", "path", src.SourcePath, "chunks", len(pieces))

	var sections []markdown.Section
	if src.Format == extract.FormatMarkdown {
		sections, err = p.outliner.Outline([]byte(text))
		if err != nil {
			p.logger.Warn("Markdown outline failed, continuing without header paths", "path", src.SourcePath, "error", err)
		}
	}

	chunks := make([]storage.Chunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		meta := map[string]string{
			storage.MetaSourcePath: src.SourcePath,
			storage.MetaFormat:     string(src.Format),
			storage.MetaStartToken: strconv.Itoa(piece.StartToken),
			storage.MetaEndToken:   strconv.Itoa(piece.EndToken),
		}
		texts[i] = piece.Text
		if header := markdown.HeaderPathAt(sections, piece.Offset); header != "" {
			meta[storage.MetaHeaderPath] = header
			// Header path gives the embedding the section context
			texts[i] = header + "\n\n" + piece.Text
		}
		chunks[i] = storage.Chunk{
			ID:            storage.ChunkID(doc.ID, doc.ContentHash, piece.Index),
			DocumentID:    doc.ID,
			SequenceIndex: piece.Index,
			Text:          piece.Text,
			TokenCount:    piece.TokenCount,
			Metadata:      meta,
		}
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return 0, false, fmt.Errorf("embeddings: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if p.generator != nil && len(pieces) > 0 {
		meta, err := p.generator.GenerateMetadata(ctx, src.SourcePath, text)
		if err != nil {
			p.logger.Warn("Metadata generation failed, using empty", "path", src.SourcePath, "error", err)
		} else {
			doc.Summary = meta.Summary
			doc.Topics = meta.Topics
		}
	}

	// The document becomes visible only once every chunk is embedded.
	if err := p.index.ReplaceDocument(ctx, doc, chunks); err != nil {
		return 0, false, fmt.Errorf("store document: %w", err)
	}

	p.logger.Info("Indexed document", "path", src.SourcePath, "chunks", len(chunks))
	return len(chunks), false, nil
}

// embed computes embeddings in batches with bounded parallelism, preserving order.
func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for start := 0; start < len(texts); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(texts))
		g.Go(func() error {
			batch, err := p.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("%w: got %d embeddings for %d texts", embedding.ErrGateway, len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// DeleteSource removes a document and its chunks by source path.
func (p *Pipeline) DeleteSource(ctx context.Context, sourcePath string) error {
	if err := p.index.Delete(ctx, storage.DocumentID(sourcePath)); err != nil {
		return fmt.Errorf("delete %s: %w", sourcePath, err)
	}
	p.logger.Info("Removed document", "path", sourcePath)
	return nil
}
