// Package storage holds course documents and their embedded chunks and answers
// nearest-neighbour queries over them.
package storage

import (
	"context"
	"fmt"
)

// Index stores chunks and returns the k most similar to a query embedding.
//
// Results are ordered by descending cosine similarity, ties broken by lower
// SequenceIndex and then by insertion order. Writes are serialized per index
// and a query observes either the state before or after a write, never a
// partially replaced document. All embeddings in an index share one dimension.
type Index interface {
	// Upsert inserts or overwrites a single chunk. An overwritten chunk keeps
	// its original insertion position.
	Upsert(ctx context.Context, chunk Chunk) error
	// ReplaceDocument atomically swaps a document and all of its chunks.
	ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) error
	// Query returns up to k results. k <= 0 or an empty index yields no results.
	Query(ctx context.Context, embedding []float32, k int) ([]Result, error)
	// Delete removes a document and every chunk that belongs to it.
	Delete(ctx context.Context, documentID string) error
	Stats(ctx context.Context) (Stats, error)
	Documents(ctx context.Context) ([]Document, error)
	Document(ctx context.Context, id string) (Document, error)
	Health(ctx context.Context) error
	Close() error
}

// validateChunk checks the fields every backend relies on.
func validateChunk(c Chunk) error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidChunk)
	}
	if c.DocumentID == "" {
		return fmt.Errorf("%w: chunk %s has no document id", ErrInvalidChunk, c.ID)
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("%w: chunk %s has no embedding", ErrInvalidChunk, c.ID)
	}
	return nil
}

// validateReplace checks a document replacement before any backend writes.
func validateReplace(doc Document, chunks []Chunk, dimension int) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document has no id", ErrInvalidChunk)
	}
	dim := dimension
	for i, c := range chunks {
		if err := validateChunk(c); err != nil {
			return err
		}
		if c.DocumentID != doc.ID {
			return fmt.Errorf("%w: chunk %d belongs to %s, not %s", ErrInvalidChunk, i, c.DocumentID, doc.ID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(c.Embedding), dim)
		}
	}
	return nil
}
