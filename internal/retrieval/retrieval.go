// Package retrieval finds the course material most relevant to a question.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/storage"
)

// ErrRetrievalUnavailable reports that the query could not be embedded or the
// index could not be searched. It is never returned for "nothing relevant".
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Retriever embeds a question and returns the index's best matches above a
// relevance floor.
type Retriever struct {
	embedder embedding.Gateway
	index    storage.Index
	logger   *slog.Logger
}

// New creates a retriever.
func New(embedder embedding.Gateway, index storage.Index, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Retrieve returns up to k results scoring at least minScore, best first.
// An empty question, an empty index or no result above minScore all yield an
// empty slice and a nil error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, minScore float64) ([]storage.Result, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return []storage.Result{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}

	candidates, err := r.index.Query(ctx, vec, k)
	if err != nil {
		if errors.Is(err, storage.ErrDimensionMismatch) {
			// Configuration problem, not a transient outage.
			return nil, fmt.Errorf("query index: %w", err)
		}
		return nil, fmt.Errorf("%w: query index: %w", ErrRetrievalUnavailable, err)
	}

	results := make([]storage.Result, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= minScore {
			results = append(results, c)
		}
	}

	r.logger.Debug("retrieved course material",
		"candidates", len(candidates),
		"kept", len(results),
		"min_score", minScore,
	)
	return results, nil
}
