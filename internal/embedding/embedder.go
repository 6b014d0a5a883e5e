// Package embedding maps text to vectors through a remote model or a local
// deterministic hashing scheme.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"golang.org/x/time/rate"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/retry"
)

// ErrGateway reports that the embedding service failed after bounded retries.
var ErrGateway = errors.New("embedding gateway error")

var errBadResponse = errors.New("malformed embedding response")

// Gateway produces fixed-dimension embeddings.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Embedder generates embeddings through the OpenAI embeddings API.
// It batches requests, throttles calls and retries transient failures.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
	policy    retry.Policy
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewEmbedder creates an Embedder. A nil logger uses slog.Default().
func NewEmbedder(client *Client, cfg config.EmbeddingConfig, policy retry.Policy, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	return &Embedder{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batchSize,
		policy:    policy,
		limiter:   limiter,
		logger:    logger,
	}
}

// Dimension returns the vector size this embedder produces.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding per text, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		vectors, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %w", ErrGateway, i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

// embedBatchWithRetry embeds a single batch. Rate limits, server errors and
// timeouts are retried; other API errors fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(e.model),
	}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	var embeddings [][]float32
	attempt := 0
	err := retry.Do(ctx, e.policy, isRetryable, func(ctx context.Context) error {
		attempt++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		resp, err := e.client.client.Embeddings.New(ctx, params)
		if err != nil {
			e.logger.Warn("embedding request failed", "attempt", attempt, "texts", len(texts), "error", err)
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: expected %d embeddings, got %d", errBadResponse, len(texts), len(resp.Data))
		}

		embeddings = make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(texts) {
				return fmt.Errorf("%w: embedding index %d out of range", errBadResponse, data.Index)
			}
			if len(data.Embedding) != e.dimension {
				return fmt.Errorf("%w: model returned %d dimensions, expected %d", errBadResponse, len(data.Embedding), e.dimension)
			}
			embeddings[int(data.Index)] = toFloat32(data.Embedding)
		}
		return nil
	})
	return embeddings, err
}

// isRetryable treats rate limits (HTTP 429), server errors, network failures
// and attempt timeouts as transient.
func isRetryable(err error) bool {
	if errors.Is(err, errBadResponse) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
