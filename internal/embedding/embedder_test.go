package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/retry"
)

// fakeEmbeddingsServer answers /embeddings requests. failFirst requests fail with status.
func fakeEmbeddingsServer(t *testing.T, dimension int, failFirst int, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if int(n) <= failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"try again","type":"server_error"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, dimension)
			vec[i%dimension] = 1
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test-embedding",
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestEmbedder(t *testing.T, url string, dimension, batchSize int) *Embedder {
	t.Helper()
	client, err := NewClient(config.ProviderOpenAI, "sk-test", url, config.AzureConfig{})
	require.NoError(t, err)

	return NewEmbedder(client, config.EmbeddingConfig{
		Model:     "test-embedding",
		Dimension: dimension,
		BatchSize: batchSize,
	}, retry.Policy{
		MaxAttempts:     3,
		AttemptTimeout:  2 * time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, nil)
}

func TestEmbedder_BatchesInOrder(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 4, 0, 0)
	e := newTestEmbedder(t, srv.URL, 4, 2)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, int32(2), calls.Load(), "3 texts with batch size 2 need 2 requests")
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestEmbedder_RetriesRateLimit(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 4, 2, http.StatusTooManyRequests)
	e := newTestEmbedder(t, srv.URL, 4, 10)

	vec, err := e.Embed(context.Background(), "limits")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_GatewayErrorAfterRetries(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 4, 100, http.StatusServiceUnavailable)
	e := newTestEmbedder(t, srv.URL, 4, 10)

	_, err := e.Embed(context.Background(), "limits")
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_ClientErrorNotRetried(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 4, 100, http.StatusBadRequest)
	e := newTestEmbedder(t, srv.URL, 4, 10)

	_, err := e.Embed(context.Background(), "limits")
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedder_DimensionMismatchIsPermanent(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 3, 0, 0)
	e := newTestEmbedder(t, srv.URL, 4, 10)

	_, err := e.Embed(context.Background(), "limits")
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := NewClient(config.ProviderOpenAI, "", "", config.AzureConfig{})
	assert.ErrorIs(t, err, config.ErrConfig)

	_, err = NewClient(config.ProviderAzure, "", "", config.AzureConfig{Endpoint: "https://example.openai.azure.com"})
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := h.Embed(ctx, "The chain rule for derivatives")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "The chain rule for derivatives")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashEmbedder_SimilarityTracksSharedWords(t *testing.T) {
	h := NewHashEmbedder(512)
	ctx := context.Background()

	query, _ := h.Embed(ctx, "chain rule derivatives")
	near, _ := h.Embed(ctx, "derivatives obey the chain rule")
	far, _ := h.Embed(ctx, "integration by parts")

	assert.Greater(t, dot(query, near), dot(query, far))
	assert.Less(t, dot(query, far), 0.5)
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	vec, err := NewHashEmbedder(8).Embed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func ExampleHashEmbedder() {
	h := NewHashEmbedder(16)
	vec, _ := h.Embed(context.Background(), "limits")
	fmt.Println(len(vec))
	// Output: 16
}
