package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, path string, dimension int) *SQLite {
	t.Helper()
	idx, err := NewSQLite(context.Background(), path, dimension, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSQLiteIndexContract(t *testing.T) {
	runIndexContract(t, func(t *testing.T) Index {
		return openTestSQLite(t, filepath.Join(t.TempDir(), "index.db"), testDimension)
	}, true)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.db")

	doc := testDocument("notes/persist.md")
	doc.Summary = "Limits and continuity"
	doc.Topics = []string{"limits", "continuity"}

	first, err := NewSQLite(ctx, path, testDimension, nil)
	require.NoError(t, err)
	require.NoError(t, first.ReplaceDocument(ctx, doc, []Chunk{testChunk(doc, 0, "tie-a", 1, 0, 0)}))
	other := testDocument("notes/other.md")
	require.NoError(t, first.ReplaceDocument(ctx, other, []Chunk{testChunk(other, 0, "tie-b", 1, 0, 0)}))
	before, err := first.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Dimension 0 adopts the stored dimension.
	second := openTestSQLite(t, path, 0)
	after, err := second.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, chunkIDs(before), chunkIDs(after))

	stored, err := second.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Summary, stored.Summary)
	assert.Equal(t, doc.Topics, stored.Topics)
	assert.True(t, doc.IngestedAt.Equal(stored.IngestedAt))
	assert.Equal(t, 1, stored.ChunkCount)

	stats, err := second.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Backend: "sqlite", Documents: 2, Chunks: 2, Dimension: testDimension}, stats)
}

func TestSQLite_RejectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := NewSQLite(ctx, path, testDimension, nil)
	require.NoError(t, err)
	doc := testDocument("notes/dim.md")
	require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{testChunk(doc, 0, "a", 1, 0, 0)}))
	require.NoError(t, idx.Close())

	_, err = NewSQLite(ctx, path, 8, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSQLite_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	first := openTestSQLite(t, path, testDimension)
	require.NoError(t, first.Close())

	second := openTestSQLite(t, path, testDimension)
	var versions int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 1, versions)
	assert.NoError(t, second.Health(context.Background()))
	assert.Equal(t, path, second.Path())
}

func TestEmbeddingEncoding(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3e-7}
	assert.Equal(t, vec, decodeEmbedding(encodeEmbedding(vec)))
}
