//go:build integration

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var pgDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("tutor"),
		postgres.WithUsername("tutor"),
		postgres.WithPassword("tutor"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err == nil {
		pgDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	}
	if err != nil {
		// Leave pgDSN empty; pgvector tests skip.
		pgDSN = ""
	}

	code := m.Run()

	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func openTestPGVector(t *testing.T) *PGVector {
	t.Helper()
	if pgDSN == "" {
		t.Skip("postgres container not available")
	}
	ctx := context.Background()
	idx, err := NewPGVector(ctx, pgDSN, testDimension, nil)
	require.NoError(t, err)
	_, err = idx.db.ExecContext(ctx, "TRUNCATE tutor_chunks, tutor_documents RESTART IDENTITY")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestPGVectorIndexContract(t *testing.T) {
	runIndexContract(t, func(t *testing.T) Index {
		return openTestPGVector(t)
	}, true)
}

func TestPGVector_DocumentTopics(t *testing.T) {
	idx := openTestPGVector(t)
	ctx := context.Background()

	doc := testDocument("notes/series.md")
	doc.Topics = []string{"ratio test", "power series"}
	require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{testChunk(doc, 0, "series", 1, 0, 0)}))

	stored, err := idx.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Topics, stored.Topics)
	assert.True(t, doc.IngestedAt.Equal(stored.IngestedAt))
}

func TestPGVector_RejectsDimensionChange(t *testing.T) {
	openTestPGVector(t)
	_, err := NewPGVector(context.Background(), pgDSN, testDimension+5, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
