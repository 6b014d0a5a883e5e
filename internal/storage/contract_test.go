package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 3

func testDocument(path string) Document {
	return Document{
		ID:          DocumentID(path),
		SourcePath:  path,
		Format:      "md",
		IngestedAt:  time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		ContentHash: ContentHash(path),
	}
}

func testChunk(doc Document, seq int, text string, vec ...float32) Chunk {
	return Chunk{
		ID:            ChunkID(doc.ID, doc.ContentHash, seq),
		DocumentID:    doc.ID,
		SequenceIndex: seq,
		Text:          text,
		TokenCount:    len(text),
		Embedding:     vec,
		Metadata:      map[string]string{MetaSourcePath: doc.SourcePath},
	}
}

func chunkIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

// runIndexContract exercises the behaviour every Index backend must share.
// atomicReplace enables the check that queries never observe two versions of
// a document at once.
func runIndexContract(t *testing.T, newIndex func(t *testing.T) Index, atomicReplace bool) {
	ctx := context.Background()

	t.Run("EmptyIndexReturnsNoResults", func(t *testing.T) {
		idx := newIndex(t)
		results, err := idx.Query(ctx, []float32{1, 0, 0}, 3)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("NonPositiveKReturnsNoResults", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/limits.md")
		require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{testChunk(doc, 0, "limits", 1, 0, 0)}))

		for _, k := range []int{0, -1} {
			results, err := idx.Query(ctx, []float32{1, 0, 0}, k)
			require.NoError(t, err)
			assert.Empty(t, results)
		}
	})

	t.Run("OrdersByScoreThenSequence", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/derivatives.md")
		chunks := []Chunk{
			testChunk(doc, 0, "far", 0, 1, 0),
			testChunk(doc, 1, "exact", 1, 0, 0),
			testChunk(doc, 2, "tied-late", 1, 1, 0),
			testChunk(doc, 3, "tied-later-seq", 1, 1, 0),
		}
		require.NoError(t, idx.ReplaceDocument(ctx, doc, chunks))

		results, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, "exact", results[0].Text)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, "tied-late", results[1].Text, "equal scores break ties by lower sequence index")
		assert.Equal(t, "tied-later-seq", results[2].Text)
		assert.Equal(t, "far", results[3].Text)

		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("KLargerThanIndex", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/series.md")
		require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{
			testChunk(doc, 0, "a", 1, 0, 0),
			testChunk(doc, 1, "b", 0, 1, 0),
		}))

		results, err := idx.Query(ctx, []float32{1, 0, 0}, 50)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("PrefixStableAcrossK", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/integrals.md")
		var chunks []Chunk
		for i := 0; i < 6; i++ {
			chunks = append(chunks, testChunk(doc, i, fmt.Sprintf("c%d", i), 1, float32(i)/10, 0))
		}
		require.NoError(t, idx.ReplaceDocument(ctx, doc, chunks))

		all, err := idx.Query(ctx, []float32{1, 0, 0}, 6)
		require.NoError(t, err)
		for k := 1; k <= 6; k++ {
			prefix, err := idx.Query(ctx, []float32{1, 0, 0}, k)
			require.NoError(t, err)
			assert.Equal(t, chunkIDs(all[:k]), chunkIDs(prefix))
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/vectors.md")
		require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{testChunk(doc, 0, "v", 1, 0, 0)}))

		_, err := idx.Query(ctx, []float32{1, 0}, 1)
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		err = idx.Upsert(ctx, testChunk(doc, 1, "w", 1, 0, 0, 0))
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("UpsertOverwriteKeepsPosition", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/ties.md")
		first := testChunk(doc, 0, "first", 1, 0, 0)
		second := testChunk(doc, 0, "second", 1, 0, 0)
		second.ID = "11111111-1111-5111-8111-111111111111"
		require.NoError(t, idx.Upsert(ctx, first))
		require.NoError(t, idx.Upsert(ctx, second))

		first.Text = "first-updated"
		require.NoError(t, idx.Upsert(ctx, first))

		results, err := idx.Query(ctx, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "first-updated", results[0].Text)
		assert.Equal(t, "second", results[1].Text)
	})

	t.Run("StatsCountUpsertedDocuments", func(t *testing.T) {
		idx := newIndex(t)
		loose := testDocument("notes/loose.md")
		registered := testDocument("notes/registered.md")
		require.NoError(t, idx.Upsert(ctx, testChunk(loose, 0, "loose", 1, 0, 0)))
		require.NoError(t, idx.ReplaceDocument(ctx, registered, []Chunk{testChunk(registered, 0, "kept", 0, 1, 0)}))

		stats, err := idx.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Documents)
		assert.Equal(t, 2, stats.Chunks)

		require.NoError(t, idx.Delete(ctx, loose.ID))
		stats, err = idx.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Documents)
		assert.Equal(t, 1, stats.Chunks)
	})

	t.Run("ReplaceDocumentSwapsChunks", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/limits.md")
		require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{
			testChunk(doc, 0, "old-0", 1, 0, 0),
			testChunk(doc, 1, "old-1", 1, 0, 0),
			testChunk(doc, 2, "old-2", 1, 0, 0),
		}))

		doc.ContentHash = ContentHash("v2")
		require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{testChunk(doc, 0, "new-0", 1, 0, 0)}))

		results, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "new-0", results[0].Text)

		stored, err := idx.Document(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.ChunkCount)
		assert.Equal(t, doc.ContentHash, stored.ContentHash)
	})

	t.Run("ReplaceDocumentRejectsMixedDimensions", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/bad.md")
		err := idx.ReplaceDocument(ctx, doc, []Chunk{
			testChunk(doc, 0, "a", 1, 0, 0),
			testChunk(doc, 1, "b", 1, 0),
		})
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		stats, err := idx.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Chunks)
		assert.Zero(t, stats.Documents)
	})

	t.Run("DeleteRemovesDocumentAndChunks", func(t *testing.T) {
		idx := newIndex(t)
		keep := testDocument("notes/keep.md")
		drop := testDocument("notes/drop.md")
		require.NoError(t, idx.ReplaceDocument(ctx, keep, []Chunk{testChunk(keep, 0, "keep", 1, 0, 0)}))
		require.NoError(t, idx.ReplaceDocument(ctx, drop, []Chunk{
			testChunk(drop, 0, "drop-0", 1, 0, 0),
			testChunk(drop, 1, "drop-1", 0, 1, 0),
		}))

		require.NoError(t, idx.Delete(ctx, drop.ID))
		require.NoError(t, idx.Delete(ctx, drop.ID), "deleting twice is a no-op")

		results, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, keep.ID, results[0].DocumentID)

		_, err = idx.Document(ctx, drop.ID)
		assert.ErrorIs(t, err, ErrDocumentNotFound)

		docs, err := idx.Documents(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "notes/keep.md", docs[0].SourcePath)
	})

	t.Run("ResultsCarryMetadata", func(t *testing.T) {
		idx := newIndex(t)
		doc := testDocument("notes/chain-rule.md")
		c := testChunk(doc, 0, "chain rule", 1, 0, 0)
		c.Metadata[MetaHeaderPath] = "# Derivatives > ## Chain rule"
		require.NoError(t, idx.ReplaceDocument(ctx, doc, []Chunk{c}))

		results, err := idx.Query(ctx, []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "notes/chain-rule.md > # Derivatives > ## Chain rule", results[0].Source())
	})

	t.Run("ConcurrentQueriesDuringReplace", func(t *testing.T) {
		if !atomicReplace {
			t.Skip("backend publishes replacements in several steps")
		}
		idx := newIndex(t)
		doc := testDocument("notes/concurrent.md")
		makeChunks := func(version string, n int) []Chunk {
			d := doc
			d.ContentHash = ContentHash(version)
			chunks := make([]Chunk, n)
			for i := range chunks {
				chunks[i] = testChunk(d, i, version, 1, 0, 0)
			}
			return chunks
		}
		require.NoError(t, idx.ReplaceDocument(ctx, doc, makeChunks("v0", 4)))

		var wg sync.WaitGroup
		stop := make(chan struct{})
		errs := make(chan error, 1)
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					results, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
					if err != nil {
						select {
						case errs <- err:
						default:
						}
						return
					}
					// All results must come from a single version.
					for _, r := range results {
						if r.Text != results[0].Text {
							select {
							case errs <- fmt.Errorf("mixed versions %q and %q", results[0].Text, r.Text):
							default:
							}
							return
						}
					}
				}
			}()
		}

		for v := 1; v <= 5; v++ {
			d := doc
			d.ContentHash = ContentHash(fmt.Sprintf("v%d", v))
			require.NoError(t, idx.ReplaceDocument(ctx, d, makeChunks(fmt.Sprintf("v%d", v), 4)))
		}
		close(stop)
		wg.Wait()

		select {
		case err := <-errs:
			t.Fatal(err)
		default:
		}
	})
}
