package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PGVector is an Index stored in PostgreSQL with the pgvector extension.
// Replacements run in one transaction, so readers see either version of a
// document but never both.
type PGVector struct {
	db        *sql.DB
	dimension int
	writeMu   sync.Mutex
	logger    *slog.Logger
}

// NewPGVector connects to dsn and prepares the schema for the given dimension.
func NewPGVector(ctx context.Context, dsn string, dimension int, logger *slog.Logger) (*PGVector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: pgvector requires a fixed dimension", ErrDimensionMismatch)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PGVector{db: db, dimension: dimension, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("opened pgvector index", "dimension", dimension)
	return s, nil
}

func (s *PGVector) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS tutor_documents (
			id           TEXT PRIMARY KEY,
			source_path  TEXT NOT NULL,
			format       TEXT NOT NULL,
			ingested_at  TIMESTAMPTZ NOT NULL,
			content_hash TEXT NOT NULL,
			chunk_count  INTEGER NOT NULL,
			summary      TEXT NOT NULL DEFAULT '',
			topics       TEXT[] NOT NULL DEFAULT '{}'
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tutor_chunks (
			id             TEXT PRIMARY KEY,
			document_id    TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			text           TEXT NOT NULL,
			token_count    INTEGER NOT NULL,
			embedding      vector(%d) NOT NULL,
			metadata       JSONB NOT NULL DEFAULT '{}',
			insert_seq     BIGSERIAL
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_tutor_chunks_document ON tutor_chunks(document_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("preparing schema: %w", err)
		}
	}

	var stored int
	err := s.db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'tutor_chunks'::regclass AND attname = 'embedding'`).Scan(&stored)
	if err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	if stored > 0 && stored != s.dimension {
		return fmt.Errorf("%w: table has %d dimensions, configured %d", ErrDimensionMismatch, stored, s.dimension)
	}
	return nil
}

func (s *PGVector) checkDimension(n int) error {
	if n != s.dimension {
		return fmt.Errorf("%w: got %d dimensions, index has %d", ErrDimensionMismatch, n, s.dimension)
	}
	return nil
}

func (s *PGVector) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PGVector) upsertChunk(ctx context.Context, tx *sql.Tx, c Chunk) error {
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tutor_chunks (id, document_id, sequence_index, text, token_count, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			sequence_index = EXCLUDED.sequence_index,
			text = EXCLUDED.text,
			token_count = EXCLUDED.token_count,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		c.ID, c.DocumentID, c.SequenceIndex, c.Text, c.TokenCount,
		pgvector.NewVector(c.Embedding), string(metadataJSON))
	if err != nil {
		return fmt.Errorf("writing chunk %s: %w", c.ID, err)
	}
	return nil
}

// Upsert inserts or overwrites one chunk.
func (s *PGVector) Upsert(ctx context.Context, chunk Chunk) error {
	if err := validateChunk(chunk); err != nil {
		return err
	}
	if err := s.checkDimension(len(chunk.Embedding)); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.upsertChunk(ctx, tx, chunk)
	})
}

// ReplaceDocument swaps a document and its chunks in one transaction.
func (s *PGVector) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if err := validateReplace(doc, chunks, s.dimension); err != nil {
		return err
	}
	doc.ChunkCount = len(chunks)

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tutor_chunks WHERE document_id = $1 AND NOT (id = ANY($2))`,
			doc.ID, pq.Array(ids)); err != nil {
			return fmt.Errorf("deleting stale chunks: %w", err)
		}
		for _, c := range chunks {
			if err := s.upsertChunk(ctx, tx, c); err != nil {
				return err
			}
		}
		topics := doc.Topics
		if topics == nil {
			topics = []string{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tutor_documents (id, source_path, format, ingested_at, content_hash, chunk_count, summary, topics)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				source_path = EXCLUDED.source_path,
				format = EXCLUDED.format,
				ingested_at = EXCLUDED.ingested_at,
				content_hash = EXCLUDED.content_hash,
				chunk_count = EXCLUDED.chunk_count,
				summary = EXCLUDED.summary,
				topics = EXCLUDED.topics`,
			doc.ID, doc.SourcePath, doc.Format, doc.IngestedAt.UTC(), doc.ContentHash,
			doc.ChunkCount, doc.Summary, pq.Array(topics))
		if err != nil {
			return fmt.Errorf("writing document: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace document %s: %w", doc.SourcePath, err)
	}
	return nil
}

// Query orders by cosine distance, then sequence index, then insertion order.
func (s *PGVector) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	if k <= 0 {
		return []Result{}, nil
	}
	if err := s.checkDimension(len(embedding)); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, sequence_index, text, metadata, insert_seq,
		       COALESCE(1 - (embedding <=> $1), 0)
		FROM tutor_chunks
		ORDER BY embedding <=> $1, sequence_index, insert_seq
		LIMIT $2`,
		pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	candidates := make([]scored, 0, k)
	for rows.Next() {
		var (
			r            Result
			metadataJSON []byte
			insertSeq    int64
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.SequenceIndex, &r.Text, &metadataJSON, &insertSeq, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("chunk %s metadata: %w", r.ChunkID, err)
		}
		candidates = append(candidates, scored{result: r, insertSeq: uint64(insertSeq)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankResults(candidates, k), nil
}

// Delete removes a document and its chunks.
func (s *PGVector) Delete(ctx context.Context, documentID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tutor_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tutor_documents WHERE id = $1`, documentID); err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		return nil
	})
}

// Stats counts chunks and the distinct documents that have a record or chunks.
func (s *PGVector) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "pgvector", Dimension: s.dimension}
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM (
		            SELECT id FROM tutor_documents UNION SELECT document_id FROM tutor_chunks) d),
		       (SELECT COUNT(*) FROM tutor_chunks)`).
		Scan(&stats.Documents, &stats.Chunks)
	if err != nil {
		return Stats{}, fmt.Errorf("counting rows: %w", err)
	}
	return stats, nil
}

const documentColumns = `id, source_path, format, ingested_at, content_hash, chunk_count, summary, topics`

func scanPGDocument(row rowScanner) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.SourcePath, &doc.Format, &doc.IngestedAt, &doc.ContentHash,
		&doc.ChunkCount, &doc.Summary, pq.Array(&doc.Topics))
	return doc, err
}

// Documents lists stored documents ordered by source path.
func (s *PGVector) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM tutor_documents ORDER BY source_path`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanPGDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Document returns one stored document.
func (s *PGVector) Document(ctx context.Context, id string) (Document, error) {
	doc, err := scanPGDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM tutor_documents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("reading document: %w", err)
	}
	return doc, nil
}

// Health pings the database.
func (s *PGVector) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PGVector) Close() error {
	return s.db.Close()
}
