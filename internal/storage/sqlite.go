package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/course-tutor/internal/storage/migrations"
)

// SQLite is a persistent index. Documents and chunks live in a SQLite file;
// queries are answered from an in-memory snapshot loaded at startup and
// updated after every committed write, so restarts never re-embed.
type SQLite struct {
	db      *sql.DB
	path    string
	cache   *Memory
	writeMu sync.Mutex
	logger  *slog.Logger
}

// NewSQLite opens (or creates) the index at path. A dimension of 0 adopts the
// stored dimension, or the first embedding written.
func NewSQLite(ctx context.Context, path string, dimension int, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// WAL lets queries proceed while an ingestion transaction is open
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db, path: path, logger: logger}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	stored, err := s.storedDimension(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if stored != 0 && dimension != 0 && stored != dimension {
		db.Close()
		return nil, fmt.Errorf("%w: index at %s has %d dimensions, configured %d",
			ErrDimensionMismatch, path, stored, dimension)
	}
	if stored != 0 {
		dimension = stored
	}

	if err := s.load(ctx, dimension); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading index: %w", err)
	}

	stats, _ := s.cache.Stats(ctx)
	logger.Info("opened sqlite index", "path", path, "documents", stats.Documents, "chunks", stats.Chunks, "dimension", stats.Dimension)
	return s, nil
}

// migrate runs all pending migrations.
func (s *SQLite) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLite) storedDimension(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = 'dimension'").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading index dimension: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt index dimension %q: %w", value, err)
	}
	return dim, nil
}

// load rebuilds the in-memory snapshot from disk, preserving insertion order.
func (s *SQLite) load(ctx context.Context, dimension int) error {
	state := newMemState(dimension)

	docRows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, format, ingested_at, content_hash, chunk_count, summary, topics
		FROM documents`)
	if err != nil {
		return fmt.Errorf("querying documents: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		doc, err := scanDocument(docRows)
		if err != nil {
			return err
		}
		state.docs[doc.ID] = doc
	}
	if err := docRows.Err(); err != nil {
		return err
	}

	chunkRows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, sequence_index, text, token_count, embedding, metadata
		FROM chunks ORDER BY insert_seq`)
	if err != nil {
		return fmt.Errorf("querying chunks: %w", err)
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		var (
			c            Chunk
			blob         []byte
			metadataJSON string
		)
		if err := chunkRows.Scan(&c.ID, &c.DocumentID, &c.SequenceIndex, &c.Text, &c.TokenCount, &blob, &metadataJSON); err != nil {
			return fmt.Errorf("scanning chunk: %w", err)
		}
		c.Embedding = decodeEmbedding(blob)
		if err := json.Unmarshal([]byte(metadataJSON), &c.Metadata); err != nil {
			return fmt.Errorf("chunk %s metadata: %w", c.ID, err)
		}
		if state.dimension == 0 {
			state.dimension = len(c.Embedding)
		}
		state.put(c)
	}
	if err := chunkRows.Err(); err != nil {
		return err
	}

	s.cache = NewMemory(state.dimension)
	s.cache.backend = "sqlite"
	s.cache.swap(state)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc        Document
		ingestedAt string
		topicsJSON string
	)
	if err := row.Scan(&doc.ID, &doc.SourcePath, &doc.Format, &ingestedAt, &doc.ContentHash,
		&doc.ChunkCount, &doc.Summary, &topicsJSON); err != nil {
		return Document{}, fmt.Errorf("scanning document: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, ingestedAt)
	if err != nil {
		t = time.Time{} // Use zero time if parse fails
	}
	doc.IngestedAt = t
	if err := json.Unmarshal([]byte(topicsJSON), &doc.Topics); err != nil {
		return Document{}, fmt.Errorf("document %s topics: %w", doc.ID, err)
	}
	return doc, nil
}

// Upsert writes a chunk, then publishes it to the query snapshot.
func (s *SQLite) Upsert(ctx context.Context, chunk Chunk) error {
	if err := validateChunk(chunk); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.cache.checkDimension(len(chunk.Embedding)); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := recordDimension(ctx, tx, len(chunk.Embedding)); err != nil {
			return err
		}
		seq, err := nextInsertSeq(ctx, tx)
		if err != nil {
			return err
		}
		return upsertChunkRow(ctx, tx, chunk, seq)
	})
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}
	return s.cache.Upsert(ctx, chunk)
}

// ReplaceDocument swaps a document and its chunks in one transaction.
func (s *SQLite) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := validateReplace(doc, chunks, s.cache.snapshot().dimension); err != nil {
		return err
	}
	doc.ChunkCount = len(chunks)

	keep := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = struct{}{}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if len(chunks) > 0 {
			if err := recordDimension(ctx, tx, len(chunks[0].Embedding)); err != nil {
				return err
			}
		}
		if err := deleteStaleChunks(ctx, tx, doc.ID, keep); err != nil {
			return err
		}
		seq, err := nextInsertSeq(ctx, tx)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			if err := upsertChunkRow(ctx, tx, c, seq); err != nil {
				return err
			}
			seq++
		}
		return upsertDocumentRow(ctx, tx, doc)
	})
	if err != nil {
		return fmt.Errorf("replace document %s: %w", doc.SourcePath, err)
	}
	return s.cache.ReplaceDocument(ctx, doc, chunks)
}

// Delete removes a document and its chunks.
func (s *SQLite) Delete(ctx context.Context, documentID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return s.cache.Delete(ctx, documentID)
}

// Query answers from the in-memory snapshot.
func (s *SQLite) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	return s.cache.Query(ctx, embedding, k)
}

// Stats reports counts from the snapshot.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	return s.cache.Stats(ctx)
}

// Documents lists stored documents.
func (s *SQLite) Documents(ctx context.Context) ([]Document, error) {
	return s.cache.Documents(ctx)
}

// Document returns one stored document.
func (s *SQLite) Document(ctx context.Context, id string) (Document, error) {
	return s.cache.Document(ctx, id)
}

// Health pings the database.
func (s *SQLite) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

func recordDimension(ctx context.Context, tx *sql.Tx, dimension int) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO index_meta (key, value) VALUES ('dimension', ?) ON CONFLICT(key) DO NOTHING",
		strconv.Itoa(dimension))
	if err != nil {
		return fmt.Errorf("recording dimension: %w", err)
	}
	return nil
}

func nextInsertSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(insert_seq), 0) + 1 FROM chunks").Scan(&seq); err != nil {
		return 0, fmt.Errorf("reading insert sequence: %w", err)
	}
	return seq, nil
}

// upsertChunkRow inserts a chunk; an existing row keeps its insert_seq.
func upsertChunkRow(ctx context.Context, tx *sql.Tx, c Chunk, seq int64) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	if c.Metadata == nil {
		metadata = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks (id, document_id, sequence_index, text, token_count, embedding, metadata, insert_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			sequence_index = excluded.sequence_index,
			text = excluded.text,
			token_count = excluded.token_count,
			embedding = excluded.embedding,
			metadata = excluded.metadata`,
		c.ID, c.DocumentID, c.SequenceIndex, c.Text, c.TokenCount, encodeEmbedding(c.Embedding), string(metadata), seq)
	if err != nil {
		return fmt.Errorf("writing chunk %s: %w", c.ID, err)
	}
	return nil
}

func upsertDocumentRow(ctx context.Context, tx *sql.Tx, doc Document) error {
	topics := doc.Topics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("marshalling topics: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, source_path, format, ingested_at, content_hash, chunk_count, summary, topics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourcePath, doc.Format, doc.IngestedAt.UTC().Format(time.RFC3339Nano),
		doc.ContentHash, doc.ChunkCount, doc.Summary, string(topicsJSON))
	if err != nil {
		return fmt.Errorf("writing document %s: %w", doc.ID, err)
	}
	return nil
}

// deleteStaleChunks removes the document's chunks that are not in keep.
func deleteStaleChunks(ctx context.Context, tx *sql.Tx, documentID string, keep map[string]struct{}) error {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("listing chunks: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting chunk %s: %w", id, err)
		}
	}
	return nil
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
