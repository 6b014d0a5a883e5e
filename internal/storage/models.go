package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is one ingested source file. Documents are immutable once stored;
// re-ingesting the same source path replaces the document and its chunks.
type Document struct {
	ID          string    // UUIDv5 of SourcePath
	SourcePath  string    // Local path or "github:owner/repo/path"
	Format      string    // pdf, txt or md
	IngestedAt  time.Time // When this version was indexed
	ContentHash string    // SHA-256 of the extracted text
	ChunkCount  int
	Summary     string   // Optional LLM-generated summary
	Topics      []string // Optional LLM-extracted key topics
}

// Chunk is a contiguous span of a document's text with its embedding.
type Chunk struct {
	ID            string // UUIDv5 of (DocumentID, content hash, SequenceIndex)
	DocumentID    string
	SequenceIndex int // Position in document (0, 1, 2...)
	Text          string
	TokenCount    int
	Embedding     []float32
	Metadata      map[string]string
}

// Result is a scored chunk returned by a query. Higher scores are more similar.
type Result struct {
	ChunkID       string
	DocumentID    string
	SequenceIndex int
	Score         float64
	Text          string
	Metadata      map[string]string
}

// Source returns a human-readable origin for the chunk.
func (r Result) Source() string {
	source := r.Metadata[MetaSourcePath]
	if source == "" {
		source = r.DocumentID
	}
	if header := r.Metadata[MetaHeaderPath]; header != "" {
		return source + " > " + header
	}
	return source
}

// Stats summarizes index contents.
type Stats struct {
	Backend   string
	Documents int
	Chunks    int
	Dimension int // 0 until the first embedding is stored
}

// Chunk metadata keys.
const (
	MetaSourcePath = "source_path"
	MetaFormat     = "format"
	MetaHeaderPath = "header_path"
	MetaStartToken = "start_token"
	MetaEndToken   = "end_token"
)

// idNamespace scopes all generated document and chunk IDs.
var idNamespace = uuid.MustParse("6f1c2b8e-4d4a-5c1e-9b7a-3e2f1d0c9b8a")

// DocumentID derives the stable document ID for a source path.
func DocumentID(sourcePath string) string {
	return uuid.NewSHA1(idNamespace, []byte(sourcePath)).String()
}

// ChunkID derives the stable chunk ID for a document version and position.
func ChunkID(documentID, contentHash string, sequenceIndex int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s/%s/%d", documentID, contentHash, sequenceIndex))).String()
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
