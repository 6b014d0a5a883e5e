package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

const (
	vectorName = "content"

	pointTypeDocument = "document"
	pointTypeChunk    = "chunk"

	statusPending = "pending"
	statusReady   = "ready"

	maxFacetDocuments = 1 << 20
)

// QdrantStorage is an Index backed by a Qdrant collection. Documents are
// stored as vectorless points next to their chunks.
//
// A replacement writes the new chunks as pending, flips them to ready in one
// filtered payload update, then deletes the previous version. Queries only
// match ready chunks, so an interrupted ingestion is never visible.
type QdrantStorage struct {
	client     *qdrant.Client
	collection string
	dimension  int
	host       string
	port       int
	writeMu    sync.Mutex
	logger     *slog.Logger
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(host string, port int, collection string, dimension int, logger *slog.Logger) (*QdrantStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:     client,
		collection: collection,
		dimension:  dimension,
		host:       host,
		port:       port,
		logger:     logger,
	}

	ctx := context.Background()
	if err := storage.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with a cosine "content" vector and
// payload indexes. Idempotent. An existing collection must match the dimension.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return s.checkCollectionDimension(ctx)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}
	s.logger.Info("created qdrant collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

func (s *QdrantStorage) checkCollectionDimension(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCollectionNotFound, err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[vectorName]
	if params != nil && int(params.GetSize()) != s.dimension {
		return fmt.Errorf("%w: collection %s has %d dimensions, configured %d",
			ErrDimensionMismatch, s.collection, params.GetSize(), s.dimension)
	}
	return nil
}

// createPayloadIndexes creates indexes for all filterable fields.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	fields := []string{
		"type",        // "document" vs "chunk"
		"document_id", // Lookup chunks by document
		"status",      // Hide pending chunks from queries
		"generation",  // Content hash of the document version
		"source_path", // Filter documents by path
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// ClearCollection deletes the collection and recreates it.
func (s *QdrantStorage) ClearCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return s.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	wait := true
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           &wait,
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

func (s *QdrantStorage) chunkPoint(c Chunk, status, generation string) *qdrant.PointStruct {
	metadata := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	return &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(c.ID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			vectorName: qdrant.NewVector(c.Embedding...),
		}),
		Payload: qdrant.NewValueMap(map[string]any{
			"type":           pointTypeChunk,
			"document_id":    c.DocumentID,
			"sequence_index": c.SequenceIndex,
			"text":           c.Text,
			"token_count":    c.TokenCount,
			"metadata":       metadata,
			"status":         status,
			"generation":     generation,
			"insert_seq":     time.Now().UnixNano(),
		}),
	}
}

// Upsert stores a single chunk as ready.
func (s *QdrantStorage) Upsert(ctx context.Context, chunk Chunk) error {
	if err := validateChunk(chunk); err != nil {
		return err
	}
	if len(chunk.Embedding) != s.dimension {
		return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
			ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), s.dimension)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.upsertWithRetry(ctx, []*qdrant.PointStruct{s.chunkPoint(chunk, statusReady, "")})
}

// ReplaceDocument writes chunks as pending, publishes them, then removes the
// previous version of the document.
func (s *QdrantStorage) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if err := validateReplace(doc, chunks, s.dimension); err != nil {
		return err
	}
	doc.ChunkCount = len(chunks)
	generation := doc.ContentHash

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Batch upserts in groups of 100
	batchSize := 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, c := range chunks[i:end] {
			points = append(points, s.chunkPoint(c, statusPending, generation))
		}
		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	wait := true
	_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Payload:        qdrant.NewValueMap(map[string]any{"status": statusReady}),
		PointsSelector: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("type", pointTypeChunk),
				qdrant.NewMatch("document_id", doc.ID),
				qdrant.NewMatch("generation", generation),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to publish chunks for %s: %w", doc.SourcePath, err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("type", pointTypeChunk),
				qdrant.NewMatch("document_id", doc.ID),
			},
			MustNot: []*qdrant.Condition{
				qdrant.NewMatch("generation", generation),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete previous chunks for %s: %w", doc.SourcePath, err)
	}

	return s.upsertWithRetry(ctx, []*qdrant.PointStruct{documentPoint(doc)})
}

// documentPoint stores a document without vectors.
func documentPoint(doc Document) *qdrant.PointStruct {
	topics := make([]any, len(doc.Topics))
	for i, topic := range doc.Topics {
		topics[i] = topic
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(doc.ID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
		Payload: qdrant.NewValueMap(map[string]any{
			"type":         pointTypeDocument,
			"document_id":  doc.ID,
			"source_path":  doc.SourcePath,
			"format":       doc.Format,
			"ingested_at":  doc.IngestedAt.UTC().Format(time.RFC3339),
			"content_hash": doc.ContentHash,
			"chunk_count":  doc.ChunkCount,
			"summary":      doc.Summary,
			"topics":       topics,
		}),
	}
}

func documentFromPayload(id string, payload map[string]*qdrant.Value) Document {
	ingestedAt, err := time.Parse(time.RFC3339, payload["ingested_at"].GetStringValue())
	if err != nil {
		ingestedAt = time.Time{} // Use zero time if parse fails
	}

	var topics []string
	if topicsVal, ok := payload["topics"]; ok && topicsVal.GetListValue() != nil {
		for _, val := range topicsVal.GetListValue().Values {
			topics = append(topics, val.GetStringValue())
		}
	}

	return Document{
		ID:          id,
		SourcePath:  payload["source_path"].GetStringValue(),
		Format:      payload["format"].GetStringValue(),
		IngestedAt:  ingestedAt,
		ContentHash: payload["content_hash"].GetStringValue(),
		ChunkCount:  int(payload["chunk_count"].GetIntegerValue()),
		Summary:     payload["summary"].GetStringValue(),
		Topics:      topics,
	}
}

// Query performs vector similarity search over ready chunks.
func (s *QdrantStorage) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	if k <= 0 {
		return []Result{}, nil
	}
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimension)
	}

	using := vectorName
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &using,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("type", pointTypeChunk),
				qdrant.NewMatch("status", statusReady),
			},
		},
		Limit:       qdrant.PtrOf(uint64(k)),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	candidates := make([]scored, 0, len(points))
	for _, point := range points {
		payload := point.Payload
		metadata := make(map[string]string)
		for key, val := range payload["metadata"].GetStructValue().GetFields() {
			metadata[key] = val.GetStringValue()
		}
		candidates = append(candidates, scored{
			result: Result{
				ChunkID:       point.Id.GetUuid(),
				DocumentID:    payload["document_id"].GetStringValue(),
				SequenceIndex: int(payload["sequence_index"].GetIntegerValue()),
				Score:         float64(point.Score),
				Text:          payload["text"].GetStringValue(),
				Metadata:      metadata,
			},
			insertSeq: uint64(payload["insert_seq"].GetIntegerValue()),
		})
	}
	return rankResults(candidates, k), nil
}

// Delete removes a document point and all of its chunks.
func (s *QdrantStorage) Delete(ctx context.Context, documentID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(documentID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// Stats counts ready chunks and the distinct documents that have a document
// point or ready chunks.
func (s *QdrantStorage) Stats(ctx context.Context) (Stats, error) {
	chunks, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewMatch("type", pointTypeChunk),
			qdrant.NewMatch("status", statusReady),
		}},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count chunks: %w", err)
	}

	// Document points carry no status, so this keeps them and ready chunks.
	hits, err := s.client.Facet(ctx, &qdrant.FacetCounts{
		CollectionName: s.collection,
		Key:            "document_id",
		Filter: &qdrant.Filter{MustNot: []*qdrant.Condition{
			qdrant.NewMatch("status", statusPending),
		}},
		Limit: qdrant.PtrOf(uint64(maxFacetDocuments)),
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count documents: %w", err)
	}
	return Stats{Backend: "qdrant", Documents: len(hits), Chunks: int(chunks), Dimension: s.dimension}, nil
}

// Documents scrolls through all document points, ordered by source path.
func (s *QdrantStorage) Documents(ctx context.Context) ([]Document, error) {
	var docs []Document
	var offset *qdrant.PointId
	batchSize := uint32(100)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("type", pointTypeDocument)},
			},
			Limit:       qdrant.PtrOf(batchSize),
			Offset:      offset,
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll documents: %w", err)
		}

		for _, result := range results {
			docs = append(docs, documentFromPayload(result.Id.GetUuid(), result.Payload))
		}

		// Stop if we got fewer results than batch size (no more pages)
		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].SourcePath < docs[j].SourcePath
	})
	return docs, nil
}

// Document retrieves a document point by ID.
func (s *QdrantStorage) Document(ctx context.Context, id string) (Document, error) {
	result, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Document{}, fmt.Errorf("failed to get document: %w", err)
	}
	if len(result) == 0 || result[0].Payload["type"].GetStringValue() != pointTypeDocument {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return documentFromPayload(id, result[0].Payload), nil
}
